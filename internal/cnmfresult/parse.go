package cnmfresult

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/cnmfsns/internal/geneid"
)

// table is a tab-delimited file with a header row and a leading index column.
type table struct {
	path    string
	columns []string   // header cells after the index column
	index   []string   // first cell of each data row
	cells   [][]string // data cells after the index column
}

func readTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.LazyQuotes = true
	r.ReuseRecord = false

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: empty table", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%s: header has no data columns", path)
	}

	t := &table{path: path, columns: header[1:]}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		t.index = append(t.index, rec[0])
		t.cells = append(t.cells, rec[1:])
	}
	if len(t.index) == 0 {
		return nil, fmt.Errorf("%s: no data rows", path)
	}
	return t, nil
}

func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseProgramIndex accepts "3" and "3.0" style program labels.
func parseProgramIndex(s string) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("invalid program label %q", s)
	}
	return int(f), nil
}

// programOrder maps each label to its 0-based program slot, requiring the
// labels to be exactly 1..k.
func programOrder(labels []string, k int, what string) ([]int, error) {
	if len(labels) != k {
		return nil, mismatch(what, "%d programs for k=%d", len(labels), k)
	}
	slots := make([]int, k)
	seen := make([]bool, k)
	for i, l := range labels {
		p, err := parseProgramIndex(l)
		if err != nil {
			return nil, mismatch(what, "%v", err)
		}
		if p < 1 || p > k || seen[p-1] {
			return nil, mismatch(what, "program label %q outside 1..%d or repeated", l, k)
		}
		seen[p-1] = true
		slots[i] = p - 1
	}
	return slots, nil
}

// uniqueIDs normalizes ids with norm and fails on duplicates.
func uniqueIDs(ids []string, norm func(string) string, what string) ([]string, error) {
	out := make([]string, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		n := norm(id)
		if n == "" {
			return nil, mismatch(what, "blank identifier at position %d", i+1)
		}
		if _, dup := seen[n]; dup {
			return nil, mismatch(what, "duplicate identifier %q", n)
		}
		seen[n] = struct{}{}
		out[i] = n
	}
	return out, nil
}

// parseSpectra reads a programs x genes file and returns genes in file
// order with rows placed by program number.
func parseSpectra(path string, k int, what string) ([]string, *mat.Dense, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, nil, err
	}
	genes, err := uniqueIDs(t.columns, geneid.Normalize, what+" genes")
	if err != nil {
		return nil, nil, err
	}
	slots, err := programOrder(t.index, k, what)
	if err != nil {
		return nil, nil, err
	}

	m := mat.NewDense(k, len(genes), nil)
	for i, row := range t.cells {
		if len(row) != len(genes) {
			return nil, nil, fmt.Errorf("%s: row %d has %d values, want %d", path, i+1, len(row), len(genes))
		}
		dst := m.RawRowView(slots[i])
		for j, cell := range row {
			v, err := parseCell(cell)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: row %d col %d: %w", path, i+1, j+2, err)
			}
			dst[j] = v
		}
	}
	return genes, m, nil
}

// parseUsage reads a samples x programs file with columns placed by
// program number.
func parseUsage(path string, k int) ([]string, *mat.Dense, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, nil, err
	}
	slots, err := programOrder(t.columns, k, "usage")
	if err != nil {
		return nil, nil, err
	}
	samples, err := uniqueIDs(t.index, strings.TrimSpace, "usage samples")
	if err != nil {
		return nil, nil, err
	}

	m := mat.NewDense(len(samples), k, nil)
	for i, row := range t.cells {
		if len(row) != k {
			return nil, nil, fmt.Errorf("%s: row %d has %d values, want %d", path, i+1, len(row), k)
		}
		for j, cell := range row {
			v, err := parseCell(cell)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: row %d col %d: %w", path, i+1, j+2, err)
			}
			m.Set(i, slots[j], v)
		}
	}
	return samples, m, nil
}

// parseMetadata reads a sample annotation table keyed by its first column.
func parseMetadata(path string) ([]string, *Metadata, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, nil, err
	}
	samples, err := uniqueIDs(t.index, strings.TrimSpace, "metadata samples")
	if err != nil {
		return nil, nil, err
	}
	md := &Metadata{Columns: append([]string(nil), t.columns...), Rows: make([][]string, len(t.cells))}
	for i, row := range t.cells {
		if len(row) != len(t.columns) {
			return nil, nil, fmt.Errorf("%s: row %d has %d values, want %d", path, i+1, len(row), len(t.columns))
		}
		md.Rows[i] = append([]string(nil), row...)
	}
	return samples, md, nil
}

// permutation returns, for each id in ref, its position in ids. Both lists
// must hold the same set.
func permutation(ref, ids []string, what string) ([]int, error) {
	if len(ref) != len(ids) {
		return nil, mismatch(what, "%d identifiers, want %d", len(ids), len(ref))
	}
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	perm := make([]int, len(ref))
	for i, id := range ref {
		j, ok := pos[id]
		if !ok {
			return nil, mismatch(what, "identifier %q missing", id)
		}
		perm[i] = j
	}
	return perm, nil
}

func isIdentity(perm []int) bool {
	for i, p := range perm {
		if i != p {
			return false
		}
	}
	return true
}

// permuteCols reorders columns of m so column i is old column perm[i].
func permuteCols(m *mat.Dense, perm []int) *mat.Dense {
	if isIdentity(perm) {
		return m
	}
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		src := m.RawRowView(r)
		dst := out.RawRowView(r)
		for i, p := range perm {
			dst[i] = src[p]
		}
	}
	return out
}

// permuteRows reorders rows of m so row i is old row perm[i].
func permuteRows(m *mat.Dense, perm []int) *mat.Dense {
	if isIdentity(perm) {
		return m
	}
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i, p := range perm {
		out.SetRow(i, m.RawRowView(p))
	}
	return out
}
