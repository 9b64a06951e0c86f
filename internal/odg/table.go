// Package odg selects overdispersed genes from a per-gene statistics table.
package odg

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	atomicio "github.com/sawpanic/cnmfsns/internal/io"
	"github.com/sawpanic/cnmfsns/internal/geneid"
)

// SelectedColumn is the boolean column rewritten by every selection.
const SelectedColumn = "selected"

// Table is a gene statistics table. Cells other than the selected flags
// are kept as read so that a rewrite is lossless.
type Table struct {
	geneHeader string
	columns    []string
	genes      []string
	cells      [][]string
	selected   []bool
	selCol     int // index into columns, -1 when absent
}

// ReadTable parses a tab-delimited statistics table whose first column is
// the gene identifier.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("gene table: empty")
	}
	if err != nil {
		return nil, fmt.Errorf("gene table: %w", err)
	}

	t := &Table{geneHeader: header[0], columns: header[1:], selCol: -1}
	for i, c := range t.columns {
		if c == SelectedColumn {
			t.selCol = i
		}
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gene table: %w", err)
		}
		gene := strings.TrimSpace(rec[0])
		if gene == "" {
			return nil, fmt.Errorf("gene table: line %d has no gene identifier", line)
		}
		row := rec[1:]
		sel := false
		if t.selCol >= 0 {
			sel, err = parseBool(row[t.selCol])
			if err != nil {
				return nil, fmt.Errorf("gene table: line %d: %w", line, err)
			}
		}
		t.genes = append(t.genes, gene)
		t.cells = append(t.cells, row)
		t.selected = append(t.selected, sel)
	}
	return t, nil
}

// NewTable seeds a table over genes with empty score columns for both
// models and every gene selected.
func NewTable(genes []string) *Table {
	t := &Table{
		geneHeader: "",
		columns:    []string{ModelDefault.Column(), ModelCNMF.Column(), SelectedColumn},
		selCol:     2,
	}
	for _, g := range genes {
		t.genes = append(t.genes, g)
		t.cells = append(t.cells, []string{"", "", ""})
		t.selected = append(t.selected, true)
	}
	return t
}

// ReadTableFile reads the table at path.
func ReadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Write emits the table with the current selection. Score columns write
// null values as empty cells; a missing selected column is appended.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	header := append([]string{t.geneHeader}, t.columns...)
	if t.selCol < 0 {
		header = append(header, SelectedColumn)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	scoreCols := make(map[int]bool)
	for _, m := range []Model{ModelDefault, ModelCNMF} {
		if i := t.columnIndex(m.Column()); i >= 0 {
			scoreCols[i] = true
		}
	}

	rec := make([]string, len(header))
	for r, gene := range t.genes {
		rec[0] = gene
		for c, cell := range t.cells[r] {
			if scoreCols[c] && isNull(cell) {
				cell = ""
			}
			rec[c+1] = cell
		}
		flag := formatBool(t.selected[r])
		if t.selCol >= 0 {
			rec[t.selCol+1] = flag
		} else {
			rec[len(rec)-1] = flag
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile atomically replaces path with the table.
func (t *Table) WriteFile(path string) error {
	return atomicio.WriteStreamAtomic(path, t.Write)
}

// Len returns the number of genes.
func (t *Table) Len() int { return len(t.genes) }

// Genes returns gene identifiers in table order.
func (t *Table) Genes() []string { return append([]string(nil), t.genes...) }

// Columns returns the header after the gene column.
func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

// HasScore reports whether the table carries the score column of m.
func (t *Table) HasScore(m Model) bool { return t.columnIndex(m.Column()) >= 0 }

// Scores returns the score column of m in table order, NaN for nulls.
func (t *Table) Scores(m Model) ([]float64, error) {
	c := t.columnIndex(m.Column())
	if c < 0 {
		return nil, fmt.Errorf("gene table has no %q column", m.Column())
	}
	out := make([]float64, len(t.genes))
	for r := range t.genes {
		cell := strings.TrimSpace(t.cells[r][c])
		if isNull(cell) {
			out[r] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, fmt.Errorf("gene %s: %s %q: %w", t.genes[r], m.Column(), cell, err)
		}
		out[r] = v
	}
	return out, nil
}

// IsSelected reports the flag of row i.
func (t *Table) IsSelected(i int) bool { return t.selected[i] }

// Selected returns the selected genes in table order.
func (t *Table) Selected() []string {
	var out []string
	for i, ok := range t.selected {
		if ok {
			out = append(out, t.genes[i])
		}
	}
	return out
}

// SelectedSet returns the normalized identifiers of the selected genes.
func (t *Table) SelectedSet() geneid.Set {
	return geneid.NewSet(t.Selected()...)
}

// replaceSelection overwrites every flag.
func (t *Table) replaceSelection(flags []bool) {
	t.selected = flags
}

func (t *Table) columnIndex(name string) int {
	for i, c := range t.columns {
		if c == name {
			return i
		}
	}
	return -1
}

func isNull(cell string) bool {
	switch strings.TrimSpace(cell) {
	case "", "nan", "NaN", "NA":
		return true
	}
	return false
}

func parseBool(cell string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "true", "1":
		return true, nil
	case "false", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s value %q", SelectedColumn, cell)
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
