package odg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sawpanic/cnmfsns/internal/geneid"
)

// ErrEmptySelection matches EmptySelectionError.
var ErrEmptySelection = errors.New("gene selection is empty")

// EmptySelectionError reports a policy that selected no gene.
type EmptySelectionError struct {
	Method string
	Param  string
}

func (e *EmptySelectionError) Error() string {
	return fmt.Sprintf("%s with parameter %s selected no genes", e.Method, e.Param)
}

func (e *EmptySelectionError) Is(target error) bool { return target == ErrEmptySelection }

// Params carries the single parameter of a Method: Value for score rules,
// GeneList for genes_file.
type Params struct {
	Value    float64
	GeneList []string
}

// Result summarizes an applied selection.
type Result struct {
	Method Method
	Genes  []string // best first for score rules, table order for gene lists
}

// Apply recomputes the selection of t with method m. On success every
// selected flag is overwritten; on error t is left unchanged.
func Apply(t *Table, m Method, p Params, logger zerolog.Logger) (Result, error) {
	var idx []int
	param := formatParam(p.Value)

	if m.Rule == RuleGeneList {
		param = fmt.Sprintf("%d genes", len(p.GeneList))
		idx = selectListed(t, p.GeneList, logger)
	} else {
		handler, ok := ruleHandlers[m.Rule]
		if !ok {
			return Result{}, fmt.Errorf("%w: rule %d", ErrUnknownMethod, m.Rule)
		}
		scores, err := t.Scores(m.Model)
		if err != nil {
			return Result{}, err
		}
		idx, err = handler(scores, p.Value)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", m.Name(), err)
		}
	}

	if len(idx) == 0 {
		return Result{}, &EmptySelectionError{Method: m.Name(), Param: param}
	}

	flags := make([]bool, t.Len())
	genes := make([]string, len(idx))
	for i, r := range idx {
		flags[r] = true
		genes[i] = t.genes[r]
	}
	t.replaceSelection(flags)

	logger.Info().
		Str("method", m.Name()).
		Str("param", param).
		Int("selected", len(idx)).
		Int("genes", t.Len()).
		Msg("selected overdispersed genes")
	return Result{Method: m, Genes: genes}, nil
}

func selectListed(t *Table, list []string, logger zerolog.Logger) []int {
	want := geneid.NewSet(list...)
	found := make(geneid.Set, len(want))
	var idx []int
	for i, g := range t.genes {
		n := geneid.Normalize(g)
		if _, ok := want[n]; ok {
			idx = append(idx, i)
			found[n] = struct{}{}
		}
	}
	if missing := len(want) - len(found); missing > 0 {
		var examples []string
		for g := range want {
			if _, ok := found[g]; !ok && len(examples) < 5 {
				examples = append(examples, g)
			}
		}
		logger.Warn().
			Int("missing", missing).
			Strs("examples", examples).
			Msg("genes from list not present in gene table")
	}
	return idx
}

// ReadGeneList reads one gene per line. Identifiers are normalized, blank
// lines are skipped and duplicates collapse to their first occurrence.
func ReadGeneList(r io.Reader) ([]string, error) {
	seen := make(geneid.Set)
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		g := geneid.Normalize(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if seen.Add(g) {
			out = append(out, g)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read gene list: %w", err)
	}
	return out, nil
}

// ReadGeneListFile reads the gene list at path.
func ReadGeneListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadGeneList(f)
}
