package odg

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Model names the upstream scorer whose column ranks genes.
type Model int

const (
	ModelDefault Model = iota // od-score
	ModelCNMF                 // v-score
)

// Column returns the table column holding the model's score.
func (m Model) Column() string {
	if m == ModelCNMF {
		return "vscore"
	}
	return "odscore"
}

func (m Model) String() string {
	if m == ModelCNMF {
		return "cnmf"
	}
	return "default"
}

// Rule names how scores are cut into a selection.
type Rule int

const (
	RuleTopN Rule = iota
	RuleMinScore
	RuleQuantile
	RuleGeneList
)

func (r Rule) String() string {
	switch r {
	case RuleTopN:
		return "topn"
	case RuleMinScore:
		return "minscore"
	case RuleQuantile:
		return "quantile"
	default:
		return "file"
	}
}

// ruleHandler returns selected row indices, best first.
type ruleHandler func(scores []float64, value float64) ([]int, error)

// Method is one selection policy: a scorer and a rule, or an explicit gene
// list. The zero Method is default_topn.
type Method struct {
	Model Model
	Rule  Rule
}

// Name returns the method's command-line name.
func (m Method) Name() string {
	if m.Rule == RuleGeneList {
		return "genes_file"
	}
	return m.Model.String() + "_" + m.Rule.String()
}

func (m Method) String() string { return m.Name() }

var (
	// ErrUnknownMethod is returned by ParseMethod.
	ErrUnknownMethod = errors.New("unknown gene selection method")

	// ErrInvalidParam reports a parameter outside the rule's domain.
	ErrInvalidParam = errors.New("invalid selection parameter")
)

var (
	ruleHandlers = map[Rule]ruleHandler{
		RuleTopN:     topN,
		RuleMinScore: minScore,
		RuleQuantile: quantile,
	}

	methodsByName = func() map[string]Method {
		out := make(map[string]Method)
		for _, model := range []Model{ModelDefault, ModelCNMF} {
			for _, rule := range []Rule{RuleTopN, RuleMinScore, RuleQuantile} {
				m := Method{Model: model, Rule: rule}
				out[m.Name()] = m
			}
		}
		gl := Method{Rule: RuleGeneList}
		out[gl.Name()] = gl
		return out
	}()
)

// ParseMethod maps a command-line method name such as "cnmf_quantile" to
// its Method.
func ParseMethod(name string) (Method, error) {
	m, ok := methodsByName[name]
	if !ok {
		return Method{}, fmt.Errorf("%w %q (valid: %v)", ErrUnknownMethod, name, MethodNames())
	}
	return m, nil
}

// MethodNames lists every accepted method name, sorted.
func MethodNames() []string {
	names := make([]string, 0, len(methodsByName))
	for n := range methodsByName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ranked returns indices of non-null scores, descending, ties in table order.
func ranked(scores []float64) []int {
	idx := make([]int, 0, len(scores))
	for i, s := range scores {
		if !math.IsNaN(s) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	return idx
}

func topN(scores []float64, value float64) ([]int, error) {
	if value < 0 || value != math.Trunc(value) {
		return nil, fmt.Errorf("%w: top-N needs a non-negative integer, got %s", ErrInvalidParam, formatParam(value))
	}
	idx := ranked(scores)
	if value >= float64(len(idx)) {
		return idx, nil
	}
	return idx[:int(value)], nil
}

func minScore(scores []float64, value float64) ([]int, error) {
	if math.IsNaN(value) {
		return nil, fmt.Errorf("%w: min-score threshold is NaN", ErrInvalidParam)
	}
	idx := ranked(scores)
	cut := sort.Search(len(idx), func(i int) bool { return scores[idx[i]] < value })
	return idx[:cut], nil
}

// quantile keeps the floor(q*M) best genes among the M with a score. This
// is a rank cut, not a cut at the q-th score quantile.
func quantile(scores []float64, value float64) ([]int, error) {
	if !(value >= 0 && value <= 1) {
		return nil, fmt.Errorf("%w: quantile must be within [0, 1], got %s", ErrInvalidParam, formatParam(value))
	}
	idx := ranked(scores)
	target := int(value * float64(len(idx)))
	return idx[:target], nil
}

func formatParam(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
