package integration

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/cnmfsns/internal/geneid"
)

// Distribution returns every defined coefficient of a distinct pair,
// ascending, regardless of the edge threshold.
func (n *Network) Distribution() []float64 {
	p := len(n.geps)
	out := make([]float64, 0, p*(p-1)/2)
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			if r := n.coef[i*p+j]; !math.IsNaN(r) {
				out = append(out, r)
			}
		}
	}
	sort.Float64s(out)
	return out
}

// Histogram bins the distribution into equal-width bins over [-1, 1].
// It returns the bin edges (bins+1 values) and the count in each bin.
func (n *Network) Histogram(bins int) (edges, counts []float64, err error) {
	if bins < 1 {
		return nil, nil, fmt.Errorf("histogram needs at least one bin, got %d", bins)
	}
	edges = make([]float64, bins+1)
	floats.Span(edges, -1, 1)

	// stat.Histogram bins are half-open; widen the last edge so 1 counts
	dividers := append([]float64(nil), edges...)
	dividers[bins] = math.Nextafter(1, 2)

	counts = make([]float64, bins)
	dist := n.Distribution()
	if len(dist) == 0 {
		return edges, counts, nil
	}
	return edges, stat.Histogram(counts, dividers, dist, nil), nil
}

// Quantiles returns the empirical quantiles ps of the distribution, NaN
// when no pair is defined.
func (n *Network) Quantiles(ps ...float64) []float64 {
	dist := n.Distribution()
	out := make([]float64, len(ps))
	for i, p := range ps {
		if len(dist) == 0 || p < 0 || p > 1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.Quantile(p, stat.Empirical, dist, nil)
	}
	return out
}

// Combination is one UpSet intersection: genes selected in exactly the
// named datasets.
type Combination struct {
	Datasets []string `json:"datasets"`
	Count    int      `json:"count"`
}

// GeneOverlap compares the comparable gene sets of all datasets.
type GeneOverlap struct {
	Datasets     []string      `json:"datasets"`
	Sizes        []int         `json:"sizes"`
	Pairwise     [][]int       `json:"pairwise"` // |A ∩ B|; diagonal is |A|
	Combinations []Combination `json:"combinations"`
}

func computeOverlap(names []string, sources []*source) GeneOverlap {
	d := len(sources)
	ov := GeneOverlap{
		Datasets: append([]string(nil), names...),
		Sizes:    make([]int, d),
		Pairwise: make([][]int, d),
	}
	for a := range sources {
		ov.Sizes[a] = len(sources[a].universe)
		ov.Pairwise[a] = make([]int, d)
	}
	for a := 0; a < d; a++ {
		for b := a; b < d; b++ {
			c := len(sources[a].universe.Intersect(sources[b].universe))
			ov.Pairwise[a][b] = c
			ov.Pairwise[b][a] = c
		}
	}

	union := make(geneid.Set)
	for _, s := range sources {
		for g := range s.universe {
			union[g] = struct{}{}
		}
	}
	type combo struct {
		members []int
		count   int
	}
	byKey := make(map[string]*combo)
	for g := range union {
		var members []int
		var key strings.Builder
		for a, s := range sources {
			if _, ok := s.universe[g]; ok {
				members = append(members, a)
				fmt.Fprintf(&key, "%d,", a)
			}
		}
		c, ok := byKey[key.String()]
		if !ok {
			c = &combo{members: members}
			byKey[key.String()] = c
		}
		c.count++
	}

	combos := make([]*combo, 0, len(byKey))
	for _, c := range byKey {
		combos = append(combos, c)
	}
	sort.Slice(combos, func(i, j int) bool {
		if combos[i].count != combos[j].count {
			return combos[i].count > combos[j].count
		}
		return lessInts(combos[i].members, combos[j].members)
	})
	for _, c := range combos {
		members := make([]string, len(c.members))
		for i, a := range c.members {
			members[i] = names[a]
		}
		ov.Combinations = append(ov.Combinations, Combination{Datasets: members, Count: c.count})
	}
	return ov
}

func lessInts(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Overlap returns a copy of the gene overlap diagnostics.
func (n *Network) Overlap() GeneOverlap {
	ov := GeneOverlap{
		Datasets: append([]string(nil), n.overlap.Datasets...),
		Sizes:    append([]int(nil), n.overlap.Sizes...),
		Pairwise: make([][]int, len(n.overlap.Pairwise)),
	}
	for i, row := range n.overlap.Pairwise {
		ov.Pairwise[i] = append([]int(nil), row...)
	}
	for _, c := range n.overlap.Combinations {
		ov.Combinations = append(ov.Combinations, Combination{
			Datasets: append([]string(nil), c.Datasets...),
			Count:    c.Count,
		})
	}
	return ov
}
