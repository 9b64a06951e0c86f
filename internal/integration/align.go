package integration

import (
	"math"
	"sort"

	"github.com/sawpanic/cnmfsns/internal/geneid"
)

// alignment holds, for every ordered dataset pair (a, b), the programs of a
// restricted to the genes shared by a and b, in one gene order common to
// both directions. For Spearman the vectors are already rank-transformed,
// so every program is ranked once per partner dataset.
type alignment struct {
	d       int
	genes   [][]string      // d*d shared gene lists, sorted
	vectors [][][][]float64 // [a][b][gep of a] aligned vector
}

func align(sources []*source, method Method) *alignment {
	d := len(sources)
	al := &alignment{
		d:       d,
		genes:   make([][]string, d*d),
		vectors: make([][][][]float64, d),
	}
	for a := 0; a < d; a++ {
		for b := a; b < d; b++ {
			shared := sortedGenes(sources[a].universe.Intersect(sources[b].universe))
			al.genes[a*d+b] = shared
			al.genes[b*d+a] = shared
		}
	}

	for a, src := range sources {
		al.vectors[a] = make([][][]float64, d)
		for b := 0; b < d; b++ {
			shared := al.genes[a*d+b]
			cols := make([]int, len(shared))
			for i, g := range shared {
				cols[i] = src.columns[g]
			}
			out := make([][]float64, len(src.vectors))
			for i, full := range src.vectors {
				v := make([]float64, len(cols))
				for j, c := range cols {
					v[j] = full[c]
				}
				if method == Spearman {
					v = rank(v)
				}
				out[i] = v
			}
			al.vectors[a][b] = out
		}
	}
	return al
}

func (al *alignment) sharedCounts() []int {
	out := make([]int, len(al.genes))
	for i, g := range al.genes {
		out[i] = len(g)
	}
	return out
}

func sortedGenes(s geneid.Set) []string {
	out := make([]string, 0, len(s))
	for g := range s {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// rank returns fractional ranks (1-based, ties averaged). NaN inputs rank
// as NaN so that the coefficient over them is undefined.
func rank(x []float64) []float64 {
	out := make([]float64, len(x))
	idx := make([]int, 0, len(x))
	for i, v := range x {
		if math.IsNaN(v) {
			out[i] = v
			continue
		}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && x[idx[j]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // mean of ranks i+1..j
		for t := i; t < j; t++ {
			out[idx[t]] = avg
		}
		i = j
	}
	return out
}
