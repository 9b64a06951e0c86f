package integration

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/cnmfsns/internal/cnmfresult"
	"github.com/sawpanic/cnmfsns/internal/odg"
	"github.com/sawpanic/cnmfsns/internal/registry"
)

type fixture struct {
	t      *testing.T
	reg    *registry.Registry
	inputs map[string]Input
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, reg: registry.New(), inputs: make(map[string]Input)}
}

// add registers a dataset whose spectra cover genes; ranks maps k to its
// program rows. selected limits the comparable genes (nil selects all).
func (f *fixture) add(name string, genes []string, ranks map[int][][]float64, selected []string) {
	f.t.Helper()
	require.NoError(f.t, f.reg.Add(registry.Dataset{Name: name, Filename: name + cnmfresult.FileExt}))

	c := &cnmfresult.Container{
		Name:    name,
		Genes:   map[cnmfresult.SpectraKind][]string{cnmfresult.Consensus: genes},
		Samples: []string{"s1"},
	}
	ks := make([]int, 0, len(ranks))
	for k := range ranks {
		ks = append(ks, k)
	}
	sort.Ints(ks)
	for _, k := range ks {
		rows := ranks[k]
		require.Len(f.t, rows, k)
		m := mat.NewDense(k, len(genes), nil)
		for p, row := range rows {
			require.Len(f.t, row, len(genes))
			m.SetRow(p, row)
		}
		c.Ranks = append(c.Ranks, cnmfresult.Rank{
			K:       k,
			Spectra: map[cnmfresult.SpectraKind]*mat.Dense{cnmfresult.Consensus: m},
			Usage:   mat.NewDense(1, k, nil),
		})
	}

	if selected == nil {
		selected = genes
	}
	sel := make(map[string]bool)
	for _, g := range selected {
		sel[g] = true
	}
	var b strings.Builder
	b.WriteString("\todscore\tselected\n")
	for _, g := range genes {
		flag := "False"
		if sel[g] {
			flag = "True"
		}
		fmt.Fprintf(&b, "%s\t1\t%s\n", g, flag)
	}
	tbl, err := odg.ReadTable(strings.NewReader(b.String()))
	require.NoError(f.t, err)

	f.inputs[name] = Input{Container: c, Genes: tbl}
}

func (f *fixture) build(opts ...Option) *Network {
	f.t.Helper()
	n, err := New(context.Background(), f.reg, f.inputs, opts...)
	require.NoError(f.t, err)
	return n
}

func geneNames(prefix string, from, to int) []string {
	var out []string
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%s%d", prefix, i))
	}
	return out
}

func randomRows(rng *rand.Rand, k, g int) [][]float64 {
	rows := make([][]float64, k)
	for p := range rows {
		rows[p] = make([]float64, g)
		for j := range rows[p] {
			rows[p][j] = rng.Float64() * 10
		}
	}
	return rows
}

func randomFixture(t *testing.T) *fixture {
	rng := rand.New(rand.NewSource(7))
	f := newFixture(t)
	genes := geneNames("G", 1, 40)
	f.add("atlas", genes, map[int][][]float64{3: randomRows(rng, 3, 40), 4: randomRows(rng, 4, 40)}, nil)
	f.add("normal", genes[:30], map[int][][]float64{2: randomRows(rng, 2, 30)}, nil)
	f.add("tumor", genes[5:], map[int][][]float64{5: randomRows(rng, 5, 35)}, genes[5:30])
	return f
}

func TestIdenticalProgramsAcrossDatasets(t *testing.T) {
	genes := geneNames("GENE", 1, 100)
	program := make([]float64, 100)
	for i := range program {
		program[i] = math.Sin(float64(i)) + 2
	}
	other := make([]float64, 100)
	for i := range other {
		other[i] = float64(i % 7)
	}

	for _, method := range []Method{Pearson, Spearman} {
		for _, minCorr := range []float64{0.99, RetainAll} {
			t.Run(fmt.Sprintf("%s/%v", method, minCorr), func(t *testing.T) {
				f := newFixture(t)
				f.add("a", genes, map[int][][]float64{2: {program, other}}, nil)
				f.add("b", genes, map[int][][]float64{1: {program}}, nil)
				n := f.build(WithMethod(method), WithMinCorr(minCorr))

				i := n.Index(GEP{Dataset: "a", K: 2, Program: 1})
				j := n.Index(GEP{Dataset: "b", K: 1, Program: 1})
				require.GreaterOrEqual(t, i, 0)
				require.GreaterOrEqual(t, j, 0)
				assert.InDelta(t, 1.0, n.Coefficient(i, j), 1e-12)

				found := false
				for _, e := range n.Edges() {
					if e.Source == (GEP{"a", 2, 1}) && e.Target == (GEP{"b", 1, 1}) {
						found = true
						assert.True(t, e.CrossDataset)
						assert.Equal(t, 100, e.SharedGenes)
					}
				}
				assert.True(t, found, "identical programs must be linked")
			})
		}
	}
}

func TestSimilarityIsSymmetricWithUnitDiagonal(t *testing.T) {
	for _, method := range []Method{Pearson, Spearman} {
		t.Run(method.String(), func(t *testing.T) {
			n := randomFixture(t).build(WithMethod(method))
			sim := n.Similarity()
			p, _ := sim.Dims()
			require.Equal(t, len(n.GEPs()), p)
			require.Equal(t, 14, p)
			for i := 0; i < p; i++ {
				assert.Equal(t, 1.0, sim.At(i, i))
				for j := 0; j < p; j++ {
					assert.InDelta(t, n.Coefficient(i, j), n.Coefficient(j, i), 1e-12)
					if c := n.Coefficient(i, j); !math.IsNaN(c) {
						assert.LessOrEqual(t, math.Abs(c), 1.0)
					}
				}
			}
		})
	}
}

func TestGEPOrder(t *testing.T) {
	n := randomFixture(t).build()
	geps := n.GEPs()
	// registry order is by name: atlas, normal, tumor
	assert.Equal(t, GEP{"atlas", 3, 1}, geps[0])
	assert.Equal(t, GEP{"atlas", 4, 4}, geps[6])
	assert.Equal(t, GEP{"normal", 2, 1}, geps[7])
	assert.Equal(t, GEP{"tumor", 5, 5}, geps[13])
	for i, g := range geps {
		assert.Equal(t, i, n.Index(g))
	}
	assert.Equal(t, -1, n.Index(GEP{"atlas", 9, 1}))
}

func TestSpearmanMonotonicInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	genes := geneNames("G", 1, 50)
	x := randomRows(rng, 1, 50)[0]
	y := randomRows(rng, 1, 50)[0]

	transformed := make([]float64, len(x))
	for i, v := range x {
		transformed[i] = math.Exp(v) + 3
	}

	f := newFixture(t)
	f.add("a", genes, map[int][][]float64{2: {x, transformed}}, nil)
	f.add("b", genes, map[int][][]float64{1: {y}}, nil)

	spearman := f.build(WithMethod(Spearman))
	ax := spearman.Index(GEP{"a", 2, 1})
	ay := spearman.Index(GEP{"a", 2, 2})
	by := spearman.Index(GEP{"b", 1, 1})
	assert.InDelta(t, 1.0, spearman.Coefficient(ax, ay), 1e-12)
	assert.InDelta(t, spearman.Coefficient(ax, by), spearman.Coefficient(ay, by), 1e-12)

	pearson := f.build(WithMethod(Pearson))
	assert.Less(t, pearson.Coefficient(ax, ay), 0.999, "exp is not linear")
}

func TestPerPairGeneIntersection(t *testing.T) {
	linear := func(genes []string) []float64 {
		v := make([]float64, len(genes))
		for i := range v {
			v[i] = float64(i + 1)
		}
		return v
	}
	all := geneNames("G", 1, 10)
	bGenes := geneNames("G", 1, 6)
	cGenes := geneNames("G", 5, 10)

	// a is linear only over the shared genes with b; beyond G6 it drops
	aProgram := []float64{1, 2, 3, 4, 5, 6, -10, -20, -30, -40}

	f := newFixture(t)
	f.add("a", all, map[int][][]float64{1: {aProgram}}, nil)
	f.add("b", bGenes, map[int][][]float64{1: {linear(bGenes)}}, nil)
	f.add("c", cGenes, map[int][][]float64{1: {linear(cGenes)}}, nil)
	// d has every gene but only three are selected
	f.add("d", all, map[int][][]float64{1: {linear(all)}}, []string{"G1", "G2", "G3"})

	n := f.build()
	assert.Equal(t, 6, n.SharedGenes("a", "b"))
	assert.Equal(t, 6, n.SharedGenes("a", "c"))
	assert.Equal(t, 2, n.SharedGenes("b", "c"))
	assert.Equal(t, 3, n.SharedGenes("a", "d"))
	assert.Equal(t, 10, n.SharedGenes("a", "a"))

	a := n.Index(GEP{"a", 1, 1})
	b := n.Index(GEP{"b", 1, 1})
	c := n.Index(GEP{"c", 1, 1})
	d := n.Index(GEP{"d", 1, 1})
	assert.InDelta(t, 1.0, n.Coefficient(a, b), 1e-12, "compared over G1..G6 only")
	assert.InDelta(t, 1.0, n.Coefficient(a, d), 1e-12, "unselected genes of d are ignored")
	assert.Less(t, n.Coefficient(a, c), 0.0)
	assert.InDelta(t, 1.0, n.Coefficient(b, c), 1e-12, "G5, G6 shared")
}

func TestUndefinedCoefficients(t *testing.T) {
	f := newFixture(t)
	f.add("a", []string{"G1", "G2"}, map[int][][]float64{1: {{1, 2}}}, nil)
	f.add("b", []string{"G2", "G3"}, map[int][][]float64{1: {{5, 6}}}, nil)
	f.add("c", []string{"G1", "G2", "G3"}, map[int][][]float64{1: {{4, 4, 4}}}, nil)

	n := f.build()
	a, b, c := n.Index(GEP{"a", 1, 1}), n.Index(GEP{"b", 1, 1}), n.Index(GEP{"c", 1, 1})
	assert.True(t, math.IsNaN(n.Coefficient(a, b)), "one shared gene")
	assert.True(t, math.IsNaN(n.Coefficient(a, c)), "constant vector")
	assert.Equal(t, 1.0, n.Coefficient(c, c))
	assert.Empty(t, n.Distribution())
	assert.Empty(t, n.Edges(), "undefined pairs are never edges")
}

func TestThresholdAndSelfPairs(t *testing.T) {
	f := randomFixture(t)
	all := f.build()
	strict := f.build(WithMinCorr(0.5))

	p := len(all.GEPs())
	assert.Len(t, all.Edges(), len(all.Distribution()))
	assert.LessOrEqual(t, len(all.Edges()), p*(p-1)/2)

	for _, e := range strict.Edges() {
		assert.GreaterOrEqual(t, math.Abs(e.Weight), 0.5)
		assert.NotEqual(t, e.Source, e.Target)
	}
	kept := 0
	for _, r := range all.Distribution() {
		if math.Abs(r) >= 0.5 {
			kept++
		}
	}
	assert.Len(t, strict.Edges(), kept)
	assert.Equal(t, all.Distribution(), strict.Distribution(), "diagnostics ignore the threshold")
	assert.Equal(t, 0.5, strict.MinCorr())
}

func TestParallelBlocksAreDeterministic(t *testing.T) {
	f := randomFixture(t)
	serial := f.build(WithWorkers(1), WithBlockRows(100), WithMethod(Spearman))
	for _, cfg := range []struct{ workers, rows int }{{4, 1}, {3, 2}, {8, 5}} {
		parallel := f.build(WithWorkers(cfg.workers), WithBlockRows(cfg.rows), WithMethod(Spearman))
		assert.True(t, mat.Equal(serial.Similarity(), parallel.Similarity()), "workers=%d rows=%d", cfg.workers, cfg.rows)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	n := randomFixture(t).build()

	sim := n.Similarity()
	sim.SetSym(0, 1, 42)
	assert.NotEqual(t, 42.0, n.Coefficient(0, 1))

	edges := n.Edges()
	require.NotEmpty(t, edges)
	edges[0].Weight = 42
	assert.NotEqual(t, 42.0, n.Edges()[0].Weight)

	geps := n.GEPs()
	geps[0].Dataset = "mutated"
	assert.Equal(t, "atlas", n.GEPs()[0].Dataset)

	ov := n.Overlap()
	ov.Pairwise[0][0] = -1
	assert.NotEqual(t, -1, n.Overlap().Pairwise[0][0])
}

func TestGeneOverlap(t *testing.T) {
	n := randomFixture(t).build()
	ov := n.Overlap()

	// atlas: G1..G40, normal: G1..G30, tumor: G6..G30 selected
	assert.Equal(t, []string{"atlas", "normal", "tumor"}, ov.Datasets)
	assert.Equal(t, []int{40, 30, 25}, ov.Sizes)
	assert.Equal(t, [][]int{{40, 30, 25}, {30, 30, 25}, {25, 25, 25}}, ov.Pairwise)

	assert.Equal(t, []Combination{
		{Datasets: []string{"atlas", "normal", "tumor"}, Count: 25},
		{Datasets: []string{"atlas"}, Count: 10},
		{Datasets: []string{"atlas", "normal"}, Count: 5},
	}, ov.Combinations)
}

func TestHistogramAndQuantiles(t *testing.T) {
	n := randomFixture(t).build()
	dist := n.Distribution()
	require.True(t, sort.Float64sAreSorted(dist))

	edges, counts, err := n.Histogram(20)
	require.NoError(t, err)
	assert.Len(t, edges, 21)
	assert.Equal(t, -1.0, edges[0])
	assert.Equal(t, 1.0, edges[20])
	total := 0.0
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, float64(len(dist)), total)

	q := n.Quantiles(0, 1, 2)
	assert.Equal(t, dist[0], q[0])
	assert.Equal(t, dist[len(dist)-1], q[1])
	assert.True(t, math.IsNaN(q[2]))

	_, _, err = n.Histogram(0)
	assert.Error(t, err)
}

func TestComponents(t *testing.T) {
	genes := geneNames("G", 1, 20)
	up := make([]float64, 20)
	down := make([]float64, 20)
	wave := make([]float64, 20)
	for i := range up {
		up[i] = float64(i)
		down[i] = float64(i*i) + 1
		wave[i] = math.Sin(float64(i) * 1.7)
	}

	f := newFixture(t)
	f.add("a", genes, map[int][][]float64{2: {up, wave}}, nil)
	f.add("b", genes, map[int][][]float64{1: {down}}, nil)
	n := f.build(WithMinCorr(0.9))

	comps := n.Components()
	require.Len(t, comps, 2)
	assert.Equal(t, []GEP{{"a", 2, 1}, {"b", 1, 1}}, comps[0])
	assert.Equal(t, []GEP{{"a", 2, 2}}, comps[1])
	assert.Equal(t, 3, n.Graph().Nodes().Len())
}

func TestRanksOption(t *testing.T) {
	n := randomFixture(t).build(WithRanks("atlas", 4))
	assert.Equal(t, -1, n.Index(GEP{"atlas", 3, 1}))
	assert.Equal(t, 0, n.Index(GEP{"atlas", 4, 1}))
	assert.Len(t, n.GEPs(), 11)
}

func TestMissingDataset(t *testing.T) {
	f := randomFixture(t)
	delete(f.inputs, "tumor")
	_, err := New(context.Background(), f.reg, f.inputs)
	assert.ErrorIs(t, err, ErrMissingDataset)
}

func TestCorrelateRejectsUnaligned(t *testing.T) {
	_, err := correlate([]float64{1, 2, 3}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrUnalignedComparison)
}

func TestRankTies(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, rank([]float64{1, 5, 5, 9}))
	assert.Equal(t, []float64{3, 1, 2}, rank([]float64{30, 10, 20}))

	r := rank([]float64{2, math.NaN(), 1})
	assert.Equal(t, 2.0, r[0])
	assert.True(t, math.IsNaN(r[1]))
	assert.Equal(t, 1.0, r[2])
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("Spearman")
	require.NoError(t, err)
	assert.Equal(t, Spearman, m)
	_, err = ParseMethod("kendall")
	assert.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	f := randomFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(ctx, f.reg, f.inputs)
	assert.ErrorIs(t, err, context.Canceled)
}
