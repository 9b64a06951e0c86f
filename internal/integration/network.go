// Package integration compares the gene expression programs of several
// cNMF datasets and builds a similarity network over them.
//
// Two programs are compared over the genes present and selected in both of
// their datasets. Each pair of datasets therefore has its own gene
// alignment; coefficients of different pairs may rest on different genes.
package integration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sawpanic/cnmfsns/internal/cnmfresult"
	"github.com/sawpanic/cnmfsns/internal/geneid"
	"github.com/sawpanic/cnmfsns/internal/odg"
	"github.com/sawpanic/cnmfsns/internal/registry"
)

// RetainAll as the minimum correlation keeps every defined pair.
const RetainAll = -1.0

const (
	defaultBlockRows      = 16
	defaultLowOverlapWarn = 50
)

var (
	// ErrUnalignedComparison reports vectors of different gene alignments
	// reaching the correlation kernel.
	ErrUnalignedComparison = errors.New("comparison of unaligned gene vectors")

	// ErrMissingDataset reports a registered dataset without inputs.
	ErrMissingDataset = errors.New("missing dataset inputs")

	// ErrNoPrograms is returned when no program is available to compare.
	ErrNoPrograms = errors.New("no gene expression programs to compare")
)

// Method is a correlation coefficient.
type Method int

const (
	Pearson Method = iota
	Spearman
)

func (m Method) String() string {
	if m == Spearman {
		return "spearman"
	}
	return "pearson"
}

// ParseMethod accepts "pearson" or "spearman", case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pearson":
		return Pearson, nil
	case "spearman":
		return Spearman, nil
	}
	return 0, fmt.Errorf("unknown correlation method %q", s)
}

// GEP identifies one gene expression program.
type GEP struct {
	Dataset string `json:"dataset"`
	K       int    `json:"k"`
	Program int    `json:"program"` // 1-based
}

func (g GEP) String() string { return fmt.Sprintf("%s|%d|%d", g.Dataset, g.K, g.Program) }

// Input is the per-dataset material a network consumes.
type Input struct {
	Container *cnmfresult.Container
	Genes     *odg.Table // selected flags define the comparable genes
}

type options struct {
	method         Method
	minCorr        float64
	workers        int
	blockRows      int
	kind           cnmfresult.SpectraKind
	lowOverlapWarn int
	ranks          map[string][]int
	logger         zerolog.Logger
}

// Option configures New.
type Option func(*options)

// WithMethod sets the correlation method. Default Pearson.
func WithMethod(m Method) Option { return func(o *options) { o.method = m } }

// WithMinCorr sets the edge threshold on |r|. Default RetainAll.
func WithMinCorr(r float64) Option { return func(o *options) { o.minCorr = r } }

// WithWorkers bounds the goroutines computing row blocks. Default GOMAXPROCS.
func WithWorkers(n int) Option { return func(o *options) { o.workers = n } }

// WithBlockRows sets how many matrix rows one task computes.
func WithBlockRows(n int) Option { return func(o *options) { o.blockRows = n } }

// WithSpectraKind picks the GEP matrix compared. Default consensus.
func WithSpectraKind(k cnmfresult.SpectraKind) Option { return func(o *options) { o.kind = k } }

// WithLowOverlapWarn sets the shared gene count under which a dataset pair
// is reported as poorly comparable.
func WithLowOverlapWarn(n int) Option { return func(o *options) { o.lowOverlapWarn = n } }

// WithRanks restricts dataset to the given ks. Default all ranks.
func WithRanks(dataset string, ks ...int) Option {
	return func(o *options) {
		if o.ranks == nil {
			o.ranks = make(map[string][]int)
		}
		o.ranks[dataset] = append([]int(nil), ks...)
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.logger = l } }

// Network is the similarity network of one (method, threshold)
// configuration. It is immutable; accessors return copies.
type Network struct {
	method   Method
	minCorr  float64
	kind     cnmfresult.SpectraKind
	datasets []string
	geps     []GEP
	gepSet   []int // dataset index of each GEP
	coef     []float64
	shared   []int // shared gene count per dataset pair, d*d
	edges    []Edge
	overlap  GeneOverlap
}

// New aligns every registered dataset, computes all pairwise coefficients
// and thresholds them into edges.
func New(ctx context.Context, reg *registry.Registry, inputs map[string]Input, opts ...Option) (*Network, error) {
	o := options{
		method:         Pearson,
		minCorr:        RetainAll,
		workers:        runtime.GOMAXPROCS(0),
		blockRows:      defaultBlockRows,
		kind:           cnmfresult.Consensus,
		lowOverlapWarn: defaultLowOverlapWarn,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.blockRows < 1 {
		o.blockRows = defaultBlockRows
	}
	if math.IsNaN(o.minCorr) || o.minCorr > 1 {
		return nil, fmt.Errorf("minimum correlation %v outside [-1, 1]", o.minCorr)
	}

	sources, err := collect(reg, inputs, o)
	if err != nil {
		return nil, err
	}

	n := &Network{
		method:   o.method,
		minCorr:  o.minCorr,
		kind:     o.kind,
		datasets: reg.Names(),
	}
	for d, src := range sources {
		for _, g := range src.geps {
			n.geps = append(n.geps, g)
			n.gepSet = append(n.gepSet, d)
		}
	}
	if len(n.geps) == 0 {
		return nil, ErrNoPrograms
	}

	n.overlap = computeOverlap(n.datasets, sources)
	n.warnLowOverlap(o)

	al := align(sources, o.method)
	n.shared = al.sharedCounts()

	if err := n.computeSimilarity(ctx, al, o); err != nil {
		return nil, err
	}
	n.edges = n.threshold()

	o.logger.Info().
		Str("method", n.method.String()).
		Float64("min_corr", n.minCorr).
		Int("datasets", len(n.datasets)).
		Int("geps", len(n.geps)).
		Int("edges", len(n.edges)).
		Msg("built integration network")
	return n, nil
}

// source is one dataset's programs restricted to its comparable genes.
type source struct {
	name     string
	geps     []GEP
	vectors  [][]float64 // full spectra rows, one per GEP
	universe geneid.Set  // genes present in the spectra and selected
	columns  map[string]int
}

func collect(reg *registry.Registry, inputs map[string]Input, o options) ([]*source, error) {
	var sources []*source
	for _, name := range reg.Names() {
		in, ok := inputs[name]
		if !ok || in.Container == nil || in.Genes == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingDataset, name)
		}
		genes, ok := in.Container.Genes[o.kind]
		if !ok {
			return nil, fmt.Errorf("%s: container has no %s spectra", name, o.kind)
		}

		selected := in.Genes.SelectedSet()
		src := &source{name: name, universe: make(geneid.Set), columns: make(map[string]int, len(genes))}
		for j, g := range genes {
			src.columns[g] = j
			if _, ok := selected[g]; ok {
				src.universe[g] = struct{}{}
			}
		}

		ks := in.Container.Ks()
		if want, ok := o.ranks[name]; ok {
			ks = append([]int(nil), want...)
			sort.Ints(ks)
		}
		for _, k := range ks {
			for p := 1; p <= k; p++ {
				v, err := in.Container.GEP(o.kind, k, p)
				if err != nil {
					return nil, err
				}
				src.geps = append(src.geps, GEP{Dataset: name, K: k, Program: p})
				src.vectors = append(src.vectors, v)
			}
		}
		o.logger.Debug().
			Str("dataset", name).
			Int("geps", len(src.geps)).
			Int("genes", len(src.universe)).
			Msg("collected dataset")
		sources = append(sources, src)
	}
	return sources, nil
}

func (n *Network) warnLowOverlap(o options) {
	for a := range n.datasets {
		for b := a + 1; b < len(n.datasets); b++ {
			shared := n.overlap.Pairwise[a][b]
			if shared >= o.lowOverlapWarn {
				continue
			}
			o.logger.Warn().
				Str("a", n.datasets[a]).
				Str("b", n.datasets[b]).
				Int("shared_genes", shared).
				Int("warn_below", o.lowOverlapWarn).
				Str("method", o.method.String()).
				Msg("low gene overlap between datasets")
		}
	}
}

// Method returns the correlation method.
func (n *Network) Method() Method { return n.method }

// MinCorr returns the edge threshold.
func (n *Network) MinCorr() float64 { return n.minCorr }

// Datasets returns dataset names in registry order.
func (n *Network) Datasets() []string { return append([]string(nil), n.datasets...) }

// GEPs returns programs in matrix order: dataset, then k, then program.
func (n *Network) GEPs() []GEP { return append([]GEP(nil), n.geps...) }

// Index returns the matrix position of g, or -1.
func (n *Network) Index(g GEP) int {
	i := sort.Search(len(n.geps), func(i int) bool { return !gepLess(n.geps[i], g, n.datasets) })
	if i < len(n.geps) && n.geps[i] == g {
		return i
	}
	return -1
}

// SharedGenes returns the number of genes compared between two datasets.
func (n *Network) SharedGenes(a, b string) int {
	ia, ib := indexOf(n.datasets, a), indexOf(n.datasets, b)
	if ia < 0 || ib < 0 {
		return 0
	}
	return n.shared[ia*len(n.datasets)+ib]
}

func gepLess(a, b GEP, order []string) bool {
	if a.Dataset != b.Dataset {
		return indexOf(order, a.Dataset) < indexOf(order, b.Dataset)
	}
	if a.K != b.K {
		return a.K < b.K
	}
	return a.Program < b.Program
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
