package cnmfresult

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Option configures a Loader.
type Option func(*Loader)

// WithRanks restricts loading to the given ks. Default: every rank found.
func WithRanks(ks ...int) Option {
	return func(l *Loader) { l.ranks = append([]int(nil), ks...) }
}

// WithThreshold selects the local density threshold for every rank.
func WithThreshold(dt float64) Option {
	return func(l *Loader) { l.threshold = &dt }
}

// WithMetadata sets the sample metadata table. Default:
// <dir>/<name>.metadata.txt when present.
func WithMetadata(path string) Option {
	return func(l *Loader) { l.metadataPath = path }
}

// WithLogger sets the logger used for load progress.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// Loader parses cNMF result directories.
type Loader struct {
	ranks        []int
	threshold    *float64
	metadataPath string
	logger       zerolog.Logger
}

// NewLoader creates a new Loader
func NewLoader(opts ...Option) *Loader {
	l := &Loader{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load discovers, resolves and parses every requested rank in dir. All
// files are read eagerly; the returned container owns its matrices.
func (l *Loader) Load(dir string) (*Container, error) {
	d, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	sels, err := d.Resolve(l.ranks, l.threshold)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Name:   d.Name,
		Source: dir,
		Genes:  make(map[SpectraKind][]string),
		Ranks:  make([]Rank, 0, len(sels)),
	}
	for _, sel := range sels {
		l.logger.Debug().
			Str("dataset", d.Name).
			Int("k", sel.K).
			Float64("threshold", sel.Threshold).
			Msg("parsing rank")

		rank, err := c.parseRank(sel)
		if err != nil {
			return nil, fmt.Errorf("%s k=%d: %w", d.Name, sel.K, err)
		}
		c.Ranks = append(c.Ranks, rank)
	}

	if err := l.attachMetadata(c, d); err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("dataset", c.Name).
		Ints("ranks", c.Ks()).
		Int("genes", len(c.Genes[Consensus])).
		Int("samples", len(c.Samples)).
		Msg("loaded cNMF result")
	return c, nil
}

// parseRank reads one selection and aligns it to the gene and sample order
// fixed by the first parsed rank.
func (c *Container) parseRank(sel Selection) (Rank, error) {
	rank := Rank{K: sel.K, Threshold: sel.Threshold, Spectra: make(map[SpectraKind]*mat.Dense)}

	spectra := []struct {
		kind SpectraKind
		path string
	}{{Consensus, sel.spectra}, {GeneSpectraScore, sel.score}, {GeneSpectraTPM, sel.tpm}}
	for _, s := range spectra {
		if s.path == "" {
			continue
		}
		genes, m, err := parseSpectra(s.path, sel.K, string(s.kind)+" spectra")
		if err != nil {
			return Rank{}, err
		}
		ref, ok := c.Genes[s.kind]
		if !ok {
			c.Genes[s.kind] = genes
		} else {
			perm, err := permutation(ref, genes, string(s.kind)+" genes across ranks")
			if err != nil {
				return Rank{}, err
			}
			m = permuteCols(m, perm)
		}
		rank.Spectra[s.kind] = m
	}

	samples, usage, err := parseUsage(sel.usages, sel.K)
	if err != nil {
		return Rank{}, err
	}
	if c.Samples == nil {
		c.Samples = samples
	} else {
		perm, err := permutation(c.Samples, samples, "usage samples across ranks")
		if err != nil {
			return Rank{}, err
		}
		usage = permuteRows(usage, perm)
	}
	rank.Usage = usage
	return rank, nil
}

func (l *Loader) attachMetadata(c *Container, d *Discovery) error {
	path := l.metadataPath
	if path == "" {
		candidate := filepath.Join(d.Dir, d.Name+".metadata.txt")
		if _, err := os.Stat(candidate); err != nil {
			return nil
		}
		path = candidate
	}

	samples, md, err := parseMetadata(path)
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	perm, err := permutation(c.Samples, samples, "metadata samples")
	if err != nil {
		return err
	}
	rows := make([][]string, len(perm))
	for i, p := range perm {
		rows[i] = md.Rows[p]
	}
	md.Rows = rows
	c.Metadata = md

	l.logger.Debug().
		Str("dataset", c.Name).
		Str("path", path).
		Str("columns", strings.Join(md.Columns, ",")).
		Msg("attached sample metadata")
	return nil
}
