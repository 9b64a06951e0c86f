package application

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/sawpanic/cnmfsns/internal/cnmfresult"
	"github.com/sawpanic/cnmfsns/internal/integration"
	atomicio "github.com/sawpanic/cnmfsns/internal/io"
	"github.com/sawpanic/cnmfsns/internal/odg"
	"github.com/sawpanic/cnmfsns/internal/registry"
)

// histogramBins is the resolution of the written coefficient histograms
const histogramBins = 100

var distributionQuantiles = []float64{0.01, 0.05, 0.25, 0.5, 0.75, 0.95, 0.99}

// InitializeRequest sets up a new integration directory. Exactly one of
// SpecPath and Files must be given.
type InitializeRequest struct {
	OutputDir string
	SpecPath  string
	Files     []string
}

// InitializeResult summarizes what initialize produced
type InitializeResult struct {
	Registry      *registry.Registry
	ColorsAdded   int
	Distributions map[string]string // method -> JSON path
	OverlapPath   string
}

// Distribution is the JSON document written per correlation method
type Distribution struct {
	Method       string             `json:"method"`
	GEPs         int                `json:"geps"`
	Coefficients []float64          `json:"coefficients"`
	Histogram    Histogram          `json:"histogram"`
	Quantiles    map[string]float64 `json:"quantiles,omitempty"`
}

// Histogram holds equal-width bins over [-1, 1]
type Histogram struct {
	Edges  []float64 `json:"edges"`
	Counts []float64 `json:"counts"`
}

var initializeSteps = []string{
	"load_registry", "prepare_dirs", "copy_datasets", "gene_tables",
	"save_config", "pearson", "spearman", "gene_overlap",
}

// Initialize registers the datasets, copies them into the integration
// directory and writes the diagnostics used to pick a threshold.
func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	p := s.pipeline("initialize", initializeSteps)
	res := &InitializeResult{Distributions: make(map[string]string)}
	out := req.OutputDir
	if out == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	var reg *registry.Registry
	var specDir string
	if err := p.run("load_registry", func() error {
		var err error
		reg, err = registry.Load(registry.Source{SpecPath: req.SpecPath, Files: req.Files})
		if err != nil {
			return err
		}
		if req.SpecPath != "" {
			specDir = filepath.Dir(req.SpecPath)
		}
		s.metrics.Datasets.Set(float64(reg.Len()))
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.run("prepare_dirs", func() error {
		if atomicio.Exists(filepath.Join(out, ConfigFile)) {
			s.logger.Warn().Str("dir", out).Msg("output directory already initialized, files will be overwritten")
		}
		for _, d := range []string{DatasetsDir, DistributionsDir, GenesDir, NetworksDir} {
			if err := os.MkdirAll(filepath.Join(out, d), 0755); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	sources := make(map[string]string, reg.Len()) // original container path per dataset
	if err := p.run("copy_datasets", func() error {
		for _, d := range reg.Datasets() {
			src := resolve(specDir, d.Filename)
			sources[d.Name] = src
			file := filepath.Join(DatasetsDir, d.Name+cnmfresult.FileExt)
			if err := atomicio.CopyFileAtomic(src, filepath.Join(out, file)); err != nil {
				return fmt.Errorf("dataset %s: %w", d.Name, err)
			}
			meta := ""
			if d.Metadata != "" {
				meta = filepath.Join(DatasetsDir, d.Name+MetadataExt)
				if err := atomicio.CopyFileAtomic(resolve(specDir, d.Metadata), filepath.Join(out, meta)); err != nil {
					return fmt.Errorf("dataset %s metadata: %w", d.Name, err)
				}
			}
			if err := reg.Relocate(d.Name, file, meta); err != nil {
				return err
			}
			s.logger.Debug().Str("dataset", d.Name).Str("file", file).Msg("copied dataset")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.run("gene_tables", func() error {
		for _, name := range reg.Names() {
			if err := s.seedGeneTable(out, name, sources[name]); err != nil {
				return fmt.Errorf("dataset %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.run("save_config", func() error {
		res.ColorsAdded = reg.AddMissingColors()
		return reg.SaveFile(filepath.Join(out, ConfigFile))
	}); err != nil {
		return nil, err
	}
	res.Registry = reg

	var inputs map[string]integration.Input
	var last *integration.Network
	for _, method := range []integration.Method{integration.Pearson, integration.Spearman} {
		step := method.String()
		if err := p.run(step, func() error {
			if inputs == nil {
				var err error
				if inputs, err = loadInputs(out, reg); err != nil {
					return err
				}
			}
			n, err := integration.New(ctx, reg, inputs, s.networkOptions(method, integration.RetainAll)...)
			if err != nil {
				return err
			}
			path := filepath.Join(out, DistributionsDir, step+".json")
			if err := atomicio.WriteJSONAtomic(path, distributionOf(n)); err != nil {
				return err
			}
			s.metrics.RecordNetwork(step, len(n.GEPs()), len(n.Edges()))
			res.Distributions[step] = path
			last = n
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if err := p.run("gene_overlap", func() error {
		res.OverlapPath = filepath.Join(out, OverlapFile)
		return atomicio.WriteJSONAtomic(res.OverlapPath, last.Overlap())
	}); err != nil {
		return nil, err
	}

	p.finish()
	return res, nil
}

// seedGeneTable copies a genestats table found next to the source
// container, or seeds one selecting every consensus gene.
func (s *Service) seedGeneTable(out, name, source string) error {
	dst := GeneStatsPath(out, name)
	sibling := filepath.Join(filepath.Dir(source), name+GeneStatsExt)
	if atomicio.Exists(sibling) {
		if _, err := odg.ReadTableFile(sibling); err != nil {
			return err
		}
		s.logger.Info().Str("dataset", name).Str("table", sibling).Msg("using existing gene statistics")
		return atomicio.CopyFileAtomic(sibling, dst)
	}

	c, err := cnmfresult.ReadFile(filepath.Join(out, DatasetsDir, name+cnmfresult.FileExt))
	if err != nil {
		return err
	}
	genes := c.Genes[cnmfresult.Consensus]
	s.logger.Info().Str("dataset", name).Int("genes", len(genes)).Msg("seeded gene statistics with all genes selected")
	return odg.NewTable(genes).WriteFile(dst)
}

// loadInputs reads every container and gene table of an integration directory
func loadInputs(dir string, reg *registry.Registry) (map[string]integration.Input, error) {
	inputs := make(map[string]integration.Input, reg.Len())
	for _, d := range reg.Datasets() {
		c, err := cnmfresult.ReadFile(resolve(dir, d.Filename))
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", d.Name, err)
		}
		t, err := odg.ReadTableFile(GeneStatsPath(dir, d.Name))
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", d.Name, err)
		}
		inputs[d.Name] = integration.Input{Container: c, Genes: t}
	}
	return inputs, nil
}

func (s *Service) networkOptions(method integration.Method, minCorr float64) []integration.Option {
	return []integration.Option{
		integration.WithMethod(method),
		integration.WithMinCorr(minCorr),
		integration.WithWorkers(s.cfg.Workers),
		integration.WithBlockRows(s.cfg.BlockRows),
		integration.WithLowOverlapWarn(s.cfg.LowOverlapWarn),
		integration.WithLogger(s.logger),
	}
}

func distributionOf(n *integration.Network) Distribution {
	d := Distribution{
		Method:       n.Method().String(),
		GEPs:         len(n.GEPs()),
		Coefficients: n.Distribution(),
	}
	edges, counts, _ := n.Histogram(histogramBins)
	d.Histogram = Histogram{Edges: edges, Counts: counts}
	if len(d.Coefficients) > 0 {
		d.Quantiles = make(map[string]float64, len(distributionQuantiles))
		for i, q := range n.Quantiles(distributionQuantiles...) {
			d.Quantiles[quantileLabel(distributionQuantiles[i])] = q
		}
	}
	return d
}

func quantileLabel(q float64) string {
	return fmt.Sprintf("p%g", math.Round(q*10000)/100)
}
