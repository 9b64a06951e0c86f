// Package application orchestrates the cnmfsns commands: each use case runs as a
// named pipeline whose step durations land in the metrics registry.
package application

import (
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/sawpanic/cnmfsns/internal/blob"
	"github.com/sawpanic/cnmfsns/internal/config"
	cnmflog "github.com/sawpanic/cnmfsns/internal/log"
	"github.com/sawpanic/cnmfsns/internal/metrics"
	"github.com/sawpanic/cnmfsns/internal/persistence"
)

// Integration directory layout
const (
	ConfigFile       = "config.toml"
	LogFile          = "logfile.txt"
	DatasetsDir      = "input/datasets"
	DistributionsDir = "output/correlation_distributions"
	GenesDir         = "output/overdispersed_genes"
	NetworksDir      = "output/networks"
	OverlapFile      = "output/gene_overlap.json"
	GeneStatsExt     = ".genestats.tsv"
	MetadataExt      = ".metadata.txt"
)

// Deps are the collaborators shared by every use case. Store and
// Networks may be nil when the command does not need them.
type Deps struct {
	Config   config.Config
	Logger   zerolog.Logger
	Metrics  *metrics.Registry
	Store    blob.Store
	Networks persistence.NetworkRepo
}

// Service runs the use cases
type Service struct {
	cfg      config.Config
	logger   zerolog.Logger
	metrics  *metrics.Registry
	store    blob.Store
	networks persistence.NetworkRepo
}

// NewService creates a service. A zero Config means config.Default and a
// nil Metrics gets a private registry.
func NewService(d Deps) *Service {
	cfg := d.Config
	if cfg.BlockRows == 0 {
		cfg = config.Default()
	}
	m := d.Metrics
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Service{
		cfg:      cfg,
		logger:   d.Logger,
		metrics:  m,
		store:    d.Store,
		networks: d.Networks,
	}
}

// Metrics returns the registry the use cases record into
func (s *Service) Metrics() *metrics.Registry { return s.metrics }

// GeneStatsPath is where the statistics table of dataset lives in an
// integration directory.
func GeneStatsPath(dir, dataset string) string {
	return filepath.Join(dir, GenesDir, dataset+GeneStatsExt)
}

// pipeline tracks one use case run
type pipeline struct {
	steps   *cnmflog.StepLogger
	metrics *metrics.Registry
}

func (s *Service) pipeline(name string, steps []string) *pipeline {
	return &pipeline{
		steps:   cnmflog.NewStepLogger(s.logger, name, steps, s.metrics.ObserveStep),
		metrics: s.metrics,
	}
}

// run executes fn as step. A failure is logged against the step and
// counted; the error is returned unchanged.
func (p *pipeline) run(step string, fn func() error) error {
	p.steps.StartStep(step)
	if err := fn(); err != nil {
		p.steps.Fail(err)
		p.metrics.RecordFailure(step)
		return err
	}
	return nil
}

func (p *pipeline) finish() { p.steps.Finish() }

// resolve makes a registry path absolute against the integration directory
func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
