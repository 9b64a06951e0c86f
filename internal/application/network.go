package application

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/cnmfsns/internal/integration"
	atomicio "github.com/sawpanic/cnmfsns/internal/io"
	"github.com/sawpanic/cnmfsns/internal/persistence"
	"github.com/sawpanic/cnmfsns/internal/registry"
)

// NetworkRequest builds a thresholded network over an integration directory
type NetworkRequest struct {
	OutputDir string
	Method    string  // pearson | spearman
	MinCorr   float64 // integration.RetainAll keeps every defined pair
	Ranks     map[string][]int
}

// NetworkResult describes a built network
type NetworkResult struct {
	RunID      uuid.UUID
	Network    *integration.Network
	EdgesPath  string
	Components int
	Persisted  bool
}

// NetworkDocument is the JSON written for a network
type NetworkDocument struct {
	RunID      string             `json:"run_id"`
	Method     string             `json:"method"`
	MinCorr    float64            `json:"min_corr"`
	Datasets   []string           `json:"datasets"`
	GEPs       []integration.GEP  `json:"geps"`
	Edges      []integration.Edge `json:"edges"`
	Components [][]string         `json:"components"`
	CreatedAt  time.Time          `json:"created_at"`
}

var networkSteps = []string{"load_inputs", "similarity", "write_network", "persist"}

// CreateNetwork builds the network and writes it under output/networks.
// When a network repository is configured the run is also stored there.
func (s *Service) CreateNetwork(ctx context.Context, req NetworkRequest) (*NetworkResult, error) {
	method, err := integration.ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	dir := req.OutputDir
	p := s.pipeline("create-network", networkSteps)

	var reg *registry.Registry
	var inputs map[string]integration.Input
	if err := p.run("load_inputs", func() error {
		var err error
		if reg, err = registry.LoadFile(filepath.Join(dir, ConfigFile)); err != nil {
			return err
		}
		s.metrics.Datasets.Set(float64(reg.Len()))
		inputs, err = loadInputs(dir, reg)
		return err
	}); err != nil {
		return nil, err
	}

	res := &NetworkResult{RunID: uuid.New()}
	if err := p.run("similarity", func() error {
		opts := s.networkOptions(method, req.MinCorr)
		for name, ks := range req.Ranks {
			opts = append(opts, integration.WithRanks(name, ks...))
		}
		n, err := integration.New(ctx, reg, inputs, opts...)
		if err != nil {
			return err
		}
		res.Network = n
		s.metrics.RecordNetwork(method.String(), len(n.GEPs()), len(n.Edges()))
		return nil
	}); err != nil {
		return nil, err
	}
	n := res.Network
	createdAt := time.Now().UTC()

	if err := p.run("write_network", func() error {
		doc := NetworkDocument{
			RunID:     res.RunID.String(),
			Method:    method.String(),
			MinCorr:   n.MinCorr(),
			Datasets:  n.Datasets(),
			GEPs:      n.GEPs(),
			Edges:     n.Edges(),
			CreatedAt: createdAt,
		}
		for _, comp := range n.Components() {
			names := make([]string, len(comp))
			for i, g := range comp {
				names[i] = g.String()
			}
			doc.Components = append(doc.Components, names)
		}
		res.Components = len(doc.Components)
		res.EdgesPath = filepath.Join(dir, NetworksDir, networkFileName(method, n.MinCorr()))
		return atomicio.WriteJSONAtomic(res.EdgesPath, doc)
	}); err != nil {
		return nil, err
	}

	if s.networks != nil {
		if err := p.run("persist", func() error {
			return s.persist(ctx, res.RunID, n, createdAt)
		}); err != nil {
			return nil, err
		}
		res.Persisted = true
	}

	p.finish()
	s.logger.Info().
		Str("run_id", res.RunID.String()).
		Str("method", method.String()).
		Int("geps", len(n.GEPs())).
		Int("edges", len(n.Edges())).
		Int("components", res.Components).
		Msg("network created")
	return res, nil
}

func (s *Service) persist(ctx context.Context, id uuid.UUID, n *integration.Network, createdAt time.Time) error {
	edges := n.Edges()
	records := make([]persistence.EdgeRecord, len(edges))
	for i, e := range edges {
		records[i] = persistence.EdgeRecord{
			RunID:         id,
			SourceDataset: e.Source.Dataset,
			SourceK:       e.Source.K,
			SourceProgram: e.Source.Program,
			TargetDataset: e.Target.Dataset,
			TargetK:       e.Target.K,
			TargetProgram: e.Target.Program,
			Weight:        e.Weight,
			CrossDataset:  e.CrossDataset,
			SharedGenes:   e.SharedGenes,
		}
	}
	run := persistence.NetworkRun{
		ID:        id,
		Method:    n.Method().String(),
		MinCorr:   n.MinCorr(),
		Datasets:  strings.Join(n.Datasets(), ","),
		GEPs:      len(n.GEPs()),
		Edges:     len(edges),
		CreatedAt: createdAt,
	}
	if err := s.networks.SaveRun(ctx, run, records); err != nil {
		return fmt.Errorf("persist network run %s: %w", id, err)
	}
	return nil
}

// networkFileName is e.g. pearson_0.5.json or spearman_all.json
func networkFileName(m integration.Method, minCorr float64) string {
	if minCorr == integration.RetainAll {
		return m.String() + "_all.json"
	}
	return m.String() + "_" + strconv.FormatFloat(minCorr, 'g', -1, 64) + ".json"
}
