package application

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sawpanic/cnmfsns/internal/cnmfresult"
)

// CreateContainerRequest converts one cNMF result directory
type CreateContainerRequest struct {
	Dir          string
	Key          string // blob key, default <name>.cnmf.zst
	Ranks        []int  // empty means every rank found
	Threshold    *float64
	MetadataPath string
	DeleteSource bool
}

var containerSteps = []string{"load_results", "export", "delete_source"}

// CreateContainer parses a result directory and exports it as a
// standardized container. The source directory is removed only when
// requested and only after the exported artifact has been verified.
func (s *Service) CreateContainer(ctx context.Context, req CreateContainerRequest) (cnmfresult.ExportReceipt, error) {
	if s.store == nil {
		return cnmfresult.ExportReceipt{}, fmt.Errorf("create-container needs a blob store")
	}
	p := s.pipeline("create-container", containerSteps)

	var c *cnmfresult.Container
	if err := p.run("load_results", func() error {
		opts := []cnmfresult.Option{cnmfresult.WithLogger(s.logger), cnmfresult.WithRanks(req.Ranks...)}
		if req.Threshold != nil {
			opts = append(opts, cnmfresult.WithThreshold(*req.Threshold))
		}
		if req.MetadataPath != "" {
			opts = append(opts, cnmfresult.WithMetadata(req.MetadataPath))
		}
		var err error
		c, err = cnmfresult.NewLoader(opts...).Load(req.Dir)
		return err
	}); err != nil {
		return cnmfresult.ExportReceipt{}, err
	}

	key := req.Key
	if key == "" {
		key = filepath.Base(filepath.Clean(req.Dir)) + cnmfresult.FileExt
	}
	var receipt cnmfresult.ExportReceipt
	if err := p.run("export", func() error {
		var err error
		receipt, err = cnmfresult.Export(ctx, s.store, key, c, s.logger)
		return err
	}); err != nil {
		return cnmfresult.ExportReceipt{}, err
	}

	if req.DeleteSource {
		if err := p.run("delete_source", func() error {
			return cnmfresult.DeleteSource(ctx, s.store, receipt, s.logger)
		}); err != nil {
			return receipt, err
		}
	}

	p.finish()
	return receipt, nil
}
