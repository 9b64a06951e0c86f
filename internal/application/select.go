package application

import (
	"context"
	"fmt"

	"github.com/sawpanic/cnmfsns/internal/odg"
)

// SelectRequest reselects the overdispersed genes of one table. Either
// TablePath or OutputDir plus Dataset locate the table.
type SelectRequest struct {
	OutputDir string
	Dataset   string
	TablePath string
	Method    string  // e.g. default_topn, cnmf_quantile, genes_file
	Value     float64 // N, minimum score or quantile
	GeneList  string  // newline-delimited gene file for genes_file
}

var selectSteps = []string{"read_table", "select", "write_table"}

// SelectGenes applies a selection method and rewrites the table in place.
// On failure the table file is untouched.
func (s *Service) SelectGenes(ctx context.Context, req SelectRequest) (odg.Result, error) {
	method, err := odg.ParseMethod(req.Method)
	if err != nil {
		return odg.Result{}, err
	}
	path := req.TablePath
	if path == "" {
		if req.OutputDir == "" || req.Dataset == "" {
			return odg.Result{}, fmt.Errorf("either a table path or an output directory and dataset is required")
		}
		path = GeneStatsPath(req.OutputDir, req.Dataset)
	}

	p := s.pipeline("select-odg", selectSteps)
	var table *odg.Table
	params := odg.Params{Value: req.Value}
	if err := p.run("read_table", func() error {
		var err error
		if table, err = odg.ReadTableFile(path); err != nil {
			return err
		}
		if method.Rule == odg.RuleGeneList {
			if req.GeneList == "" {
				return fmt.Errorf("%s needs a gene list file", method.Name())
			}
			params.GeneList, err = odg.ReadGeneListFile(req.GeneList)
		}
		return err
	}); err != nil {
		return odg.Result{}, err
	}

	var res odg.Result
	if err := p.run("select", func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		res, err = odg.Apply(table, method, params, s.logger)
		return err
	}); err != nil {
		return odg.Result{}, err
	}
	s.metrics.RecordSelection(method.Name(), len(res.Genes))

	if err := p.run("write_table", func() error {
		return table.WriteFile(path)
	}); err != nil {
		return odg.Result{}, err
	}

	p.finish()
	return res, nil
}
