package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sawpanic/cnmfsns/internal/application"
	"github.com/sawpanic/cnmfsns/internal/odg"
)

func newSelectODGCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select-odg",
		Short: "Select overdispersed genes in a gene statistics table",
		Long: fmt.Sprintf(`Recomputes the selected column of a dataset's gene statistics table.

Methods: %s
The numeric parameter is N for *_topn, the minimum score for *_minscore
and the quantile in [0, 1] for *_quantile. genes_file reads --genes-file.`,
			strings.Join(odg.MethodNames(), ", ")),
		RunE: runSelectODG,
	}
	cmd.Flags().StringP("output-dir", "o", "", "Integration directory")
	cmd.Flags().StringP("name", "n", "", "Dataset name")
	cmd.Flags().String("table", "", "Gene statistics table path (instead of --output-dir/--name)")
	cmd.Flags().StringP("method", "m", "default_minscore", "Selection method")
	cmd.Flags().Float64P("param", "p", 1.0, "Method parameter")
	cmd.Flags().String("genes-file", "", "Newline-delimited gene list for genes_file")
	return cmd
}

func runSelectODG(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	var req application.SelectRequest
	req.OutputDir, _ = flags.GetString("output-dir")
	req.Dataset, _ = flags.GetString("name")
	req.TablePath, _ = flags.GetString("table")
	req.Method, _ = flags.GetString("method")
	req.Value, _ = flags.GetFloat64("param")
	req.GeneList, _ = flags.GetString("genes-file")

	rt, err := setup(cmd, req.OutputDir, "")
	if err != nil {
		return err
	}
	res, err := rt.service(application.Deps{}).SelectGenes(cmd.Context(), req)
	if err != nil {
		return rt.finish(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Selected %d genes with %s\n", len(res.Genes), res.Method.Name())
	return rt.finish(nil)
}
