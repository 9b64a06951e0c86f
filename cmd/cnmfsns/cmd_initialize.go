package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sawpanic/cnmfsns/internal/application"
)

func newInitializeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "initialize [container.cnmf.zst ...]",
		Short: "Create an integration directory from datasets",
		Long: `Registers datasets either from a TOML file (--config-toml) or from
container files given as arguments, copies them into the output directory
and writes the retain-all correlation distributions and gene overlaps
used to choose a network threshold.`,
		RunE: runInitialize,
	}
	cmd.Flags().StringP("output-dir", "o", "", "Integration directory to create (required)")
	cmd.Flags().StringP("config-toml", "c", "", "Declarative dataset TOML")
	_ = cmd.MarkFlagRequired("output-dir")
	return cmd
}

func runInitialize(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("output-dir")
	spec, _ := cmd.Flags().GetString("config-toml")

	rt, err := setup(cmd, out, filepath.Join(out, application.LogFile))
	if err != nil {
		return err
	}
	svc := rt.service(application.Deps{})

	res, err := svc.Initialize(cmd.Context(), application.InitializeRequest{
		OutputDir: out,
		SpecPath:  spec,
		Files:     args,
	})
	if err != nil {
		return rt.finish(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized %d datasets in %s\n", res.Registry.Len(), out)
	for _, method := range []string{"pearson", "spearman"} {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s distribution: %s\n", method, res.Distributions[method])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  gene overlap: %s\n", res.OverlapPath)
	return rt.finish(nil)
}
