package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/cnmfsns/internal/application"
	"github.com/sawpanic/cnmfsns/internal/blob"
)

func newCreateContainerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-container <cnmf-result-dir>",
		Short: "Convert a cNMF result directory into a standardized container",
		Long: `Parses the consensus spectra and usages of every requested rank and
exports them as one container to the configured blob store. With --delete
the result directory is removed after the export has been verified.`,
		Args: cobra.ExactArgs(1),
		RunE: runCreateContainer,
	}
	cmd.Flags().String("key", "", "Blob key (default <name>.cnmf.zst)")
	cmd.Flags().IntSlice("k", nil, "Ranks to load (default all)")
	cmd.Flags().Float64("local-density-threshold", 0, "Local density threshold used for every rank")
	cmd.Flags().String("metadata", "", "Sample metadata table (default <dir>/<name>.metadata.txt when present)")
	cmd.Flags().Bool("delete", false, "Delete the result directory after a verified export")
	return cmd
}

func runCreateContainer(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	req := application.CreateContainerRequest{Dir: args[0]}
	req.Key, _ = flags.GetString("key")
	req.Ranks, _ = flags.GetIntSlice("k")
	req.MetadataPath, _ = flags.GetString("metadata")
	req.DeleteSource, _ = flags.GetBool("delete")
	if flags.Changed("local-density-threshold") {
		dt, _ := flags.GetFloat64("local-density-threshold")
		req.Threshold = &dt
	}

	rt, err := setup(cmd, "", "")
	if err != nil {
		return err
	}
	store, err := blob.Open(cmd.Context(), rt.cfg.BlobConfig(""))
	if err != nil {
		return rt.finish(err)
	}
	svc := rt.service(application.Deps{Store: store})

	receipt, err := svc.CreateContainer(cmd.Context(), req)
	if err != nil {
		return rt.finish(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s (%d bytes) to %s store\n", receipt.Key(), receipt.Size(), store.Driver())
	return rt.finish(nil)
}
