package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/cnmfsns/internal/application"
	"github.com/sawpanic/cnmfsns/internal/integration"
	"github.com/sawpanic/cnmfsns/internal/persistence/sqlstore"
)

func newCreateNetworkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-network",
		Short: "Build the thresholded GEP similarity network",
		Long: `Correlates every pair of GEPs over the genes selected in both datasets
and keeps pairs whose absolute correlation reaches --min-corr. A negative
--min-corr keeps every defined pair. When a database is configured the
run is also stored there.`,
		RunE: runCreateNetwork,
	}
	cmd.Flags().StringP("output-dir", "o", "", "Integration directory (required)")
	cmd.Flags().String("corr-method", "pearson", "Correlation method (pearson|spearman)")
	cmd.Flags().Float64("min-corr", 0.5, "Minimum absolute correlation for an edge")
	cmd.Flags().StringArray("ranks", nil, "Restrict a dataset to ranks, e.g. --ranks tumor=5,7 (repeatable)")
	_ = cmd.MarkFlagRequired("output-dir")
	return cmd
}

func runCreateNetwork(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	req := application.NetworkRequest{}
	req.OutputDir, _ = flags.GetString("output-dir")
	req.Method, _ = flags.GetString("corr-method")
	req.MinCorr, _ = flags.GetFloat64("min-corr")
	if req.MinCorr < 0 {
		req.MinCorr = integration.RetainAll
	}
	ranks, err := parseRanks(flags, "ranks")
	if err != nil {
		return err
	}
	req.Ranks = ranks

	rt, err := setup(cmd, req.OutputDir, "")
	if err != nil {
		return err
	}
	deps := application.Deps{}
	if rt.cfg.DatabaseEnabled() {
		store, err := sqlstore.Open(cmd.Context(), rt.cfg.SQLConfig())
		if err != nil {
			return rt.finish(err)
		}
		rt.closers = append(rt.closers, store)
		if err := store.Migrate(cmd.Context()); err != nil {
			return rt.finish(err)
		}
		deps.Networks = store
	}

	res, err := rt.service(deps).CreateNetwork(cmd.Context(), req)
	if err != nil {
		return rt.finish(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Network %s: %d GEPs, %d edges, %d components\n",
		res.RunID, len(res.Network.GEPs()), len(res.Network.Edges()), res.Components)
	fmt.Fprintf(cmd.OutOrStdout(), "  written to %s\n", res.EdgesPath)
	if res.Persisted {
		fmt.Fprintln(cmd.OutOrStdout(), "  stored in database")
	}
	return rt.finish(nil)
}

// parseRanks reads repeated dataset=k1,k2 values
func parseRanks(flags *pflag.FlagSet, name string) (map[string][]int, error) {
	values, err := flags.GetStringArray(name)
	if err != nil || len(values) == 0 {
		return nil, err
	}
	out := make(map[string][]int, len(values))
	for _, v := range values {
		dataset, list, ok := strings.Cut(v, "=")
		dataset = strings.TrimSpace(dataset)
		if !ok || dataset == "" || list == "" {
			return nil, fmt.Errorf("--%s %q: want dataset=k1,k2", name, v)
		}
		for _, tok := range strings.Split(list, ",") {
			k, err := strconv.Atoi(strings.TrimSpace(tok))
			if err != nil || k < 1 {
				return nil, fmt.Errorf("--%s %q: invalid rank %q", name, v, tok)
			}
			out[dataset] = append(out[dataset], k)
		}
	}
	return out, nil
}
