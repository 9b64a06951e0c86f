package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/cnmfsns/internal/application"
	"github.com/sawpanic/cnmfsns/internal/config"
	atomicio "github.com/sawpanic/cnmfsns/internal/io"
	"github.com/sawpanic/cnmfsns/internal/metrics"
)

const (
	appName = "cnmfsns"
	version = "v0.4.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Integrate cNMF results across datasets into a GEP similarity network",
		Version: version,
		Long: `cnmfsns reconciles consensus NMF results from several datasets and links
their gene expression programs by correlation.

Typical flow:
   create-container   convert each cNMF result directory into a container
   initialize         register containers in a new integration directory
   select-odg         choose the overdispersed genes used for comparison
   create-network     build the thresholded GEP similarity network`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Run settings YAML (default <output-dir>/cnmfsns.yaml or ./cnmfsns.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("metrics-textfile", "", "Write Prometheus metrics to this file when the command ends")

	rootCmd.AddCommand(
		newInitializeCmd(),
		newCreateContainerCmd(),
		newSelectODGCmd(),
		newCreateNetworkCmd(),
	)
	return rootCmd
}

// runtime is what every command needs before running its use case
type runtime struct {
	cfg     config.Config
	logger  zerolog.Logger
	metrics *metrics.Registry
	closers []io.Closer
}

// setup loads settings and builds the logger. A non-empty logfile also
// receives every event.
func setup(cmd *cobra.Command, outputDir, logfile string) (*runtime, error) {
	flags := cmd.Flags()
	cfgPath, _ := flags.GetString("config")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
		if outputDir != "" {
			if candidate := filepath.Join(outputDir, config.DefaultPath); atomicio.Exists(candidate) {
				cfgPath = candidate
			}
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if lvl, _ := flags.GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if tf, _ := flags.GetString("metrics-textfile"); tf != "" {
		cfg.Metrics.Textfile = tf
	}

	rt := &runtime{cfg: cfg, metrics: metrics.NewRegistry()}
	out := cmd.ErrOrStderr()
	var console io.Writer = out
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	writer := console
	if logfile != "" {
		if err := os.MkdirAll(filepath.Dir(logfile), 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		rt.closers = append(rt.closers, f)
		writer = zerolog.MultiLevelWriter(console, f)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	rt.logger = zerolog.New(writer).Level(cfg.Level()).With().Timestamp().Str("cmd", cmd.Name()).Logger()
	return rt, nil
}

func (rt *runtime) service(d application.Deps) *application.Service {
	d.Config = rt.cfg
	d.Logger = rt.logger
	d.Metrics = rt.metrics
	return application.NewService(d)
}

// finish writes the metrics textfile if configured and releases resources.
// err is the command result and is returned after being logged.
func (rt *runtime) finish(err error) error {
	if path := rt.cfg.Metrics.Textfile; path != "" {
		if werr := rt.metrics.WriteTextfile(path); werr != nil {
			rt.logger.Warn().Err(werr).Str("path", path).Msg("failed to write metrics textfile")
		}
	}
	if err != nil {
		rt.logger.Error().Err(err).Msg("command failed")
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i].Close()
	}
	return err
}
