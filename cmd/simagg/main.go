package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"simagg/adapters/sqlstore"
	"simagg/app"
	"simagg/internal"
	"simagg/internal/cache"
	"simagg/internal/config"
)

type globalOptions struct {
	configFile  string
	dataDir     string
	experiments []string
	workers     int
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "simagg",
		Short:         "Aggregate simulation batch outputs across seeds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML configuration file (overrides SIMAGG_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Directory holding the run files")
	rootCmd.PersistentFlags().StringSliceVar(&opts.experiments, "experiments", nil, "Experiment file prefixes")
	rootCmd.PersistentFlags().IntVar(&opts.workers, "workers", 0, "Concurrent resampling workers")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "ERROR, WARN, INFO, DEBUG or TRACE (overrides LOG_LEVEL)")

	rootCmd.AddCommand(
		newAggregateCmd(opts),
		newConvergenceCmd(opts),
		newLookupCmd(opts),
		newExportCmd(opts),
		newServeCmd(opts),
	)
	return rootCmd
}

// loadConfig reads .env, the configuration file and the environment, then
// applies command line overrides.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[CLI] ⚠️ Could not load .env: %v", err)
	}
	if opts.logLevel != "" {
		level, err := internal.ParseLogLevel(opts.logLevel)
		if err != nil {
			return nil, err
		}
		internal.DefaultLogger.SetLevel(level)
	}
	if opts.configFile != "" {
		os.Setenv("SIMAGG_CONFIG", opts.configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.dataDir != "" {
		cfg.Data.Dir = opts.dataDir
	}
	if len(opts.experiments) > 0 {
		cfg.Data.Experiments = opts.experiments
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	return cfg, nil
}

func newAggregationService(cfg *config.Config) (*app.AggregationService, error) {
	store, err := cache.NewLocalBlobStore(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}
	return app.NewAggregationService(cfg, cache.New(store, cfg.Cache.SkipMarker)), nil
}

// newQueryService connects the results store; the returned cleanup closes it
func newQueryService(ctx context.Context, cfg *config.Config, persist bool) (*app.QueryService, func(), error) {
	if !persist {
		return app.NewQueryService(cfg, nil), func() {}, nil
	}
	if dir := filepath.Dir(cfg.Database.URL); cfg.Database.Driver == sqlstore.DriverSQLite && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, err
		}
	}
	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return app.NewQueryService(cfg, sqlstore.NewConvergenceRepository(db)), func() { db.Close() }, nil
}
