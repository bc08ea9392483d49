package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesink/internal/batch"
	"github.com/srg/blesink/internal/pipeline"
	"github.com/srg/blesink/internal/registry"
	"github.com/srg/blesink/internal/sqlitedb"
	"github.com/srg/blesink/internal/storage"
	"github.com/srg/blesink/pkg/config"
	"github.com/srg/blesink/scanner"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect sensor readings and store them until interrupted",
		Long: `Scan for RuuviTag broadcasts, decode RAWv2 payloads, drop duplicate
sequence numbers, batch the readings and upsert them into the configured
database. Ctrl+C stops scanning and flushes what is pending.`,
		Example: `  # PostgreSQL over TLS, URL from the environment
  DATABASE_URL='postgres://ruuvi@db.example.com/sensors?sslmode=verify-full' blesink run

  # Local SQLite file with a config
  blesink run --config blesink.yaml --driver sqlite --sqlite-path readings.db`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}

	cmd.Flags().String("driver", "", "Database driver (postgres or sqlite)")
	cmd.Flags().String("sqlite-path", "", "SQLite database file (sqlite driver)")
	cmd.Flags().Int("adapter", -1, "HCI adapter index (Linux)")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v, _ := cmd.Flags().GetString("sqlite-path"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v, _ := cmd.Flags().GetInt("adapter"); v >= 0 {
		cfg.Scanner.AdapterID = v
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger, err := configureLogger(cmd, cfg, false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = runPipeline(ctx, cfg, logger)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runPipeline opens the registry and store, then runs the pipeline until ctx is
// cancelled or the adapter is lost for good.
func runPipeline(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	names, err := cfg.SensorNames()
	if err != nil {
		return err
	}

	var regStore registry.Store = registry.NewMemoryStore()
	if cfg.Registry.Path != "" {
		db, err := sqlitedb.Open(ctx, cfg.Registry.Path)
		if err != nil {
			return fmt.Errorf("opening device registry: %w", err)
		}
		defer db.Close()

		regStore, err = registry.NewSQLiteStore(ctx, db)
		if err != nil {
			return fmt.Errorf("opening device registry: %w", err)
		}
	}
	reg, err := registry.New(ctx, regStore, names, logger)
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}()

	p := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Scanner:  scanner.NewController(nil, cfg.Scanner, logger),
		Registry: reg,
		Buffer:   batch.New(cfg.Batch, logger),
		Writer:   storage.NewWriter(store, cfg.Database.Retry, logger),
	}, logger)

	logger.WithFields(logrus.Fields{
		"driver":   cfg.Database.Driver,
		"adapter":  cfg.Scanner.AdapterID,
		"sensors":  len(names),
		"batch":    cfg.Batch.MaxSize,
		"max_age":  cfg.Batch.MaxAge,
		"registry": registryKind(cfg),
	}).Info("Starting ingestion")

	return p.Run(ctx)
}

func registryKind(cfg *config.Config) string {
	if cfg.Registry.Path == "" {
		return "memory"
	}
	return cfg.Registry.Path
}
