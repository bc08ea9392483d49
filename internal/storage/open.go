package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/retry"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and configures the reading store.
type Config struct {
	Driver       string         `yaml:"driver" default:"postgres"`
	Postgres     PostgresConfig `yaml:",inline"`
	SQLitePath   string         `yaml:"sqlite_path" default:"blesink-readings.db"`
	CreateSchema bool           `yaml:"create_schema" default:"true"`
	Retry        retry.Policy   `yaml:"retry"`
}

// Open builds the configured store and, when CreateSchema is set, creates the
// readings table. Schema creation against an unreachable PostgreSQL server is
// logged and left to the first successful write.
func Open(ctx context.Context, cfg Config, logger *logrus.Logger) (Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case DriverPostgres, "postgresql", "pgx":
		store, err = NewPostgresStore(ctx, cfg.Postgres, logger)
	case DriverSQLite, "sqlite3":
		store, err = OpenSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CreateSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			if !IsRetryable(err) {
				_ = store.Close()
				return nil, err
			}
			logger.WithError(err).Warn("Database unreachable, schema will be created on reconnect")
			return &lazySchemaStore{Store: store}, nil
		}
	}
	return store, nil
}

// lazySchemaStore retries EnsureSchema ahead of each write until it succeeds once.
// Only the writer goroutine calls UpsertBatch, so no locking is needed.
type lazySchemaStore struct {
	Store
	ready bool
}

func (s *lazySchemaStore) UpsertBatch(ctx context.Context, batch *model.WriteBatch) error {
	if !s.ready {
		if err := s.Store.EnsureSchema(ctx); err != nil {
			return err
		}
		s.ready = true
	}
	return s.Store.UpsertBatch(ctx, batch)
}
