package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesink/internal/model"
)

// TLSConfig overrides what the connection URL says about TLS. The URL's own sslmode,
// sslrootcert, sslcert and sslkey parameters are honoured when CAFile is empty.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	URL            string        `yaml:"url"`
	TLS            TLSConfig     `yaml:"tls"`
	AllowInsecure  bool          `yaml:"allow_insecure"`
	MaxConns       int32         `yaml:"max_conns" default:"4"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
}

// PostgresStore writes batches through a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	upsert string
	logger *logrus.Logger
}

// NewPostgresStore prepares the pool. Connections are established lazily, so an
// unreachable server surfaces as a connectivity error on the first write.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *logrus.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if err := applyTLS(poolCfg.ConnConfig, cfg); err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host":     poolCfg.ConnConfig.Host,
		"database": poolCfg.ConnConfig.Database,
		"tls":      poolCfg.ConnConfig.TLSConfig != nil,
	}).Info("Database pool configured")

	return &PostgresStore{
		pool:   pool,
		upsert: upsertStatement(func(i int) string { return "$" + strconv.Itoa(i) }, "now()"),
		logger: logger,
	}, nil
}

// applyTLS installs the configured CA and refuses plaintext unless explicitly allowed.
// Fallback configs (sslmode=prefer/allow) are dropped so TLS is never silently skipped.
func applyTLS(cc *pgx.ConnConfig, cfg PostgresConfig) error {
	if cfg.TLS.CAFile != "" {
		pem, err := os.ReadFile(cfg.TLS.CAFile)
		if err != nil {
			return fmt.Errorf("read CA file: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return fmt.Errorf("CA file %s contains no certificates", cfg.TLS.CAFile)
		}

		serverName := cfg.TLS.ServerName
		if serverName == "" {
			serverName = cc.Host
		}
		cc.TLSConfig = &tls.Config{
			RootCAs:    roots,
			ServerName: serverName,
			MinVersion: tls.VersionTLS12,
		}
	}

	if cc.TLSConfig != nil {
		if cfg.TLS.InsecureSkipVerify {
			cc.TLSConfig.InsecureSkipVerify = true
		}
		if cfg.TLS.ServerName != "" {
			cc.TLSConfig.ServerName = cfg.TLS.ServerName
		}
	}

	if cfg.AllowInsecure {
		return nil
	}
	if cc.TLSConfig == nil {
		return ErrInsecureConnection
	}
	fallbacks := cc.Fallbacks[:0]
	for _, fb := range cc.Fallbacks {
		if fb.TLSConfig != nil {
			fallbacks = append(fallbacks, fb)
		}
	}
	cc.Fallbacks = fallbacks
	return nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return classifyPostgres(fmt.Errorf("create schema: %w", err))
	}
	return nil
}

// UpsertBatch writes every reading of batch in one transaction.
func (s *PostgresStore) UpsertBatch(ctx context.Context, batch *model.WriteBatch) error {
	if batch.Len() == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, r := range batch.Readings {
			b.Queue(s.upsert, toRow(r).args()...)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return classifyPostgres(err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// classifyPostgres maps driver errors onto WriteError kinds. Server-reported errors
// are data errors unless their SQLSTATE class says the server or connection is the
// problem; anything without a SQLSTATE is a transport failure.
func classifyPostgres(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return connectivityError(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch sqlStateClass(pgErr.Code) {
		case "08", // connection exception
			"53", // insufficient resources
			"57", // operator intervention (shutdown, cancel)
			"58", // system error
			"40": // transaction rollback (serialization, deadlock)
			return connectivityError(err)
		case "28": // invalid authorization
			return connectivityError(err)
		default:
			return dataError(err)
		}
	}

	// dial, TLS handshake, reset connections and closed pools
	return connectivityError(err)
}

func sqlStateClass(code string) string {
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}
