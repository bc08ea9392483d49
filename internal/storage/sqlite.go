package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/sqlitedb"
)

// SQLiteStore writes batches into a local SQLite file. It is meant for single-host
// deployments and for tests; the schema and upsert mirror the PostgreSQL store.
type SQLiteStore struct {
	db     *sql.DB
	upsert string
}

// OpenSQLiteStore opens (or creates) the database file at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an already opened database. Close closes db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		upsert: upsertStatement(func(int) string { return "?" }, "CURRENT_TIMESTAMP"),
	}
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return classifySQLite(fmt.Errorf("create schema: %w", err))
	}
	return nil
}

func (s *SQLiteStore) UpsertBatch(ctx context.Context, batch *model.WriteBatch) (err error) {
	if batch.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite(fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.upsert)
	if err != nil {
		return classifySQLite(fmt.Errorf("prepare upsert: %w", err))
	}
	defer stmt.Close()

	for _, r := range batch.Readings {
		if _, err = stmt.ExecContext(ctx, toRow(r).args()...); err != nil {
			return classifySQLite(fmt.Errorf("upsert %s/%d: %w", r.DeviceID, r.Sequence, err))
		}
	}

	if err = tx.Commit(); err != nil {
		return classifySQLite(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// DB exposes the underlying handle for queries outside the write path.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func classifySQLite(err error) error {
	if err == nil {
		return nil
	}

	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrConstraint,
			sqlite3.ErrMismatch,
			sqlite3.ErrTooBig,
			sqlite3.ErrRange:
			return dataError(err)
		}
	}
	// busy, locked, I/O, full disk, closed database
	return connectivityError(err)
}
