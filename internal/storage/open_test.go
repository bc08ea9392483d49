package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/srg/blesink/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakySchemaStore fails EnsureSchema a fixed number of times.
type flakySchemaStore struct {
	schemaFailures int
	schemaCalls    int
	upserts        int
}

func (s *flakySchemaStore) EnsureSchema(context.Context) error {
	s.schemaCalls++
	if s.schemaCalls <= s.schemaFailures {
		return connectivityError(errors.New("connection refused"))
	}
	return nil
}

func (s *flakySchemaStore) UpsertBatch(context.Context, *model.WriteBatch) error {
	s.upserts++
	return nil
}

func (s *flakySchemaStore) Close() error { return nil }

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"}, nil)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpen_SQLiteAlias(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, Config{
		Driver:       "sqlite3",
		SQLitePath:   filepath.Join(t.TempDir(), "readings.db"),
		CreateSchema: true,
	}, nil)
	require.NoError(t, err)
	defer store.Close()

	sqlite, ok := store.(*SQLiteStore)
	require.True(t, ok, "sqlite3 MUST select the sqlite store")

	var n int
	require.NoError(t, sqlite.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM `+readingsTable).Scan(&n))
	assert.Zero(t, n)
}

func TestOpen_RefusesPlaintextPostgres(t *testing.T) {
	_, err := Open(context.Background(), Config{
		Driver:   DriverPostgres,
		Postgres: PostgresConfig{URL: "postgres://ruuvi@127.0.0.1:1/sensors?sslmode=disable"},
	}, nil)
	assert.ErrorIs(t, err, ErrInsecureConnection)
}

func TestLazySchemaStore_RetriesUntilCreated(t *testing.T) {
	inner := &flakySchemaStore{schemaFailures: 1}
	store := &lazySchemaStore{Store: inner}
	batch := &model.WriteBatch{}

	err := store.UpsertBatch(context.Background(), batch)
	assert.True(t, IsRetryable(err), "a failed schema creation MUST be retried like a write")
	assert.Zero(t, inner.upserts)

	require.NoError(t, store.UpsertBatch(context.Background(), batch))
	require.NoError(t, store.UpsertBatch(context.Background(), batch))
	assert.Equal(t, 2, inner.schemaCalls, "schema MUST NOT be recreated once it exists")
	assert.Equal(t, 2, inner.upserts)
}
