package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/srg/blesink/internal/model"
)

const devicesSchema = `
CREATE TABLE IF NOT EXISTS devices (
	device_id     TEXT PRIMARY KEY,
	address       TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	first_seen    INTEGER NOT NULL,
	last_sequence INTEGER,
	last_seen     INTEGER
)`

// SQLiteStore persists device records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the devices table if it does not exist.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, devicesSchema); err != nil {
		return nil, fmt.Errorf("create devices table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]model.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, address, name, first_seen, last_sequence, last_seen FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var out []model.DeviceRecord
	for rows.Next() {
		var (
			id, addr, name string
			firstSeen      int64
			lastSeq        sql.NullInt64
			lastSeen       sql.NullInt64
		)
		if err := rows.Scan(&id, &addr, &name, &firstSeen, &lastSeq, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		parsed, err := model.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", id, err)
		}

		rec := model.DeviceRecord{
			ID:        model.DeviceID(id),
			Address:   parsed,
			Name:      name,
			FirstSeen: time.Unix(0, firstSeen).UTC(),
		}
		if lastSeq.Valid {
			rec.LastSequence = uint16(lastSeq.Int64)
			rec.HasSequence = true
		}
		if lastSeen.Valid {
			rec.LastSeen = time.Unix(0, lastSeen.Int64).UTC()
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Insert(ctx context.Context, rec model.DeviceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (device_id, address, name, first_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET name = excluded.name`,
		string(rec.ID), rec.Address.String(), rec.Name, rec.FirstSeen.UnixNano())
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, id model.DeviceID, seq uint16, ts time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET last_sequence = ?, last_seen = ? WHERE device_id = ?`,
		int64(seq), ts.UnixNano(), string(id))
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUnknownDevice
	}
	return nil
}
