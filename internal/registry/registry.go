// Package registry maps hardware addresses to stable device identities and tracks
// the last admitted sequence number of each device.
//
// A Registry is not safe for concurrent use. The pipeline owns it from a single
// goroutine.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesink/internal/model"
)

var ErrUnknownDevice = errors.New("registry: unknown device")

// Store persists device records.
type Store interface {
	Load(ctx context.Context) ([]model.DeviceRecord, error)
	Insert(ctx context.Context, rec model.DeviceRecord) error
	UpdateLastSeen(ctx context.Context, id model.DeviceID, seq uint16, ts time.Time) error
}

// Registry is the in-memory index over a Store.
type Registry struct {
	store  Store
	names  map[model.Address]string
	byAddr map[model.Address]*model.DeviceRecord
	byID   map[model.DeviceID]*model.DeviceRecord
	logger *logrus.Logger
}

// New loads every persisted record from store. names assigns human-readable names to
// known addresses; a configured name replaces a persisted one.
func New(ctx context.Context, store Store, names map[model.Address]string, logger *logrus.Logger) (*Registry, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if store == nil {
		store = NewMemoryStore()
	}

	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load device registry: %w", err)
	}

	r := &Registry{
		store:  store,
		names:  names,
		byAddr: make(map[model.Address]*model.DeviceRecord, len(records)),
		byID:   make(map[model.DeviceID]*model.DeviceRecord, len(records)),
		logger: logger,
	}
	for i := range records {
		rec := records[i]
		if name, ok := names[rec.Address]; ok {
			rec.Name = name
		}
		r.byAddr[rec.Address] = &rec
		r.byID[rec.ID] = &rec
	}

	logger.WithField("devices", len(records)).Debug("Device registry loaded")
	return r, nil
}

// Resolve returns the identity for addr, registering the device on first sight.
func (r *Registry) Resolve(ctx context.Context, addr model.Address, seenAt time.Time) (model.DeviceID, error) {
	if rec, ok := r.byAddr[addr]; ok {
		return rec.ID, nil
	}

	rec := model.DeviceRecord{
		ID:        model.NewDeviceID(addr),
		Address:   addr,
		Name:      r.names[addr],
		FirstSeen: seenAt,
	}
	if err := r.store.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to register device %s: %w", addr, err)
	}
	r.byAddr[addr] = &rec
	r.byID[rec.ID] = &rec

	r.logger.WithFields(logrus.Fields{
		"device_id": rec.ID,
		"address":   addr.String(),
		"name":      rec.Name,
	}).Info("Registered new device")

	return rec.ID, nil
}

// Lookup returns a copy of the record for id.
func (r *Registry) Lookup(id model.DeviceID) (model.DeviceRecord, bool) {
	rec, ok := r.byID[id]
	if !ok {
		return model.DeviceRecord{}, false
	}
	return *rec, true
}

// Update records the last admitted sequence number of a device. A store error is
// returned after the in-memory record has been updated.
func (r *Registry) Update(ctx context.Context, id model.DeviceID, seq uint16, ts time.Time) error {
	rec, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	// the in-memory mark moves even if persisting fails, so ordering holds for the
	// rest of the process lifetime
	rec.LastSequence = seq
	rec.HasSequence = true
	rec.LastSeen = ts
	if err := r.store.UpdateLastSeen(ctx, id, seq, ts); err != nil {
		return fmt.Errorf("failed to persist sequence for %s: %w", id, err)
	}
	return nil
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	return len(r.byID)
}
