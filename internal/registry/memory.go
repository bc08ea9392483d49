package registry

import (
	"context"
	"sync"
	"time"

	"github.com/srg/blesink/internal/model"
)

// MemoryStore keeps records for the lifetime of the process only. Device identities
// still survive restarts because they are derived from the address; last sequence
// numbers do not.
type MemoryStore struct {
	mu      sync.Mutex
	records map[model.DeviceID]model.DeviceRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[model.DeviceID]model.DeviceRecord)}
}

func (s *MemoryStore) Load(context.Context) ([]model.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.DeviceRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) Insert(_ context.Context, rec model.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) UpdateLastSeen(_ context.Context, id model.DeviceID, seq uint16, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrUnknownDevice
	}
	rec.LastSequence = seq
	rec.HasSequence = true
	rec.LastSeen = ts
	s.records[id] = rec
	return nil
}
