// Package batch groups admitted readings into write batches.
//
// A batch is flushed when it reaches MaxSize readings or when MaxAge has passed since
// its first reading, whichever comes first. Flushed batches wait in a bounded queue
// for the writer; when the queue is full the oldest batch is evicted so that memory
// stays bounded while the database is unreachable.
package batch

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/ringchan"
)

// Config controls flush thresholds and the pending queue size.
type Config struct {
	MaxSize    int           `yaml:"max_size" default:"50"`
	MaxAge     time.Duration `yaml:"max_age" default:"10s"`
	MaxPending int           `yaml:"max_pending" default:"64"`
}

// Stats counts buffer activity since creation.
type Stats struct {
	Flushed         uint64
	FlushedReadings uint64
	Evicted         uint64
	EvictedReadings uint64
	Pending         int // batches waiting for the writer
	PendingCap      int
}

// Buffer accumulates readings into batches. Run must be called from exactly one
// goroutine; Pending and Stats are safe to use from others.
type Buffer struct {
	cfg     Config
	pending *ringchan.RingChannel[*model.WriteBatch]
	current *model.WriteBatch
	logger  *logrus.Logger
	now     func() time.Time

	flushed         atomic.Uint64
	flushedReadings atomic.Uint64
	evictedReadings atomic.Uint64
}

func New(cfg Config, logger *logrus.Logger) *Buffer {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 50
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 10 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 64
	}
	return &Buffer{
		cfg:     cfg,
		pending: ringchan.New[*model.WriteBatch](cfg.MaxPending),
		logger:  logger,
		now:     time.Now,
	}
}

// Pending returns the queue of flushed batches. It is closed after Run returns.
func (b *Buffer) Pending() <-chan *model.WriteBatch {
	return b.pending.C()
}

// Run consumes readings until in is closed, then flushes the open batch and closes
// the pending queue.
func (b *Buffer) Run(in <-chan model.SensorReading) {
	defer b.pending.Close()

	timer := time.NewTimer(b.cfg.MaxAge)
	timer.Stop()
	defer timer.Stop()
	var deadline <-chan time.Time

	for {
		select {
		case r, ok := <-in:
			if !ok {
				b.flush("shutdown")
				return
			}
			if b.current == nil {
				b.current = &model.WriteBatch{
					Readings: make([]model.SensorReading, 0, b.cfg.MaxSize),
					OpenedAt: b.now(),
				}
				timer.Reset(b.cfg.MaxAge)
				deadline = timer.C
			}
			b.current.Readings = append(b.current.Readings, r)
			if len(b.current.Readings) >= b.cfg.MaxSize {
				timer.Stop()
				deadline = nil
				b.flush("size")
			}

		case <-deadline:
			deadline = nil
			b.flush("age")
		}
	}
}

// flush hands the open batch to the writer without waiting for it.
func (b *Buffer) flush(reason string) {
	batch := b.current
	b.current = nil
	if batch.Len() == 0 {
		return
	}

	b.flushed.Add(1)
	b.flushedReadings.Add(uint64(batch.Len()))
	b.logger.WithFields(logrus.Fields{
		"readings": batch.Len(),
		"reason":   reason,
		"age":      b.now().Sub(batch.OpenedAt).Truncate(time.Millisecond),
	}).Debug("Batch flushed")

	if b.pending.TrySend(batch) {
		return
	}
	if old, evicted := b.pending.ForceSend(batch); evicted {
		b.evictedReadings.Add(uint64(old.Len()))
		b.logger.WithFields(logrus.Fields{
			"readings_lost": old.Len(),
			"opened_at":     old.OpenedAt.Format(time.RFC3339),
			"max_pending":   b.pending.Cap(),
			"evicted_total": b.pending.GetMetrics().Overwritten,
		}).Warn("Pending batch queue full, evicted oldest batch")
	}
}

func (b *Buffer) Stats() Stats {
	return Stats{
		Flushed:         b.flushed.Load(),
		FlushedReadings: b.flushedReadings.Load(),
		Evicted:         uint64(b.pending.GetMetrics().Overwritten),
		EvictedReadings: b.evictedReadings.Load(),
		Pending:         b.pending.Len(),
		PendingCap:      b.pending.Cap(),
	}
}
