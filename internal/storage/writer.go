package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/retry"
)

// ErrBatchAbandoned is returned when a batch could not be written before the retry
// policy ran out of attempts.
var ErrBatchAbandoned = errors.New("storage: batch abandoned after retries")

// WriterStats counts writer outcomes since creation.
type WriterStats struct {
	Batches         uint64
	Readings        uint64
	Retries         uint64
	DroppedBatches  uint64
	DroppedReadings uint64
}

// Writer drains write batches into a Store one at a time, retrying connectivity
// failures with exponential backoff. Batches rejected for their content are dropped.
type Writer struct {
	store  Store
	policy retry.Policy
	logger *logrus.Logger
	sleep  func(context.Context, time.Duration) error

	batches         atomic.Uint64
	readings        atomic.Uint64
	retries         atomic.Uint64
	droppedBatches  atomic.Uint64
	droppedReadings atomic.Uint64
}

func NewWriter(store Store, policy retry.Policy, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Writer{
		store:  store,
		policy: policy,
		logger: logger,
		sleep:  retry.Sleep,
	}
}

// Run writes every batch received from in until in is closed or ctx is done.
// It returns ctx.Err() when stopped by the context, nil otherwise.
func (w *Writer) Run(ctx context.Context, in <-chan *model.WriteBatch) error {
	for {
		select {
		case <-ctx.Done():
			w.abandonQueued(in)
			return ctx.Err()
		case batch, ok := <-in:
			if !ok {
				return nil
			}
			if err := w.Write(ctx, batch); err != nil {
				if ctx.Err() != nil {
					w.abandonQueued(in)
					return ctx.Err()
				}
				// already logged and counted; keep draining
				continue
			}
		}
	}
}

// Write persists one batch. Connectivity failures are retried per the policy; a
// data failure drops the batch immediately.
func (w *Writer) Write(ctx context.Context, batch *model.WriteBatch) error {
	if batch.Len() == 0 {
		return nil
	}

	b := w.policy.NewBackOff()
	attempt := 0
	for {
		attempt++
		start := time.Now()
		err := w.store.UpsertBatch(ctx, batch)
		if err == nil {
			w.batches.Add(1)
			w.readings.Add(uint64(batch.Len()))
			entry := w.logger.WithFields(logrus.Fields{
				"readings": batch.Len(),
				"took":     time.Since(start).Truncate(time.Millisecond),
			})
			if attempt > 1 {
				entry.WithField("attempts", attempt).Info("Database write recovered")
			} else {
				entry.Debug("Batch written")
			}
			return nil
		}

		if ctx.Err() != nil {
			w.drop(batch, "shutdown", err)
			return ctx.Err()
		}

		if !IsRetryable(err) {
			w.drop(batch, "rejected", err)
			return err
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			w.drop(batch, "retries_exhausted", err)
			return fmt.Errorf("%w: %v", ErrBatchAbandoned, err)
		}

		w.retries.Add(1)
		w.logger.WithFields(logrus.Fields{
			"error":    err,
			"attempt":  attempt,
			"retry_in": delay,
			"readings": batch.Len(),
		}).Warn("Database write failed, retrying")

		if err := w.sleep(ctx, delay); err != nil {
			w.drop(batch, "shutdown", err)
			return err
		}
	}
}

func (w *Writer) drop(batch *model.WriteBatch, reason string, err error) {
	w.droppedBatches.Add(1)
	w.droppedReadings.Add(uint64(batch.Len()))
	w.logger.WithFields(logrus.Fields{
		"error":         err,
		"reason":        reason,
		"readings_lost": batch.Len(),
	}).Error("Dropping batch")
}

// abandonQueued counts whatever is still buffered in in without blocking.
func (w *Writer) abandonQueued(in <-chan *model.WriteBatch) {
	for {
		select {
		case batch, ok := <-in:
			if !ok {
				return
			}
			w.drop(batch, "shutdown", context.Canceled)
		default:
			return
		}
	}
}

func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Batches:         w.batches.Load(),
		Readings:        w.readings.Load(),
		Retries:         w.retries.Load(),
		DroppedBatches:  w.droppedBatches.Load(),
		DroppedReadings: w.droppedReadings.Load(),
	}
}
