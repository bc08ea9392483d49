// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer. Producers never block: when the
// buffer is full the oldest element is evicted and handed back to the caller, so the
// caller can account for what was lost.
//
// Readers use C() like a normal channel and range over it until Close.
type RingChannel[T any] struct {
	mu      sync.Mutex // serialises producers so evict-then-insert is atomic
	ch      chan T
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// TrySend attempts to insert without blocking.
// Returns true if successful, false if the buffer is full.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	select {
	case rc.ch <- v:
		atomic.AddInt64(&rc.metrics.Written, 1)
		return true
	default:
		return false
	}
}

// ForceSend always succeeds immediately. If the buffer is full the oldest element
// is removed and returned with evicted set to true.
func (rc *RingChannel[T]) ForceSend(v T) (old T, evicted bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for {
		select {
		case rc.ch <- v:
			atomic.AddInt64(&rc.metrics.Written, 1)
			return old, evicted
		default:
		}

		// A consumer may drain the slot between the two selects; then simply retry.
		select {
		case o, ok := <-rc.ch:
			if ok {
				atomic.AddInt64(&rc.metrics.Overwritten, 1)
				old, evicted = o, true
			}
		default:
		}
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Sending after Close panics.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	close(rc.ch)
}

// GetMetrics returns a snapshot of current metrics values.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// Metrics provides lock-free counters for RingChannel.
type Metrics struct {
	Written     int64
	Overwritten int64
}
