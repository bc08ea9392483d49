// Package sequence decides which decoded readings are new, using the per-device
// sequence counter kept by the registry.
package sequence

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesink/internal/model"
)

// Verdict is the filter's decision for a single reading.
type Verdict int

const (
	Admitted Verdict = iota
	Duplicate
	OutOfOrder
	Wraparound
	// Unregistered readings reference a device the registry does not know.
	Unregistered
)

func (v Verdict) String() string {
	switch v {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	case OutOfOrder:
		return "out_of_order"
	case Wraparound:
		return "wraparound"
	case Unregistered:
		return "unregistered"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Forwarded reports whether readings with this verdict continue downstream.
func (v Verdict) Forwarded() bool {
	return v == Admitted || v == Wraparound
}

// HalfRange separates a late reading from a counter wrap. A reading that is behind
// the last admitted one by less than this is late; by this much or more, the counter
// has wrapped.
const HalfRange = 1 << 15

// Registry is the subset of the device registry the filter needs.
type Registry interface {
	Lookup(id model.DeviceID) (model.DeviceRecord, bool)
	Update(ctx context.Context, id model.DeviceID, seq uint16, ts time.Time) error
}

// Stats counts verdicts since the filter was created.
type Stats struct {
	Admitted     uint64
	Duplicate    uint64
	OutOfOrder   uint64
	Wraparound   uint64
	Unregistered uint64
}

// Filter applies the half-range rule. It is driven from a single goroutine; only
// Stats may be read concurrently.
type Filter struct {
	registry Registry
	logger   *logrus.Logger
	counts   [5]atomic.Uint64
}

func NewFilter(registry Registry, logger *logrus.Logger) *Filter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Filter{registry: registry, logger: logger}
}

// Classify compares seq against the last admitted sequence without side effects.
func Classify(last uint16, hasLast bool, seq uint16) Verdict {
	switch {
	case !hasLast:
		return Admitted
	case seq == last:
		return Duplicate
	case seq > last:
		return Admitted
	case last-seq < HalfRange:
		return OutOfOrder
	default:
		return Wraparound
	}
}

// Admit classifies r and, for forwarded verdicts, records its sequence number as the
// device's new high-water mark. The returned reading carries the Wraparound flag.
// r.DeviceID must already be resolved. An error from the registry does not change the
// verdict: the in-memory mark has advanced either way.
func (f *Filter) Admit(ctx context.Context, r model.SensorReading) (Verdict, model.SensorReading, error) {
	rec, ok := f.registry.Lookup(r.DeviceID)
	if !ok {
		f.counts[Unregistered].Add(1)
		return Unregistered, r, fmt.Errorf("sequence: device %s is not registered", r.DeviceID)
	}

	verdict := Classify(rec.LastSequence, rec.HasSequence, r.Sequence)
	fields := logrus.Fields{
		"device_id": r.DeviceID,
		"sequence":  r.Sequence,
		"last":      rec.LastSequence,
	}

	switch verdict {
	case Duplicate:
		// sensors repeat each frame until the next measurement
		f.logger.WithFields(fields).Trace("Duplicate reading")
	case OutOfOrder:
		f.logger.WithFields(fields).Warn("Dropped out-of-order reading")
	case Wraparound:
		r.Wraparound = true
		f.logger.WithFields(fields).Info("Sequence counter wrapped")
	}

	f.counts[verdict].Add(1)
	if verdict.Forwarded() {
		if err := f.registry.Update(ctx, r.DeviceID, r.Sequence, r.Timestamp); err != nil {
			return verdict, r, err
		}
	}
	return verdict, r, nil
}

func (f *Filter) Stats() Stats {
	return Stats{
		Admitted:     f.counts[Admitted].Load(),
		Duplicate:    f.counts[Duplicate].Load(),
		OutOfOrder:   f.counts[OutOfOrder].Load(),
		Wraparound:   f.counts[Wraparound].Load(),
		Unregistered: f.counts[Unregistered].Load(),
	}
}
