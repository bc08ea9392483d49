// Package storage persists write batches to a relational database.
//
// Every batch is written in one transaction as an idempotent upsert keyed on
// (device_id, sequence_number), so redelivering a batch after a lost acknowledgement
// never duplicates rows. Stores classify their failures as connectivity problems
// (retried by the Writer) or data problems (the batch is dropped).
package storage

import (
	"context"
	"time"

	"github.com/srg/blesink/internal/model"
)

// Store is a transactional sink for write batches.
type Store interface {
	UpsertBatch(ctx context.Context, batch *model.WriteBatch) error
	EnsureSchema(ctx context.Context) error
	Close() error
}

// row is the column projection shared by all stores.
type row struct {
	DeviceID        string
	Sequence        int32
	MAC             string
	Name            string
	MeasuredAt      time.Time
	Temperature     *float64
	Humidity        *float64
	Pressure        *int64
	AccelerationX   *int32
	AccelerationY   *int32
	AccelerationZ   *int32
	BatteryVoltage  *int32
	TxPower         *int32
	MovementCounter int32
	Wraparound      bool
}

func toRow(r model.SensorReading) row {
	return row{
		DeviceID:        string(r.DeviceID),
		Sequence:        int32(r.Sequence),
		MAC:             r.Address.String(),
		Name:            r.DeviceName,
		MeasuredAt:      r.Timestamp.UTC(),
		Temperature:     r.Temperature,
		Humidity:        r.Humidity,
		Pressure:        widen[uint32, int64](r.Pressure),
		AccelerationX:   widen[int16, int32](r.AccelerationX),
		AccelerationY:   widen[int16, int32](r.AccelerationY),
		AccelerationZ:   widen[int16, int32](r.AccelerationZ),
		BatteryVoltage:  widen[uint16, int32](r.BatteryVoltage),
		TxPower:         widen[int8, int32](r.TxPower),
		MovementCounter: int32(r.MovementCounter),
		Wraparound:      r.Wraparound,
	}
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32
}

// widen keeps nil as SQL NULL while moving unsigned values into signed columns.
func widen[From, To integer](v *From) *To {
	if v == nil {
		return nil
	}
	w := To(*v)
	return &w
}
