// Package model holds the values that flow between pipeline stages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RuuviManufacturerID is the Bluetooth SIG company identifier assigned to Ruuvi Innovations.
const RuuviManufacturerID uint16 = 0x0499

// deviceNamespace scopes content-derived device identities.
var deviceNamespace = uuid.MustParse("6f1c8a52-3b1e-4f4e-9d0a-5c2e1b7a9e44")

// DeviceID is the stable identity of a physical sensor.
type DeviceID string

// NewDeviceID derives the identity from the hardware address, so it survives restarts
// even when nothing about the device was persisted.
func NewDeviceID(addr Address) DeviceID {
	return DeviceID(uuid.NewSHA1(deviceNamespace, addr[:]).String())
}

// RawAdvertisement is one manufacturer-data frame as received from the radio.
type RawAdvertisement struct {
	Address        Address
	ManufacturerID uint16
	Payload        []byte // manufacturer data without the 2-byte company id
	ReceivedAt     time.Time
	RSSI           int
	LocalName      string
}

// SensorReading is one decoded measurement. Nil pointer fields were reported as
// unavailable by the sensor.
type SensorReading struct {
	DeviceID   DeviceID  `json:"device_id,omitempty"`
	DeviceName string    `json:"device_name,omitempty"`
	Address    Address   `json:"address"`
	Timestamp  time.Time `json:"timestamp"`

	Temperature    *float64 `json:"temperature,omitempty"`     // °C
	Humidity       *float64 `json:"humidity,omitempty"`        // %RH
	Pressure       *uint32  `json:"pressure,omitempty"`        // Pa
	AccelerationX  *int16   `json:"acceleration_x,omitempty"`  // mG
	AccelerationY  *int16   `json:"acceleration_y,omitempty"`  // mG
	AccelerationZ  *int16   `json:"acceleration_z,omitempty"`  // mG
	BatteryVoltage *uint16  `json:"battery_voltage,omitempty"` // mV
	TxPower        *int8    `json:"tx_power,omitempty"`        // dBm

	MovementCounter uint8  `json:"movement_counter"`
	Sequence        uint16 `json:"sequence"`

	// Wraparound marks the first reading admitted after the sequence counter wrapped.
	Wraparound bool `json:"wraparound,omitempty"`
}

// DeviceRecord is the registry's view of a sensor.
type DeviceRecord struct {
	ID           DeviceID
	Address      Address
	Name         string
	FirstSeen    time.Time
	LastSequence uint16
	HasSequence  bool
	LastSeen     time.Time
}

// WriteBatch is an ordered group of readings persisted in one transaction.
type WriteBatch struct {
	Readings []SensorReading
	OpenedAt time.Time
}

// Len returns the number of readings in the batch.
func (b *WriteBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Readings)
}
