package testutils

import (
	"encoding/binary"
	"math"
)

// RuuviPayloadBuilder produces RAWv2 payloads (without the company id).
// Measurements are given in physical units and encoded with the format's scaling.
type RuuviPayloadBuilder struct {
	buf [24]byte
}

// NewRuuviPayloadBuilder starts from 20 C, 50 %RH, 100000 Pa, resting on the z axis,
// 3000 mV at +4 dBm and sequence 0.
func NewRuuviPayloadBuilder() *RuuviPayloadBuilder {
	b := &RuuviPayloadBuilder{}
	b.buf[0] = 0x05
	return b.
		WithTemperature(20).
		WithHumidity(50).
		WithPressure(100000).
		WithAcceleration(0, 0, 1000).
		WithPower(3000, 4).
		WithMAC([6]byte{0xCB, 0xB8, 0x33, 0x4C, 0x88, 0x4F})
}

func (b *RuuviPayloadBuilder) WithFormat(format byte) *RuuviPayloadBuilder {
	b.buf[0] = format
	return b
}

func (b *RuuviPayloadBuilder) WithTemperature(celsius float64) *RuuviPayloadBuilder {
	binary.BigEndian.PutUint16(b.buf[1:3], uint16(int16(math.Round(celsius/0.005))))
	return b
}

func (b *RuuviPayloadBuilder) WithHumidity(percent float64) *RuuviPayloadBuilder {
	binary.BigEndian.PutUint16(b.buf[3:5], uint16(math.Round(percent/0.0025)))
	return b
}

func (b *RuuviPayloadBuilder) WithPressure(pa uint32) *RuuviPayloadBuilder {
	binary.BigEndian.PutUint16(b.buf[5:7], uint16(pa-50000))
	return b
}

func (b *RuuviPayloadBuilder) WithAcceleration(x, y, z int16) *RuuviPayloadBuilder {
	binary.BigEndian.PutUint16(b.buf[7:9], uint16(x))
	binary.BigEndian.PutUint16(b.buf[9:11], uint16(y))
	binary.BigEndian.PutUint16(b.buf[11:13], uint16(z))
	return b
}

func (b *RuuviPayloadBuilder) WithPower(batteryMV uint16, txDBm int8) *RuuviPayloadBuilder {
	power := (batteryMV-1600)<<5 | uint16((int(txDBm)+40)/2)&0x1F
	binary.BigEndian.PutUint16(b.buf[13:15], power)
	return b
}

func (b *RuuviPayloadBuilder) WithMovement(counter uint8) *RuuviPayloadBuilder {
	b.buf[15] = counter
	return b
}

func (b *RuuviPayloadBuilder) WithSequence(seq uint16) *RuuviPayloadBuilder {
	binary.BigEndian.PutUint16(b.buf[16:18], seq)
	return b
}

func (b *RuuviPayloadBuilder) WithMAC(mac [6]byte) *RuuviPayloadBuilder {
	copy(b.buf[18:24], mac[:])
	return b
}

// WithInvalidTemperature sets the "not available" marker.
func (b *RuuviPayloadBuilder) WithInvalidTemperature() *RuuviPayloadBuilder {
	b.buf[1], b.buf[2] = 0x80, 0x00
	return b
}

// Build returns a copy of the encoded payload.
func (b *RuuviPayloadBuilder) Build() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf[:])
	return out
}

// Truncated returns the first n bytes of the encoded payload.
func (b *RuuviPayloadBuilder) Truncated(n int) []byte {
	return b.Build()[:n]
}
