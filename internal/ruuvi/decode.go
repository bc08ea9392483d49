// Package ruuvi decodes the RuuviTag RAWv2 (data format 5) manufacturer payload.
//
// Payload layout, big-endian, offsets relative to the byte after the company id:
//
//	0      format (0x05)
//	1-2    temperature      int16  x 0.005 C        invalid 0x8000
//	3-4    humidity         uint16 x 0.0025 %RH     invalid 0xFFFF
//	5-6    pressure         uint16 + 50000 Pa       invalid 0xFFFF
//	7-12   acceleration xyz int16  mG               invalid 0x8000
//	13-14  power            11 bits battery + 1600 mV (invalid 2047),
//	                        5 bits tx power x 2 - 40 dBm (invalid 31)
//	15     movement counter uint8
//	16-17  sequence number  uint16
//	18-23  MAC address
//
// The sequence number and movement counter are cyclic counters and are always
// reported, including their maximum values.
package ruuvi

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/srg/blesink/internal/model"
)

const (
	// FormatRAWv2 is the only data format this package decodes.
	FormatRAWv2 byte = 0x05
	// FormatReserved is reserved by the vendor for future formats.
	FormatReserved byte = 0xFF
	// PayloadLength is the RAWv2 payload size without the company id.
	PayloadLength = 24
)

const (
	invalidSigned   = -0x8000
	invalidUnsigned = 0xFFFF
	invalidBattery  = 0x7FF
	invalidTxPower  = 0x1F
)

// Decode converts a RAWv2 payload into a reading. addr is the address reported by the
// radio stack; when it is the zero Address the MAC embedded in the payload is used.
func Decode(payload []byte, addr model.Address, receivedAt time.Time) (model.SensorReading, error) {
	var r model.SensorReading

	if len(payload) == 0 {
		return r, &DecodeError{Kind: TruncatedPayload}
	}
	format := payload[0]
	switch {
	case format == FormatReserved:
		return r, &DecodeError{Kind: ReservedMarker, Format: format, Len: len(payload)}
	case format != FormatRAWv2:
		return r, &DecodeError{Kind: UnsupportedFormat, Format: format, Len: len(payload)}
	case len(payload) < PayloadLength:
		return r, &DecodeError{Kind: TruncatedPayload, Format: format, Len: len(payload)}
	}

	r.Address = addr
	r.Timestamp = receivedAt

	if v := int16(binary.BigEndian.Uint16(payload[1:3])); v != invalidSigned {
		t := float64(v) * 0.005
		r.Temperature = &t
	}
	if v := binary.BigEndian.Uint16(payload[3:5]); v != invalidUnsigned {
		h := float64(v) * 0.0025
		r.Humidity = &h
	}
	if v := binary.BigEndian.Uint16(payload[5:7]); v != invalidUnsigned {
		p := uint32(v) + 50000
		r.Pressure = &p
	}
	r.AccelerationX = signedField(payload[7:9])
	r.AccelerationY = signedField(payload[9:11])
	r.AccelerationZ = signedField(payload[11:13])

	power := binary.BigEndian.Uint16(payload[13:15])
	if battery := power >> 5; battery != invalidBattery {
		mv := battery + 1600
		r.BatteryVoltage = &mv
	}
	if tx := power & 0x1F; tx != invalidTxPower {
		dbm := int8(tx)*2 - 40
		r.TxPower = &dbm
	}

	r.MovementCounter = payload[15]
	r.Sequence = binary.BigEndian.Uint16(payload[16:18])

	if r.Address.IsZero() {
		var mac model.Address
		copy(mac[:], payload[18:24])
		if !mac.IsBroadcast() {
			r.Address = mac
		}
	}

	return r, nil
}

func signedField(b []byte) *int16 {
	v := int16(binary.BigEndian.Uint16(b))
	if v == invalidSigned {
		return nil
	}
	return &v
}

// ParseHex decodes a captured payload written as hex. A leading "0x" and separators
// (spaces, colons, dashes) are ignored, and a leading 0x0499 company id is stripped.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	if len(b) == PayloadLength+2 && binary.LittleEndian.Uint16(b[0:2]) == model.RuuviManufacturerID {
		b = b[2:]
	}
	return b, nil
}
