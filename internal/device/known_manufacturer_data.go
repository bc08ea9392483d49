package device

import (
	"encoding/binary"
	"fmt"
)

// Company identifiers assigned by the Bluetooth SIG that show up around sensors.
const (
	CompanyApple     uint16 = 0x004C
	CompanyMicrosoft uint16 = 0x0006
	CompanyNordic    uint16 = 0x0059
	CompanyRuuvi     uint16 = 0x0499
)

var knownVendors = map[uint16]string{
	CompanyApple:     "Apple",
	CompanyMicrosoft: "Microsoft",
	CompanyNordic:    "Nordic Semiconductor",
	CompanyRuuvi:     "Ruuvi Innovations",
}

// SplitManufacturerData separates the little-endian company identifier from the
// vendor payload, following the BLE convention for the manufacturer specific AD type.
func SplitManufacturerData(rawData []byte) (uint16, []byte, error) {
	if len(rawData) < 2 {
		return 0, nil, fmt.Errorf("%w: manufacturer data too short: %d bytes", ErrMalformedFrame, len(rawData))
	}
	return binary.LittleEndian.Uint16(rawData[0:2]), rawData[2:], nil
}

// VendorName returns a display name for a company identifier.
func VendorName(companyID uint16) string {
	if name, ok := knownVendors[companyID]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", companyID)
}
