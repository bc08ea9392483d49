package main

import (
	"errors"
	"fmt"

	"github.com/srg/blesink/internal/device"
	"github.com/srg/blesink/internal/ruuvi"
	"github.com/srg/blesink/internal/storage"
	"github.com/srg/blesink/scanner"
)

// Command-level errors
var (
	// ErrNoPayload indicates decode was called without anything to decode.
	ErrNoPayload = errors.New("no payload given")
)

// FormatUserError turns known failures into a hint the operator can act on.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Power on the adapter and try again."
	case errors.Is(err, device.ErrAdapterUnavailable):
		return fmt.Sprintf("No usable Bluetooth adapter (check scanner.adapter_id and permissions): %v", err)
	case errors.Is(err, device.ErrUnsupported):
		return "BLE scanning is not supported on this platform."
	case errors.Is(err, scanner.ErrAdapterExhausted):
		return fmt.Sprintf("Bluetooth adapter did not recover, giving up: %v", err)
	case errors.Is(err, storage.ErrInsecureConnection):
		return "Refusing to connect to the database without TLS. Use sslmode=verify-full in the URL, " +
			"or set database.allow_insecure for local testing."
	case errors.Is(err, storage.ErrUnknownDriver):
		return fmt.Sprintf("Unknown database driver: %v", err)
	case errors.Is(err, ruuvi.ErrUnsupportedFormat), errors.Is(err, ruuvi.ErrReservedMarker):
		return fmt.Sprintf("Not a RAWv2 (format 5) payload: %v", err)
	case errors.Is(err, ruuvi.ErrTruncatedPayload):
		return fmt.Sprintf("Payload too short: %v", err)
	default:
		return err.Error()
	}
}
