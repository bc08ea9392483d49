package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AdapterState represents the specific kind of adapter failure
type AdapterState string

const (
	PoweredOff     AdapterState = "powered_off"
	Unavailable    AdapterState = "unavailable"
	MalformedFrame AdapterState = "malformed_frame"
)

// AdapterError represents a problem reported by the radio stack
type AdapterError struct {
	State AdapterState
	Msg   string
}

// Error implements the error interface
func (e *AdapterError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare AdapterError values by State
func (e *AdapterError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*AdapterError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for adapter states
var (
	ErrBluetoothOff       = &AdapterError{State: PoweredOff, Msg: "bluetooth is turned off"}
	ErrAdapterUnavailable = &AdapterError{State: Unavailable}
	ErrMalformedFrame     = &AdapterError{State: MalformedFrame}
)

// ErrUnsupported is returned by the factory on platforms without a BLE binding.
var ErrUnsupported = errors.New("unsupported")

// NormalizeError maps known radio stack error strings to structured AdapterError types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var aerr *AdapterError
	if errors.As(err, &aerr) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "central manager has invalid state"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "rfkill"),
		containsIgnoreCase(msg, "rf-kill"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "no devices available"),
		containsIgnoreCase(msg, "no such device"),
		containsIgnoreCase(msg, "device is down"),
		containsIgnoreCase(msg, "network is down"),
		containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "malformed"),
		containsIgnoreCase(msg, "invalid advertising report"),
		containsIgnoreCase(msg, "crc"):
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsAdapterState reports whether err is an AdapterError with the given state
func IsAdapterState(err error, state AdapterState) bool {
	var aerr *AdapterError
	if errors.As(err, &aerr) {
		return aerr.State == state
	}
	return false
}

// ScanningDevice represents a BLE adapter capable of passive scanning.
// Scan blocks until ctx is done or the adapter fails. Stop releases the adapter.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	Stop() error
}

type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	RSSI() int
	Addr() string
}
