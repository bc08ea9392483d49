package goble

import (
	"fmt"

	"github.com/srg/blesink/internal/device"
)

// NormalizeError maps go-ble specific error strings to structured AdapterError types
// before falling back to the generic classification in the device package.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	switch err.Error() {
	case "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case "hci: unknown event":
		return fmt.Errorf("%w: %v", device.ErrMalformedFrame, err)
	}
	return device.NormalizeError(err)
}
