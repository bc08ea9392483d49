package devicefactory

import (
	"github.com/srg/blesink/internal/device"
	goble "github.com/srg/blesink/internal/device/go-ble"
)

// DeviceFactory opens the BLE adapter with the given index for scanning.
// This is a variable so that it can be overridden in tests.
var DeviceFactory = func(adapterID int) (device.ScanningDevice, error) {
	return goble.NewScanner(adapterID)
}
