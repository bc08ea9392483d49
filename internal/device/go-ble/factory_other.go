//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	ble "github.com/go-ble/ble"
	"github.com/srg/blesink/internal/device"
)

//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(int) (ble.Device, error) {
	return nil, fmt.Errorf("%w: no BLE backend for %s", device.ErrUnsupported, runtime.GOOS)
}
