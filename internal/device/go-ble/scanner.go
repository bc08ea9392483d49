package goble

import (
	"context"

	ble "github.com/go-ble/ble"
	"github.com/srg/blesink/internal/device"
)

// bleScanner wraps ble.Device to implement a device.ScanningDevice interface
type bleScanner struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	err := s.dev.Scan(ctx, allowDup, bleHandler)
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

// Stop releases the HCI socket or the CoreBluetooth central manager.
func (s *bleScanner) Stop() error {
	return NormalizeError(s.dev.Stop())
}

// NewScanner opens the adapter with the given HCI index (ignored on macOS).
func NewScanner(adapterID int) (device.ScanningDevice, error) {
	dev, err := DeviceFactory(adapterID)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleScanner{dev: dev}, nil
}
