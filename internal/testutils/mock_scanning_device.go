package testutils

import (
	"context"

	"github.com/srg/blesink/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockScanningDevice is a testify mock of device.ScanningDevice.
type MockScanningDevice struct {
	mock.Mock
}

func (m *MockScanningDevice) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	args := m.Called(ctx, allowDup, handler)
	return args.Error(0)
}

func (m *MockScanningDevice) Stop() error {
	return m.Called().Error(0)
}

// NewReplayingDevice returns a mock that delivers advs in order and then returns
// scanErr. With a nil scanErr the scan blocks until its context is cancelled, like a
// healthy adapter.
func NewReplayingDevice(scanErr error, advs ...device.Advertisement) *MockScanningDevice {
	m := &MockScanningDevice{}
	call := m.On("Scan", mock.Anything, true, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			handler := args.Get(2).(func(device.Advertisement))
			for _, adv := range advs {
				if ctx.Err() != nil {
					return
				}
				handler(adv)
			}
			if scanErr == nil {
				<-ctx.Done()
			}
		}).
		Once()
	if scanErr != nil {
		call.Return(scanErr)
	} else {
		call.Return(context.Canceled)
	}
	m.On("Stop").Return(nil).Maybe()
	return m
}
