package testutils

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesink/internal/device"
	"github.com/srg/blesink/internal/devicefactory"
	"github.com/stretchr/testify/suite"
)

// ErrNoMoreAdapters is returned by the suite's factory once every scripted adapter
// has been handed out.
var ErrNoMoreAdapters = errors.New("testutils: no more scripted adapters")

// MockAdapterSuite swaps devicefactory.DeviceFactory for a scripted sequence of
// adapters, so scanner code sees a radio that works, faults or disappears on cue.
//
//	type ControllerSuite struct {
//	    testutils.MockAdapterSuite
//	}
//
//	func (s *ControllerSuite) TestRecovers() {
//	    s.QueueAdapter(testutils.NewReplayingDevice(errors.New("hci reset"), adv1))
//	    s.QueueFactoryError(device.ErrAdapterUnavailable)
//	    s.QueueAdapter(testutils.NewReplayingDevice(nil, adv2))
//	    ...
//	}
type MockAdapterSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func(int) (device.ScanningDevice, error)
	TestTimeout           time.Duration

	mu       sync.Mutex
	script   []adapterStep
	opened   []*MockScanningDevice
	attempts int
}

type adapterStep struct {
	dev *MockScanningDevice
	err error
}

func (s *MockAdapterSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	if s.TestTimeout == 0 {
		s.TestTimeout = 2 * time.Second
	}

	s.mu.Lock()
	s.script = nil
	s.opened = nil
	s.attempts = 0
	s.mu.Unlock()

	s.OriginalDeviceFactory = devicefactory.DeviceFactory
	devicefactory.DeviceFactory = s.openAdapter
}

func (s *MockAdapterSuite) TearDownTest() {
	if s.OriginalDeviceFactory != nil {
		devicefactory.DeviceFactory = s.OriginalDeviceFactory
	}
}

// QueueAdapter appends an adapter the factory will return on its next call.
func (s *MockAdapterSuite) QueueAdapter(dev *MockScanningDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, adapterStep{dev: dev})
}

// QueueFactoryError makes the next factory call fail with err.
func (s *MockAdapterSuite) QueueFactoryError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, adapterStep{err: err})
}

// FactoryCalls returns how many times an adapter was requested.
func (s *MockAdapterSuite) FactoryCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// OpenedAdapters returns the adapters handed out so far.
func (s *MockAdapterSuite) OpenedAdapters() []*MockScanningDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MockScanningDevice(nil), s.opened...)
}

func (s *MockAdapterSuite) openAdapter(int) (device.ScanningDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if len(s.script) == 0 {
		return nil, ErrNoMoreAdapters
	}
	step := s.script[0]
	s.script = s.script[1:]
	if step.err != nil {
		return nil, step.err
	}
	s.opened = append(s.opened, step.dev)
	return step.dev, nil
}
