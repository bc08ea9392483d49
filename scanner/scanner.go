// Package scanner keeps a BLE adapter scanning for sensor advertisements and recovers
// it when the radio stack fails.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesink/internal/device"
	"github.com/srg/blesink/internal/devicefactory"
	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/retry"
)

// State is the controller's lifecycle phase.
type State int32

const (
	Idle State = iota
	Scanning
	Faulted
	Recovering
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Faulted:
		return "faulted"
	case Recovering:
		return "recovering"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrAdapterExhausted is returned by Run when the recovery policy gives up.
var ErrAdapterExhausted = errors.New("adapter recovery attempts exhausted")

// errScanEnded marks a scan that returned without error or cancellation.
var errScanEnded = errors.New("scan ended unexpectedly")

// maxMalformedRestarts bounds back-to-back malformed frame errors with no
// advertisement in between before the adapter is treated as faulted.
const maxMalformedRestarts = 16

// AdapterFault describes why the adapter left the Scanning state.
type AdapterFault struct {
	Op  string // "open" or "scan"
	Err error
}

func (f *AdapterFault) Error() string {
	return fmt.Sprintf("adapter %s: %v", f.Op, f.Err)
}

func (f *AdapterFault) Unwrap() error {
	return f.Err
}

// Factory opens an adapter for scanning.
type Factory func(adapterID int) (device.ScanningDevice, error)

// Options configures the controller.
type Options struct {
	AdapterID      int           `yaml:"adapter_id" default:"0"`
	ManufacturerID uint16        `yaml:"manufacturer_id" default:"1177"`
	AllowList      []string      `yaml:"allow"`
	BlockList      []string      `yaml:"block"`
	ForwardTimeout time.Duration `yaml:"forward_timeout" default:"1s"`
	Recovery       retry.Policy  `yaml:"recovery"`

	// OnStateChange is called synchronously on every transition.
	OnStateChange func(from, to State) `yaml:"-"`
}

// DefaultOptions returns options for Ruuvi sensors on the first adapter.
func DefaultOptions() Options {
	return Options{
		ManufacturerID: model.RuuviManufacturerID,
		ForwardTimeout: time.Second,
		Recovery:       retry.DefaultPolicy(),
	}
}

// Stats counts frames and faults since the controller was created.
type Stats struct {
	Received  uint64
	Forwarded uint64
	Foreign   uint64
	Malformed uint64
	Repeats   uint64
	Stalls    uint64
	Faults    uint64
}

// Controller drives the scan/fault/recover cycle and forwards manufacturer-data
// frames of the configured company.
type Controller struct {
	factory Factory
	opts    Options
	logger  *logrus.Logger
	now     func() time.Time

	allow map[string]struct{}
	block map[string]struct{}

	// last forwarded payload per radio address
	lastPayload *hashmap.Map[string, []byte]

	state     atomic.Int32
	sawAdvert atomic.Bool

	received  atomic.Uint64
	forwarded atomic.Uint64
	foreign   atomic.Uint64
	malformed atomic.Uint64
	repeats   atomic.Uint64
	stalls    atomic.Uint64
	faults    atomic.Uint64
}

// sink is the consumer side of one Run. Radio callbacks can still arrive after the
// adapter is stopped, so sends and the final close are serialised.
type sink struct {
	mu     sync.RWMutex
	ch     chan<- model.RawAdvertisement
	closed bool
}

func (s *sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	close(s.ch)
}

// NewController creates a controller. A nil factory resolves
// devicefactory.DeviceFactory each time an adapter is opened.
func NewController(factory Factory, opts Options, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ManufacturerID == 0 {
		opts.ManufacturerID = model.RuuviManufacturerID
	}
	if opts.ForwardTimeout <= 0 {
		opts.ForwardTimeout = time.Second
	}
	if opts.Recovery.Initial <= 0 {
		opts.Recovery.Initial = retry.DefaultPolicy().Initial
	}
	if opts.Recovery.Max <= 0 {
		opts.Recovery.Max = retry.DefaultPolicy().Max
	}

	c := &Controller{
		factory:     factory,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
		allow:       addressSet(opts.AllowList),
		block:       addressSet(opts.BlockList),
		lastPayload: hashmap.New[string, []byte](),
	}
	c.state.Store(int32(Idle))
	return c
}

func addressSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, a := range list {
		set[strings.ToUpper(strings.TrimSpace(a))] = struct{}{}
	}
	return set
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Debug("Scanner state changed")
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(from, to)
	}
}

// Run scans until ctx is cancelled (returning nil) or recovery is exhausted
// (returning an error wrapping ErrAdapterExhausted). out is closed on return.
func (c *Controller) Run(ctx context.Context, out chan<- model.RawAdvertisement) error {
	dst := &sink{ch: out}
	defer dst.close()
	defer c.setState(Stopped)

	b := c.opts.Recovery.NewBackOff()
	attempts := 0
	faulted := false

	for {
		if ctx.Err() != nil {
			return nil
		}

		c.sawAdvert.Store(false)
		fault := c.scanOnce(ctx, dst, faulted)
		if ctx.Err() != nil {
			return nil
		}
		if c.sawAdvert.Load() {
			// the adapter delivered data since the last fault, start the schedule over
			b.Reset()
			attempts = 0
			faulted = false
		}

		c.faults.Add(1)
		attempts++
		c.setState(Faulted)

		entry := c.logger.WithFields(logrus.Fields{
			"adapter": c.opts.AdapterID,
			"error":   fault,
			"attempt": attempts,
		})
		if !faulted {
			entry.Warn("BLE adapter fault, recovering")
		} else {
			entry.Debug("BLE adapter still unavailable")
		}
		faulted = true

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			c.logger.WithFields(logrus.Fields{
				"adapter":  c.opts.AdapterID,
				"attempts": attempts,
			}).Error("Giving up on BLE adapter")
			return fmt.Errorf("%w after %d attempts: %w", ErrAdapterExhausted, attempts, fault)
		}

		c.setState(Recovering)
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// scanOnce opens the adapter and scans until the stack fails or ctx is done.
func (c *Controller) scanOnce(ctx context.Context, dst *sink, recovering bool) error {
	factory := c.factory
	if factory == nil {
		factory = devicefactory.DeviceFactory
	}

	dev, err := factory(c.opts.AdapterID)
	if err != nil {
		return &AdapterFault{Op: "open", Err: device.NormalizeError(err)}
	}
	defer func() {
		if err := dev.Stop(); err != nil {
			c.logger.WithError(err).Debug("Failed to stop scan")
		}
	}()

	if recovering {
		c.logger.WithField("adapter", c.opts.AdapterID).Info("BLE adapter reacquired")
	} else {
		c.logger.WithFields(logrus.Fields{
			"adapter":         c.opts.AdapterID,
			"manufacturer_id": fmt.Sprintf("0x%04X", c.opts.ManufacturerID),
		}).Info("Starting BLE scan")
	}
	c.setState(Scanning)

	handler := func(adv device.Advertisement) {
		c.handleAdvertisement(ctx, adv, dst)
	}

	malformedRun := 0
	for {
		before := c.received.Load()
		err := dev.Scan(ctx, true, handler)
		if ctx.Err() != nil {
			return nil
		}

		err = device.NormalizeError(err)
		if device.IsAdapterState(err, device.MalformedFrame) {
			if c.received.Load() != before {
				malformedRun = 0
			}
			malformedRun++
			c.malformed.Add(1)
			c.logger.WithError(err).Debug("Malformed frame from radio stack, resuming scan")
			if malformedRun < maxMalformedRestarts {
				continue
			}
		}
		if err == nil {
			err = errScanEnded
		}
		return &AdapterFault{Op: "scan", Err: err}
	}
}

// handleAdvertisement filters one frame and forwards it downstream. It runs on the
// radio stack's callback goroutine.
func (c *Controller) handleAdvertisement(ctx context.Context, adv device.Advertisement, dst *sink) {
	c.received.Add(1)
	c.sawAdvert.Store(true)

	key := strings.ToUpper(adv.Addr())
	if _, blocked := c.block[key]; blocked {
		return
	}
	if len(c.allow) > 0 {
		if _, ok := c.allow[key]; !ok {
			return
		}
	}

	raw := adv.ManufacturerData()
	if len(raw) == 0 {
		c.foreign.Add(1)
		return
	}
	companyID, payload, err := device.SplitManufacturerData(raw)
	if err != nil {
		c.malformed.Add(1)
		c.logger.WithFields(logrus.Fields{
			"address": adv.Addr(),
			"error":   err,
		}).Debug("Dropping short manufacturer data")
		return
	}
	if companyID != c.opts.ManufacturerID {
		c.foreign.Add(1)
		if c.logger.IsLevelEnabled(logrus.TraceLevel) {
			c.logger.WithFields(logrus.Fields{
				"address": adv.Addr(),
				"vendor":  device.VendorName(companyID),
			}).Trace("Ignoring foreign manufacturer data")
		}
		return
	}

	if prev, ok := c.lastPayload.Get(key); ok && bytes.Equal(prev, payload) {
		c.repeats.Add(1)
		return
	}
	payload = bytes.Clone(payload)

	// non-MAC addresses (CoreBluetooth UUIDs) stay zero; the decoder falls back to
	// the MAC carried in the payload
	addr, _ := model.ParseAddress(adv.Addr())

	frame := model.RawAdvertisement{
		Address:        addr,
		ManufacturerID: companyID,
		Payload:        payload,
		ReceivedAt:     c.now(),
		RSSI:           adv.RSSI(),
		LocalName:      adv.LocalName(),
	}

	if c.forward(ctx, dst, frame) {
		c.lastPayload.Set(key, payload)
	}
}

// forward waits at most ForwardTimeout for the consumer. Frames arriving after Run
// has closed the sink are dropped.
func (c *Controller) forward(ctx context.Context, dst *sink, frame model.RawAdvertisement) bool {
	dst.mu.RLock()
	defer dst.mu.RUnlock()
	if dst.closed {
		return false
	}

	select {
	case dst.ch <- frame:
		c.forwarded.Add(1)
		return true
	default:
	}

	timer := time.NewTimer(c.opts.ForwardTimeout)
	defer timer.Stop()

	select {
	case dst.ch <- frame:
		c.forwarded.Add(1)
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		c.stalls.Add(1)
		c.logger.WithFields(logrus.Fields{
			"address": frame.Address.String(),
			"timeout": c.opts.ForwardTimeout,
		}).Warn("Downstream stalled, dropping advertisement")
		return false
	}
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Received:  c.received.Load(),
		Forwarded: c.forwarded.Load(),
		Foreign:   c.foreign.Load(),
		Malformed: c.malformed.Load(),
		Repeats:   c.repeats.Load(),
		Stalls:    c.stalls.Load(),
		Faults:    c.faults.Load(),
	}
}
