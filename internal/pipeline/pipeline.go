// Package pipeline wires discovery, decoding, sequencing, batching and persistence
// into one supervised set of goroutines.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesink/internal/batch"
	"github.com/srg/blesink/internal/groutine"
	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/registry"
	"github.com/srg/blesink/internal/ruuvi"
	"github.com/srg/blesink/internal/sequence"
	"github.com/srg/blesink/internal/storage"
	"github.com/srg/blesink/scanner"
	"golang.org/x/sync/errgroup"
)

// Config sizes the queues between stages and bounds shutdown.
type Config struct {
	RawQueue        int           `yaml:"raw_queue" default:"256"`
	ReadingQueue    int           `yaml:"reading_queue" default:"256"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	StatsInterval   time.Duration `yaml:"stats_interval" default:"1m"`
}

// Deps are the stage implementations. Registry is used only by the decode stage.
type Deps struct {
	Scanner  *scanner.Controller
	Registry *registry.Registry
	Buffer   *batch.Buffer
	Writer   *storage.Writer
}

// Stats aggregates the counters of every stage.
type Stats struct {
	Scanner        scanner.Stats
	Decoded        uint64
	DecodeErrors   uint64
	RegistryErrors uint64
	Sequence       sequence.Stats
	Batch          batch.Stats
	Writer         storage.WriterStats
}

type Pipeline struct {
	cfg    Config
	deps   Deps
	filter *sequence.Filter
	logger *logrus.Logger

	decoded        atomic.Uint64
	decodeErrors   atomic.Uint64
	registryErrors atomic.Uint64
}

func New(cfg Config, deps Deps, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.RawQueue <= 0 {
		cfg.RawQueue = 256
	}
	if cfg.ReadingQueue <= 0 {
		cfg.ReadingQueue = 256
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		filter: sequence.NewFilter(deps.Registry, logger),
		logger: logger,
	}
}

// Run blocks until ctx is cancelled or discovery fails for good. On the way out every
// stage drains its input; the writer gets ShutdownTimeout to persist what is pending.
func (p *Pipeline) Run(ctx context.Context) error {
	raw := make(chan model.RawAdvertisement, p.cfg.RawQueue)
	readings := make(chan model.SensorReading, p.cfg.ReadingQueue)

	g, gctx := errgroup.WithContext(ctx)

	// the writer outlives ctx so pending batches can still be flushed
	writeCtx, cancelWrite := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWrite()
	stopDrainTimer := context.AfterFunc(gctx, func() {
		p.logger.WithField("timeout", p.cfg.ShutdownTimeout).Info("Shutting down pipeline, draining pending batches")
		time.AfterFunc(p.cfg.ShutdownTimeout, cancelWrite)
	})
	defer stopDrainTimer()

	g.Go(p.stage(gctx, "discovery", func(ctx context.Context) error {
		return p.deps.Scanner.Run(ctx, raw)
	}))
	g.Go(p.stage(gctx, "decode", func(context.Context) error {
		p.decodeLoop(writeCtx, raw, readings)
		return nil
	}))
	g.Go(p.stage(gctx, "batch", func(context.Context) error {
		p.deps.Buffer.Run(readings)
		return nil
	}))
	g.Go(p.stage(writeCtx, "write", func(ctx context.Context) error {
		err := p.deps.Writer.Run(ctx, p.deps.Buffer.Pending())
		if err != nil && errors.Is(err, context.Canceled) {
			p.logger.WithField("timeout", p.cfg.ShutdownTimeout).Warn("Shutdown timeout elapsed, pending batches dropped")
			return nil
		}
		return err
	}))

	stopStats := make(chan struct{})
	if p.cfg.StatsInterval > 0 {
		groutine.Go(ctx, "stats", func(context.Context) {
			p.reportStats(stopStats)
		})
	}

	err := g.Wait()
	close(stopStats)

	p.logStats("Pipeline stopped")
	return err
}

// stage runs fn as a named errgroup goroutine.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) func() error {
	return func() error {
		return groutine.Do(ctx, name, func(ctx context.Context) error {
			err := fn(ctx)
			entry := p.logger.WithField("stage", groutine.GetName(ctx))
			if err != nil {
				entry.WithError(err).Error("Pipeline stage failed")
			} else {
				entry.Debug("Pipeline stage finished")
			}
			return err
		})
	}
}

// decodeLoop turns raw frames into admitted readings until raw is closed.
func (p *Pipeline) decodeLoop(ctx context.Context, raw <-chan model.RawAdvertisement, out chan<- model.SensorReading) {
	defer close(out)

	for adv := range raw {
		reading, ok := p.process(ctx, adv)
		if ok {
			out <- reading
		}
	}
}

func (p *Pipeline) process(ctx context.Context, adv model.RawAdvertisement) (model.SensorReading, bool) {
	reading, err := ruuvi.Decode(adv.Payload, adv.Address, adv.ReceivedAt)
	if err != nil {
		p.decodeErrors.Add(1)
		p.logger.WithFields(logrus.Fields{
			"address": adv.Address.String(),
			"error":   err,
		}).Debug("Skipping undecodable advertisement")
		return reading, false
	}
	p.decoded.Add(1)

	if reading.Address.IsZero() {
		p.decodeErrors.Add(1)
		p.logger.Debug("Skipping advertisement without a usable address")
		return reading, false
	}

	id, err := p.deps.Registry.Resolve(ctx, reading.Address, reading.Timestamp)
	if err != nil {
		p.registryErrors.Add(1)
		p.logger.WithError(err).Warn("Device registration failed, reading skipped")
		return reading, false
	}
	reading.DeviceID = id
	if rec, ok := p.deps.Registry.Lookup(id); ok {
		reading.DeviceName = rec.Name
	}

	verdict, reading, err := p.filter.Admit(ctx, reading)
	if err != nil {
		// the row upsert is idempotent, so a reading whose sequence could not be
		// recorded is still worth storing
		p.registryErrors.Add(1)
		p.logger.WithFields(logrus.Fields{
			"device_id": id,
			"error":     err,
		}).Warn("Failed to record sequence number")
	}
	return reading, verdict.Forwarded()
}

func (p *Pipeline) reportStats(stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.logStats("Pipeline stats")
		}
	}
}

func (p *Pipeline) logStats(msg string) {
	s := p.Stats()
	p.logger.WithFields(logrus.Fields{
		"received":        s.Scanner.Received,
		"forwarded":       s.Scanner.Forwarded,
		"stalls":          s.Scanner.Stalls,
		"adapter_faults":  s.Scanner.Faults,
		"decode_errors":   s.DecodeErrors,
		"admitted":        s.Sequence.Admitted,
		"duplicates":      s.Sequence.Duplicate,
		"out_of_order":    s.Sequence.OutOfOrder,
		"wraparounds":     s.Sequence.Wraparound,
		"unregistered":    s.Sequence.Unregistered,
		"batches_pending": s.Batch.Pending,
		"batches_evicted": s.Batch.Evicted,
		"rows_written":    s.Writer.Readings,
		"write_retries":   s.Writer.Retries,
		"rows_dropped":    s.Writer.DroppedReadings + s.Batch.EvictedReadings,
	}).Info(msg)
}

// Stats returns a snapshot of every stage's counters. Safe for concurrent use.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Scanner:        p.deps.Scanner.Stats(),
		Decoded:        p.decoded.Load(),
		DecodeErrors:   p.decodeErrors.Load(),
		RegistryErrors: p.registryErrors.Load(),
		Sequence:       p.filter.Stats(),
		Batch:          p.deps.Buffer.Stats(),
		Writer:         p.deps.Writer.Stats(),
	}
}
