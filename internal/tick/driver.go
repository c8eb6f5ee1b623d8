// Package tick drives simulation passes: one reading per monitored space per
// tick, optimized and durably appended before the pass is reported.
package tick

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/campus-energy/internal/batch"
	"github.com/smukkama/campus-energy/internal/catalog"
	"github.com/smukkama/campus-energy/internal/energy"
	"github.com/smukkama/campus-energy/internal/metrics"
	"github.com/smukkama/campus-energy/internal/model"
	"github.com/smukkama/campus-energy/internal/optimizer"
	"github.com/smukkama/campus-energy/internal/protocol"
	"github.com/smukkama/campus-energy/internal/schedule"
	"github.com/smukkama/campus-energy/internal/simulation"
	"github.com/smukkama/campus-energy/internal/timer"
)

var (
	// ErrPassInFlight reports a tick skipped because the previous pass is
	// still running
	ErrPassInFlight = errors.New("simulation pass already in flight")
	// ErrLeaseHeld reports a tick skipped because another process holds
	// the pass lease
	ErrLeaseHeld = errors.New("pass lease held by another process")
)

const publishTimeout = 10 * time.Second

// Status is the outcome of one pass
type Status string

const (
	StatusComplete           Status = "complete"
	StatusFailed             Status = "failed"
	StatusSkipped            Status = "skipped"
	StatusCatalogUnavailable Status = "catalog_unavailable"
)

// PassSummary reports one pass. On failure the counts cover the batches
// committed before the failing one.
type PassSummary struct {
	ID                string
	Timestamp         time.Time
	Status            Status
	ReadingsCreated   int
	ReadingsOptimized int
	SpacesSkipped     int
	BatchesCommitted  int
	Retries           int
	Duration          time.Duration
	Err               error
}

// Scheduler answers timetable occupancy
type Scheduler interface {
	IsScheduled(ctx context.Context, spaceID int64, ts time.Time) (bool, error)
}

// Lease serializes passes across processes
type Lease interface {
	AcquireLease(ctx context.Context) (token string, ok bool, err error)
	ReleaseLease(ctx context.Context, token string) error
}

// ReadingPublisher receives every committed batch
type ReadingPublisher interface {
	PublishReadings(ctx context.Context, passID string, readings []model.EnergyReading) error
}

// PassPublisher receives every pass summary
type PassPublisher interface {
	PublishPass(ctx context.Context, event *protocol.PassEvent) error
}

// Config holds the pass parameters
type Config struct {
	Interval  time.Duration
	BatchSize int
	Retry     batch.RetryPolicy
	// Location resolves weekday, time of day and hour of a tick
	Location *time.Location
	// Temperature is the policy of live passes; backfill uses the diurnal one
	Temperature simulation.TemperaturePolicy
}

// DefaultConfig returns a 60s interval with batches of 100
func DefaultConfig() Config {
	return Config{
		Interval:    60 * time.Second,
		BatchSize:   batch.DefaultBatchSize,
		Retry:       batch.DefaultRetryPolicy(),
		Location:    time.Local,
		Temperature: simulation.LiveTemperature,
	}
}

// Option customizes a Driver
type Option func(*Driver)

// WithLease adds a cross-process pass lease
func WithLease(l Lease) Option {
	return func(d *Driver) { d.lease = l }
}

// WithReadingPublisher streams committed batches to p
func WithReadingPublisher(p ReadingPublisher) Option {
	return func(d *Driver) { d.readings = p }
}

// WithPassPublisher adds a receiver of pass summaries
func WithPassPublisher(p PassPublisher) Option {
	return func(d *Driver) { d.passes = append(d.passes, p) }
}

// WithMetrics records pass metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithScheduler replaces the timetable oracle built from the catalog
func WithScheduler(s Scheduler) Option {
	return func(d *Driver) { d.oracle = s }
}

// WithSleep replaces the wait between commit retries
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Driver) { d.sleep = sleep }
}

// Driver runs simulation passes. At most one pass runs at a time; a pass
// requested while another is running is skipped, never queued.
type Driver struct {
	catalog   catalog.Reader
	oracle    Scheduler
	committer batch.Committer
	rng       *simulation.RNG
	cfg       Config

	lease    Lease
	readings ReadingPublisher
	passes   []PassPublisher
	metrics  *metrics.Metrics
	sleep    func(ctx context.Context, d time.Duration) error

	inFlight atomic.Bool
	timers   *timer.TimerManager
}

// NewDriver creates a driver reading reference data from reader and
// appending readings through committer
func NewDriver(reader catalog.Reader, committer batch.Committer, rng *simulation.RNG, cfg Config, opts ...Option) *Driver {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.Temperature == nil {
		cfg.Temperature = def.Temperature
	}

	d := &Driver{
		catalog:   reader,
		committer: committer,
		rng:       rng,
		cfg:       cfg,
		timers:    timer.NewTimerManager(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.oracle == nil {
		d.oracle = schedule.NewOracle(reader)
	}
	return d
}

// RunPass runs one live pass for ts
func (d *Driver) RunPass(ctx context.Context, ts time.Time) PassSummary {
	return d.runPass(ctx, ts, d.cfg.Temperature)
}

func (d *Driver) runPass(ctx context.Context, ts time.Time, temperature simulation.TemperaturePolicy) PassSummary {
	started := time.Now()
	summary := PassSummary{
		ID:        uuid.NewString(),
		Timestamp: ts.In(d.cfg.Location),
	}

	if !d.inFlight.CompareAndSwap(false, true) {
		summary.Status = StatusSkipped
		summary.Err = ErrPassInFlight
		d.finish(ctx, &summary, started)
		return summary
	}
	defer d.inFlight.Store(false)

	// Shutdown must not interrupt a batch mid-commit
	ctx = context.WithoutCancel(ctx)

	if d.lease != nil {
		token, ok, err := d.lease.AcquireLease(ctx)
		switch {
		case err != nil:
			summary.Status = StatusFailed
			summary.Err = err
			d.finish(ctx, &summary, started)
			return summary
		case !ok:
			summary.Status = StatusSkipped
			summary.Err = ErrLeaseHeld
			d.finish(ctx, &summary, started)
			return summary
		}
		defer func() {
			if err := d.lease.ReleaseLease(ctx, token); err != nil {
				logrus.WithField("pass_id", summary.ID).WithError(err).Warn("Failed to release pass lease")
			}
		}()
	}

	if err := d.simulate(ctx, &summary, temperature); err != nil {
		summary.Status = StatusFailed
		summary.Err = err
	}
	d.finish(ctx, &summary, started)
	return summary
}

// simulate computes, optimizes and appends one reading per space
func (d *Driver) simulate(ctx context.Context, summary *PassSummary, temperature simulation.TemperaturePolicy) error {
	ts := summary.Timestamp
	log := logrus.WithFields(logrus.Fields{"pass_id": summary.ID, "tick": ts.Format(time.RFC3339)})

	grid, err := d.catalog.LatestGridStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read grid status: %w", err)
	}
	// No record means available
	gridAvailable := grid == nil || grid.Available

	sources, err := d.catalog.EnergySources(ctx)
	if err != nil {
		return fmt.Errorf("failed to read energy sources: %w", err)
	}
	spaces, err := d.catalog.Spaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to read spaces: %w", err)
	}

	sourceCatalog := model.NewSourceCatalog(sources)
	if sourceCatalog.Len() == 0 {
		summary.Status = StatusCatalogUnavailable
		summary.SpacesSkipped = len(spaces)
		summary.Err = energy.ErrCatalogUnavailable
		return nil
	}

	log.WithFields(logrus.Fields{
		"spaces":         len(spaces),
		"grid_available": gridAvailable,
	}).Debug("Pass started")

	opt := optimizer.New(sourceCatalog)
	writer := batch.NewBatchWriter(d.committer, batch.Options{
		BatchSize: d.cfg.BatchSize,
		Retry:     d.cfg.Retry,
		OnCommit: func(ctx context.Context, committed []model.EnergyReading) {
			for _, r := range committed {
				if r.Optimized {
					summary.ReadingsOptimized++
				}
			}
			d.publishReadings(ctx, summary.ID, committed)
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			if d.metrics != nil {
				d.metrics.CommitRetries.Inc()
			}
		},
		Sleep: d.sleep,
	})
	defer func() {
		stats := writer.Stats()
		summary.ReadingsCreated = stats.ReadingsCommitted
		summary.BatchesCommitted = stats.BatchesCommitted
		summary.Retries = stats.Retries
	}()

	tempRNG := d.rng.Stream(simulation.StreamTemperature)
	loadRNG := d.rng.Stream(simulation.StreamLoads)

	for _, space := range spaces {
		scheduled, err := d.oracle.IsScheduled(ctx, space.ID, ts)
		if err != nil {
			return err
		}

		// The source is resolved before any draw so a skipped space leaves
		// the random streams untouched
		source, err := energy.SelectSource(space.Type, gridAvailable, sourceCatalog)
		if err != nil {
			if errors.Is(err, energy.ErrSourceNotFound) {
				summary.SpacesSkipped++
				log.WithField("space_id", space.ID).WithError(err).Warn("Skipping space")
				continue
			}
			return err
		}

		reading := newReading(space, ts, scheduled, temperature(ts, tempRNG), loadRNG, source)
		outcome := opt.Apply(&reading, space, scheduled)
		if d.metrics != nil {
			for _, rule := range outcome.Fired {
				d.metrics.Optimized.WithLabelValues(string(rule)).Inc()
			}
		}

		if err := writer.Append(ctx, reading); err != nil {
			return err
		}
	}

	log.WithField("pending", writer.Pending()).Debug("Final flush")
	if err := writer.Flush(ctx); err != nil {
		return err
	}
	summary.Status = StatusComplete
	return nil
}

// newReading builds the unoptimized reading of one space
func newReading(space model.Space, ts time.Time, scheduled bool, temperature float64, rng simulation.Rand, source model.EnergySource) model.EnergyReading {
	loads := simulation.ComputeLoads(space, scheduled, temperature, rng)
	return model.EnergyReading{
		SpaceID:       space.ID,
		Timestamp:     ts,
		Occupancy:     loads.Occupancy,
		Temperature:   temperature,
		BaseLoad:      loads.BaseLoad,
		ACLoad:        loads.ACLoad,
		LightLoad:     loads.LightLoad,
		EquipmentLoad: loads.EquipmentLoad,
		TotalLoad:     loads.TotalLoad,
		SourceID:      source.ID,
		SourceName:    source.Name,
	}
}

func (d *Driver) publishReadings(ctx context.Context, passID string, committed []model.EnergyReading) {
	if d.readings == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := d.readings.PublishReadings(ctx, passID, committed); err != nil {
		logrus.WithFields(logrus.Fields{
			"pass_id":  passID,
			"readings": len(committed),
		}).WithError(err).Warn("Failed to publish committed readings")
	}
}

// finish logs, records and publishes a finished pass
func (d *Driver) finish(ctx context.Context, summary *PassSummary, started time.Time) {
	summary.Duration = time.Since(started)

	entry := logrus.WithFields(logrus.Fields{
		"pass_id":   summary.ID,
		"tick":      summary.Timestamp.Format(time.RFC3339),
		"status":    summary.Status,
		"readings":  summary.ReadingsCreated,
		"optimized": summary.ReadingsOptimized,
		"skipped":   summary.SpacesSkipped,
		"batches":   summary.BatchesCommitted,
		"elapsed":   summary.Duration.String(),
	})
	switch summary.Status {
	case StatusComplete:
		entry.Info("Pass complete")
	case StatusCatalogUnavailable:
		entry.Warn("Energy source catalog unavailable, no readings created")
	case StatusSkipped:
		entry.WithError(summary.Err).Warn("Pass skipped")
	default:
		entry.WithError(summary.Err).Error("Pass failed")
	}

	if d.metrics != nil {
		d.metrics.Passes.WithLabelValues(string(summary.Status)).Inc()
		d.metrics.PassDuration.Observe(summary.Duration.Seconds())
		d.metrics.Readings.Add(float64(summary.ReadingsCreated))
		d.metrics.Batches.Add(float64(summary.BatchesCommitted))
		d.metrics.SpacesSkipped.Add(float64(summary.SpacesSkipped))
		d.metrics.LastTick.Set(float64(summary.Timestamp.Unix()))
	}

	if len(d.passes) == 0 {
		return
	}
	event := summary.Event()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, p := range d.passes {
		if err := p.PublishPass(ctx, event); err != nil {
			logrus.WithField("pass_id", summary.ID).WithError(err).Warn("Failed to publish pass summary")
		}
	}
}

// Event converts the summary to its wire format
func (s PassSummary) Event() *protocol.PassEvent {
	event := &protocol.PassEvent{
		PassID:            s.ID,
		Timestamp:         s.Timestamp,
		ReadingsCreated:   s.ReadingsCreated,
		ReadingsOptimized: s.ReadingsOptimized,
		SpacesSkipped:     s.SpacesSkipped,
		BatchesCommitted:  s.BatchesCommitted,
		FinishedAt:        time.Now(),
	}
	switch s.Status {
	case StatusComplete:
		event.Type = protocol.PassTypeComplete
	case StatusSkipped:
		event.Type = protocol.PassTypeSkipped
	case StatusCatalogUnavailable:
		event.Type = protocol.PassTypeCatalogUnavailable
	default:
		event.Type = protocol.PassTypeFailed
	}
	if s.Err != nil {
		event.Error = s.Err.Error()
	}
	return event
}
