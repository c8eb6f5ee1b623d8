// Package batch buffers energy readings and commits them to the append-only
// log in bounded batches, retrying on write contention.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smukkama/campus-energy/internal/model"
)

// DefaultBatchSize is the number of readings committed per batch
const DefaultBatchSize = 100

// ErrWriterFailed is returned by Append and Flush after a batch failed fatally
var ErrWriterFailed = errors.New("batch writer failed")

// Committer durably appends one batch as a single unit
type Committer interface {
	CommitReadings(ctx context.Context, readings []model.EnergyReading) error
}

// Options configures a Writer
type Options struct {
	BatchSize int
	Retry     RetryPolicy

	// OnCommit runs after each batch is durably committed
	OnCommit func(ctx context.Context, committed []model.EnergyReading)
	// OnRetry runs before each backoff wait
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep waits between attempts; defaults to a timer
	Sleep func(ctx context.Context, d time.Duration) error
}

// Stats counts what a Writer has committed
type Stats struct {
	BatchesCommitted  int
	ReadingsCommitted int
	Retries           int
}

// Writer buffers readings for one pass. It is not reused across passes.
type Writer struct {
	committer Committer
	opts      Options

	mu     sync.Mutex
	batch  []model.EnergyReading
	stats  Stats
	failed error
}

// NewBatchWriter creates a writer committing through committer
func NewBatchWriter(committer Committer, opts Options) *Writer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Writer{
		committer: committer,
		opts:      opts,
		batch:     make([]model.EnergyReading, 0, opts.BatchSize),
	}
}

// Append buffers a fully computed reading and flushes when the batch is full
func (w *Writer) Append(ctx context.Context, r model.EnergyReading) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failed != nil {
		return fmt.Errorf("%w: %v", ErrWriterFailed, w.failed)
	}
	w.batch = append(w.batch, r)
	if len(w.batch) >= w.opts.BatchSize {
		return w.flush(ctx)
	}
	return nil
}

// Flush commits whatever is buffered. It must be called at the end of a pass.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failed != nil {
		return fmt.Errorf("%w: %v", ErrWriterFailed, w.failed)
	}
	return w.flush(ctx)
}

// Pending returns the number of buffered, uncommitted readings
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batch)
}

// Stats returns commit counters
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// flush runs detached from cancellation: a shutdown signal never interrupts
// a batch between its first attempt and its outcome.
func (w *Writer) flush(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	batch := w.batch
	maxAttempts := w.opts.Retry.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		err := w.committer.CommitReadings(ctx, batch)
		if err == nil {
			w.stats.BatchesCommitted++
			w.stats.ReadingsCommitted += len(batch)
			logrus.WithFields(logrus.Fields{
				"readings": len(batch),
				"attempt":  attempt,
				"elapsed":  time.Since(start).String(),
			}).Debug("Committed batch")

			w.batch = make([]model.EnergyReading, 0, w.opts.BatchSize)
			if w.opts.OnCommit != nil {
				w.opts.OnCommit(ctx, batch)
			}
			return nil
		}

		lastErr = err
		if !IsContention(err) {
			w.failed = err
			return fmt.Errorf("failed to commit batch of %d readings: %w", len(batch), err)
		}
		if attempt == maxAttempts {
			break
		}

		delay := w.opts.Retry.Delay(attempt)
		w.stats.Retries++
		logrus.WithFields(logrus.Fields{
			"readings": len(batch),
			"attempt":  attempt,
			"delay":    delay.String(),
		}).WithError(err).Warn("Batch commit hit contention, retrying")
		if w.opts.OnRetry != nil {
			w.opts.OnRetry(attempt, delay, err)
		}
		if err := w.opts.Sleep(ctx, delay); err != nil {
			w.failed = err
			return fmt.Errorf("backoff interrupted: %w", err)
		}
	}

	w.failed = fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, maxAttempts, lastErr)
	return fmt.Errorf("failed to commit batch of %d readings: %w", len(batch), w.failed)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
