// Package aggregation derives savings and optimization status figures from
// the append-only reading log.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smukkama/campus-energy/internal/database"
	"github.com/smukkama/campus-energy/internal/model"
)

// ErrNoData is returned by Status when no reading has been appended yet
var ErrNoData = errors.New("no readings recorded")

// SavingsConfig holds the empirical constants of the savings estimate
type SavingsConfig struct {
	KWPerOptimization float64
	CostPerKWh        float64
	CO2KgPerKWh       float64
	// ReadingInterval is the time one reading stands for
	ReadingInterval time.Duration
}

// DefaultSavingsConfig matches the historical campus figures: 1.5 kW saved
// per optimized one-minute reading, 8.0 per kWh and 0.82 kg CO2 per kWh
func DefaultSavingsConfig() SavingsConfig {
	return SavingsConfig{
		KWPerOptimization: 1.5,
		CostPerKWh:        8.0,
		CO2KgPerKWh:       0.82,
		ReadingInterval:   time.Minute,
	}
}

// ReadingLog is the read side of the reading log used for reporting
type ReadingLog interface {
	CountOptimized(ctx context.Context, start, end *time.Time) (int64, error)
	LatestTick(ctx context.Context) (*database.TickStats, error)
}

// SavingsSummary estimates what the optimizer avoided over a window
type SavingsSummary struct {
	Start              *time.Time
	End                *time.Time
	TotalOptimizations int64
	EnergySavedKWh     float64
	CostSaved          float64
	CO2ReducedKg       float64
}

// OptimizationStatus describes the most recent tick
type OptimizationStatus struct {
	Timestamp        time.Time
	TotalSpaces      int64
	Optimized        int64
	NotOptimized     int64
	OptimizationRate float64 // percent
	TotalLoadKW      float64
}

// SavingsEstimator computes reports over a ReadingLog
type SavingsEstimator struct {
	log ReadingLog
	cfg SavingsConfig
}

// NewSavingsEstimator creates a new estimator
func NewSavingsEstimator(log ReadingLog, cfg SavingsConfig) *SavingsEstimator {
	return &SavingsEstimator{log: log, cfg: cfg}
}

// Summary counts optimized readings in [start, end] (either bound may be
// nil) and converts the count with the configured constants. It is an
// approximation, not a sum of per-reading deltas.
func (s *SavingsEstimator) Summary(ctx context.Context, start, end *time.Time) (*SavingsSummary, error) {
	count, err := s.log.CountOptimized(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count optimizations: %w", err)
	}

	energy := float64(count) * s.cfg.KWPerOptimization * s.cfg.ReadingInterval.Hours()
	return &SavingsSummary{
		Start:              start,
		End:                end,
		TotalOptimizations: count,
		EnergySavedKWh:     model.Round2(energy),
		CostSaved:          model.Round2(energy * s.cfg.CostPerKWh),
		CO2ReducedKg:       model.Round2(energy * s.cfg.CO2KgPerKWh),
	}, nil
}

// Status reports optimization coverage of the latest tick
func (s *SavingsEstimator) Status(ctx context.Context) (*OptimizationStatus, error) {
	tick, err := s.log.LatestTick(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest tick: %w", err)
	}
	if tick == nil {
		return nil, ErrNoData
	}

	status := &OptimizationStatus{
		Timestamp:    tick.Timestamp,
		TotalSpaces:  tick.Readings,
		Optimized:    tick.Optimized,
		NotOptimized: tick.Readings - tick.Optimized,
		TotalLoadKW:  model.Round2(tick.TotalLoadKW),
	}
	if status.NotOptimized < 0 {
		status.NotOptimized = 0
	}
	if tick.Readings > 0 {
		status.OptimizationRate = model.Round2(float64(tick.Optimized) / float64(tick.Readings) * 100)
	}
	return status, nil
}
