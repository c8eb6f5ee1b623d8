package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/smukkama/campus-energy/internal/batch"
	"github.com/smukkama/campus-energy/internal/model"
)

// Postgres error codes treated as transient write contention
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

var readingColumns = []string{
	"space_id", "timestamp", "occupancy", "temperature",
	"base_load", "ac_load", "light_load", "equipment_load", "total_load",
	"energy_source_id", "optimized",
}

// CommitReadings appends one batch in a single short transaction using COPY.
// Lock waits are bounded by the connection's lock timeout so that a
// conflicting reader surfaces as a retryable contention error.
func (db *DB) CommitReadings(ctx context.Context, readings []model.EnergyReading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if db.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return classifyError(fmt.Errorf("failed to set lock timeout: %w", err))
		}
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("energy_readings", readingColumns...))
	if err != nil {
		return classifyError(fmt.Errorf("failed to prepare copy: %w", err))
	}

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx,
			r.SpaceID,
			r.Timestamp,
			r.Occupancy,
			r.Temperature,
			r.BaseLoad,
			r.ACLoad,
			r.LightLoad,
			r.EquipmentLoad,
			r.TotalLoad,
			r.SourceID,
			r.Optimized,
		); err != nil {
			stmt.Close()
			return classifyError(fmt.Errorf("failed to copy reading for space %d: %w", r.SpaceID, err))
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return classifyError(fmt.Errorf("failed to flush copy: %w", err))
	}
	if err := stmt.Close(); err != nil {
		return classifyError(fmt.Errorf("failed to close copy: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return classifyError(fmt.Errorf("failed to commit batch: %w", err))
	}
	return nil
}

// CountOptimized counts optimized readings in an optional time window
// (both bounds inclusive)
func (db *DB) CountOptimized(ctx context.Context, start, end *time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM energy_readings
		WHERE optimized = true
		  AND ($1::timestamptz IS NULL OR timestamp >= $1)
		  AND ($2::timestamptz IS NULL OR timestamp <= $2)
	`

	var count int64
	if err := db.QueryRowContext(ctx, query, nullTime(start), nullTime(end)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count optimized readings: %w", err)
	}
	return count, nil
}

// CountReadings counts readings between start and end inclusive
func (db *DB) CountReadings(ctx context.Context, start, end time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM energy_readings
		WHERE timestamp >= $1 AND timestamp <= $2
	`

	var count int64
	if err := db.QueryRowContext(ctx, query, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return count, nil
}

// latestTickQuery takes its denominator from the readings at the tick, so
// spaces skipped by that pass or added after it do not count
const latestTickQuery = `
	SELECT timestamp,
	       COUNT(*),
	       COUNT(*) FILTER (WHERE optimized),
	       COALESCE(SUM(total_load), 0)
	FROM energy_readings
	WHERE timestamp = (SELECT MAX(timestamp) FROM energy_readings)
	GROUP BY timestamp
`

// LatestTick summarizes the readings of the most recent tick timestamp
func (db *DB) LatestTick(ctx context.Context) (*TickStats, error) {
	var stats TickStats
	err := db.QueryRowContext(ctx, latestTickQuery).Scan(&stats.Timestamp, &stats.Readings, &stats.Optimized, &stats.TotalLoadKW)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest tick: %w", err)
	}
	return &stats, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// classifyError wraps lock and serialization failures in a
// batch.ContentionError; every other error is returned unchanged
func classifyError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return &batch.ContentionError{Code: string(pqErr.Code), Err: err}
	}
	return err
}
