// Package database is the Postgres implementation of the reference data
// repositories and of the append-only energy_readings log.
//
// Tables are owned and migrated outside this module:
//
//	spaces(id, name, type, capacity, base_load_kw)
//	schedule_entries(id, space_id, day_of_week, start_time, end_time)
//	energy_sources(id, name, cost_per_kwh, is_available, priority)
//	grid_status(id, timestamp, grid_available, reason)
//	energy_readings(id, space_id, timestamp, occupancy, temperature, base_load,
//	    ac_load, light_load, equipment_load, total_load, energy_source_id,
//	    optimized, UNIQUE (space_id, timestamp))
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/campus-energy/internal/model"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
	lockTimeout time.Duration
}

// Connect establishes a connection to the database. lockTimeout bounds how
// long a batch commit waits on a conflicting lock before failing with
// contention.
func Connect(connectionString string, lockTimeout time.Duration) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Single logical writer plus short catalog reads
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &DB{DB: db, lockTimeout: lockTimeout}, nil
}

// Spaces retrieves every monitored space ordered by id. Rows with an
// unknown type are skipped.
func (db *DB) Spaces(ctx context.Context) ([]model.Space, error) {
	query := `
		SELECT id, name, type, capacity, base_load_kw
		FROM spaces
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spaces []model.Space
	for rows.Next() {
		var s model.Space
		var rawType string
		if err := rows.Scan(&s.ID, &s.Name, &rawType, &s.Capacity, &s.BaseLoadKW); err != nil {
			return nil, err
		}
		spaceType, err := model.ParseSpaceType(rawType)
		if err != nil {
			logrus.WithField("space_id", s.ID).WithError(err).Warn("Skipping space with unknown type")
			continue
		}
		s.Type = spaceType
		spaces = append(spaces, s)
	}

	return spaces, rows.Err()
}

// ScheduleEntries retrieves the timetable of a space for one day (0=Monday)
func (db *DB) ScheduleEntries(ctx context.Context, spaceID int64, dayOfWeek int) ([]model.ScheduleEntry, error) {
	query := `
		SELECT id, space_id, day_of_week, start_time::text, end_time::text
		FROM schedule_entries
		WHERE space_id = $1 AND day_of_week = $2
		ORDER BY start_time
	`

	rows, err := db.QueryContext(ctx, query, spaceID, dayOfWeek)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raw []scheduleRow
	for rows.Next() {
		var r scheduleRow
		if err := rows.Scan(&r.id, &r.spaceID, &r.day, &r.start, &r.end); err != nil {
			return nil, err
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return parseScheduleRows(raw), nil
}

// scheduleRow is a schedule_entries row with its times still as text
type scheduleRow struct {
	id, spaceID int64
	day         int
	start, end  string
}

// parseScheduleRows converts rows to entries. A row whose times do not
// parse is logged and skipped so it never aborts the lookup.
func parseScheduleRows(rows []scheduleRow) []model.ScheduleEntry {
	entries := make([]model.ScheduleEntry, 0, len(rows))
	for _, r := range rows {
		start, errStart := model.ParseTimeOfDay(r.start)
		end, errEnd := model.ParseTimeOfDay(r.end)
		if errStart != nil || errEnd != nil {
			logrus.WithFields(logrus.Fields{
				"entry_id": r.id,
				"space_id": r.spaceID,
				"start":    r.start,
				"end":      r.end,
			}).Warn("Skipping schedule entry with unparsable times")
			continue
		}
		entries = append(entries, model.ScheduleEntry{
			ID:        r.id,
			SpaceID:   r.spaceID,
			DayOfWeek: r.day,
			Start:     start,
			End:       end,
		})
	}
	return entries
}

// EnergySources retrieves the energy source catalog
func (db *DB) EnergySources(ctx context.Context) ([]model.EnergySource, error) {
	query := `
		SELECT id, name, cost_per_kwh, is_available, priority
		FROM energy_sources
		ORDER BY priority, id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []model.EnergySource
	for rows.Next() {
		var s model.EnergySource
		if err := rows.Scan(&s.ID, &s.Name, &s.CostPerKWh, &s.Available, &s.Priority); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}

	return sources, rows.Err()
}

// LatestGridStatus retrieves the most recent grid status record
func (db *DB) LatestGridStatus(ctx context.Context) (*model.GridStatus, error) {
	query := `
		SELECT timestamp, grid_available, reason
		FROM grid_status
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var status model.GridStatus
	var reason sql.NullString
	err := db.QueryRowContext(ctx, query).Scan(&status.Timestamp, &status.Available, &reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		status.Reason = &reason.String
	}

	return &status, nil
}
