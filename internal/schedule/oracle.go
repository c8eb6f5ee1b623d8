// Package schedule answers whether a space is booked by its weekly timetable.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smukkama/campus-energy/internal/catalog"
	"github.com/smukkama/campus-energy/internal/model"
)

// Oracle resolves timetable occupancy for a space at a timestamp
type Oracle struct {
	schedules catalog.ScheduleReader

	mu       sync.Mutex
	reported map[model.ScheduleEntry]struct{}
}

// NewOracle creates an oracle over a schedule repository
func NewOracle(schedules catalog.ScheduleReader) *Oracle {
	return &Oracle{
		schedules: schedules,
		reported:  make(map[model.ScheduleEntry]struct{}),
	}
}

// IsScheduled reports whether any entry for the space's weekday covers the
// time of day of ts. ts is evaluated in its own location. Overlapping entries
// are fine; inverted ones never match and are reported once.
func (o *Oracle) IsScheduled(ctx context.Context, spaceID int64, ts time.Time) (bool, error) {
	day := model.DayOfWeek(ts)
	tod := model.TimeOfDayOf(ts)

	entries, err := o.schedules.ScheduleEntries(ctx, spaceID, day)
	if err != nil {
		return false, fmt.Errorf("failed to load schedule for space %d: %w", spaceID, err)
	}

	scheduled := false
	for _, e := range entries {
		if !e.Valid() {
			o.reportMalformed(e)
			continue
		}
		if e.Covers(tod) {
			scheduled = true
		}
	}
	return scheduled, nil
}

func (o *Oracle) reportMalformed(e model.ScheduleEntry) {
	o.mu.Lock()
	_, seen := o.reported[e]
	if !seen {
		o.reported[e] = struct{}{}
	}
	o.mu.Unlock()

	if seen {
		return
	}
	logrus.WithFields(logrus.Fields{
		"entry_id": e.ID,
		"space_id": e.SpaceID,
		"day":      e.DayOfWeek,
		"start":    e.Start.String(),
		"end":      e.End.String(),
	}).Warn("Skipping malformed schedule entry (end before start)")
}
