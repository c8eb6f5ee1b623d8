// Package catalog defines the read-only reference data consumed by the
// simulation core. Provisioning, seeding and schema ownership live outside
// this module; implementations never mutate what they return.
package catalog

import (
	"context"

	"github.com/smukkama/campus-energy/internal/model"
)

// SpaceReader lists the monitored spaces
type SpaceReader interface {
	Spaces(ctx context.Context) ([]model.Space, error)
}

// ScheduleReader returns the timetable entries of one space on one day (0=Monday)
type ScheduleReader interface {
	ScheduleEntries(ctx context.Context, spaceID int64, dayOfWeek int) ([]model.ScheduleEntry, error)
}

// SourceReader lists the energy source catalog
type SourceReader interface {
	EnergySources(ctx context.Context) ([]model.EnergySource, error)
}

// GridStatusReader returns the latest grid status record, or nil when none exists
type GridStatusReader interface {
	LatestGridStatus(ctx context.Context) (*model.GridStatus, error)
}

// Reader bundles every reference data lookup a simulation pass needs
type Reader interface {
	SpaceReader
	ScheduleReader
	SourceReader
	GridStatusReader
}
