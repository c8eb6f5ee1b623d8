// Package model holds the reference data read by the simulation core and the
// EnergyReading records it appends.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SpaceType classifies a monitored space
type SpaceType string

const (
	SpaceClassroom  SpaceType = "classroom"
	SpaceLab        SpaceType = "lab"
	SpaceStaff      SpaceType = "staff"
	SpaceSmartClass SpaceType = "smart_class"
)

// ParseSpaceType accepts the canonical names plus the spellings found in
// older campus catalogs ("Smart_Class", "smart-class").
func ParseSpaceType(s string) (SpaceType, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "classroom":
		return SpaceClassroom, nil
	case "lab":
		return SpaceLab, nil
	case "staff":
		return SpaceStaff, nil
	case "smart_class":
		return SpaceSmartClass, nil
	default:
		return "", fmt.Errorf("unknown space type %q", s)
	}
}

// Space represents a monitored room
type Space struct {
	ID         int64
	Name       string
	Type       SpaceType
	Capacity   int
	BaseLoadKW float64
}

// TimeOfDay is an offset from local midnight
type TimeOfDay time.Duration

// EndOfDay is 24:00, the latest possible slot end
const EndOfDay = TimeOfDay(24 * time.Hour)

// NewTimeOfDay builds a TimeOfDay from wall-clock components
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + time.Duration(second)*time.Second)
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS". "24:00[:00]" is the end of
// the day, as in Postgres.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var hour, minute, second int
	n, _ := fmt.Sscanf(s, "%d:%d:%d", &hour, &minute, &second)
	if n < 2 {
		return 0, fmt.Errorf("invalid time of day: %s (expected HH:MM[:SS])", s)
	}
	if hour == 24 && minute == 0 && second == 0 {
		return EndOfDay, nil
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, fmt.Errorf("time of day out of range: %s", s)
	}
	return NewTimeOfDay(hour, minute, second), nil
}

// TimeOfDayOf returns the wall-clock offset of t in its own location
func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second()) + TimeOfDay(t.Nanosecond())
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// DayOfWeek returns 0 for Monday through 6 for Sunday
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// ScheduleEntry is one timetable slot. Both bounds are inclusive.
type ScheduleEntry struct {
	ID        int64
	SpaceID   int64
	DayOfWeek int
	Start     TimeOfDay
	End       TimeOfDay
}

// Valid reports whether the entry describes a non-empty interval
func (e ScheduleEntry) Valid() bool {
	return e.End >= e.Start && e.DayOfWeek >= 0 && e.DayOfWeek <= 6
}

// Covers reports whether tod falls inside the entry
func (e ScheduleEntry) Covers(tod TimeOfDay) bool {
	return e.Valid() && e.Start <= tod && tod <= e.End
}

// Well-known energy source names
const (
	SourceGrid   = "grid"
	SourceSolar  = "solar"
	SourceDiesel = "diesel"
)

// EnergySource is one entry of the energy source catalog
type EnergySource struct {
	ID         int64
	Name       string
	CostPerKWh float64
	Available  bool
	Priority   int
}

// SourceCatalog indexes energy sources by name
type SourceCatalog struct {
	byName map[string]EnergySource
}

// NewSourceCatalog builds a catalog; later duplicates of a name replace earlier ones
func NewSourceCatalog(sources []EnergySource) SourceCatalog {
	byName := make(map[string]EnergySource, len(sources))
	for _, s := range sources {
		byName[s.Name] = s
	}
	return SourceCatalog{byName: byName}
}

// Lookup returns the source registered under name
func (c SourceCatalog) Lookup(name string) (EnergySource, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// Len returns the number of sources in the catalog
func (c SourceCatalog) Len() int {
	return len(c.byName)
}

// GridStatus is a grid availability record. The latest one is authoritative.
type GridStatus struct {
	Timestamp time.Time
	Available bool
	Reason    *string
}

// EnergyReading is one appended record for a space at a tick
type EnergyReading struct {
	SpaceID       int64
	Timestamp     time.Time
	Occupancy     bool
	Temperature   float64
	BaseLoad      float64
	ACLoad        float64
	LightLoad     float64
	EquipmentLoad float64
	TotalLoad     float64
	SourceID      int64
	SourceName    string
	Optimized     bool
}

// RecomputeTotal sets TotalLoad to the rounded sum of the load components
func (r *EnergyReading) RecomputeTotal() {
	r.TotalLoad = Round2(r.BaseLoad + r.ACLoad + r.LightLoad + r.EquipmentLoad)
}

// Round2 rounds to two decimals
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round1 rounds to one decimal
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
