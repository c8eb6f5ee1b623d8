package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smukkama/campus-energy/internal/model"
)

// Memory is an in-memory Reader, typically loaded from a YAML file
type Memory struct {
	mu        sync.RWMutex
	spaces    []model.Space
	schedules map[scheduleKey][]model.ScheduleEntry
	sources   []model.EnergySource
	grid      []model.GridStatus
}

type scheduleKey struct {
	spaceID int64
	day     int
}

// NewMemory creates a Memory reader from plain collections
func NewMemory(spaces []model.Space, entries []model.ScheduleEntry, sources []model.EnergySource, grid []model.GridStatus) *Memory {
	m := &Memory{
		spaces:    append([]model.Space(nil), spaces...),
		schedules: make(map[scheduleKey][]model.ScheduleEntry),
		sources:   append([]model.EnergySource(nil), sources...),
		grid:      append([]model.GridStatus(nil), grid...),
	}
	for _, e := range entries {
		k := scheduleKey{spaceID: e.SpaceID, day: e.DayOfWeek}
		m.schedules[k] = append(m.schedules[k], e)
	}
	sort.Slice(m.spaces, func(i, j int) bool { return m.spaces[i].ID < m.spaces[j].ID })
	return m
}

// Spaces returns the spaces ordered by ID
func (m *Memory) Spaces(ctx context.Context) ([]model.Space, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Space(nil), m.spaces...), nil
}

// ScheduleEntries returns the entries for a space and day
func (m *Memory) ScheduleEntries(ctx context.Context, spaceID int64, dayOfWeek int) ([]model.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.ScheduleEntry(nil), m.schedules[scheduleKey{spaceID, dayOfWeek}]...), nil
}

// EnergySources returns the energy source catalog
func (m *Memory) EnergySources(ctx context.Context) ([]model.EnergySource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.EnergySource(nil), m.sources...), nil
}

// LatestGridStatus returns the most recent grid record by timestamp
func (m *Memory) LatestGridStatus(ctx context.Context) (*model.GridStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *model.GridStatus
	for i := range m.grid {
		if latest == nil || m.grid[i].Timestamp.After(latest.Timestamp) {
			latest = &m.grid[i]
		}
	}
	if latest == nil {
		return nil, nil
	}
	status := *latest
	return &status, nil
}

// RecordGridStatus appends a grid status record. Grid status is owned by an
// external collaborator; this exists for local runs and tests.
func (m *Memory) RecordGridStatus(status model.GridStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grid = append(m.grid, status)
}

// File is the YAML layout of a reference data file
type File struct {
	EnergySources []SourceSpec `yaml:"energy_sources"`
	GridStatus    []GridSpec   `yaml:"grid_status"`
	Spaces        []SpaceSpec  `yaml:"spaces"`
}

// SourceSpec describes one energy source
type SourceSpec struct {
	ID         int64   `yaml:"id"`
	Name       string  `yaml:"name"`
	CostPerKWh float64 `yaml:"cost_per_kwh"`
	Available  *bool   `yaml:"available"`
	Priority   int     `yaml:"priority"`
}

// GridSpec describes one grid status record
type GridSpec struct {
	Timestamp time.Time `yaml:"timestamp"`
	Available bool      `yaml:"available"`
	Reason    *string   `yaml:"reason,omitempty"`
}

// SpaceSpec describes one space and its weekly timetable
type SpaceSpec struct {
	ID         int64      `yaml:"id"`
	Name       string     `yaml:"name"`
	Type       string     `yaml:"type"`
	Capacity   int        `yaml:"capacity"`
	BaseLoadKW float64    `yaml:"base_load_kw"`
	Schedule   []SlotSpec `yaml:"schedule"`
}

// SlotSpec is a timetable slot repeated on each listed day
type SlotSpec struct {
	Days  []int  `yaml:"days"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// LoadFile reads a YAML reference data file
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML reference data. Inverted slots are kept as-is so the
// schedule oracle can report them.
func Parse(data []byte) (*Memory, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	sources := make([]model.EnergySource, 0, len(f.EnergySources))
	for i, s := range f.EnergySources {
		if s.Name == "" {
			return nil, fmt.Errorf("energy source %d: missing name", i)
		}
		id := s.ID
		if id == 0 {
			id = int64(i + 1)
		}
		available := true
		if s.Available != nil {
			available = *s.Available
		}
		sources = append(sources, model.EnergySource{
			ID:         id,
			Name:       s.Name,
			CostPerKWh: s.CostPerKWh,
			Available:  available,
			Priority:   s.Priority,
		})
	}

	grid := make([]model.GridStatus, 0, len(f.GridStatus))
	for _, g := range f.GridStatus {
		grid = append(grid, model.GridStatus{Timestamp: g.Timestamp, Available: g.Available, Reason: g.Reason})
	}

	var spaces []model.Space
	var entries []model.ScheduleEntry
	seen := make(map[int64]bool)
	for i, s := range f.Spaces {
		if s.ID == 0 {
			return nil, fmt.Errorf("space %d: missing id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("space %d: duplicate id", s.ID)
		}
		seen[s.ID] = true

		spaceType, err := model.ParseSpaceType(s.Type)
		if err != nil {
			return nil, fmt.Errorf("space %d: %w", s.ID, err)
		}
		spaces = append(spaces, model.Space{
			ID:         s.ID,
			Name:       s.Name,
			Type:       spaceType,
			Capacity:   s.Capacity,
			BaseLoadKW: s.BaseLoadKW,
		})

		for _, slot := range s.Schedule {
			start, err := model.ParseTimeOfDay(slot.Start)
			if err != nil {
				return nil, fmt.Errorf("space %d: %w", s.ID, err)
			}
			end, err := model.ParseTimeOfDay(slot.End)
			if err != nil {
				return nil, fmt.Errorf("space %d: %w", s.ID, err)
			}
			for _, day := range slot.Days {
				if day < 0 || day > 6 {
					return nil, fmt.Errorf("space %d: day of week %d out of range", s.ID, day)
				}
				entries = append(entries, model.ScheduleEntry{
					ID:        int64(len(entries) + 1),
					SpaceID:   s.ID,
					DayOfWeek: day,
					Start:     start,
					End:       end,
				})
			}
		}
	}

	return NewMemory(spaces, entries, sources, grid), nil
}
