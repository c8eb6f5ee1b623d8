package tick

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/campus-energy/internal/batch"
	"github.com/smukkama/campus-energy/internal/catalog"
	"github.com/smukkama/campus-energy/internal/energy"
	"github.com/smukkama/campus-energy/internal/metrics"
	"github.com/smukkama/campus-energy/internal/model"
	"github.com/smukkama/campus-energy/internal/protocol"
	"github.com/smukkama/campus-energy/internal/schedule"
	"github.com/smukkama/campus-energy/internal/simulation"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.ErrorLevel)
	}
	os.Exit(m.Run())
}

// fakeCommitter records committed batches. failures maps a 1-based call
// number to the error that call returns.
type fakeCommitter struct {
	mu       sync.Mutex
	calls    int
	failures map[int]error
	batches  [][]model.EnergyReading
	// entered and release, when set, block the first call
	entered chan struct{}
	release chan struct{}
}

func (f *fakeCommitter) CommitReadings(ctx context.Context, readings []model.EnergyReading) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if call == 1 && entered != nil {
		close(entered)
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[call]; ok {
		return err
	}
	f.batches = append(f.batches, append([]model.EnergyReading(nil), readings...))
	return nil
}

func (f *fakeCommitter) readings() []model.EnergyReading {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.EnergyReading
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func (f *fakeCommitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func contention() error {
	return &batch.ContentionError{Code: "55P03", Err: errors.New("lock not available")}
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func allSources() []model.EnergySource {
	return []model.EnergySource{
		{ID: 1, Name: model.SourceGrid, CostPerKWh: 8, Available: true, Priority: 1},
		{ID: 2, Name: model.SourceSolar, CostPerKWh: 0, Available: true, Priority: 2},
		{ID: 3, Name: model.SourceDiesel, CostPerKWh: 25, Available: true, Priority: 3},
	}
}

var spaceTypes = []model.SpaceType{model.SpaceClassroom, model.SpaceLab, model.SpaceStaff, model.SpaceSmartClass}

// campus builds n spaces cycling through the types, each scheduled on
// weekdays from 09:00 to 12:59
func campus(n int) ([]model.Space, []model.ScheduleEntry) {
	spaces := make([]model.Space, 0, n)
	var entries []model.ScheduleEntry
	for i := 1; i <= n; i++ {
		spaces = append(spaces, model.Space{
			ID:         int64(i),
			Name:       fmt.Sprintf("R%03d", i),
			Type:       spaceTypes[(i-1)%len(spaceTypes)],
			Capacity:   40,
			BaseLoadKW: 0.5,
		})
		for day := 0; day < 5; day++ {
			entries = append(entries, model.ScheduleEntry{
				ID:        int64(i*10 + day),
				SpaceID:   int64(i),
				DayOfWeek: day,
				Start:     model.NewTimeOfDay(9, 0, 0),
				End:       model.NewTimeOfDay(12, 59, 0),
			})
		}
	}
	return spaces, entries
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	return cfg
}

// Monday 2026-10-12
var monday11 = time.Date(2026, 10, 12, 11, 0, 0, 0, time.UTC)

func TestRunPass_Complete(t *testing.T) {
	spaces, entries := campus(8)
	reader := catalog.NewMemory(spaces, entries, allSources(), nil)
	committer := &fakeCommitter{}

	d := NewDriver(reader, committer, simulation.NewRNG(7), testConfig())
	summary := d.RunPass(context.Background(), monday11)

	require.NoError(t, summary.Err)
	assert.Equal(t, StatusComplete, summary.Status)
	assert.NotEmpty(t, summary.ID)
	assert.Equal(t, 8, summary.ReadingsCreated)
	assert.Equal(t, 1, summary.BatchesCommitted)

	readings := committer.readings()
	require.Len(t, readings, 8)
	optimized := 0
	for i, r := range readings {
		assert.Equal(t, spaces[i].ID, r.SpaceID, "one reading per space in catalog order")
		assert.Equal(t, monday11, r.Timestamp)
		assert.True(t, r.Occupancy, "scheduled spaces are occupied")
		if r.Optimized {
			optimized++
		}
	}
	assert.Equal(t, optimized, summary.ReadingsOptimized)
}

func TestRunPass_Deterministic(t *testing.T) {
	spaces, entries := campus(12)

	run := func() []model.EnergyReading {
		reader := catalog.NewMemory(spaces, entries, allSources(), nil)
		committer := &fakeCommitter{}
		d := NewDriver(reader, committer, simulation.NewRNG(42), testConfig())
		for h := 0; h < 24; h++ {
			d.RunPass(context.Background(), monday11.Truncate(24*time.Hour).Add(time.Duration(h)*time.Hour))
		}
		return committer.readings()
	}

	first, second := run(), run()
	require.Len(t, first, 12*24)
	assert.Equal(t, first, second)
}

func TestRunPass_ReadingInvariants(t *testing.T) {
	spaces, entries := campus(16)
	reader := catalog.NewMemory(spaces, entries, allSources(), nil)
	committer := &fakeCommitter{}
	d := NewDriver(reader, committer, simulation.NewRNG(3), testConfig())

	start := monday11.Truncate(24 * time.Hour)
	for h := 0; h < 48; h++ {
		d.RunPass(context.Background(), start.Add(time.Duration(h)*time.Hour))
	}

	oracle := schedule.NewOracle(reader)
	byID := make(map[int64]model.Space)
	for _, s := range spaces {
		byID[s.ID] = s
	}

	readings := committer.readings()
	require.Len(t, readings, 16*48)
	for _, r := range readings {
		space := byID[r.SpaceID]
		scheduled, err := oracle.IsScheduled(context.Background(), r.SpaceID, r.Timestamp)
		require.NoError(t, err)

		assert.Equal(t, model.Round2(r.BaseLoad+r.ACLoad+r.LightLoad+r.EquipmentLoad), r.TotalLoad)
		if scheduled {
			assert.True(t, r.Occupancy)
		}
		if !scheduled && !r.Occupancy {
			assert.Equal(t, 0.0, r.ACLoad)
			assert.Equal(t, 0.05, r.LightLoad)
			assert.True(t, r.Optimized)
		}
		hour := r.Timestamp.Hour()
		peak := hour >= 10 && hour < 15
		if peak && (space.Type == model.SpaceClassroom || space.Type == model.SpaceSmartClass) {
			// grid is available, so the selector chose grid and the optimizer moved it
			assert.Equal(t, model.SourceSolar, r.SourceName)
			assert.True(t, r.Optimized)
		}
	}
}

func TestRunPass_CatalogUnavailable(t *testing.T) {
	spaces, entries := campus(5)
	reader := catalog.NewMemory(spaces, entries, nil, nil)
	committer := &fakeCommitter{}

	d := NewDriver(reader, committer, simulation.NewRNG(1), testConfig())
	summary := d.RunPass(context.Background(), monday11)

	assert.Equal(t, StatusCatalogUnavailable, summary.Status)
	assert.ErrorIs(t, summary.Err, energy.ErrCatalogUnavailable)
	assert.Equal(t, 0, summary.ReadingsCreated)
	assert.Equal(t, 0, summary.ReadingsOptimized)
	assert.Equal(t, 5, summary.SpacesSkipped)
	assert.Equal(t, 0, committer.callCount())
}

func TestRunPass_MissingSourceSkipsSpace(t *testing.T) {
	spaces, entries := campus(4)
	down := model.GridStatus{Timestamp: monday11.Add(-time.Hour), Available: false}
	// diesel is missing, so labs and smart classes cannot be served
	sources := allSources()[:2]
	reader := catalog.NewMemory(spaces, entries, sources, []model.GridStatus{down})
	committer := &fakeCommitter{}

	d := NewDriver(reader, committer, simulation.NewRNG(1), testConfig())
	summary := d.RunPass(context.Background(), monday11)

	assert.Equal(t, StatusComplete, summary.Status)
	assert.Equal(t, 2, summary.SpacesSkipped)
	assert.Equal(t, 2, summary.ReadingsCreated)
	for _, r := range committer.readings() {
		assert.Equal(t, model.SourceSolar, r.SourceName)
		assert.Contains(t, []int64{1, 3}, r.SpaceID)
	}
}

func TestRunPass_LatestGridStatusWins(t *testing.T) {
	spaces, entries := campus(2)
	grid := []model.GridStatus{
		{Timestamp: monday11.Add(-2 * time.Hour), Available: true},
		{Timestamp: monday11.Add(-time.Hour), Available: false},
	}
	reader := catalog.NewMemory(spaces, entries, allSources(), grid)
	committer := &fakeCommitter{}

	d := NewDriver(reader, committer, simulation.NewRNG(1), testConfig())
	d.RunPass(context.Background(), monday11.Add(5*time.Hour))

	readings := committer.readings()
	require.Len(t, readings, 2)
	assert.Equal(t, model.SourceSolar, readings[0].SourceName)  // classroom
	assert.Equal(t, model.SourceDiesel, readings[1].SourceName) // lab
}

func TestRunPass_ContentionOnFinalBatch(t *testing.T) {
	spaces, entries := campus(250)
	reader := catalog.NewMemory(spaces, entries, allSources(), nil)
	// Calls 3 and 4 are attempts 1 and 2 of the third batch
	committer := &fakeCommitter{failures: map[int]error{3: contention(), 4: contention()}}

	d := NewDriver(reader, committer, simulation.NewRNG(9), testConfig(), WithSleep(noSleep))
	summary := d.RunPass(context.Background(), monday11)

	require.NoError(t, summary.Err)
	assert.Equal(t, StatusComplete, summary.Status)
	assert.Equal(t, 250, summary.ReadingsCreated)
	assert.Equal(t, 3, summary.BatchesCommitted)
	assert.Equal(t, 2, summary.Retries)
	assert.Equal(t, 5, committer.callCount())

	require.Len(t, committer.batches, 3)
	assert.Len(t, committer.batches[0], 100)
	assert.Len(t, committer.batches[1], 100)
	assert.Len(t, committer.batches[2], 50)
	assert.Equal(t, int64(201), committer.batches[2][0].SpaceID)
}

func TestRunPass_FatalBatchKeepsPriorCommits(t *testing.T) {
	spaces, entries := campus(250)
	reader := catalog.NewMemory(spaces, entries, allSources(), nil)
	committer := &fakeCommitter{failures: map[int]error{2: errors.New("disk full")}}

	d := NewDriver(reader, committer, simulation.NewRNG(9), testConfig(), WithSleep(noSleep))
	summary := d.RunPass(context.Background(), monday11)

	assert.Equal(t, StatusFailed, summary.Status)
	assert.Error(t, summary.Err)
	assert.Equal(t, 100, summary.ReadingsCreated)
	assert.Equal(t, 1, summary.BatchesCommitted)
	assert.Equal(t, 2, committer.callCount(), "no batch is attempted after a fatal one")

	// The next tick still runs
	committer.failures = nil
	next := d.RunPass(context.Background(), monday11.Add(time.Minute))
	assert.Equal(t, StatusComplete, next.Status)
}

func TestRunPass_RetriesExhausted(t *testing.T) {
	spaces, entries := campus(3)
	reader := catalog.NewMemory(spaces, entries, allSources(), nil)
	committer := &fakeCommitter{failures: map[int]error{1: contention(), 2: contention(), 3: contention()}}

	d := NewDriver(reader, committer, simulation.NewRNG(9), testConfig(), WithSleep(noSleep))
	summary := d.RunPass(context.Background(), monday11)

	assert.Equal(t, StatusFailed, summary.Status)
	assert.ErrorIs(t, summary.Err, batch.ErrRetriesExhausted)
	assert.Equal(t, 0, summary.ReadingsCreated)
}

func TestRunPass_OverlappingTickIsSkipped(t *testing.T) {
	spaces, entries := campus(3)
	reader := catalog.NewMemory(spaces, entries, allSources(), nil)
	committer := &fakeCommitter{entered: make(chan struct{}), release: make(chan struct{})}
	d := NewDriver(reader, committer, simulation.NewRNG(1), testConfig())

	done := make(chan PassSummary)
	go func() { done <- d.RunPass(context.Background(), monday11) }()
	<-committer.entered

	skipped := d.RunPass(context.Background(), monday11.Add(time.Minute))
	assert.Equal(t, StatusSkipped, skipped.Status)
	assert.ErrorIs(t, skipped.Err, ErrPassInFlight)

	close(committer.release)
	first := <-done
	assert.Equal(t, StatusComplete, first.Status)
	assert.Len(t, committer.readings(), 3, "the skipped tick appended nothing")
}

func TestRunPass_CancelledContextStillCommits(t *testing.T) {
	spaces, entries := campus(3)
	reader := catalog.NewMemory(spaces, entries, allSources(), nil)
	committer := &fakeCommitter{}
	d := NewDriver(reader, committer, simulation.NewRNG(1), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := d.RunPass(ctx, monday11)

	assert.Equal(t, StatusComplete, summary.Status)
	assert.Len(t, committer.readings(), 3)
}

type fakeLease struct {
	held     bool
	err      error
	released []string
}

func (l *fakeLease) AcquireLease(ctx context.Context) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	return "token-1", true, nil
}

func (l *fakeLease) ReleaseLease(ctx context.Context, token string) error {
	l.released = append(l.released, token)
	return nil
}

func TestRunPass_Lease(t *testing.T) {
	spaces, entries := campus(2)
	reader := catalog.NewMemory(spaces, entries, allSources(), nil)

	t.Run("held elsewhere", func(t *testing.T) {
		committer := &fakeCommitter{}
		d := NewDriver(reader, committer, simulation.NewRNG(1), testConfig(), WithLease(&fakeLease{held: true}))

		summary := d.RunPass(context.Background(), monday11)
		assert.Equal(t, StatusSkipped, summary.Status)
		assert.ErrorIs(t, summary.Err, ErrLeaseHeld)
		assert.Equal(t, 0, committer.callCount())
	})

	t.Run("released after pass", func(t *testing.T) {
		lease := &fakeLease{}
		d := NewDriver(reader, &fakeCommitter{}, simulation.NewRNG(1), testConfig(), WithLease(lease))

		summary := d.RunPass(context.Background(), monday11)
		assert.Equal(t, StatusComplete, summary.Status)
		assert.Equal(t, []string{"token-1"}, lease.released)
	})

	t.Run("lease store down", func(t *testing.T) {
		committer := &fakeCommitter{}
		d := NewDriver(reader, committer, simulation.NewRNG(1), testConfig(), WithLease(&fakeLease{err: errors.New("connection refused")}))

		summary := d.RunPass(context.Background(), monday11)
		assert.Equal(t, StatusFailed, summary.Status)
		assert.Equal(t, 0, committer.callCount())
	})
}

type recordingPublisher struct {
	mu       sync.Mutex
	batches  map[string]int
	passes   []*protocol.PassEvent
	failWith error
}

func (p *recordingPublisher) PublishReadings(ctx context.Context, passID string, readings []model.EnergyReading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.batches == nil {
		p.batches = make(map[string]int)
	}
	p.batches[passID] += len(readings)
	return p.failWith
}

func (p *recordingPublisher) PublishPass(ctx context.Context, event *protocol.PassEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passes = append(p.passes, event)
	return p.failWith
}

func TestRunPass_Publishes(t *testing.T) {
	spaces, entries := campus(5)
	reader := catalog.NewMemory(spaces, entries, allSources(), nil)
	pub := &recordingPublisher{}
	cfg := testConfig()
	cfg.BatchSize = 2

	d := NewDriver(reader, &fakeCommitter{}, simulation.NewRNG(1), cfg,
		WithReadingPublisher(pub), WithPassPublisher(pub))
	summary := d.RunPass(context.Background(), monday11)

	assert.Equal(t, 5, pub.batches[summary.ID])
	require.Len(t, pub.passes, 1)
	event := pub.passes[0]
	assert.Equal(t, protocol.PassTypeComplete, event.Type)
	assert.Equal(t, summary.ID, event.PassID)
	assert.Equal(t, 3, event.BatchesCommitted)
	assert.Empty(t, event.Error)
}

func TestRunPass_PublishFailureDoesNotFailPass(t *testing.T) {
	spaces, entries := campus(2)
	reader := catalog.NewMemory(spaces, entries, allSources(), nil)
	pub := &recordingPublisher{failWith: errors.New("broker down")}

	d := NewDriver(reader, &fakeCommitter{}, simulation.NewRNG(1), testConfig(),
		WithReadingPublisher(pub), WithPassPublisher(pub))
	summary := d.RunPass(context.Background(), monday11)

	assert.Equal(t, StatusComplete, summary.Status)
}

func TestRunPass_Metrics(t *testing.T) {
	spaces, entries := campus(4)
	reader := catalog.NewMemory(spaces, entries, allSources(), nil)
	m := metrics.New(prometheus.NewRegistry())
	committer := &fakeCommitter{failures: map[int]error{1: contention()}}

	d := NewDriver(reader, committer, simulation.NewRNG(1), testConfig(), WithMetrics(m), WithSleep(noSleep))
	d.RunPass(context.Background(), monday11)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Passes.WithLabelValues(string(StatusComplete))))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Readings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Batches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitRetries))
	// classroom and smart class move to solar at 11:00
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Optimized.WithLabelValues("peak_solar")))
	assert.Equal(t, float64(monday11.Unix()), testutil.ToFloat64(m.LastTick))
}

func TestPassSummary_Event(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusComplete, protocol.PassTypeComplete},
		{StatusFailed, protocol.PassTypeFailed},
		{StatusSkipped, protocol.PassTypeSkipped},
		{StatusCatalogUnavailable, protocol.PassTypeCatalogUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			event := PassSummary{ID: "p", Status: tt.status, Err: ErrPassInFlight}.Event()
			assert.Equal(t, tt.want, event.Type)
			assert.Equal(t, ErrPassInFlight.Error(), event.Error)
		})
	}
}

func TestRunPass_NoSpacesIsCompleteNotCatalogUnavailable(t *testing.T) {
	reader := catalog.NewMemory(nil, nil, allSources(), nil)
	committer := &fakeCommitter{}

	d := NewDriver(reader, committer, simulation.NewRNG(1), testConfig())
	summary := d.RunPass(context.Background(), monday11)

	require.NoError(t, summary.Err)
	assert.Equal(t, StatusComplete, summary.Status)
	assert.Equal(t, 0, summary.ReadingsCreated)
	assert.Equal(t, 0, summary.SpacesSkipped)
	assert.Equal(t, protocol.PassTypeComplete, summary.Event().Type)
	assert.Equal(t, 0, committer.callCount(), "an empty flush commits nothing")

	empty := NewDriver(catalog.NewMemory(nil, nil, nil, nil), committer, simulation.NewRNG(1), testConfig()).
		RunPass(context.Background(), monday11)
	assert.Equal(t, StatusCatalogUnavailable, empty.Status)
	assert.NotEqual(t, summary.Event().Type, empty.Event().Type)
}

func TestStop_CancelsArmedTick(t *testing.T) {
	committer := &fakeCommitter{}
	cfg := testConfig()
	cfg.Interval = time.Hour
	spaces, entries := campus(1)
	d := NewDriver(catalog.NewMemory(spaces, entries, allSources(), nil), committer, simulation.NewRNG(1), cfg)

	d.Start(context.Background())
	require.Equal(t, 1, d.timers.Stats().ScheduledTasks)
	d.Stop()

	assert.Equal(t, 0, d.timers.Stats().ScheduledTasks)
	assert.Equal(t, 0, committer.callCount())
}
