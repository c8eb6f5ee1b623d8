package batch

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/campus-energy/internal/model"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.ErrorLevel)
	}
	os.Exit(m.Run())
}

// mockCommitter records committed batches; failures maps a 1-based commit
// call number to the error it returns
type mockCommitter struct {
	mu        sync.Mutex
	calls     int
	failures  map[int]error
	committed [][]model.EnergyReading
}

func (m *mockCommitter) CommitReadings(ctx context.Context, readings []model.EnergyReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err, ok := m.failures[m.calls]; ok {
		return err
	}
	m.committed = append(m.committed, append([]model.EnergyReading(nil), readings...))
	return nil
}

func (m *mockCommitter) total() int {
	n := 0
	for _, b := range m.committed {
		n += len(b)
	}
	return n
}

var errLocked = &ContentionError{Code: "55P03", Err: errors.New("could not obtain lock")}

type recordedSleep struct {
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func readings(n int) []model.EnergyReading {
	ts := time.Date(2026, 10, 12, 11, 0, 0, 0, time.UTC)
	out := make([]model.EnergyReading, n)
	for i := range out {
		out[i] = model.EnergyReading{SpaceID: int64(i + 1), Timestamp: ts}
	}
	return out
}

func TestWriter_AutoFlushAtCapacity(t *testing.T) {
	c := &mockCommitter{}
	w := NewBatchWriter(c, Options{BatchSize: 3})
	ctx := context.Background()

	for _, r := range readings(7) {
		require.NoError(t, w.Append(ctx, r))
	}
	assert.Len(t, c.committed, 2)
	assert.Equal(t, 1, w.Pending())

	require.NoError(t, w.Flush(ctx))
	assert.Len(t, c.committed, 3)
	assert.Equal(t, 0, w.Pending())
	assert.Equal(t, Stats{BatchesCommitted: 3, ReadingsCommitted: 7}, w.Stats())

	require.NoError(t, w.Flush(ctx), "flushing an empty buffer is a no-op")
	assert.Equal(t, 3, c.calls)
}

// Scenario: 250 readings in batches of 100; the final partial batch hits
// contention twice and commits on the third attempt.
func TestWriter_RetriesFinalBatchUnderContention(t *testing.T) {
	c := &mockCommitter{failures: map[int]error{3: errLocked, 4: errLocked}}
	s := &recordedSleep{}
	var committedSizes []int
	w := NewBatchWriter(c, Options{
		BatchSize: 100,
		Retry:     DefaultRetryPolicy(),
		Sleep:     s.sleep,
		OnCommit: func(ctx context.Context, committed []model.EnergyReading) {
			committedSizes = append(committedSizes, len(committed))
		},
	})
	ctx := context.Background()

	for _, r := range readings(250) {
		require.NoError(t, w.Append(ctx, r))
	}
	require.NoError(t, w.Flush(ctx))

	assert.Equal(t, 5, c.calls)
	assert.Equal(t, 250, c.total())
	assert.Equal(t, []int{100, 100, 50}, committedSizes)
	assert.Equal(t, int64(1), c.committed[0][0].SpaceID)
	assert.Equal(t, int64(201), c.committed[2][0].SpaceID)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, s.delays)
	assert.Equal(t, 2, w.Stats().Retries)
}

func TestWriter_RetriesExhausted(t *testing.T) {
	c := &mockCommitter{failures: map[int]error{2: errLocked, 3: errLocked, 4: errLocked}}
	s := &recordedSleep{}
	w := NewBatchWriter(c, Options{BatchSize: 2, Sleep: s.sleep})
	ctx := context.Background()

	rs := readings(4)
	require.NoError(t, w.Append(ctx, rs[0]))
	require.NoError(t, w.Append(ctx, rs[1]))
	require.NoError(t, w.Append(ctx, rs[2]))

	err := w.Append(ctx, rs[3])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Len(t, s.delays, 2, "3 attempts total means 2 waits")

	assert.Len(t, c.committed, 1, "the earlier batch stands")
	assert.Equal(t, 2, w.Pending())

	assert.ErrorIs(t, w.Append(ctx, rs[0]), ErrWriterFailed)
	assert.ErrorIs(t, w.Flush(ctx), ErrWriterFailed)
}

func TestWriter_NonContentionErrorIsNotRetried(t *testing.T) {
	boom := errors.New("duplicate key value violates unique constraint")
	c := &mockCommitter{failures: map[int]error{1: boom}}
	s := &recordedSleep{}
	w := NewBatchWriter(c, Options{BatchSize: 10, Sleep: s.sleep})

	require.NoError(t, w.Append(context.Background(), readings(1)[0]))
	err := w.Flush(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.delays)
	assert.Equal(t, 1, c.calls)
}

func TestWriter_FlushSurvivesCancelledContext(t *testing.T) {
	c := &mockCommitter{failures: map[int]error{1: errLocked}}
	w := NewBatchWriter(c, Options{BatchSize: 10, Retry: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2}})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Append(ctx, readings(1)[0]))
	cancel()

	require.NoError(t, w.Flush(ctx), "shutdown must not interrupt a batch mid-commit")
	assert.Equal(t, 1, c.total())
}

func TestWriter_OnRetryHook(t *testing.T) {
	c := &mockCommitter{failures: map[int]error{1: errLocked}}
	var attempts []int
	w := NewBatchWriter(c, Options{
		BatchSize: 1,
		Sleep:     (&recordedSleep{}).sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			attempts = append(attempts, attempt)
			assert.True(t, IsContention(err))
		},
	})
	require.NoError(t, w.Append(context.Background(), readings(1)[0]))
	assert.Equal(t, []int{1}, attempts)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))

	flat := RetryPolicy{BaseDelay: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, flat.Delay(3))
	assert.Equal(t, 1, flat.attempts())
}

func TestIsContention(t *testing.T) {
	assert.True(t, IsContention(errLocked))
	assert.True(t, IsContention(errors.Join(errors.New("commit"), errLocked)))
	assert.False(t, IsContention(errors.New("syntax error")))
	assert.False(t, IsContention(nil))
	assert.Contains(t, errLocked.Error(), "55P03")
}
