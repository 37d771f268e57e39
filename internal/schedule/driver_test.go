package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder collects fired ids.
type recorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *recorder) fire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, id)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fired...)
}

func (r *recorder) waitFor(t *testing.T, n int, within time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := r.snapshot()
	require.GreaterOrEqual(t, len(got), n, "timed out waiting for %d firings, got %v", n, got)
	return got
}

func TestDriverFiresAtDeadline(t *testing.T) {
	rec := &recorder{}
	driver := NewDriver(rec.fire)
	require.NoError(t, driver.Start(context.Background()))
	defer func() { require.NoError(t, driver.Stop()) }()

	driver.Schedule("msg-1", time.Now().Add(30*time.Millisecond))

	fired := rec.waitFor(t, 1, time.Second)
	require.Equal(t, []string{"msg-1"}, fired)
	require.Zero(t, driver.Pending())
}

func TestDriverFiresInDeadlineOrder(t *testing.T) {
	rec := &recorder{}
	driver := NewDriver(rec.fire)
	require.NoError(t, driver.Start(context.Background()))
	defer func() { require.NoError(t, driver.Stop()) }()

	now := time.Now()
	// Scheduled out of order; must fire by deadline, not arrival.
	driver.Schedule("slow", now.Add(90*time.Millisecond))
	driver.Schedule("fast", now.Add(30*time.Millisecond))
	driver.Schedule("mid", now.Add(60*time.Millisecond))

	fired := rec.waitFor(t, 3, time.Second)
	require.Equal(t, []string{"fast", "mid", "slow"}, fired)
}

func TestDriverCancelIsIdempotent(t *testing.T) {
	rec := &recorder{}
	driver := NewDriver(rec.fire)
	require.NoError(t, driver.Start(context.Background()))
	defer func() { require.NoError(t, driver.Stop()) }()

	driver.Schedule("msg-1", time.Now().Add(40*time.Millisecond))
	driver.Cancel("msg-1")
	driver.Cancel("msg-1")
	driver.Cancel("never-scheduled")

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, rec.snapshot())
	require.Zero(t, driver.Pending())
}

func TestDriverRescheduleReplacesDeadline(t *testing.T) {
	rec := &recorder{}
	driver := NewDriver(rec.fire)
	require.NoError(t, driver.Start(context.Background()))
	defer func() { require.NoError(t, driver.Stop()) }()

	driver.Schedule("msg-1", time.Now().Add(10*time.Minute))
	require.Equal(t, 1, driver.Pending())

	driver.Schedule("msg-1", time.Now().Add(30*time.Millisecond))
	require.Equal(t, 1, driver.Pending())

	fired := rec.waitFor(t, 1, time.Second)
	require.Equal(t, []string{"msg-1"}, fired)
}

func TestDriverPastDeadlineFiresImmediately(t *testing.T) {
	rec := &recorder{}
	driver := NewDriver(rec.fire)
	require.NoError(t, driver.Start(context.Background()))
	defer func() { require.NoError(t, driver.Stop()) }()

	driver.Schedule("late", time.Now().Add(-time.Second))
	rec.waitFor(t, 1, time.Second)
}

func TestDriverStartStopLifecycle(t *testing.T) {
	driver := NewDriver(func(string) {})

	require.ErrorIs(t, driver.Stop(), ErrDriverNotRunning)
	require.NoError(t, driver.Start(context.Background()))
	require.ErrorIs(t, driver.Start(context.Background()), ErrDriverAlreadyRunning)
	require.NoError(t, driver.Stop())
	require.ErrorIs(t, driver.Stop(), ErrDriverNotRunning)
}
