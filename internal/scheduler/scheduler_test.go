package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/recompute"
)

type call struct {
	version int
	mode    recompute.Mode
	force   bool
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeRunner) RecomputeAll(_ context.Context, version int, mode recompute.Mode, force bool) (*recompute.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{version: version, mode: mode, force: force})
	if f.err != nil {
		return nil, f.err
	}
	return &recompute.BatchResult{Version: version, Mode: mode}, nil
}

func (f *fakeRunner) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestRunIncremental_WindowFollowsPreviousTick(t *testing.T) {
	base := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	runner := &fakeRunner{}
	s := New(Options{
		Runner:              runner,
		Version:             func() int { return 4 },
		IncrementalLookback: 5 * time.Minute,
		Logger:              zaptest.NewLogger(t),
		Now:                 func() time.Time { return clock },
	})

	ctx := context.Background()
	s.RunIncremental(ctx)
	clock = base.Add(time.Minute)
	s.RunIncremental(ctx)

	calls := runner.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, 4, calls[0].version)
	assert.False(t, calls[0].force)
	assert.Equal(t, domain.RunModeIncremental, calls[0].mode.Kind)
	assert.Equal(t, base.Add(-5*time.Minute), calls[0].mode.Since)
	// Second window starts at the first tick minus the lookback.
	assert.Equal(t, base.Add(-5*time.Minute), calls[1].mode.Since)
}

func TestRunFull(t *testing.T) {
	runner := &fakeRunner{}
	version := 1
	s := New(Options{Runner: runner, Version: func() int { return version }, Logger: zaptest.NewLogger(t)})

	s.RunFull(context.Background())
	version = 2
	s.RunFull(context.Background())

	calls := runner.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, domain.RunModeFull, calls[0].mode.Kind)
	assert.Equal(t, 1, calls[0].version)
	assert.Equal(t, 2, calls[1].version, "version is read on every batch")
}

func TestRun_BatchErrorIsLogged(t *testing.T) {
	runner := &fakeRunner{err: errors.New("ledger unavailable")}
	s := New(Options{Runner: runner, Logger: zaptest.NewLogger(t)})

	assert.Nil(t, s.RunFull(context.Background()))
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	runner := &fakeRunner{}
	s := New(Options{
		Runner:              runner,
		IncrementalInterval: 5 * time.Millisecond,
		FullInterval:        20 * time.Millisecond,
		Logger:              zaptest.NewLogger(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		var inc, full bool
		for _, c := range runner.snapshot() {
			inc = inc || c.mode.Kind == domain.RunModeIncremental
			full = full || c.mode.Kind == domain.RunModeFull
		}
		return inc && full
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRun_CatchesUpOnStart(t *testing.T) {
	base := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	var clock atomic.Int64
	clock.Store(base.UnixNano())
	runner := &fakeRunner{}
	s := New(Options{
		Runner:              runner,
		IncrementalInterval: time.Hour,
		IncrementalLookback: 5 * time.Minute,
		FullInterval:        24 * time.Hour,
		Logger:              zaptest.NewLogger(t),
		Now:                 func() time.Time { return time.Unix(0, clock.Load()).UTC() },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(runner.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	calls := runner.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.RunModeFull, calls[0].mode.Kind)
	assert.False(t, calls[0].force)

	// The first incremental window reaches back to the catch-up, not to now.
	clock.Store(base.Add(time.Hour).UnixNano())
	s.RunIncremental(context.Background())
	calls = runner.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, domain.RunModeIncremental, calls[1].mode.Kind)
	assert.Equal(t, base.Add(-5*time.Minute), calls[1].mode.Since)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	runner := &fakeRunner{}
	s := New(Options{Runner: runner, Logger: zaptest.NewLogger(t)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Empty(t, runner.snapshot())
}
