package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

func runEntry(symbol string, version int, started time.Time) *domain.ComputationLogEntry {
	return &domain.ComputationLogEntry{
		RunID:             uuid.NewString(),
		Symbol:            symbol,
		AllocationVersion: version,
		Mode:              domain.RunModeFull,
		StartedAt:         started,
		Status:            domain.RunStatusRunning,
	}
}

func TestComputationLogStore_BeginFinish(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewComputationLogStore(pool)

	run := runEntry("BTC-USD", 1, testEpoch)
	require.NoError(t, store.Begin(ctx, run, testEpoch.Add(-time.Hour), false))

	err := store.Begin(ctx, runEntry("BTC-USD", 1, testEpoch.Add(time.Second)), testEpoch.Add(-time.Hour), false)
	assert.ErrorIs(t, err, storage.ErrRunInProgress)

	run.Status = domain.RunStatusSuccess
	run.FinishedAt = ptr(testEpoch.Add(2 * time.Second))
	run.BuysProcessed = 3
	run.SellsProcessed = 2
	run.AllocationsCreated = 4
	run.UnmatchedSells = 1
	require.NoError(t, store.Finish(ctx, run))

	got, err := store.GetByRunID(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, got.Status)
	assert.Equal(t, 4, got.AllocationsCreated)
	assert.Equal(t, 1, got.UnmatchedSells)
	assert.Nil(t, got.ErrorDetail)

	latest, err := store.LatestFor(ctx, "BTC-USD", 1)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, latest.RunID)

	err = store.Finish(ctx, runEntry("BTC-USD", 1, testEpoch))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestComputationLogStore_StaleAndForce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewComputationLogStore(pool)

	stale := runEntry("ETH-USD", 1, testEpoch)
	require.NoError(t, store.Begin(ctx, stale, testEpoch.Add(-time.Hour), false))

	later := testEpoch.Add(3 * time.Hour)
	fresh := runEntry("ETH-USD", 1, later)
	require.NoError(t, store.Begin(ctx, fresh, later.Add(-time.Hour), false))

	old, err := store.GetByRunID(ctx, stale.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, old.Status)
	require.NotNil(t, old.ErrorDetail)
	assert.Equal(t, storage.SupersededDetail, *old.ErrorDetail)

	forced := runEntry("ETH-USD", 1, later.Add(time.Second))
	forced.Forced = true
	require.NoError(t, store.Begin(ctx, forced, later.Add(-time.Hour), true))

	entries, err := store.Latest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, forced.RunID, entries[0].RunID)
	assert.True(t, entries[0].Forced)
}

func TestComputationLogStore_ConcurrentBeginAdmitsOne(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewComputationLogStore(pool)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		refused  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Begin(ctx, runEntry("SOL-USD", 1, testEpoch.Add(time.Duration(i)*time.Millisecond)), testEpoch.Add(-time.Hour), false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case assert.ErrorIs(t, err, storage.ErrRunInProgress):
				refused++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, workers-1, refused)
}

func TestComputationLogStore_ForcedSameInstant(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewComputationLogStore(pool)

	first := runEntry("BTC-USD", 1, testEpoch)
	require.NoError(t, store.Begin(ctx, first, testEpoch.Add(-time.Hour), true))

	second := runEntry("BTC-USD", 1, testEpoch)
	err := store.Begin(ctx, second, testEpoch.Add(-time.Hour), true)
	assert.ErrorIs(t, err, storage.ErrRunInProgress)

	reused := runEntry("BTC-USD", 1, testEpoch.Add(time.Second))
	reused.RunID = first.RunID
	err = store.Begin(ctx, reused, testEpoch.Add(-time.Hour), true)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByRunID(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
}

func TestComputationLogStore_FinishAfterSupersede(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewComputationLogStore(pool)

	old := runEntry("BTC-USD", 1, testEpoch)
	require.NoError(t, store.Begin(ctx, old, testEpoch.Add(-time.Hour), false))
	forced := runEntry("BTC-USD", 1, testEpoch.Add(time.Second))
	require.NoError(t, store.Begin(ctx, forced, testEpoch.Add(-time.Hour), true))

	old.Status = domain.RunStatusSuccess
	old.FinishedAt = ptr(testEpoch.Add(2 * time.Second))
	assert.ErrorIs(t, store.Finish(ctx, old), storage.ErrSuperseded)

	got, err := store.GetByRunID(ctx, old.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetail)
	assert.Equal(t, storage.SupersededDetail, *got.ErrorDetail)
}

func TestRunCommitter_FencedOnLease(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedAllocationTrades(t, ctx, pool)
	runs := NewComputationLogStore(pool)
	allocations := NewAllocationStore(pool)
	committer := NewRunCommitter(pool)

	winner := runEntry("BTC-USD", 1, testEpoch)
	require.NoError(t, runs.Begin(ctx, winner, testEpoch.Add(-time.Hour), false))
	winner.Status = domain.RunStatusSuccess
	winner.FinishedAt = ptr(testEpoch.Add(time.Second))
	winner.AllocationsCreated = 2
	require.NoError(t, committer.Commit(ctx, winner, []*domain.AllocationRecord{
		matchedAllocation(1, 0, "S1", 10),
		unmatchedAllocation(1, 1, "S1", 10),
	}))

	loser := runEntry("BTC-USD", 1, testEpoch.Add(2*time.Second))
	require.NoError(t, runs.Begin(ctx, loser, testEpoch.Add(-time.Hour), false))
	forced := runEntry("BTC-USD", 1, testEpoch.Add(3*time.Second))
	require.NoError(t, runs.Begin(ctx, forced, testEpoch.Add(-time.Hour), true))

	loser.Status = domain.RunStatusSuccess
	loser.FinishedAt = ptr(testEpoch.Add(4 * time.Second))
	err := committer.Commit(ctx, loser, []*domain.AllocationRecord{matchedAllocation(1, 0, "S2", 20)})
	assert.ErrorIs(t, err, storage.ErrSuperseded)

	got, err := allocations.GetBySymbolVersion(ctx, "BTC-USD", 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "S1", got[0].SellOrderID)

	entry, err := runs.GetByRunID(ctx, loser.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, entry.Status)

	err = committer.Commit(ctx, runEntry("BTC-USD", 1, testEpoch), nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
