package postgres

import (
	"context"
	"fmt"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// RunCommitter implements storage.RunCommitter using PostgreSQL.
//
// The allocation swap and the entry update share one transaction that holds
// the same advisory lock as ComputationLogStore.Begin and a row lock on the
// entry, so a run superseded before the commit cannot write.
type RunCommitter struct {
	pool *Pool
}

// NewRunCommitter creates a new RunCommitter.
func NewRunCommitter(pool *Pool) *RunCommitter {
	return &RunCommitter{pool: pool}
}

// Compile-time interface check.
var _ storage.RunCommitter = (*RunCommitter)(nil)

// Commit swaps the allocation set and finishes entry if it still holds the lease.
func (c *RunCommitter) Commit(ctx context.Context, entry *domain.ComputationLogEntry, allocations []*domain.AllocationRecord) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	if err := checkAllocationSet(entry.Symbol, entry.AllocationVersion, allocations); err != nil {
		return err
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockPair(ctx, tx, entry.Symbol, entry.AllocationVersion); err != nil {
		return err
	}

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM computation_log WHERE run_id = $1 FOR UPDATE`, entry.RunID).Scan(&status)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("lock computation log entry: %w", err)
	}
	if status != string(domain.RunStatusRunning) {
		return storage.ErrSuperseded
	}

	if err := replaceAllocationsTx(ctx, tx, entry.Symbol, entry.AllocationVersion, allocations); err != nil {
		return err
	}
	if err := finishRun(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
