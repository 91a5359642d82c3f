package memory

import (
	"context"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// RunCommitter implements storage.RunCommitter over an in-memory
// computation log. The log lock is held across the allocation swap, so a
// concurrent Begin cannot supersede the entry between the lease check and
// the swap.
type RunCommitter struct {
	allocations storage.AllocationStore
	runs        *ComputationLogStore
}

// NewRunCommitter creates a committer that swaps sets in allocations and
// fences them on runs.
func NewRunCommitter(allocations storage.AllocationStore, runs *ComputationLogStore) *RunCommitter {
	return &RunCommitter{allocations: allocations, runs: runs}
}

// Commit swaps the allocation set and finishes entry if it still holds the lease.
func (c *RunCommitter) Commit(ctx context.Context, entry *domain.ComputationLogEntry, allocations []*domain.AllocationRecord) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}

	c.runs.mu.Lock()
	defer c.runs.mu.Unlock()

	if err := c.runs.checkRunning(entry.RunID); err != nil {
		return err
	}
	if err := c.allocations.Replace(ctx, entry.Symbol, entry.AllocationVersion, allocations); err != nil {
		return err
	}
	c.runs.data[entry.RunID] = entry.Clone()
	return nil
}

var _ storage.RunCommitter = (*RunCommitter)(nil)
