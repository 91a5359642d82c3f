package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// RunCommitter implements storage.RunCommitter on SQLite. The status check,
// the allocation swap and the entry update run in one transaction on the
// single connection, so no Begin can interleave.
type RunCommitter struct {
	db *gorm.DB
}

// NewRunCommitter creates a new RunCommitter.
func NewRunCommitter(db *gorm.DB) *RunCommitter {
	return &RunCommitter{db: db}
}

var _ storage.RunCommitter = (*RunCommitter)(nil)

// Commit swaps the allocation set and finishes entry if it still holds the lease.
func (c *RunCommitter) Commit(ctx context.Context, entry *domain.ComputationLogEntry, allocations []*domain.AllocationRecord) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	rows, err := allocationSetRows(entry.Symbol, entry.AllocationVersion, allocations)
	if err != nil {
		return err
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current runRow
		if err := tx.Where("run_id = ?", entry.RunID).Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		if current.Status != string(domain.RunStatusRunning) {
			return storage.ErrSuperseded
		}
		if err := replaceAllocationsTx(tx, entry.Symbol, entry.AllocationVersion, rows); err != nil {
			return err
		}
		return finishRun(tx, entry)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrSuperseded):
		return err
	case isDuplicateKeyError(err):
		return storage.ErrDuplicateKey
	}
	return fmt.Errorf("commit run: %w", err)
}
