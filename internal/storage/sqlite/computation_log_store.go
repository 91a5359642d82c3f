package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// ComputationLogStore implements storage.ComputationLogStore on SQLite.
// The single connection serializes Begin transactions.
type ComputationLogStore struct {
	db *gorm.DB
}

// NewComputationLogStore creates a new ComputationLogStore.
func NewComputationLogStore(db *gorm.DB) *ComputationLogStore {
	return &ComputationLogStore{db: db}
}

var _ storage.ComputationLogStore = (*ComputationLogStore)(nil)

// Begin records a running entry unless a fresh one already holds (symbol, version).
func (s *ComputationLogStore) Begin(ctx context.Context, entry *domain.ComputationLogEntry, staleBefore time.Time, force bool) error {
	if entry == nil || entry.RunID == "" || entry.Symbol == "" {
		return storage.ErrInvalidInput
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		running := func() *gorm.DB {
			return tx.Model(&runRow{}).Where(
				"symbol = ? AND allocation_version = ? AND status = ?",
				entry.Symbol, entry.AllocationVersion, string(domain.RunStatusRunning),
			)
		}

		var fresh int64
		if err := running().Where("started_at >= ?", staleBefore.UTC()).Count(&fresh).Error; err != nil {
			return fmt.Errorf("check running entries: %w", err)
		}
		if fresh > 0 && !force {
			return storage.ErrRunInProgress
		}

		err := running().Updates(map[string]any{
			"status":       string(domain.RunStatusFailed),
			"finished_at":  entry.StartedAt.UTC(),
			"error_detail": storage.SupersededDetail,
		}).Error
		if err != nil {
			return fmt.Errorf("supersede running entries: %w", err)
		}

		row := toRunRow(entry)
		row.Status = string(domain.RunStatusRunning)
		return tx.Create(&row).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrRunInProgress):
		return err
	case isDuplicateKeyError(err):
		return storage.ErrDuplicateKey
	}
	return fmt.Errorf("begin computation log entry: %w", err)
}

// Finish stores the terminal state of a running entry. Returns ErrNotFound
// if run_id is unknown and ErrSuperseded if the entry is no longer running.
func (s *ComputationLogStore) Finish(ctx context.Context, entry *domain.ComputationLogEntry) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	err := finishRun(s.db.WithContext(ctx), entry)
	if err != nil && !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrSuperseded) {
		return fmt.Errorf("finish computation log entry: %w", err)
	}
	return err
}

// finishRun updates entry only while it is still running.
func finishRun(db *gorm.DB, entry *domain.ComputationLogEntry) error {
	row := toRunRow(entry)
	res := db.Model(&runRow{}).
		Where("run_id = ? AND status = ?", entry.RunID, string(domain.RunStatusRunning)).
		Updates(map[string]any{
			"status":              row.Status,
			"finished_at":         row.FinishedAt,
			"buys_processed":      row.BuysProcessed,
			"sells_processed":     row.SellsProcessed,
			"allocations_created": row.AllocationsCreated,
			"trades_excluded":     row.TradesExcluded,
			"unmatched_sells":     row.UnmatchedSells,
			"error_detail":        row.ErrorDetail,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := db.Model(&runRow{}).Where("run_id = ?", entry.RunID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return storage.ErrSuperseded
}

// GetByRunID retrieves an entry. Returns ErrNotFound if not exists.
func (s *ComputationLogStore) GetByRunID(ctx context.Context, runID string) (*domain.ComputationLogEntry, error) {
	var row runRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get computation log entry: %w", err)
	}
	return row.toDomain(), nil
}

// LatestFor retrieves the most recent entry for (symbol, version).
func (s *ComputationLogStore) LatestFor(ctx context.Context, symbol string, version int) (*domain.ComputationLogEntry, error) {
	var row runRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND allocation_version = ?", symbol, version).
		Order("started_at DESC").Order("run_id DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest computation log entry: %w", err)
	}
	return row.toDomain(), nil
}

// Latest retrieves up to limit entries ordered by started_at DESC.
func (s *ComputationLogStore) Latest(ctx context.Context, limit int) ([]*domain.ComputationLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []runRow
	err := s.db.WithContext(ctx).
		Order("started_at DESC").Order("run_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list computation log entries: %w", err)
	}

	out := make([]*domain.ComputationLogEntry, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}
