package sqlite

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// AllocationStore implements storage.AllocationStore on SQLite.
type AllocationStore struct {
	db *gorm.DB
}

// NewAllocationStore creates a new AllocationStore.
func NewAllocationStore(db *gorm.DB) *AllocationStore {
	return &AllocationStore{db: db}
}

var _ storage.AllocationStore = (*AllocationStore)(nil)

// Replace deletes and re-inserts the (symbol, version) set in one transaction.
func (s *AllocationStore) Replace(ctx context.Context, symbol string, version int, allocations []*domain.AllocationRecord) error {
	rows, err := allocationSetRows(symbol, version, allocations)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceAllocationsTx(tx, symbol, version, rows)
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("replace allocations: %w", err)
	}
	return nil
}

func allocationSetRows(symbol string, version int, allocations []*domain.AllocationRecord) ([]allocationRow, error) {
	if symbol == "" || version <= 0 {
		return nil, storage.ErrInvalidInput
	}
	rows := make([]allocationRow, 0, len(allocations))
	for _, a := range allocations {
		if a == nil || a.Symbol != symbol || a.AllocationVersion != version {
			return nil, storage.ErrInvalidInput
		}
		rows = append(rows, toAllocationRow(a))
	}
	return rows, nil
}

func replaceAllocationsTx(tx *gorm.DB, symbol string, version int, rows []allocationRow) error {
	err := tx.Where("symbol = ? AND allocation_version = ?", symbol, version).
		Delete(&allocationRow{}).Error
	if err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, 200).Error
}

// GetBySymbolVersion retrieves the allocation set ordered by sequence ASC.
func (s *AllocationStore) GetBySymbolVersion(ctx context.Context, symbol string, version int) ([]*domain.AllocationRecord, error) {
	var rows []allocationRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND allocation_version = ?", symbol, version).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get allocations by symbol/version: %w", err)
	}
	return allocationsFromRows(rows), nil
}

// Query retrieves rows matching the filter, ordered by symbol ASC, sequence ASC.
func (s *AllocationStore) Query(ctx context.Context, filter storage.AllocationFilter) ([]*domain.AllocationRecord, error) {
	if filter.Version <= 0 {
		return nil, storage.ErrInvalidInput
	}

	q := s.db.WithContext(ctx).Where("allocation_version = ?", filter.Version)
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.From != nil {
		q = q.Where("sell_filled_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("sell_filled_at < ?", filter.To.UTC())
	}

	var rows []allocationRow
	if err := q.Order("symbol ASC").Order("sequence ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	return allocationsFromRows(rows), nil
}

// ListVersions returns every version with at least one row, sorted ASC.
func (s *AllocationStore) ListVersions(ctx context.Context) ([]int, error) {
	var versions []int
	err := s.db.WithContext(ctx).Model(&allocationRow{}).
		Distinct("allocation_version").Order("allocation_version ASC").
		Pluck("allocation_version", &versions).Error
	if err != nil {
		return nil, fmt.Errorf("list allocation versions: %w", err)
	}
	return versions, nil
}

func allocationsFromRows(rows []allocationRow) []*domain.AllocationRecord {
	out := make([]*domain.AllocationRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}
