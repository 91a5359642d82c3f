package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// AllocationStore implements storage.AllocationStore using PostgreSQL.
type AllocationStore struct {
	pool *Pool
}

// NewAllocationStore creates a new AllocationStore.
func NewAllocationStore(pool *Pool) *AllocationStore {
	return &AllocationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AllocationStore = (*AllocationStore)(nil)

const selectAllocationColumns = `
	SELECT
		allocation_id, symbol, allocation_version, sequence,
		sell_order_id, buy_order_id,
		allocated_size, cost_basis, proceeds, pnl,
		sell_filled_at, buy_filled_at, computed_at
	FROM allocations
`

// Replace deletes and re-inserts the (symbol, version) set in one transaction.
// A failure at any point rolls back, leaving the previous set intact.
func (s *AllocationStore) Replace(ctx context.Context, symbol string, version int, allocations []*domain.AllocationRecord) error {
	if err := checkAllocationSet(symbol, version, allocations); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := replaceAllocationsTx(ctx, tx, symbol, version, allocations); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func checkAllocationSet(symbol string, version int, allocations []*domain.AllocationRecord) error {
	if symbol == "" || version <= 0 {
		return storage.ErrInvalidInput
	}
	for _, a := range allocations {
		if a == nil || a.Symbol != symbol || a.AllocationVersion != version {
			return storage.ErrInvalidInput
		}
	}
	return nil
}

// replaceAllocationsTx swaps the set inside tx; the caller commits.
func replaceAllocationsTx(ctx context.Context, tx pgx.Tx, symbol string, version int, allocations []*domain.AllocationRecord) error {
	_, err := tx.Exec(ctx,
		`DELETE FROM allocations WHERE symbol = $1 AND allocation_version = $2`,
		symbol, version)
	if err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}
	if len(allocations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range allocations {
		batch.Queue(`
			INSERT INTO allocations (
				allocation_id, symbol, allocation_version, sequence,
				sell_order_id, buy_order_id,
				allocated_size, cost_basis, proceeds, pnl,
				sell_filled_at, buy_filled_at, computed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			a.AllocationID, a.Symbol, a.AllocationVersion, a.Sequence,
			a.SellOrderID, a.BuyOrderID,
			a.AllocatedSize, nullDecimal(a.CostBasis), a.Proceeds, nullDecimal(a.PnL),
			a.SellFilledAt, a.BuyFilledAt, a.ComputedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range allocations {
		if _, err := br.Exec(); err != nil {
			br.Close()
			switch {
			case isDuplicateKeyError(err):
				return storage.ErrDuplicateKey
			case isForeignKeyError(err):
				return fmt.Errorf("allocation references unknown trade: %w", storage.ErrInvalidInput)
			}
			return fmt.Errorf("insert allocation: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close insert batch: %w", err)
	}
	return nil
}

// GetBySymbolVersion retrieves the allocation set ordered by sequence ASC.
func (s *AllocationStore) GetBySymbolVersion(ctx context.Context, symbol string, version int) ([]*domain.AllocationRecord, error) {
	rows, err := s.pool.Query(ctx, selectAllocationColumns+`
		WHERE symbol = $1 AND allocation_version = $2
		ORDER BY sequence ASC
	`, symbol, version)
	if err != nil {
		return nil, fmt.Errorf("get allocations by symbol/version: %w", err)
	}
	defer rows.Close()

	return scanAllocations(rows)
}

// Query retrieves rows matching the filter, ordered by symbol ASC, sequence ASC.
func (s *AllocationStore) Query(ctx context.Context, filter storage.AllocationFilter) ([]*domain.AllocationRecord, error) {
	if filter.Version <= 0 {
		return nil, storage.ErrInvalidInput
	}

	conds := []string{"allocation_version = $1"}
	args := []any{filter.Version}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		conds = append(conds, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("sell_filled_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("sell_filled_at < $%d", len(args)))
	}

	query := selectAllocationColumns +
		" WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY symbol ASC, sequence ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer rows.Close()

	return scanAllocations(rows)
}

// ListVersions returns every version with at least one row, sorted ASC.
func (s *AllocationStore) ListVersions(ctx context.Context) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT allocation_version FROM allocations ORDER BY allocation_version ASC`)
	if err != nil {
		return nil, fmt.Errorf("list allocation versions: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, fmt.Errorf("collect allocation versions: %w", err)
	}

	out := make([]int, len(versions))
	for i, v := range versions {
		out[i] = int(v)
	}
	return out, nil
}

// scanAllocations scans multiple rows into a slice of AllocationRecord.
func scanAllocations(rows pgx.Rows) ([]*domain.AllocationRecord, error) {
	var result []*domain.AllocationRecord

	for rows.Next() {
		var (
			a         domain.AllocationRecord
			cost, pnl decimal.NullDecimal
		)
		err := rows.Scan(
			&a.AllocationID, &a.Symbol, &a.AllocationVersion, &a.Sequence,
			&a.SellOrderID, &a.BuyOrderID,
			&a.AllocatedSize, &cost, &a.Proceeds, &pnl,
			&a.SellFilledAt, &a.BuyFilledAt, &a.ComputedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan allocation row: %w", err)
		}
		a.CostBasis = decimalPtr(cost)
		a.PnL = decimalPtr(pnl)
		result = append(result, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocation rows: %w", err)
	}
	return result, nil
}
