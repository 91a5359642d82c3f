package clickhouse

import (
	"context"
	"fmt"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// PnLSnapshotStore implements storage.PnLSnapshotStore using ClickHouse.
// The table is a ReplacingMergeTree, so a retried insert of the same run
// collapses into one row after merges; reads use FINAL.
type PnLSnapshotStore struct {
	conn *Conn
}

// NewPnLSnapshotStore creates a new PnLSnapshotStore.
func NewPnLSnapshotStore(conn *Conn) *PnLSnapshotStore {
	return &PnLSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PnLSnapshotStore = (*PnLSnapshotStore)(nil)

// Insert appends a snapshot.
func (s *PnLSnapshotStore) Insert(ctx context.Context, snap *domain.PnLSnapshot) error {
	if snap == nil || snap.Symbol == "" || snap.AllocationVersion <= 0 {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO pnl_snapshots (
			symbol, allocation_version, run_id, computed_at,
			realized_pnl, proceeds, cost_basis, matched_size, unmatched_size,
			wins, losses, unmatched_sells, allocations
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		snap.Symbol, uint32(snap.AllocationVersion), snap.RunID, snap.ComputedAt.UTC(),
		snap.RealizedPnL, snap.Proceeds, snap.CostBasis, snap.MatchedSize, snap.UnmatchedSize,
		uint32(snap.Wins), uint32(snap.Losses), uint32(snap.UnmatchedSells), uint32(snap.Allocations),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("insert pnl snapshot: %w", err)
	}
	return nil
}

// GetHistory retrieves snapshots for (symbol, version) ordered by computed_at ASC.
func (s *PnLSnapshotStore) GetHistory(ctx context.Context, symbol string, version int) ([]*domain.PnLSnapshot, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT
			symbol, allocation_version, run_id, computed_at,
			realized_pnl, proceeds, cost_basis, matched_size, unmatched_size,
			wins, losses, unmatched_sells, allocations
		FROM pnl_snapshots FINAL
		WHERE symbol = ? AND allocation_version = ?
		ORDER BY computed_at ASC, run_id ASC
	`, symbol, uint32(version))
	if err != nil {
		return nil, fmt.Errorf("query pnl snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.PnLSnapshot
	for rows.Next() {
		var (
			snap                                    domain.PnLSnapshot
			ver, wins, losses, unmatched, allocated uint32
		)
		err := rows.Scan(
			&snap.Symbol, &ver, &snap.RunID, &snap.ComputedAt,
			&snap.RealizedPnL, &snap.Proceeds, &snap.CostBasis, &snap.MatchedSize, &snap.UnmatchedSize,
			&wins, &losses, &unmatched, &allocated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pnl snapshot row: %w", err)
		}

		snap.AllocationVersion = int(ver)
		snap.Wins = int(wins)
		snap.Losses = int(losses)
		snap.UnmatchedSells = int(unmatched)
		snap.Allocations = int(allocated)
		result = append(result, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pnl snapshot rows: %w", err)
	}
	return result, nil
}
