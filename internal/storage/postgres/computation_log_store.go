package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// ComputationLogStore implements storage.ComputationLogStore using PostgreSQL.
//
// Begin serializes on a transaction-scoped advisory lock keyed by
// (symbol, version), so the running-entry check and the insert are atomic
// across processes. The partial unique index on running rows backs this up.
type ComputationLogStore struct {
	pool *Pool
}

// NewComputationLogStore creates a new ComputationLogStore.
func NewComputationLogStore(pool *Pool) *ComputationLogStore {
	return &ComputationLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ComputationLogStore = (*ComputationLogStore)(nil)

const selectRunColumns = `
	SELECT
		run_id, symbol, allocation_version, mode, forced,
		started_at, finished_at, status,
		buys_processed, sells_processed, allocations_created, trades_excluded, unmatched_sells,
		error_detail
	FROM computation_log
`

// Begin records a running entry unless a fresh one already holds (symbol, version).
func (s *ComputationLogStore) Begin(ctx context.Context, entry *domain.ComputationLogEntry, staleBefore time.Time, force bool) error {
	if entry == nil || entry.RunID == "" || entry.Symbol == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockPair(ctx, tx, entry.Symbol, entry.AllocationVersion); err != nil {
		return err
	}

	var fresh bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM computation_log
			WHERE symbol = $1 AND allocation_version = $2
			  AND status = 'running' AND started_at >= $3
		)
	`, entry.Symbol, entry.AllocationVersion, staleBefore).Scan(&fresh)
	if err != nil {
		return fmt.Errorf("check running entries: %w", err)
	}
	if fresh && !force {
		return storage.ErrRunInProgress
	}

	_, err = tx.Exec(ctx, `
		UPDATE computation_log
		SET status = 'failed', finished_at = $3, error_detail = $4
		WHERE symbol = $1 AND allocation_version = $2 AND status = 'running'
	`, entry.Symbol, entry.AllocationVersion, entry.StartedAt, storage.SupersededDetail)
	if err != nil {
		return fmt.Errorf("supersede running entries: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO computation_log (
			run_id, symbol, allocation_version, mode, forced, started_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, 'running')
	`, entry.RunID, entry.Symbol, entry.AllocationVersion, string(entry.Mode), entry.Forced, entry.StartedAt)
	if err != nil {
		switch {
		case isConstraintError(err, runPrimaryKey):
			return storage.ErrDuplicateKey
		case isDuplicateKeyError(err):
			// Another run of the pair started at the same instant.
			return storage.ErrRunInProgress
		}
		return fmt.Errorf("insert computation log entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Finish stores the terminal state of a running entry. Returns ErrNotFound
// if run_id is unknown and ErrSuperseded if the entry is no longer running.
func (s *ComputationLogStore) Finish(ctx context.Context, entry *domain.ComputationLogEntry) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	return finishRun(ctx, s.pool, entry)
}

// runPrimaryKey is the default name Postgres gives the computation_log key.
const runPrimaryKey = "computation_log_pkey"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// lockPair takes the transaction-scoped advisory lock of (symbol, version).
func lockPair(ctx context.Context, tx pgx.Tx, symbol string, version int) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), $2)`, symbol, int32(version))
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	return nil
}

// finishRun updates entry only while it is still running.
func finishRun(ctx context.Context, q querier, entry *domain.ComputationLogEntry) error {
	tag, err := q.Exec(ctx, `
		UPDATE computation_log
		SET status = $2, finished_at = $3,
		    buys_processed = $4, sells_processed = $5, allocations_created = $6,
		    trades_excluded = $7, unmatched_sells = $8, error_detail = $9
		WHERE run_id = $1 AND status = 'running'
	`,
		entry.RunID, string(entry.Status), entry.FinishedAt,
		entry.BuysProcessed, entry.SellsProcessed, entry.AllocationsCreated,
		entry.TradesExcluded, entry.UnmatchedSells, entry.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("finish computation log entry: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM computation_log WHERE run_id = $1)`, entry.RunID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check computation log entry: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrSuperseded
}

// GetByRunID retrieves an entry. Returns ErrNotFound if not exists.
func (s *ComputationLogStore) GetByRunID(ctx context.Context, runID string) (*domain.ComputationLogEntry, error) {
	e, err := scanRun(s.pool.QueryRow(ctx, selectRunColumns+` WHERE run_id = $1`, runID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get computation log entry: %w", err)
	}
	return e, nil
}

// LatestFor retrieves the most recent entry for (symbol, version).
func (s *ComputationLogStore) LatestFor(ctx context.Context, symbol string, version int) (*domain.ComputationLogEntry, error) {
	row := s.pool.QueryRow(ctx, selectRunColumns+`
		WHERE symbol = $1 AND allocation_version = $2
		ORDER BY started_at DESC, run_id DESC
		LIMIT 1
	`, symbol, version)

	e, err := scanRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest computation log entry: %w", err)
	}
	return e, nil
}

// Latest retrieves up to limit entries ordered by started_at DESC.
func (s *ComputationLogStore) Latest(ctx context.Context, limit int) ([]*domain.ComputationLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, selectRunColumns+`
		ORDER BY started_at DESC, run_id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list computation log entries: %w", err)
	}
	defer rows.Close()

	var result []*domain.ComputationLogEntry
	for rows.Next() {
		e, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan computation log row: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate computation log rows: %w", err)
	}
	return result, nil
}

func scanRun(row pgx.Row) (*domain.ComputationLogEntry, error) {
	var (
		e            domain.ComputationLogEntry
		mode, status string
	)
	err := row.Scan(
		&e.RunID, &e.Symbol, &e.AllocationVersion, &mode, &e.Forced,
		&e.StartedAt, &e.FinishedAt, &status,
		&e.BuysProcessed, &e.SellsProcessed, &e.AllocationsCreated, &e.TradesExcluded, &e.UnmatchedSells,
		&e.ErrorDetail,
	)
	if err != nil {
		return nil, err
	}
	e.Mode = domain.RunMode(mode)
	e.Status = domain.RunStatus(status)
	return &e, nil
}
