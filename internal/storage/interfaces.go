package storage

import (
	"context"
	"time"

	"fifo-allocator/internal/domain"
)

// TradeStore provides access to trade_records storage (the trade ledger).
// Rows are written by the execution layer; allocation code only reads.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if order_id exists.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.TradeRecord) error

	// GetByOrderID retrieves a trade. Returns ErrNotFound if not exists.
	GetByOrderID(ctx context.Context, orderID string) (*domain.TradeRecord, error)

	// GetBySymbol retrieves every trade for a symbol regardless of status,
	// ordered by filled_at ASC, order_id ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.TradeRecord, error)

	// ListSymbols returns all symbols present in the ledger, sorted ASC.
	ListSymbols(ctx context.Context) ([]string, error)

	// ListSymbolsSince returns symbols with at least one trade filled at or
	// after since, sorted ASC.
	ListSymbolsSince(ctx context.Context, since time.Time) ([]string, error)
}

// AllocationFilter selects allocation rows for reporting.
// Version is mandatory; the zero value of the other fields means "any".
type AllocationFilter struct {
	Version int
	Symbol  string
	From    *time.Time // sell filled_at >= From
	To      *time.Time // sell filled_at < To
}

// AllocationStore provides access to allocations storage.
type AllocationStore interface {
	// Replace atomically swaps the full allocation set of (symbol, version):
	// readers see either the previous set or the new one, never a mix.
	// Rows of other versions or symbols are never touched.
	Replace(ctx context.Context, symbol string, version int, allocations []*domain.AllocationRecord) error

	// GetBySymbolVersion retrieves the allocation set ordered by sequence ASC.
	GetBySymbolVersion(ctx context.Context, symbol string, version int) ([]*domain.AllocationRecord, error)

	// Query retrieves rows matching the filter, ordered by symbol ASC, sequence ASC.
	// Returns ErrInvalidInput if filter.Version is not positive.
	Query(ctx context.Context, filter AllocationFilter) ([]*domain.AllocationRecord, error)

	// ListVersions returns every version with at least one row, sorted ASC.
	ListVersions(ctx context.Context) ([]int, error)
}

// ComputationLogStore provides access to computation_log storage.
type ComputationLogStore interface {
	// Begin records a new running entry. It atomically checks for another
	// running entry on (symbol, version): one started at or after staleBefore
	// makes Begin return ErrRunInProgress unless force is set. Older running
	// entries, and with force every running entry, are marked failed first.
	Begin(ctx context.Context, entry *domain.ComputationLogEntry, staleBefore time.Time, force bool) error

	// Finish updates a running entry with its terminal status, counts and
	// error detail. Returns ErrNotFound if run_id is unknown and
	// ErrSuperseded, changing nothing, if the entry is no longer running.
	Finish(ctx context.Context, entry *domain.ComputationLogEntry) error

	// GetByRunID retrieves an entry. Returns ErrNotFound if not exists.
	GetByRunID(ctx context.Context, runID string) (*domain.ComputationLogEntry, error)

	// LatestFor retrieves the most recent entry for (symbol, version).
	// Returns ErrNotFound if there is none.
	LatestFor(ctx context.Context, symbol string, version int) (*domain.ComputationLogEntry, error)

	// Latest retrieves up to limit entries ordered by started_at DESC.
	Latest(ctx context.Context, limit int) ([]*domain.ComputationLogEntry, error)
}

// RunCommitter publishes the outcome of a successful run.
type RunCommitter interface {
	// Commit replaces the allocation set of entry's (symbol, version) and
	// stores entry's terminal state as one atomic step, fenced on the entry
	// still being running. Returns ErrSuperseded, changing nothing, if a newer
	// run took over; ErrNotFound if run_id is unknown.
	Commit(ctx context.Context, entry *domain.ComputationLogEntry, allocations []*domain.AllocationRecord) error
}

// PnLSnapshotStore provides access to pnl_snapshots storage.
type PnLSnapshotStore interface {
	// Insert appends a snapshot.
	Insert(ctx context.Context, s *domain.PnLSnapshot) error

	// GetHistory retrieves snapshots for (symbol, version) ordered by computed_at ASC.
	GetHistory(ctx context.Context, symbol string, version int) ([]*domain.PnLSnapshot, error)
}

// SupersededDetail is the error detail written on running entries that a
// newer run took over.
const SupersededDetail = "superseded by a newer run"
