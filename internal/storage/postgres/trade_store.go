package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const insertTradeQuery = `
	INSERT INTO trade_records (
		order_id, symbol, side, size, price, fee, filled_at, status, notes
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const selectTradeColumns = `
	SELECT order_id, symbol, side, size, price, fee, filled_at, status, notes
	FROM trade_records
`

func tradeArgs(t *domain.TradeRecord) []any {
	return []any{
		t.OrderID, t.Symbol, string(t.Side), t.Size, t.Price, t.Fee, t.FilledAt, string(t.Status), t.Notes,
	}
}

// Insert adds a new trade. Returns ErrDuplicateKey if order_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	if t == nil || t.OrderID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertTradeQuery, tradeArgs(t)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		if t == nil || t.OrderID == "" {
			return storage.ErrInvalidInput
		}
		if _, err := tx.Exec(ctx, insertTradeQuery, tradeArgs(t)...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade record in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByOrderID retrieves a trade. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByOrderID(ctx context.Context, orderID string) (*domain.TradeRecord, error) {
	row := s.pool.QueryRow(ctx, selectTradeColumns+` WHERE order_id = $1`, orderID)
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade record by order id: %w", err)
	}
	return t, nil
}

// GetBySymbol retrieves every trade for a symbol, ordered by filled_at ASC, order_id ASC.
func (s *TradeStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, selectTradeColumns+`
		WHERE symbol = $1
		ORDER BY filled_at ASC, order_id ASC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("get trade records by symbol: %w", err)
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade record row: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade record rows: %w", err)
	}
	return trades, nil
}

// ListSymbols returns all symbols present in the ledger, sorted ASC.
func (s *TradeStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM trade_records ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListSymbolsSince returns symbols with a trade filled at or after since, sorted ASC.
func (s *TradeStore) ListSymbolsSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT symbol FROM trade_records
		WHERE filled_at >= $1
		ORDER BY symbol ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list symbols since: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// scanTrade scans a single row into a TradeRecord.
func scanTrade(row pgx.Row) (*domain.TradeRecord, error) {
	var (
		t            domain.TradeRecord
		side, status string
	)
	err := row.Scan(&t.OrderID, &t.Symbol, &side, &t.Size, &t.Price, &t.Fee, &t.FilledAt, &status, &t.Notes)
	if err != nil {
		return nil, err
	}
	t.Side = domain.Side(side)
	t.Status = domain.TradeStatus(status)
	return &t, nil
}
