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

// TradeStore implements storage.TradeStore on SQLite.
type TradeStore struct {
	db *gorm.DB
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(db *gorm.DB) *TradeStore {
	return &TradeStore{db: db}
}

var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade. Returns ErrDuplicateKey if order_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	if t == nil || t.OrderID == "" {
		return storage.ErrInvalidInput
	}

	row := toTradeRow(t)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
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

	rows := make([]tradeRow, 0, len(trades))
	for _, t := range trades {
		if t == nil || t.OrderID == "" {
			return storage.ErrInvalidInput
		}
		rows = append(rows, toTradeRow(t))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade records in bulk: %w", err)
	}
	return nil
}

// GetByOrderID retrieves a trade. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByOrderID(ctx context.Context, orderID string) (*domain.TradeRecord, error) {
	var row tradeRow
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade record by order id: %w", err)
	}
	return row.toDomain(), nil
}

// GetBySymbol retrieves every trade for a symbol, ordered by filled_at ASC, order_id ASC.
func (s *TradeStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.TradeRecord, error) {
	var rows []tradeRow
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("filled_at ASC").Order("order_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get trade records by symbol: %w", err)
	}

	trades := make([]*domain.TradeRecord, len(rows))
	for i := range rows {
		trades[i] = rows[i].toDomain()
	}
	return trades, nil
}

// ListSymbols returns all symbols present in the ledger, sorted ASC.
func (s *TradeStore) ListSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).Model(&tradeRow{}).
		Distinct("symbol").Order("symbol ASC").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return symbols, nil
}

// ListSymbolsSince returns symbols with a trade filled at or after since, sorted ASC.
func (s *TradeStore) ListSymbolsSince(ctx context.Context, since time.Time) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).Model(&tradeRow{}).
		Where("filled_at >= ?", since.UTC()).
		Distinct("symbol").Order("symbol ASC").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("list symbols since: %w", err)
	}
	return symbols, nil
}
