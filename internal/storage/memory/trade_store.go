package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeRecord // keyed by order_id
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.TradeRecord),
	}
}

// Insert adds a new trade. Returns ErrDuplicateKey if order_id exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.OrderID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.OrderID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *t
	s.data[t.OrderID] = &copy
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(_ context.Context, trades []*domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if t == nil || t.OrderID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[t.OrderID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[t.OrderID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[t.OrderID] = struct{}{}
	}

	for _, t := range trades {
		copy := *t
		s.data[t.OrderID] = &copy
	}
	return nil
}

// GetByOrderID retrieves a trade. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByOrderID(_ context.Context, orderID string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[orderID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *t
	return &copy, nil
}

// GetBySymbol retrieves every trade for a symbol, ordered by filled_at ASC, order_id ASC.
func (s *TradeStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if t.Symbol == symbol {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].FilledAt.Equal(result[j].FilledAt) {
			return result[i].FilledAt.Before(result[j].FilledAt)
		}
		return result[i].OrderID < result[j].OrderID
	})

	return result, nil
}

// ListSymbols returns all symbols present in the ledger, sorted ASC.
func (s *TradeStore) ListSymbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.symbolsWhere(func(*domain.TradeRecord) bool { return true }), nil
}

// ListSymbolsSince returns symbols with a trade filled at or after since.
func (s *TradeStore) ListSymbolsSince(_ context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.symbolsWhere(func(t *domain.TradeRecord) bool { return !t.FilledAt.Before(since) }), nil
}

func (s *TradeStore) symbolsWhere(keep func(*domain.TradeRecord) bool) []string {
	seen := make(map[string]struct{})
	for _, t := range s.data {
		if keep(t) {
			seen[t.Symbol] = struct{}{}
		}
	}

	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

var _ storage.TradeStore = (*TradeStore)(nil)
