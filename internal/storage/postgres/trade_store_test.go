package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

func TestTradeStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trade := testTrade("B1", "BTC-USD", domain.SideBuy, "0.12345678", "64000.5", 0)
	trade.Notes = "manual entry"
	require.NoError(t, store.Insert(ctx, trade))

	got, err := store.GetByOrderID(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", got.Symbol)
	assert.Equal(t, domain.SideBuy, got.Side)
	assert.Equal(t, domain.TradeStatusFilled, got.Status)
	assert.True(t, got.Size.Equal(trade.Size), "size %s", got.Size)
	assert.True(t, got.Price.Equal(trade.Price), "price %s", got.Price)
	assert.True(t, got.Fee.Equal(trade.Fee), "fee %s", got.Fee)
	assert.True(t, got.FilledAt.Equal(trade.FilledAt))
	assert.Equal(t, "manual entry", got.Notes)

	err = store.Insert(ctx, trade)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByOrderID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTradeStore_InsertBulkRollsBack(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	err := store.InsertBulk(ctx, []*domain.TradeRecord{
		testTrade("B1", "BTC-USD", domain.SideBuy, "1", "100", 0),
		testTrade("B1", "BTC-USD", domain.SideBuy, "1", "100", 1),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	trades, err := store.GetBySymbol(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestTradeStore_GetBySymbolAndListSymbols(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	require.NoError(t, store.InsertBulk(ctx, []*domain.TradeRecord{
		testTrade("S1", "BTC-USD", domain.SideSell, "1", "110", 5),
		testTrade("B2", "BTC-USD", domain.SideBuy, "1", "100", 0),
		testTrade("B1", "BTC-USD", domain.SideBuy, "1", "100", 0),
		testTrade("E1", "ETH-USD", domain.SideBuy, "2", "3000", 30),
	}))

	trades, err := store.GetBySymbol(ctx, "BTC-USD")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "B1", trades[0].OrderID)
	assert.Equal(t, "B2", trades[1].OrderID)
	assert.Equal(t, "S1", trades[2].OrderID)

	symbols, err := store.ListSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, symbols)

	recent, err := store.ListSymbolsSince(ctx, testEpoch.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH-USD"}, recent)
}

func TestTradeStore_TerminalRowsImmutable(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)
	require.NoError(t, store.Insert(ctx, testTrade("B1", "BTC-USD", domain.SideBuy, "1", "100", 0)))

	_, err := pool.Exec(ctx, `UPDATE trade_records SET notes = 'reviewed' WHERE order_id = 'B1'`)
	require.NoError(t, err, "notes must stay editable")

	_, err = pool.Exec(ctx, `UPDATE trade_records SET size = 2 WHERE order_id = 'B1'`)
	assert.Error(t, err, "terminal size must be immutable")
}
