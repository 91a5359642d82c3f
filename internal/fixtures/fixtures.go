// Package fixtures loads trade ledgers from YAML files into a TradeStore.
package fixtures

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

//go:embed demo.yaml
var demoLedger []byte

// ledgerFile is the on-disk layout. Quantities are strings so that no value
// passes through a float.
type ledgerFile struct {
	Trades []tradeEntry `yaml:"trades"`
}

type tradeEntry struct {
	OrderID  string `yaml:"order_id"`
	Symbol   string `yaml:"symbol"`
	Side     string `yaml:"side"`
	Size     string `yaml:"size"`
	Price    string `yaml:"price"`
	Fee      string `yaml:"fee"`
	FilledAt string `yaml:"filled_at"`
	Status   string `yaml:"status"`
	Notes    string `yaml:"notes"`
}

// Parse decodes a YAML ledger. Rows are returned in file order; values are
// not checked for eligibility, the matcher does that.
func Parse(data []byte) ([]*domain.TradeRecord, error) {
	var f ledgerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}

	trades := make([]*domain.TradeRecord, 0, len(f.Trades))
	for i, e := range f.Trades {
		t, err := e.toDomain()
		if err != nil {
			return nil, fmt.Errorf("trade %d (%s): %w", i, e.OrderID, err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func (e tradeEntry) toDomain() (*domain.TradeRecord, error) {
	if e.OrderID == "" || e.Symbol == "" {
		return nil, fmt.Errorf("order_id and symbol are required")
	}
	size, err := decimal.NewFromString(e.Size)
	if err != nil {
		return nil, fmt.Errorf("size: %w", err)
	}
	price, err := decimal.NewFromString(e.Price)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	fee := decimal.Zero
	if e.Fee != "" {
		if fee, err = decimal.NewFromString(e.Fee); err != nil {
			return nil, fmt.Errorf("fee: %w", err)
		}
	}
	filledAt, err := time.Parse(time.RFC3339Nano, e.FilledAt)
	if err != nil {
		return nil, fmt.Errorf("filled_at: %w", err)
	}
	status := domain.TradeStatus(e.Status)
	if status == "" {
		status = domain.TradeStatusFilled
	}

	return &domain.TradeRecord{
		OrderID:  e.OrderID,
		Symbol:   e.Symbol,
		Side:     domain.Side(e.Side),
		Size:     size,
		Price:    price,
		Fee:      fee,
		FilledAt: filledAt.UTC(),
		Status:   status,
		Notes:    e.Notes,
	}, nil
}

// LoadFile parses the ledger at path.
func LoadFile(path string) ([]*domain.TradeRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	return Parse(data)
}

// Demo returns the built-in sample ledger.
func Demo() []*domain.TradeRecord {
	trades, err := Parse(demoLedger)
	if err != nil {
		panic(fmt.Sprintf("embedded demo ledger: %v", err))
	}
	return trades
}

// Load inserts trades from path, or the demo ledger when path is empty, in
// a single batch. Returns the number of rows inserted.
func Load(ctx context.Context, store storage.TradeStore, path string) (int, error) {
	var trades []*domain.TradeRecord
	if path == "" {
		trades = Demo()
	} else {
		var err error
		if trades, err = LoadFile(path); err != nil {
			return 0, err
		}
	}
	if err := store.InsertBulk(ctx, trades); err != nil {
		return 0, fmt.Errorf("insert ledger: %w", err)
	}
	return len(trades), nil
}
