// Package sqlite stores the ledger, allocations and computation log in a
// single SQLite file through GORM. It suits a bot running on one host with
// no database server; every write goes through one connection.
package sqlite

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fifo-allocator/internal/domain"
)

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" to one database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&tradeRow{}, &allocationRow{}, &runRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return db, nil
}

type tradeRow struct {
	OrderID  string          `gorm:"column:order_id;primaryKey"`
	Symbol   string          `gorm:"column:symbol;not null;index:idx_trade_symbol_filled,priority:1"`
	Side     string          `gorm:"column:side;not null"`
	Size     decimal.Decimal `gorm:"column:size;type:text;not null"`
	Price    decimal.Decimal `gorm:"column:price;type:text;not null"`
	Fee      decimal.Decimal `gorm:"column:fee;type:text;not null"`
	FilledAt time.Time       `gorm:"column:filled_at;not null;index:idx_trade_symbol_filled,priority:2"`
	Status   string          `gorm:"column:status;not null"`
	Notes    string          `gorm:"column:notes;not null;default:''"`
}

func (tradeRow) TableName() string { return "trade_records" }

func toTradeRow(t *domain.TradeRecord) tradeRow {
	return tradeRow{
		OrderID:  t.OrderID,
		Symbol:   t.Symbol,
		Side:     string(t.Side),
		Size:     t.Size,
		Price:    t.Price,
		Fee:      t.Fee,
		FilledAt: t.FilledAt.UTC(),
		Status:   string(t.Status),
		Notes:    t.Notes,
	}
}

func (r *tradeRow) toDomain() *domain.TradeRecord {
	return &domain.TradeRecord{
		OrderID:  r.OrderID,
		Symbol:   r.Symbol,
		Side:     domain.Side(r.Side),
		Size:     r.Size,
		Price:    r.Price,
		Fee:      r.Fee,
		FilledAt: r.FilledAt.UTC(),
		Status:   domain.TradeStatus(r.Status),
		Notes:    r.Notes,
	}
}

type allocationRow struct {
	AllocationID      string              `gorm:"column:allocation_id;primaryKey"`
	Symbol            string              `gorm:"column:symbol;not null;uniqueIndex:uq_alloc_symbol_version_seq,priority:1"`
	AllocationVersion int                 `gorm:"column:allocation_version;not null;uniqueIndex:uq_alloc_symbol_version_seq,priority:2;index:idx_alloc_version_sell,priority:1"`
	Sequence          int                 `gorm:"column:sequence;not null;uniqueIndex:uq_alloc_symbol_version_seq,priority:3"`
	SellOrderID       string              `gorm:"column:sell_order_id;not null"`
	BuyOrderID        *string             `gorm:"column:buy_order_id"`
	AllocatedSize     decimal.Decimal     `gorm:"column:allocated_size;type:text;not null"`
	CostBasis         decimal.NullDecimal `gorm:"column:cost_basis;type:text"`
	Proceeds          decimal.Decimal     `gorm:"column:proceeds;type:text;not null"`
	PnL               decimal.NullDecimal `gorm:"column:pnl;type:text"`
	SellFilledAt      time.Time           `gorm:"column:sell_filled_at;not null;index:idx_alloc_version_sell,priority:2"`
	BuyFilledAt       *time.Time          `gorm:"column:buy_filled_at"`
	ComputedAt        time.Time           `gorm:"column:computed_at;not null"`
}

func (allocationRow) TableName() string { return "allocations" }

func toAllocationRow(a *domain.AllocationRecord) allocationRow {
	row := allocationRow{
		AllocationID:      a.AllocationID,
		Symbol:            a.Symbol,
		AllocationVersion: a.AllocationVersion,
		Sequence:          a.Sequence,
		SellOrderID:       a.SellOrderID,
		BuyOrderID:        a.BuyOrderID,
		AllocatedSize:     a.AllocatedSize,
		Proceeds:          a.Proceeds,
		SellFilledAt:      a.SellFilledAt.UTC(),
		ComputedAt:        a.ComputedAt.UTC(),
	}
	if a.CostBasis != nil {
		row.CostBasis = decimal.NewNullDecimal(*a.CostBasis)
	}
	if a.PnL != nil {
		row.PnL = decimal.NewNullDecimal(*a.PnL)
	}
	if a.BuyFilledAt != nil {
		ts := a.BuyFilledAt.UTC()
		row.BuyFilledAt = &ts
	}
	return row
}

func (r *allocationRow) toDomain() *domain.AllocationRecord {
	a := &domain.AllocationRecord{
		AllocationID:      r.AllocationID,
		Symbol:            r.Symbol,
		AllocationVersion: r.AllocationVersion,
		Sequence:          r.Sequence,
		SellOrderID:       r.SellOrderID,
		BuyOrderID:        r.BuyOrderID,
		AllocatedSize:     r.AllocatedSize,
		Proceeds:          r.Proceeds,
		SellFilledAt:      r.SellFilledAt.UTC(),
		BuyFilledAt:       r.BuyFilledAt,
		ComputedAt:        r.ComputedAt.UTC(),
	}
	if r.CostBasis.Valid {
		cost := r.CostBasis.Decimal
		a.CostBasis = &cost
	}
	if r.PnL.Valid {
		pnl := r.PnL.Decimal
		a.PnL = &pnl
	}
	return a
}

type runRow struct {
	RunID              string     `gorm:"column:run_id;primaryKey"`
	Symbol             string     `gorm:"column:symbol;not null;index:idx_run_symbol_version,priority:1"`
	AllocationVersion  int        `gorm:"column:allocation_version;not null;index:idx_run_symbol_version,priority:2"`
	Mode               string     `gorm:"column:mode;not null"`
	Forced             bool       `gorm:"column:forced;not null"`
	StartedAt          time.Time  `gorm:"column:started_at;not null;index"`
	FinishedAt         *time.Time `gorm:"column:finished_at"`
	Status             string     `gorm:"column:status;not null"`
	BuysProcessed      int        `gorm:"column:buys_processed;not null"`
	SellsProcessed     int        `gorm:"column:sells_processed;not null"`
	AllocationsCreated int        `gorm:"column:allocations_created;not null"`
	TradesExcluded     int        `gorm:"column:trades_excluded;not null"`
	UnmatchedSells     int        `gorm:"column:unmatched_sells;not null"`
	ErrorDetail        *string    `gorm:"column:error_detail"`
}

func (runRow) TableName() string { return "computation_log" }

func toRunRow(e *domain.ComputationLogEntry) runRow {
	row := runRow{
		RunID:              e.RunID,
		Symbol:             e.Symbol,
		AllocationVersion:  e.AllocationVersion,
		Mode:               string(e.Mode),
		Forced:             e.Forced,
		StartedAt:          e.StartedAt.UTC(),
		Status:             string(e.Status),
		BuysProcessed:      e.BuysProcessed,
		SellsProcessed:     e.SellsProcessed,
		AllocationsCreated: e.AllocationsCreated,
		TradesExcluded:     e.TradesExcluded,
		UnmatchedSells:     e.UnmatchedSells,
		ErrorDetail:        e.ErrorDetail,
	}
	if e.FinishedAt != nil {
		ts := e.FinishedAt.UTC()
		row.FinishedAt = &ts
	}
	return row
}

func (r *runRow) toDomain() *domain.ComputationLogEntry {
	return &domain.ComputationLogEntry{
		RunID:              r.RunID,
		Symbol:             r.Symbol,
		AllocationVersion:  r.AllocationVersion,
		Mode:               domain.RunMode(r.Mode),
		Forced:             r.Forced,
		StartedAt:          r.StartedAt.UTC(),
		FinishedAt:         r.FinishedAt,
		Status:             domain.RunStatus(r.Status),
		BuysProcessed:      r.BuysProcessed,
		SellsProcessed:     r.SellsProcessed,
		AllocationsCreated: r.AllocationsCreated,
		TradesExcluded:     r.TradesExcluded,
		UnmatchedSells:     r.UnmatchedSells,
		ErrorDetail:        r.ErrorDetail,
	}
}

func isDuplicateKeyError(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
