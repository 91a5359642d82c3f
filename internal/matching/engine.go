// Package matching allocates sells to the buy lots they close out, FIFO.
//
// Everything here is a pure function of its arguments: no storage access, no
// clock reads, no shared state. Running it twice on the same ledger rows
// yields allocations that differ at most in ComputedAt.
package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/idhash"
)

// FeePrecision is the number of decimal places kept when a fee is prorated
// over part of a fill.
const FeePrecision int32 = 18

// Result is the outcome of matching one symbol's ledger.
type Result struct {
	Symbol      string
	Version     int
	Allocations []*domain.AllocationRecord

	BuysProcessed  int
	SellsProcessed int
	Excluded       []Exclusion
	UnmatchedSells int // sells that produced an unmatched remainder row
}

// Run partitions the ledger rows of one symbol and allocates every eligible
// sell against eligible buys.
func Run(symbol string, version int, trades []*domain.TradeRecord, computedAt time.Time) *Result {
	buys, sells, excluded := Partition(symbol, trades)
	allocations := Allocate(symbol, version, buys, sells, computedAt)

	unmatched := 0
	for _, a := range allocations {
		if !a.IsMatched() {
			unmatched++
		}
	}

	return &Result{
		Symbol:         symbol,
		Version:        version,
		Allocations:    allocations,
		BuysProcessed:  len(buys),
		SellsProcessed: len(sells),
		Excluded:       excluded,
		UnmatchedSells: unmatched,
	}
}

// Allocate matches sells against buys First-In-First-Out.
//
// Both slices must already be eligible and sorted as Partition returns them.
// A sell only consumes buys filled strictly before it. Buy consumption is
// tracked in a local accumulator; inputs are never modified. Whatever part of
// a sell cannot be covered becomes a single row with no buy.
func Allocate(symbol string, version int, buys, sells []*domain.TradeRecord, computedAt time.Time) []*domain.AllocationRecord {
	consumed := make([]decimal.Decimal, len(buys))
	cursor := 0 // earliest buy with inventory left

	var out []*domain.AllocationRecord
	for _, sell := range sells {
		remaining := sell.Size

		for cursor < len(buys) && remaining.IsPositive() {
			buy := buys[cursor]
			if !buy.FilledAt.Before(sell.FilledAt) {
				break
			}

			available := buy.Size.Sub(consumed[cursor])
			take := decimal.Min(available, remaining)

			consumed[cursor] = consumed[cursor].Add(take)
			remaining = remaining.Sub(take)
			out = append(out, matchedRow(symbol, version, len(out), sell, buy, take, computedAt))

			if consumed[cursor].GreaterThanOrEqual(buy.Size) {
				cursor++
			}
		}

		if remaining.IsPositive() {
			out = append(out, unmatchedRow(symbol, version, len(out), sell, remaining, computedAt))
		}
	}

	return out
}

func matchedRow(symbol string, version, seq int, sell, buy *domain.TradeRecord, size decimal.Decimal, computedAt time.Time) *domain.AllocationRecord {
	buyID := buy.OrderID
	buyFilledAt := buy.FilledAt
	cost := buy.Price.Mul(size).Add(prorateFee(buy.Fee, size, buy.Size))
	proceeds := sellProceeds(sell, size)
	pnl := proceeds.Sub(cost)

	return &domain.AllocationRecord{
		AllocationID:      idhash.ComputeAllocationID(symbol, version, sell.OrderID, buyID, seq),
		Symbol:            symbol,
		AllocationVersion: version,
		Sequence:          seq,
		SellOrderID:       sell.OrderID,
		BuyOrderID:        &buyID,
		AllocatedSize:     size,
		CostBasis:         &cost,
		Proceeds:          proceeds,
		PnL:               &pnl,
		SellFilledAt:      sell.FilledAt,
		BuyFilledAt:       &buyFilledAt,
		ComputedAt:        computedAt,
	}
}

func unmatchedRow(symbol string, version, seq int, sell *domain.TradeRecord, size decimal.Decimal, computedAt time.Time) *domain.AllocationRecord {
	return &domain.AllocationRecord{
		AllocationID:      idhash.ComputeAllocationID(symbol, version, sell.OrderID, "", seq),
		Symbol:            symbol,
		AllocationVersion: version,
		Sequence:          seq,
		SellOrderID:       sell.OrderID,
		AllocatedSize:     size,
		Proceeds:          sellProceeds(sell, size),
		SellFilledAt:      sell.FilledAt,
		ComputedAt:        computedAt,
	}
}

func sellProceeds(sell *domain.TradeRecord, size decimal.Decimal) decimal.Decimal {
	return sell.Price.Mul(size).Sub(prorateFee(sell.Fee, size, sell.Size))
}

// prorateFee returns the part of fee attributable to part units out of whole.
// fee*part/whole equals (fee/whole)*part but divides once.
func prorateFee(fee, part, whole decimal.Decimal) decimal.Decimal {
	if fee.IsZero() {
		return decimal.Zero
	}
	if part.Equal(whole) {
		return fee
	}
	return fee.Mul(part).DivRound(whole, FeePrecision)
}
