package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllocationRecord links a quantity of a sell to the buy lot it closed out.
// Corresponds to allocations table.
//
// A row with BuyOrderID == nil is the unmatched remainder of a sell: the
// quantity sold without any earlier buy inventory to cover it. Such rows
// carry Proceeds but no CostBasis or PnL.
type AllocationRecord struct {
	AllocationID      string // deterministic hash, see idhash.ComputeAllocationID
	Symbol            string
	AllocationVersion int
	Sequence          int // position inside the (symbol, version) set

	SellOrderID string
	BuyOrderID  *string // nil for unmatched remainder

	AllocatedSize decimal.Decimal
	CostBasis     *decimal.Decimal // (buy price + buy fee per unit) * size; nil when unmatched
	Proceeds      decimal.Decimal  // sell price * size - sell fee per unit * size
	PnL           *decimal.Decimal // Proceeds - CostBasis; nil when unmatched

	SellFilledAt time.Time
	BuyFilledAt  *time.Time // nil when unmatched
	ComputedAt   time.Time
}

// IsMatched reports whether the row is backed by a buy lot.
func (a *AllocationRecord) IsMatched() bool {
	return a.BuyOrderID != nil
}

// SameAllocation compares two rows ignoring AllocationID and ComputedAt,
// the only fields allowed to differ between recomputations of the same input.
func (a *AllocationRecord) SameAllocation(b *AllocationRecord) bool {
	if a.Symbol != b.Symbol || a.AllocationVersion != b.AllocationVersion || a.Sequence != b.Sequence {
		return false
	}
	if a.SellOrderID != b.SellOrderID || !equalStringPtr(a.BuyOrderID, b.BuyOrderID) {
		return false
	}
	if !a.AllocatedSize.Equal(b.AllocatedSize) || !a.Proceeds.Equal(b.Proceeds) {
		return false
	}
	if !equalDecimalPtr(a.CostBasis, b.CostBasis) || !equalDecimalPtr(a.PnL, b.PnL) {
		return false
	}
	if !a.SellFilledAt.Equal(b.SellFilledAt) {
		return false
	}
	if (a.BuyFilledAt == nil) != (b.BuyFilledAt == nil) {
		return false
	}
	return a.BuyFilledAt == nil || a.BuyFilledAt.Equal(*b.BuyFilledAt)
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalDecimalPtr(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Clone returns a copy that shares no pointers with a.
func (a *AllocationRecord) Clone() *AllocationRecord {
	c := *a
	if a.BuyOrderID != nil {
		id := *a.BuyOrderID
		c.BuyOrderID = &id
	}
	if a.CostBasis != nil {
		v := *a.CostBasis
		c.CostBasis = &v
	}
	if a.PnL != nil {
		v := *a.PnL
		c.PnL = &v
	}
	if a.BuyFilledAt != nil {
		ts := *a.BuyFilledAt
		c.BuyFilledAt = &ts
	}
	return &c
}
