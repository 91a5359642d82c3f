package verification

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/matching"
)

// ViolationKind classifies a broken allocation invariant.
type ViolationKind string

const (
	// Every eligible sell is allocated exactly its size, matched or not.
	ViolationSellNotCovered ViolationKind = "sell_not_covered"
	// No buy is matched beyond its size.
	ViolationBuyOverdrawn ViolationKind = "buy_overdrawn"
	// BuyOrderID, BuyFilledAt, CostBasis and PnL are all set or all nil.
	ViolationNullPairing ViolationKind = "null_pairing"
	// PnL equals Proceeds minus CostBasis.
	ViolationPnLMismatch ViolationKind = "pnl_mismatch"
	// A referenced order is not in the ledger.
	ViolationUnknownTrade ViolationKind = "unknown_trade"
	// A referenced order is excluded from matching or on the wrong side.
	ViolationIneligibleTrade ViolationKind = "ineligible_trade"
	// A matched buy is not filled strictly before its sell.
	ViolationTimeOrder ViolationKind = "time_order"
	// AllocatedSize is zero or negative.
	ViolationNonPositiveSize ViolationKind = "non_positive_size"
	// Rows of more than one (symbol, version) were passed together.
	ViolationMixedSet ViolationKind = "mixed_set"
)

// Violation is one broken invariant.
type Violation struct {
	Kind    ViolationKind
	OrderID string // sell or buy the violation is about, if any
	Detail  string
}

func (v Violation) String() string {
	if v.OrderID == "" {
		return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
	}
	return fmt.Sprintf("%s [%s]: %s", v.Kind, v.OrderID, v.Detail)
}

// CheckInvariants validates one (symbol, version) allocation set against the
// ledger it was computed from. trades may contain rows of any status; the
// same eligibility rules as matching apply. An empty result means the set is
// consistent.
func CheckInvariants(trades []*domain.TradeRecord, allocations []*domain.AllocationRecord) []Violation {
	var violations []Violation
	add := func(kind ViolationKind, orderID, format string, args ...any) {
		violations = append(violations, Violation{Kind: kind, OrderID: orderID, Detail: fmt.Sprintf(format, args...)})
	}

	symbol := ""
	switch {
	case len(allocations) > 0:
		symbol = allocations[0].Symbol
		version := allocations[0].AllocationVersion
		for _, a := range allocations[1:] {
			if a.Symbol != symbol || a.AllocationVersion != version {
				add(ViolationMixedSet, a.SellOrderID, "row %s/%d in set %s/%d", a.Symbol, a.AllocationVersion, symbol, version)
			}
		}
	case len(trades) > 0:
		symbol = trades[0].Symbol
	default:
		return nil
	}

	buys, sells, excluded := matching.Partition(symbol, trades)
	ledger := make(map[string]*domain.TradeRecord, len(trades))
	for _, t := range trades {
		if t != nil {
			ledger[t.OrderID] = t
		}
	}
	eligibleBuys := indexByID(buys)
	eligibleSells := indexByID(sells)
	excludedIDs := make(map[string]matching.ExclusionReason, len(excluded))
	for _, x := range excluded {
		excludedIDs[x.OrderID] = x.Reason
	}

	sellTotals := make(map[string]decimal.Decimal)
	buyTotals := make(map[string]decimal.Decimal)

	for _, a := range allocations {
		if !a.AllocatedSize.IsPositive() {
			add(ViolationNonPositiveSize, a.SellOrderID, "sequence %d allocates %s", a.Sequence, a.AllocatedSize)
		}
		sellTotals[a.SellOrderID] = sellTotals[a.SellOrderID].Add(a.AllocatedSize)

		sell, ok := eligibleSells[a.SellOrderID]
		if !ok {
			checkReference(add, ledger, excludedIDs, a.SellOrderID, "sell")
		}

		matched := a.BuyOrderID != nil
		if matched != (a.BuyFilledAt != nil) || matched != (a.CostBasis != nil) || matched != (a.PnL != nil) {
			add(ViolationNullPairing, a.SellOrderID, "sequence %d has inconsistent buy/cost/pnl nullity", a.Sequence)
			continue
		}
		if !matched {
			continue
		}

		if !a.PnL.Equal(a.Proceeds.Sub(*a.CostBasis)) {
			add(ViolationPnLMismatch, a.SellOrderID, "sequence %d pnl %s != proceeds %s - cost %s",
				a.Sequence, a.PnL, a.Proceeds, a.CostBasis)
		}

		buyID := *a.BuyOrderID
		buyTotals[buyID] = buyTotals[buyID].Add(a.AllocatedSize)
		buy, ok := eligibleBuys[buyID]
		if !ok {
			checkReference(add, ledger, excludedIDs, buyID, "buy")
			continue
		}
		if sell != nil && !buy.FilledAt.Before(sell.FilledAt) {
			add(ViolationTimeOrder, a.SellOrderID, "buy %s filled at %s, not before sell at %s",
				buyID, buy.FilledAt.Format(time.RFC3339Nano), sell.FilledAt.Format(time.RFC3339Nano))
		}
	}

	for _, s := range sells {
		got := sellTotals[s.OrderID]
		if !got.Equal(s.Size) {
			add(ViolationSellNotCovered, s.OrderID, "allocated %s of %s", got, s.Size)
		}
	}

	buyIDs := make([]string, 0, len(buyTotals))
	for id := range buyTotals {
		buyIDs = append(buyIDs, id)
	}
	sort.Strings(buyIDs)
	for _, id := range buyIDs {
		if buy, ok := eligibleBuys[id]; ok && buyTotals[id].GreaterThan(buy.Size) {
			add(ViolationBuyOverdrawn, id, "matched %s of %s", buyTotals[id], buy.Size)
		}
	}

	return violations
}

func checkReference(add func(ViolationKind, string, string, ...any), ledger map[string]*domain.TradeRecord, excluded map[string]matching.ExclusionReason, orderID, role string) {
	if _, ok := ledger[orderID]; !ok {
		add(ViolationUnknownTrade, orderID, "%s not in ledger", role)
		return
	}
	if reason, ok := excluded[orderID]; ok {
		add(ViolationIneligibleTrade, orderID, "%s excluded from matching: %s", role, reason)
		return
	}
	add(ViolationIneligibleTrade, orderID, "referenced as %s but has the other side", role)
}

func indexByID(trades []*domain.TradeRecord) map[string]*domain.TradeRecord {
	m := make(map[string]*domain.TradeRecord, len(trades))
	for _, t := range trades {
		m[t.OrderID] = t
	}
	return m
}
