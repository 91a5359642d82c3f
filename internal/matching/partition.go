package matching

import (
	"sort"

	"fifo-allocator/internal/domain"
)

// ExclusionReason explains why a trade row was left out of matching.
type ExclusionReason string

const (
	ReasonSymbolMismatch   ExclusionReason = "symbol_mismatch"
	ReasonUnknownSide      ExclusionReason = "unknown_side"
	ReasonNotFilled        ExclusionReason = "not_filled"
	ReasonNonPositiveSize  ExclusionReason = "non_positive_size"
	ReasonNonPositivePrice ExclusionReason = "non_positive_price"
	ReasonNegativeFee      ExclusionReason = "negative_fee"
)

// Exclusion is a trade row skipped by Partition.
type Exclusion struct {
	OrderID string
	Reason  ExclusionReason
}

// Partition splits a symbol's ledger rows into eligible buys and sells, each
// sorted by (filled_at ASC, order_id ASC). Rows that cannot take part in
// matching are returned as exclusions in input order; they never cause an
// error.
func Partition(symbol string, trades []*domain.TradeRecord) (buys, sells []*domain.TradeRecord, excluded []Exclusion) {
	for _, t := range trades {
		if t == nil {
			continue
		}
		if reason, ok := classify(symbol, t); !ok {
			excluded = append(excluded, Exclusion{OrderID: t.OrderID, Reason: reason})
			continue
		}
		if t.Side == domain.SideBuy {
			buys = append(buys, t)
		} else {
			sells = append(sells, t)
		}
	}

	sortChronological(buys)
	sortChronological(sells)
	return buys, sells, excluded
}

func classify(symbol string, t *domain.TradeRecord) (ExclusionReason, bool) {
	switch {
	case t.Symbol != symbol:
		return ReasonSymbolMismatch, false
	case !t.Side.Valid():
		return ReasonUnknownSide, false
	case t.Status != domain.TradeStatusFilled:
		return ReasonNotFilled, false
	case !t.Size.IsPositive():
		return ReasonNonPositiveSize, false
	case !t.Price.IsPositive():
		return ReasonNonPositivePrice, false
	case t.Fee.IsNegative():
		return ReasonNegativeFee, false
	}
	return "", true
}

// sortChronological orders trades by FilledAt ASC, OrderID ASC.
func sortChronological(trades []*domain.TradeRecord) {
	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].FilledAt.Equal(trades[j].FilledAt) {
			return trades[i].FilledAt.Before(trades[j].FilledAt)
		}
		return trades[i].OrderID < trades[j].OrderID
	})
}
