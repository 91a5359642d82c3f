package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PnLSnapshot is the per-symbol P&L summary captured after a successful run.
// Corresponds to pnl_snapshots table (ClickHouse).
type PnLSnapshot struct {
	Symbol            string
	AllocationVersion int
	RunID             string
	ComputedAt        time.Time

	RealizedPnL   decimal.Decimal // sum of PnL over matched rows
	Proceeds      decimal.Decimal // matched rows only
	CostBasis     decimal.Decimal
	MatchedSize   decimal.Decimal
	UnmatchedSize decimal.Decimal

	Wins           int // fully matched sells with PnL > 0
	Losses         int // fully matched sells with PnL <= 0
	UnmatchedSells int // sells with any unmatched remainder
	Allocations    int
}

// SummarizeAllocations folds the allocation rows of one (symbol, version)
// into a snapshot. A sell counts toward Wins or Losses only when every unit
// of it was matched; the P&L of its matched rows decides which.
func SummarizeAllocations(symbol string, version int, rows []*AllocationRecord) PnLSnapshot {
	s := PnLSnapshot{
		Symbol:            symbol,
		AllocationVersion: version,
		RealizedPnL:       decimal.Zero,
		Proceeds:          decimal.Zero,
		CostBasis:         decimal.Zero,
		MatchedSize:       decimal.Zero,
		UnmatchedSize:     decimal.Zero,
		Allocations:       len(rows),
	}

	type sellTotals struct {
		pnl       decimal.Decimal
		unmatched bool
	}
	var order []string
	sells := make(map[string]*sellTotals)

	for _, r := range rows {
		st, ok := sells[r.SellOrderID]
		if !ok {
			st = &sellTotals{pnl: decimal.Zero}
			sells[r.SellOrderID] = st
			order = append(order, r.SellOrderID)
		}

		if !r.IsMatched() {
			st.unmatched = true
			s.UnmatchedSize = s.UnmatchedSize.Add(r.AllocatedSize)
			continue
		}
		s.MatchedSize = s.MatchedSize.Add(r.AllocatedSize)
		s.Proceeds = s.Proceeds.Add(r.Proceeds)
		if r.CostBasis != nil {
			s.CostBasis = s.CostBasis.Add(*r.CostBasis)
		}
		if r.PnL != nil {
			s.RealizedPnL = s.RealizedPnL.Add(*r.PnL)
			st.pnl = st.pnl.Add(*r.PnL)
		}
	}

	for _, id := range order {
		st := sells[id]
		switch {
		case st.unmatched:
			s.UnmatchedSells++
		case st.pnl.IsPositive():
			s.Wins++
		default:
			s.Losses++
		}
	}
	return s
}

// WinRate is Wins / (Wins + Losses), zero when no sell was fully matched.
func (s PnLSnapshot) WinRate() decimal.Decimal {
	closed := s.Wins + s.Losses
	if closed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Wins)).DivRound(decimal.NewFromInt(int64(closed)), 4)
}
