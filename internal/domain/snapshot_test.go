package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func row(sell string, buy *string, size, cost, proceeds string) *AllocationRecord {
	r := &AllocationRecord{
		Symbol:            "BTC-USD",
		AllocationVersion: 1,
		SellOrderID:       sell,
		BuyOrderID:        buy,
		AllocatedSize:     decimal.RequireFromString(size),
		Proceeds:          decimal.RequireFromString(proceeds),
		SellFilledAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if buy != nil {
		c := decimal.RequireFromString(cost)
		p := r.Proceeds.Sub(c)
		r.CostBasis = &c
		r.PnL = &p
	}
	return r
}

func strPtr(s string) *string { return &s }

func TestSummarizeAllocations(t *testing.T) {
	rows := []*AllocationRecord{
		row("S1", strPtr("B1"), "1", "100", "150"), // win
		row("S2", strPtr("B1"), "1", "100", "90"),  // loss
		row("S3", strPtr("B2"), "0.5", "50", "60"), // partly matched
		row("S3", nil, "0.5", "", "60"),
		row("S4", strPtr("B2"), "1", "80", "80"), // break-even counts as loss
	}

	s := SummarizeAllocations("BTC-USD", 1, rows)

	assert.Equal(t, 5, s.Allocations)
	assert.True(t, s.RealizedPnL.Equal(decimal.RequireFromString("50")), s.RealizedPnL.String())
	assert.True(t, s.Proceeds.Equal(decimal.RequireFromString("380")), s.Proceeds.String())
	assert.True(t, s.CostBasis.Equal(decimal.RequireFromString("330")), s.CostBasis.String())
	assert.True(t, s.MatchedSize.Equal(decimal.RequireFromString("3.5")), s.MatchedSize.String())
	assert.True(t, s.UnmatchedSize.Equal(decimal.RequireFromString("0.5")), s.UnmatchedSize.String())
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.Equal(t, 1, s.UnmatchedSells)
	assert.Equal(t, "0.3333", s.WinRate().StringFixed(4))
}

func TestSummarizeAllocations_Empty(t *testing.T) {
	s := SummarizeAllocations("ETH-USD", 2, nil)

	assert.Equal(t, 0, s.Allocations)
	assert.True(t, s.RealizedPnL.IsZero())
	assert.True(t, s.WinRate().IsZero())
}
