package verification

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/matching"
	"fifo-allocator/internal/storage/memory"
)

func setupStores(t *testing.T) (*memory.TradeStore, *memory.AllocationStore) {
	t.Helper()
	ctx := context.Background()
	trades := memory.NewTradeStore()
	allocations := memory.NewAllocationStore()

	if err := trades.InsertBulk(ctx, ledger()); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	stored, err := trades.GetBySymbol(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("GetBySymbol failed: %v", err)
	}
	if err := allocations.Replace(ctx, "BTC-USD", 1, matching.Run("BTC-USD", 1, stored, epoch).Allocations); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	return trades, allocations
}

func TestVerifySymbol_Match(t *testing.T) {
	trades, allocations := setupStores(t)
	v := NewVerifier(trades, allocations)

	report, err := v.VerifySymbol(context.Background(), "BTC-USD", 1)
	if err != nil {
		t.Fatalf("VerifySymbol failed: %v", err)
	}
	if !report.Match {
		t.Errorf("expected match, got rows=%v violations=%v", report.Rows, report.Violations)
	}
	if report.StoredRows != 4 || report.ExpectedRows != 4 {
		t.Errorf("expected 4/4 rows, got %d/%d", report.StoredRows, report.ExpectedRows)
	}
}

func TestVerifySymbol_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	trades, allocations := setupStores(t)

	rows, _ := allocations.GetBySymbolVersion(ctx, "BTC-USD", 1)
	rows[1].Proceeds = rows[1].Proceeds.Add(decimal.NewFromInt(5))
	if err := allocations.Replace(ctx, "BTC-USD", 1, rows); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	report, err := NewVerifier(trades, allocations).VerifySymbol(ctx, "BTC-USD", 1)
	if err != nil {
		t.Fatalf("VerifySymbol failed: %v", err)
	}
	if report.Match {
		t.Fatal("expected divergence")
	}
	if len(report.Rows) != 1 || report.Rows[0].Sequence != rows[1].Sequence {
		t.Fatalf("expected one divergent row at sequence %d, got %+v", rows[1].Sequence, report.Rows)
	}
	fields := map[string]bool{}
	for _, d := range report.Rows[0].Divergences {
		fields[d.Field] = true
	}
	if !fields["Proceeds"] {
		t.Errorf("expected Proceeds divergence, got %+v", report.Rows[0].Divergences)
	}
	if kinds(report.Violations)[ViolationPnLMismatch] != 1 {
		t.Errorf("expected pnl mismatch violation, got %v", report.Violations)
	}
}

func TestVerifySymbol_MissingSet(t *testing.T) {
	trades, allocations := setupStores(t)

	report, err := NewVerifier(trades, allocations).VerifySymbol(context.Background(), "BTC-USD", 7)
	if err != nil {
		t.Fatalf("VerifySymbol failed: %v", err)
	}
	if report.Match || len(report.Rows) != 4 {
		t.Errorf("expected 4 missing rows, got %+v", report.Rows)
	}
}

func TestVerifyAll(t *testing.T) {
	trades, allocations := setupStores(t)

	report, err := NewVerifier(trades, allocations).VerifyAll(context.Background(), 1)
	if err != nil {
		t.Fatalf("VerifyAll failed: %v", err)
	}
	if report.TotalSymbols != 1 || report.MatchedSymbols != 1 || report.DivergentSymbols != 0 {
		t.Errorf("unexpected report %+v", report)
	}

	if _, err := NewVerifier(trades, allocations).VerifyAll(context.Background(), 0); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestCompareVersions(t *testing.T) {
	ctx := context.Background()
	trades, allocations := setupStores(t)

	// Version 2 prices s2 against a cheaper lot.
	rows, _ := allocations.GetBySymbolVersion(ctx, "BTC-USD", 1)
	for _, r := range rows {
		r.AllocationVersion = 2
		if r.SellOrderID == "s2" && r.PnL != nil {
			p := r.PnL.Add(decimal.NewFromInt(10))
			r.PnL = &p
		}
	}
	if err := allocations.Replace(ctx, "BTC-USD", 2, rows); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	diff, err := NewVerifier(trades, allocations).CompareVersions(ctx, "BTC-USD", 1, 2)
	if err != nil {
		t.Fatalf("CompareVersions failed: %v", err)
	}
	if len(diff.Sells) != 2 {
		t.Fatalf("expected 2 sells, got %d", len(diff.Sells))
	}
	if diff.ChangedSells != 1 {
		t.Errorf("expected 1 changed sell, got %d", diff.ChangedSells)
	}
	s2 := diff.Sells[1]
	if s2.SellOrderID != "s2" || !s2.Delta.Equal(decimal.NewFromInt(10)) {
		t.Errorf("unexpected s2 diff %+v", s2)
	}
	if !diff.TotalB.Sub(diff.TotalA).Equal(decimal.NewFromInt(10)) {
		t.Errorf("totals differ by %s", diff.TotalB.Sub(diff.TotalA))
	}
}

func TestCompareVersions_SellOnlyInOne(t *testing.T) {
	ctx := context.Background()
	trades, allocations := setupStores(t)

	rows, _ := allocations.GetBySymbolVersion(ctx, "BTC-USD", 1)
	var keep []*domain.AllocationRecord
	for _, r := range rows {
		if r.SellOrderID == "s1" {
			r.AllocationVersion = 3
			keep = append(keep, r)
		}
	}
	if err := allocations.Replace(ctx, "BTC-USD", 3, keep); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	diff, err := NewVerifier(trades, allocations).CompareVersions(ctx, "BTC-USD", 1, 3)
	if err != nil {
		t.Fatalf("CompareVersions failed: %v", err)
	}
	if diff.ChangedSells != 1 || diff.Sells[1].InB {
		t.Errorf("expected s2 missing from version 3, got %+v", diff.Sells)
	}
}
