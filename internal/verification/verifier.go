// Package verification checks stored allocations: structural invariants
// against the ledger, equality with a fresh in-memory recomputation, and
// per-sell P&L differences between versions.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/matching"
	"fifo-allocator/internal/storage"
)

// ErrInvalidVersion is returned when a version argument is not positive.
var ErrInvalidVersion = errors.New("allocation version must be positive")

// FieldDivergence represents a mismatch between stored and recomputed values.
type FieldDivergence struct {
	Field    string      `json:"field"`
	Expected interface{} `json:"expected"` // recomputed value
	Actual   interface{} `json:"actual"`   // stored value
}

// RowDivergence lists the differing fields of one allocation sequence.
// Missing rows on either side are reported with a single "Row" field.
type RowDivergence struct {
	Sequence    int
	Divergences []FieldDivergence
}

// SymbolReport contains the result of verifying one (symbol, version) pair.
type SymbolReport struct {
	Symbol       string
	Version      int
	StoredRows   int
	ExpectedRows int
	Match        bool            // stored rows equal recomputation and no violations
	Rows         []RowDivergence // differences against recomputation
	Violations   []Violation     // invariant violations in the stored rows
}

// VerificationReport contains results for batch verification.
type VerificationReport struct {
	Version          int
	TotalSymbols     int
	MatchedSymbols   int
	DivergentSymbols int
	Results          []SymbolReport
}

// Verifier compares stored allocations with the ledger.
type Verifier struct {
	trades      storage.TradeStore
	allocations storage.AllocationStore
}

// NewVerifier creates a new Verifier.
func NewVerifier(trades storage.TradeStore, allocations storage.AllocationStore) *Verifier {
	return &Verifier{trades: trades, allocations: allocations}
}

// VerifySymbol recomputes (symbol, version) in memory and compares it with
// the stored set, ignoring AllocationID and ComputedAt. Nothing is written.
func (v *Verifier) VerifySymbol(ctx context.Context, symbol string, version int) (*SymbolReport, error) {
	if version < 1 {
		return nil, ErrInvalidVersion
	}

	ledger, err := v.trades.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", symbol, err)
	}
	stored, err := v.allocations.GetBySymbolVersion(ctx, symbol, version)
	if err != nil {
		return nil, fmt.Errorf("load allocations %s/%d: %w", symbol, version, err)
	}

	expected := matching.Run(symbol, version, ledger, time.Time{}).Allocations

	report := &SymbolReport{
		Symbol:       symbol,
		Version:      version,
		StoredRows:   len(stored),
		ExpectedRows: len(expected),
		Rows:         CompareAllocationSets(expected, stored),
		Violations:   CheckInvariants(ledger, stored),
	}
	report.Match = len(report.Rows) == 0 && len(report.Violations) == 0
	return report, nil
}

// VerifyAll verifies every symbol in the ledger at version.
func (v *Verifier) VerifyAll(ctx context.Context, version int) (*VerificationReport, error) {
	if version < 1 {
		return nil, ErrInvalidVersion
	}
	symbols, err := v.trades.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}

	report := &VerificationReport{
		Version:      version,
		TotalSymbols: len(symbols),
		Results:      make([]SymbolReport, 0, len(symbols)),
	}
	for _, symbol := range symbols {
		result, err := v.VerifySymbol(ctx, symbol, version)
		if err != nil {
			// Record error as divergence
			report.Results = append(report.Results, SymbolReport{
				Symbol:  symbol,
				Version: version,
				Rows: []RowDivergence{{
					Sequence:    -1,
					Divergences: []FieldDivergence{{Field: "Error", Expected: nil, Actual: err.Error()}},
				}},
			})
			report.DivergentSymbols++
			continue
		}

		report.Results = append(report.Results, *result)
		if result.Match {
			report.MatchedSymbols++
		} else {
			report.DivergentSymbols++
		}
	}
	return report, nil
}

// CompareAllocationSets pairs rows by position and reports every difference.
func CompareAllocationSets(expected, stored []*domain.AllocationRecord) []RowDivergence {
	var out []RowDivergence
	n := max(len(expected), len(stored))
	for i := 0; i < n; i++ {
		switch {
		case i >= len(stored):
			out = append(out, RowDivergence{Sequence: expected[i].Sequence, Divergences: []FieldDivergence{
				{Field: "Row", Expected: expected[i].SellOrderID, Actual: nil},
			}})
		case i >= len(expected):
			out = append(out, RowDivergence{Sequence: stored[i].Sequence, Divergences: []FieldDivergence{
				{Field: "Row", Expected: nil, Actual: stored[i].SellOrderID},
			}})
		default:
			if d := CompareAllocations(expected[i], stored[i]); len(d) > 0 {
				out = append(out, RowDivergence{Sequence: expected[i].Sequence, Divergences: d})
			}
		}
	}
	return out
}

// CompareAllocations compares two allocation rows field by field, ignoring
// AllocationID and ComputedAt.
func CompareAllocations(expected, stored *domain.AllocationRecord) []FieldDivergence {
	var divergences []FieldDivergence
	check := func(field string, equal bool, e, a interface{}) {
		if !equal {
			divergences = append(divergences, FieldDivergence{Field: field, Expected: e, Actual: a})
		}
	}

	check("Symbol", expected.Symbol == stored.Symbol, expected.Symbol, stored.Symbol)
	check("AllocationVersion", expected.AllocationVersion == stored.AllocationVersion, expected.AllocationVersion, stored.AllocationVersion)
	check("Sequence", expected.Sequence == stored.Sequence, expected.Sequence, stored.Sequence)
	check("SellOrderID", expected.SellOrderID == stored.SellOrderID, expected.SellOrderID, stored.SellOrderID)
	check("BuyOrderID", stringPtrEquals(expected.BuyOrderID, stored.BuyOrderID), strOrNil(expected.BuyOrderID), strOrNil(stored.BuyOrderID))
	check("AllocatedSize", expected.AllocatedSize.Equal(stored.AllocatedSize), expected.AllocatedSize.String(), stored.AllocatedSize.String())
	check("CostBasis", decimalPtrEquals(expected.CostBasis, stored.CostBasis), decOrNil(expected.CostBasis), decOrNil(stored.CostBasis))
	check("Proceeds", expected.Proceeds.Equal(stored.Proceeds), expected.Proceeds.String(), stored.Proceeds.String())
	check("PnL", decimalPtrEquals(expected.PnL, stored.PnL), decOrNil(expected.PnL), decOrNil(stored.PnL))
	check("SellFilledAt", expected.SellFilledAt.Equal(stored.SellFilledAt), expected.SellFilledAt, stored.SellFilledAt)
	check("BuyFilledAt", timePtrEquals(expected.BuyFilledAt, stored.BuyFilledAt), expected.BuyFilledAt, stored.BuyFilledAt)

	return divergences
}

// SellDiff is the realized P&L of one sell under two versions.
type SellDiff struct {
	SellOrderID string
	InA, InB    bool
	PnLA, PnLB  decimal.Decimal // matched rows only
	Delta       decimal.Decimal // PnLB - PnLA
}

// VersionDiff compares the allocation sets of one symbol at two versions.
type VersionDiff struct {
	Symbol       string
	A, B         int
	TotalA       decimal.Decimal
	TotalB       decimal.Decimal
	Sells        []SellDiff // sorted by sell order id
	ChangedSells int
}

// CompareVersions reports per-sell realized P&L of symbol under versions a and b.
func (v *Verifier) CompareVersions(ctx context.Context, symbol string, a, b int) (*VersionDiff, error) {
	if a < 1 || b < 1 {
		return nil, ErrInvalidVersion
	}
	rowsA, err := v.allocations.GetBySymbolVersion(ctx, symbol, a)
	if err != nil {
		return nil, fmt.Errorf("load allocations %s/%d: %w", symbol, a, err)
	}
	rowsB, err := v.allocations.GetBySymbolVersion(ctx, symbol, b)
	if err != nil {
		return nil, fmt.Errorf("load allocations %s/%d: %w", symbol, b, err)
	}

	pnlA := pnlBySell(rowsA)
	pnlB := pnlBySell(rowsB)

	ids := make([]string, 0, len(pnlA)+len(pnlB))
	for id := range pnlA {
		ids = append(ids, id)
	}
	for id := range pnlB {
		if _, ok := pnlA[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	diff := &VersionDiff{Symbol: symbol, A: a, B: b, TotalA: decimal.Zero, TotalB: decimal.Zero}
	for _, id := range ids {
		pa, inA := pnlA[id]
		pb, inB := pnlB[id]
		if !inA {
			pa = decimal.Zero
		}
		if !inB {
			pb = decimal.Zero
		}
		d := SellDiff{SellOrderID: id, InA: inA, InB: inB, PnLA: pa, PnLB: pb, Delta: pb.Sub(pa)}
		if !d.Delta.IsZero() || inA != inB {
			diff.ChangedSells++
		}
		diff.TotalA = diff.TotalA.Add(pa)
		diff.TotalB = diff.TotalB.Add(pb)
		diff.Sells = append(diff.Sells, d)
	}
	return diff, nil
}

func pnlBySell(rows []*domain.AllocationRecord) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, r := range rows {
		total, ok := out[r.SellOrderID]
		if !ok {
			total = decimal.Zero
		}
		if r.PnL != nil {
			total = total.Add(*r.PnL)
		}
		out[r.SellOrderID] = total
	}
	return out
}

func stringPtrEquals(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func decimalPtrEquals(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func timePtrEquals(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func strOrNil(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func decOrNil(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
