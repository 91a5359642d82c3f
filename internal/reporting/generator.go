// Package reporting is the read side of the allocation store: filtered rows,
// per-symbol realized P&L and rendered operator reports.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

var (
	// ErrVersionRequired is returned when a Query has no positive Version.
	ErrVersionRequired = errors.New("allocation version is required")

	// ErrInvalidRange is returned when From is not before To.
	ErrInvalidRange = errors.New("invalid time range: from must be before to")
)

// Generator answers reporting queries from stored allocations.
type Generator struct {
	allocations storage.AllocationStore
	runs        storage.ComputationLogStore // optional, used by Generate
	now         func() time.Time            // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator. runs may be nil.
func NewGenerator(allocations storage.AllocationStore, runs storage.ComputationLogStore) *Generator {
	return &Generator{
		allocations: allocations,
		runs:        runs,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

func (q Query) validate() error {
	if q.Version < 1 {
		return ErrVersionRequired
	}
	if q.From != nil && q.To != nil && !q.From.Before(*q.To) {
		return ErrInvalidRange
	}
	return nil
}

func (q Query) filter() storage.AllocationFilter {
	return storage.AllocationFilter{
		Version: q.Version,
		Symbol:  q.Symbol,
		From:    q.From,
		To:      q.To,
	}
}

// Rows returns the allocation rows matching q, ordered by symbol then sequence.
func (g *Generator) Rows(ctx context.Context, q Query) ([]*domain.AllocationRecord, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	rows, err := g.allocations.Query(ctx, q.filter())
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	return rows, nil
}

// Summary returns realized P&L per symbol and in total for the rows matching q.
// The time window applies to the sell fill time, so a sell is never split.
func (g *Generator) Summary(ctx context.Context, q Query) (*Summary, error) {
	rows, err := g.Rows(ctx, q)
	if err != nil {
		return nil, err
	}
	return summarize(q.Version, rows), nil
}

func summarize(version int, rows []*domain.AllocationRecord) *Summary {
	bySymbol := make(map[string][]*domain.AllocationRecord)
	for _, r := range rows {
		bySymbol[r.Symbol] = append(bySymbol[r.Symbol], r)
	}

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	out := &Summary{
		Version: version,
		Symbols: make([]domain.PnLSnapshot, 0, len(symbols)),
		Total: domain.PnLSnapshot{
			Symbol:            TotalSymbol,
			AllocationVersion: version,
			RealizedPnL:       decimal.Zero,
			Proceeds:          decimal.Zero,
			CostBasis:         decimal.Zero,
			MatchedSize:       decimal.Zero,
			UnmatchedSize:     decimal.Zero,
		},
	}
	for _, sym := range symbols {
		s := domain.SummarizeAllocations(sym, version, bySymbol[sym])
		out.Symbols = append(out.Symbols, s)

		t := &out.Total
		t.RealizedPnL = t.RealizedPnL.Add(s.RealizedPnL)
		t.Proceeds = t.Proceeds.Add(s.Proceeds)
		t.CostBasis = t.CostBasis.Add(s.CostBasis)
		t.MatchedSize = t.MatchedSize.Add(s.MatchedSize)
		t.UnmatchedSize = t.UnmatchedSize.Add(s.UnmatchedSize)
		t.Wins += s.Wins
		t.Losses += s.Losses
		t.UnmatchedSells += s.UnmatchedSells
		t.Allocations += s.Allocations
	}
	return out
}

// Generate produces a complete report for q.
func (g *Generator) Generate(ctx context.Context, q Query) (*Report, error) {
	summary, err := g.Summary(ctx, q)
	if err != nil {
		return nil, err
	}

	report := &Report{
		GeneratedAt: g.now(),
		Query:       q,
		Summary:     summary,
	}
	if g.runs == nil {
		return report, nil
	}

	for _, s := range summary.Symbols {
		entry, err := g.runs.LatestFor(ctx, s.Symbol, q.Version)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("latest run for %s/%d: %w", s.Symbol, q.Version, err)
		}
		report.Runs = append(report.Runs, entry)
	}
	return report, nil
}
