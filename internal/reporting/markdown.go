package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Realized P&L Report (version %d)\n\n", r.Query.Version))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Symbols: %s | Window: %s\n\n", scopeLabel(r.Query.Symbol), windowLabel(r.Query)))

	// Totals
	t := r.Summary.Total
	sb.WriteString("## Totals\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Realized P&L | %s |\n", t.RealizedPnL.String()))
	sb.WriteString(fmt.Sprintf("| Proceeds | %s |\n", t.Proceeds.String()))
	sb.WriteString(fmt.Sprintf("| Cost Basis | %s |\n", t.CostBasis.String()))
	sb.WriteString(fmt.Sprintf("| Matched Size | %s |\n", t.MatchedSize.String()))
	sb.WriteString(fmt.Sprintf("| Unmatched Size | %s |\n", t.UnmatchedSize.String()))
	sb.WriteString(fmt.Sprintf("| Wins / Losses | %d / %d |\n", t.Wins, t.Losses))
	sb.WriteString(fmt.Sprintf("| Win Rate | %s |\n", t.WinRate().StringFixed(4)))
	sb.WriteString(fmt.Sprintf("| Unmatched Sells | %d |\n", t.UnmatchedSells))
	sb.WriteString("\n")

	// Per-symbol
	sb.WriteString("## Per Symbol\n\n")
	if len(r.Summary.Symbols) > 0 {
		sb.WriteString("| Symbol | Realized P&L | Proceeds | Cost Basis | Matched | Unmatched | Wins | Losses | WinRate | Unmatched Sells |\n")
		sb.WriteString("|--------|--------------|----------|------------|---------|-----------|------|--------|---------|-----------------|\n")
		for _, p := range r.Summary.Symbols {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %d | %d | %s | %d |\n",
				p.Symbol, p.RealizedPnL.String(), p.Proceeds.String(), p.CostBasis.String(),
				p.MatchedSize.String(), p.UnmatchedSize.String(),
				p.Wins, p.Losses, p.WinRate().StringFixed(4), p.UnmatchedSells))
		}
	} else {
		sb.WriteString("No allocations for this version.\n")
	}
	sb.WriteString("\n")

	// Unmatched inventory warnings
	var unmatched []string
	for _, p := range r.Summary.Symbols {
		if p.UnmatchedSells > 0 {
			unmatched = append(unmatched, fmt.Sprintf("- %s: %d sell(s), %s unmatched", p.Symbol, p.UnmatchedSells, p.UnmatchedSize.String()))
		}
	}
	if len(unmatched) > 0 {
		sb.WriteString("### Unmatched Inventory\n\n")
		sb.WriteString("Sells below had no earlier buy inventory for part of their size; their P&L is excluded above.\n\n")
		for _, line := range unmatched {
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	// Runs
	sb.WriteString("## Computation Runs\n\n")
	if len(r.Runs) > 0 {
		sb.WriteString("| Symbol | Run | Mode | Status | Started | Finished | Allocations | Excluded |\n")
		sb.WriteString("|--------|-----|------|--------|---------|----------|-------------|----------|\n")
		for _, e := range r.Runs {
			finished := "-"
			if e.FinishedAt != nil {
				finished = e.FinishedAt.UTC().Format(time.RFC3339)
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %d | %d |\n",
				e.Symbol, e.RunID, e.Mode, e.Status,
				e.StartedAt.UTC().Format(time.RFC3339), finished,
				e.AllocationsCreated, e.TradesExcluded))
		}
	} else {
		sb.WriteString("No computation runs recorded.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func scopeLabel(symbol string) string {
	if symbol == "" {
		return "all"
	}
	return symbol
}

func windowLabel(q Query) string {
	if q.From == nil && q.To == nil {
		return "all time"
	}
	from, to := "-inf", "+inf"
	if q.From != nil {
		from = q.From.UTC().Format(time.RFC3339)
	}
	if q.To != nil {
		to = q.To.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s, %s)", from, to)
}
