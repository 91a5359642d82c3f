package reporting

import (
	"fmt"
	"strings"
	"time"

	"fifo-allocator/internal/domain"
)

// RenderCSV renders a summary as CSV string, one row per symbol and a total row.
func RenderCSV(s *Summary) string {
	var sb strings.Builder

	// Header
	sb.WriteString("symbol,version,realized_pnl,proceeds,cost_basis,matched_size,unmatched_size,")
	sb.WriteString("wins,losses,win_rate,unmatched_sells,allocations\n")

	// Rows
	for _, p := range s.Symbols {
		writeSnapshotCSV(&sb, p)
	}
	writeSnapshotCSV(&sb, s.Total)

	return sb.String()
}

func writeSnapshotCSV(sb *strings.Builder, p domain.PnLSnapshot) {
	sb.WriteString(fmt.Sprintf("%s,%d,%s,%s,%s,%s,%s,%d,%d,%s,%d,%d\n",
		p.Symbol,
		p.AllocationVersion,
		p.RealizedPnL.String(),
		p.Proceeds.String(),
		p.CostBasis.String(),
		p.MatchedSize.String(),
		p.UnmatchedSize.String(),
		p.Wins,
		p.Losses,
		p.WinRate().StringFixed(4),
		p.UnmatchedSells,
		p.Allocations,
	))
}

// RenderAllocationsCSV renders allocation rows as CSV string. Unmatched rows
// leave buy_order_id, buy_filled_at, cost_basis and pnl empty.
func RenderAllocationsCSV(rows []*domain.AllocationRecord) string {
	var sb strings.Builder

	sb.WriteString("allocation_id,symbol,version,sequence,sell_order_id,buy_order_id,")
	sb.WriteString("allocated_size,cost_basis,proceeds,pnl,sell_filled_at,buy_filled_at\n")

	for _, r := range rows {
		buyID, buyAt, cost, pnl := "", "", "", ""
		if r.BuyOrderID != nil {
			buyID = *r.BuyOrderID
		}
		if r.BuyFilledAt != nil {
			buyAt = r.BuyFilledAt.UTC().Format(time.RFC3339Nano)
		}
		if r.CostBasis != nil {
			cost = r.CostBasis.String()
		}
		if r.PnL != nil {
			pnl = r.PnL.String()
		}
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%d,%s,%s,%s,%s,%s,%s,%s,%s\n",
			r.AllocationID,
			r.Symbol,
			r.AllocationVersion,
			r.Sequence,
			r.SellOrderID,
			buyID,
			r.AllocatedSize.String(),
			cost,
			r.Proceeds.String(),
			pnl,
			r.SellFilledAt.UTC().Format(time.RFC3339Nano),
			buyAt,
		))
	}

	return sb.String()
}
