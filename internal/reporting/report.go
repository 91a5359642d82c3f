package reporting

import (
	"time"

	"fifo-allocator/internal/domain"
)

// Query selects allocation rows. Version is mandatory: reads never default to
// "latest" so that a report always names the allocation set it describes.
type Query struct {
	Version int
	Symbol  string     // empty means every symbol
	From    *time.Time // sell filled_at >= From
	To      *time.Time // sell filled_at < To
}

// Summary is the P&L of every symbol selected by a Query.
type Summary struct {
	Version int
	Symbols []domain.PnLSnapshot // sorted by symbol
	Total   domain.PnLSnapshot   // Symbol is TotalSymbol
}

// TotalSymbol labels the aggregate row of a Summary.
const TotalSymbol = "TOTAL"

// Report is a Summary plus the run that produced each symbol's rows.
type Report struct {
	GeneratedAt time.Time
	Query       Query
	Summary     *Summary

	// Latest computation log entry per summarized symbol, sorted by symbol.
	// Symbols with no recorded run are omitted.
	Runs []*domain.ComputationLogEntry
}
