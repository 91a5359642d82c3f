package api

import (
	"time"

	"github.com/shopspring/decimal"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/recompute"
	"fifo-allocator/internal/verification"
)

// Decimals marshal as JSON strings so clients never see a float.

type runDTO struct {
	RunID              string     `json:"run_id"`
	Symbol             string     `json:"symbol"`
	Version            int        `json:"version"`
	Mode               string     `json:"mode"`
	Forced             bool       `json:"forced"`
	Status             string     `json:"status"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at"`
	BuysProcessed      int        `json:"buys_processed"`
	SellsProcessed     int        `json:"sells_processed"`
	AllocationsCreated int        `json:"allocations_created"`
	TradesExcluded     int        `json:"trades_excluded"`
	UnmatchedSells     int        `json:"unmatched_sells"`
	ErrorDetail        *string    `json:"error_detail"`
}

func toRunDTO(e *domain.ComputationLogEntry) runDTO {
	return runDTO{
		RunID:              e.RunID,
		Symbol:             e.Symbol,
		Version:            e.AllocationVersion,
		Mode:               string(e.Mode),
		Forced:             e.Forced,
		Status:             string(e.Status),
		StartedAt:          e.StartedAt,
		FinishedAt:         e.FinishedAt,
		BuysProcessed:      e.BuysProcessed,
		SellsProcessed:     e.SellsProcessed,
		AllocationsCreated: e.AllocationsCreated,
		TradesExcluded:     e.TradesExcluded,
		UnmatchedSells:     e.UnmatchedSells,
		ErrorDetail:        e.ErrorDetail,
	}
}

func toRunDTOs(entries []*domain.ComputationLogEntry) []runDTO {
	out := make([]runDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toRunDTO(e))
	}
	return out
}

type allocationDTO struct {
	AllocationID  string           `json:"allocation_id"`
	Symbol        string           `json:"symbol"`
	Version       int              `json:"version"`
	Sequence      int              `json:"sequence"`
	SellOrderID   string           `json:"sell_order_id"`
	BuyOrderID    *string          `json:"buy_order_id"`
	AllocatedSize decimal.Decimal  `json:"allocated_size"`
	CostBasis     *decimal.Decimal `json:"cost_basis"`
	Proceeds      decimal.Decimal  `json:"proceeds"`
	PnL           *decimal.Decimal `json:"pnl"`
	SellFilledAt  time.Time        `json:"sell_filled_at"`
	BuyFilledAt   *time.Time       `json:"buy_filled_at"`
	ComputedAt    time.Time        `json:"computed_at"`
}

func toAllocationDTOs(rows []*domain.AllocationRecord) []allocationDTO {
	out := make([]allocationDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, allocationDTO{
			AllocationID:  r.AllocationID,
			Symbol:        r.Symbol,
			Version:       r.AllocationVersion,
			Sequence:      r.Sequence,
			SellOrderID:   r.SellOrderID,
			BuyOrderID:    r.BuyOrderID,
			AllocatedSize: r.AllocatedSize,
			CostBasis:     r.CostBasis,
			Proceeds:      r.Proceeds,
			PnL:           r.PnL,
			SellFilledAt:  r.SellFilledAt,
			BuyFilledAt:   r.BuyFilledAt,
			ComputedAt:    r.ComputedAt,
		})
	}
	return out
}

type pnlDTO struct {
	Symbol         string          `json:"symbol"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	Proceeds       decimal.Decimal `json:"proceeds"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	MatchedSize    decimal.Decimal `json:"matched_size"`
	UnmatchedSize  decimal.Decimal `json:"unmatched_size"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	WinRate        decimal.Decimal `json:"win_rate"`
	UnmatchedSells int             `json:"unmatched_sells"`
	Allocations    int             `json:"allocations"`
}

func toPnLDTO(s domain.PnLSnapshot) pnlDTO {
	return pnlDTO{
		Symbol:         s.Symbol,
		RealizedPnL:    s.RealizedPnL,
		Proceeds:       s.Proceeds,
		CostBasis:      s.CostBasis,
		MatchedSize:    s.MatchedSize,
		UnmatchedSize:  s.UnmatchedSize,
		Wins:           s.Wins,
		Losses:         s.Losses,
		WinRate:        s.WinRate(),
		UnmatchedSells: s.UnmatchedSells,
		Allocations:    s.Allocations,
	}
}

type snapshotDTO struct {
	pnlDTO
	Version    int       `json:"version"`
	RunID      string    `json:"run_id"`
	ComputedAt time.Time `json:"computed_at"`
}

func toSnapshotDTO(s *domain.PnLSnapshot) snapshotDTO {
	return snapshotDTO{
		pnlDTO:     toPnLDTO(*s),
		Version:    s.AllocationVersion,
		RunID:      s.RunID,
		ComputedAt: s.ComputedAt,
	}
}

type summaryDTO struct {
	Version int      `json:"version"`
	Symbols []pnlDTO `json:"symbols"`
	Total   pnlDTO   `json:"total"`
}

type runResultDTO struct {
	Run      runDTO         `json:"run"`
	Excluded map[string]int `json:"excluded"`
}

type symbolResultDTO struct {
	Symbol  string  `json:"symbol"`
	Status  string  `json:"status"` // success, failed or refused
	Run     *runDTO `json:"run,omitempty"`
	Error   string  `json:"error,omitempty"`
	Refused bool    `json:"refused"`
}

type batchDTO struct {
	Version   int               `json:"version"`
	Mode      string            `json:"mode"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Results   []symbolResultDTO `json:"results"`
}

func toBatchDTO(b *recompute.BatchResult) batchDTO {
	out := batchDTO{
		Version:   b.Version,
		Mode:      b.Mode.String(),
		Succeeded: b.Succeeded(),
		Failed:    len(b.Failures()),
		Results:   make([]symbolResultDTO, 0, len(b.Results)),
	}
	for _, r := range b.Results {
		item := symbolResultDTO{Symbol: r.Symbol, Status: "success"}
		switch {
		case r.Refused():
			item.Status = "refused"
			item.Refused = true
			item.Error = r.Err.Error()
		case r.Err != nil:
			item.Status = "failed"
			item.Error = r.Err.Error()
		default:
			run := toRunDTO(r.Result.Entry)
			item.Run = &run
		}
		out.Results = append(out.Results, item)
	}
	return out
}

type divergenceDTO struct {
	Sequence int                            `json:"sequence"`
	Fields   []verification.FieldDivergence `json:"fields"`
}

type verifyDTO struct {
	Symbol       string          `json:"symbol"`
	Version      int             `json:"version"`
	Match        bool            `json:"match"`
	StoredRows   int             `json:"stored_rows"`
	ExpectedRows int             `json:"expected_rows"`
	Divergences  []divergenceDTO `json:"divergences"`
	Violations   []string        `json:"violations"`
}

func toVerifyDTO(r *verification.SymbolReport) verifyDTO {
	out := verifyDTO{
		Symbol:       r.Symbol,
		Version:      r.Version,
		Match:        r.Match,
		StoredRows:   r.StoredRows,
		ExpectedRows: r.ExpectedRows,
		Divergences:  make([]divergenceDTO, 0, len(r.Rows)),
		Violations:   make([]string, 0, len(r.Violations)),
	}
	for _, d := range r.Rows {
		out.Divergences = append(out.Divergences, divergenceDTO{Sequence: d.Sequence, Fields: d.Divergences})
	}
	for _, v := range r.Violations {
		out.Violations = append(out.Violations, v.String())
	}
	return out
}

type sellDiffDTO struct {
	SellOrderID string          `json:"sell_order_id"`
	InA         bool            `json:"in_a"`
	InB         bool            `json:"in_b"`
	PnLA        decimal.Decimal `json:"pnl_a"`
	PnLB        decimal.Decimal `json:"pnl_b"`
	Delta       decimal.Decimal `json:"delta"`
}

type versionDiffDTO struct {
	Symbol       string          `json:"symbol"`
	A            int             `json:"a"`
	B            int             `json:"b"`
	TotalA       decimal.Decimal `json:"total_a"`
	TotalB       decimal.Decimal `json:"total_b"`
	Delta        decimal.Decimal `json:"delta"`
	ChangedSells int             `json:"changed_sells"`
	Sells        []sellDiffDTO   `json:"sells"`
}

func toVersionDiffDTO(d *verification.VersionDiff) versionDiffDTO {
	out := versionDiffDTO{
		Symbol:       d.Symbol,
		A:            d.A,
		B:            d.B,
		TotalA:       d.TotalA,
		TotalB:       d.TotalB,
		Delta:        d.TotalB.Sub(d.TotalA),
		ChangedSells: d.ChangedSells,
		Sells:        make([]sellDiffDTO, 0, len(d.Sells)),
	}
	for _, s := range d.Sells {
		out.Sells = append(out.Sells, sellDiffDTO{
			SellOrderID: s.SellOrderID,
			InA:         s.InA,
			InB:         s.InB,
			PnLA:        s.PnLA,
			PnLB:        s.PnLB,
			Delta:       s.Delta,
		})
	}
	return out
}
