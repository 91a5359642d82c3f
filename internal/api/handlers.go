// Package api exposes run status, reporting, recomputation and verification
// over HTTP.
package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fifo-allocator/internal/config"
	"fifo-allocator/internal/notify"
	"fifo-allocator/internal/recompute"
	"fifo-allocator/internal/reporting"
	"fifo-allocator/internal/storage"
	"fifo-allocator/internal/verification"
	"fifo-allocator/pkg/response"
)

// DefaultRunsLimit is the page size of GET /api/v1/runs and
// GET /api/v1/runs/recent without a limit.
const DefaultRunsLimit = 50

// Recomputer is implemented by *recompute.Service.
type Recomputer interface {
	Recompute(ctx context.Context, req recompute.Request) (*recompute.RunResult, error)
	RecomputeAll(ctx context.Context, version int, mode recompute.Mode, force bool) (*recompute.BatchResult, error)
}

// RunEvents is implemented by *notify.Publisher.
type RunEvents interface {
	Recent(ctx context.Context, n int64) ([]notify.RunEvent, error)
}

// ConfigReloader is implemented by *config.Manager.
type ConfigReloader interface {
	Reload() (*config.Config, error)
}

// GinHandlers contains HTTP handlers for all endpoints
type GinHandlers struct {
	recomputer  Recomputer
	runs        storage.ComputationLogStore
	allocations storage.AllocationStore
	reports     *reporting.Generator
	verifier    *verification.Verifier
	snapshots   storage.PnLSnapshotStore // optional
	events      RunEvents                // optional
	reloader    ConfigReloader           // optional
	log         *zap.Logger
}

// Options for creating GinHandlers.
type Options struct {
	Recomputer  Recomputer
	Runs        storage.ComputationLogStore
	Allocations storage.AllocationStore
	Reports     *reporting.Generator
	Verifier    *verification.Verifier
	Snapshots   storage.PnLSnapshotStore
	Events      RunEvents
	Reloader    ConfigReloader
	Logger      *zap.Logger
}

func NewGinHandlers(opts Options) *GinHandlers {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &GinHandlers{
		recomputer:  opts.Recomputer,
		runs:        opts.Runs,
		allocations: opts.Allocations,
		reports:     opts.Reports,
		verifier:    opts.Verifier,
		snapshots:   opts.Snapshots,
		events:      opts.Events,
		reloader:    opts.Reloader,
		log:         log.With(zap.String("component", "api")),
	}
}

func (h *GinHandlers) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	}
}

// queryLimit reads ?limit=, writing a 400 and returning false when invalid.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return DefaultRunsLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 1000 {
		response.BadRequest(c, "limit must be an integer between 1 and 1000")
		return 0, false
	}
	return n, true
}

func (h *GinHandlers) ListRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryLimit(c)
		if !ok {
			return
		}

		entries, err := h.runs.Latest(c.Request.Context(), limit)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, toRunDTOs(entries))
	}
}

// RecentRunsHandler serves the run events kept in the Redis history list.
func (h *GinHandlers) RecentRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.events == nil {
			response.NotFound(c, "run event history is not enabled")
			return
		}
		limit, ok := queryLimit(c)
		if !ok {
			return
		}

		events, err := h.events.Recent(c.Request.Context(), int64(limit))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if events == nil {
			events = []notify.RunEvent{}
		}
		response.Success(c, events)
	}
}

func (h *GinHandlers) GetRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		version, err := strconv.Atoi(c.Param("version"))
		if err != nil || version < 1 {
			response.BadRequest(c, "version must be a positive integer")
			return
		}

		entry, err := h.runs.LatestFor(c.Request.Context(), symbol, version)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, toRunDTO(entry))
	}
}

// reportQuery is the query string shared by the reporting endpoints.
// version is deliberately not bound as required so that a missing version
// reaches reporting.ErrVersionRequired.
type reportQuery struct {
	Version int    `form:"version"`
	Symbol  string `form:"symbol"`
	From    string `form:"from"`
	To      string `form:"to"`
}

func (q reportQuery) toQuery() (reporting.Query, error) {
	out := reporting.Query{Version: q.Version, Symbol: strings.TrimSpace(q.Symbol)}
	if q.From != "" {
		t, err := time.Parse(time.RFC3339Nano, q.From)
		if err != nil {
			return out, fmt.Errorf("from: %w", err)
		}
		out.From = &t
	}
	if q.To != "" {
		t, err := time.Parse(time.RFC3339Nano, q.To)
		if err != nil {
			return out, fmt.Errorf("to: %w", err)
		}
		out.To = &t
	}
	return out, nil
}

func bindReportQuery(c *gin.Context) (reporting.Query, bool) {
	var raw reportQuery
	if err := c.ShouldBindQuery(&raw); err != nil {
		response.BadRequest(c, err.Error())
		return reporting.Query{}, false
	}
	q, err := raw.toQuery()
	if err != nil {
		response.BadRequest(c, err.Error())
		return reporting.Query{}, false
	}
	return q, true
}

func (h *GinHandlers) PnLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := bindReportQuery(c)
		if !ok {
			return
		}

		summary, err := h.reports.Summary(c.Request.Context(), q)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		out := summaryDTO{
			Version: summary.Version,
			Symbols: make([]pnlDTO, 0, len(summary.Symbols)),
			Total:   toPnLDTO(summary.Total),
		}
		for _, s := range summary.Symbols {
			out.Symbols = append(out.Symbols, toPnLDTO(s))
		}
		response.Success(c, out)
	}
}

func (h *GinHandlers) AllocationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := bindReportQuery(c)
		if !ok {
			return
		}

		rows, err := h.reports.Rows(c.Request.Context(), q)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, toAllocationDTOs(rows))
	}
}

// PnLHistoryHandler lists the P&L snapshots written after each successful
// run of one (symbol, version), oldest first.
func (h *GinHandlers) PnLHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.snapshots == nil {
			response.NotFound(c, "pnl history is not enabled")
			return
		}
		symbol := strings.TrimSpace(c.Query("symbol"))
		if symbol == "" {
			response.BadRequest(c, "symbol is required")
			return
		}
		version, err := strconv.Atoi(c.Query("version"))
		if err != nil || version < 1 {
			response.BadRequest(c, "version must be a positive integer")
			return
		}

		history, err := h.snapshots.GetHistory(c.Request.Context(), symbol, version)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		out := make([]snapshotDTO, 0, len(history))
		for _, s := range history {
			out = append(out, toSnapshotDTO(s))
		}
		response.Success(c, out)
	}
}

func (h *GinHandlers) ListVersionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		versions, err := h.allocations.ListVersions(c.Request.Context())
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if versions == nil {
			versions = []int{}
		}
		response.Success(c, gin.H{"versions": versions})
	}
}

type versionDiffQuery struct {
	Symbol string `form:"symbol" binding:"required"`
	A      int    `form:"a" binding:"required"`
	B      int    `form:"b" binding:"required"`
}

// VersionDiffHandler compares realized P&L per sell of one symbol under two versions.
func (h *GinHandlers) VersionDiffHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q versionDiffQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		diff, err := h.verifier.CompareVersions(c.Request.Context(), strings.TrimSpace(q.Symbol), q.A, q.B)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, toVersionDiffDTO(diff))
	}
}

type recomputeRequest struct {
	Version    int        `json:"version" binding:"required,gte=1"`
	Symbol     string     `json:"symbol"`
	AllSymbols bool       `json:"all_symbols"`
	Force      bool       `json:"force"`
	Since      *time.Time `json:"since"`
}

func (h *GinHandlers) RecomputeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recomputeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if (req.Symbol == "") == !req.AllSymbols {
			response.BadRequest(c, "exactly one of symbol or all_symbols is required")
			return
		}

		mode := recompute.Full()
		if req.Since != nil {
			mode = recompute.Incremental(*req.Since)
		}

		h.log.Info("recompute requested",
			zap.String("symbol", req.Symbol),
			zap.Bool("all_symbols", req.AllSymbols),
			zap.Int("version", req.Version),
			zap.Bool("force", req.Force),
		)

		ctx := c.Request.Context()
		if req.AllSymbols {
			batch, err := h.recomputer.RecomputeAll(ctx, req.Version, mode, req.Force)
			if err != nil {
				response.Handle(c, nil, err)
				return
			}
			response.Success(c, toBatchDTO(batch))
			return
		}

		res, err := h.recomputer.Recompute(ctx, recompute.Request{
			Symbol:  req.Symbol,
			Version: req.Version,
			Mode:    mode,
			Force:   req.Force,
		})
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, runResultDTO{Run: toRunDTO(res.Entry), Excluded: res.Excluded})
	}
}

func (h *GinHandlers) VerifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		version, err := strconv.Atoi(c.Query("version"))
		if err != nil {
			response.ValidationFailed(c, verification.ErrInvalidVersion.Error())
			return
		}
		ctx := c.Request.Context()

		if symbol := c.Query("symbol"); symbol != "" {
			report, err := h.verifier.VerifySymbol(ctx, symbol, version)
			if err != nil {
				response.Handle(c, nil, err)
				return
			}
			response.Success(c, []verifyDTO{toVerifyDTO(report)})
			return
		}

		report, err := h.verifier.VerifyAll(ctx, version)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		out := make([]verifyDTO, 0, len(report.Results))
		for i := range report.Results {
			out = append(out, toVerifyDTO(&report.Results[i]))
		}
		response.Success(c, out)
	}
}

func (h *GinHandlers) ReloadConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.reloader == nil {
			response.NotFound(c, "configuration reload is not enabled")
			return
		}
		cfg, err := h.reloader.Reload()
		if err != nil {
			h.log.Warn("config reload rejected", zap.Error(err))
			response.ValidationFailed(c, err.Error())
			return
		}
		h.log.Info("config reloaded", zap.Int64("revision", cfg.Revision))
		response.Success(c, gin.H{"revision": cfg.Revision})
	}
}
