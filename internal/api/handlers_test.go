package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fifo-allocator/internal/config"
	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/fixtures"
	"fifo-allocator/internal/notify"
	"fifo-allocator/internal/observability"
	"fifo-allocator/internal/recompute"
	"fifo-allocator/internal/reporting"
	"fifo-allocator/internal/storage/memory"
	"fifo-allocator/internal/verification"
	"fifo-allocator/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubReloader struct {
	cfg *config.Config
	err error
}

func (s stubReloader) Reload() (*config.Config, error) { return s.cfg, s.err }

type testServer struct {
	router *gin.Engine
	trades *memory.TradeStore
	runs   *memory.ComputationLogStore
}

// recordedEvents keeps published runs in memory, newest first.
type recordedEvents struct {
	mu     sync.Mutex
	events []notify.RunEvent
}

func (r *recordedEvents) Publish(_ context.Context, e *domain.ComputationLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append([]notify.RunEvent{notify.NewRunEvent(e)}, r.events...)
	return nil
}

func (r *recordedEvents) Recent(_ context.Context, n int64) ([]notify.RunEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]notify.RunEvent(nil), r.events...)
	if int64(len(out)) > n {
		out = out[:n]
	}
	return out, nil
}

func newTestServer(t *testing.T, reloader ConfigReloader, mutate ...func(*Options)) *testServer {
	t.Helper()
	ctx := context.Background()

	trades := memory.NewTradeStore()
	allocations := memory.NewAllocationStore()
	runs := memory.NewComputationLogStore()
	snapshots := memory.NewPnLSnapshotStore()
	events := &recordedEvents{}
	_, err := fixtures.Load(ctx, trades, "")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	log := zaptest.NewLogger(t)

	svc := recompute.New(recompute.Options{
		Trades:    trades,
		Runs:      runs,
		Committer: memory.NewRunCommitter(allocations, runs),
		Snapshots: snapshots,
		Notifier:  events,
		Metrics:   metrics,
		Logger:    log,
	})
	opts := Options{
		Recomputer:  svc,
		Runs:        runs,
		Allocations: allocations,
		Reports:     reporting.NewGenerator(allocations, runs),
		Verifier:    verification.NewVerifier(trades, allocations),
		Snapshots:   snapshots,
		Events:      events,
		Reloader:    reloader,
		Logger:      log,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h := NewGinHandlers(opts)
	return &testServer{router: NewRouter(h, metrics, reg), trades: trades, runs: runs}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp response.Response
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

// decode re-marshals the envelope data into out.
func decode(t *testing.T, data interface{}, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec, resp := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_api_requests_total")
}

func TestRecomputeThenReport(t *testing.T) {
	s := newTestServer(t, nil)

	rec, resp := s.do(t, http.MethodPost, "/api/v1/recompute", map[string]interface{}{
		"symbol": "ETH-USD", "version": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var single runResultDTO
	decode(t, resp.Data, &single)
	assert.Equal(t, "success", single.Run.Status)
	assert.Equal(t, 2, single.Run.AllocationsCreated)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/pnl?version=1&symbol=ETH-USD", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary summaryDTO
	decode(t, resp.Data, &summary)
	require.Len(t, summary.Symbols, 1)
	assert.Equal(t, "7.5", summary.Symbols[0].RealizedPnL.String())
	assert.Equal(t, 1, summary.Symbols[0].Wins)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/allocations?version=1&symbol=ETH-USD", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []allocationDTO
	decode(t, resp.Data, &rows)
	require.Len(t, rows, 2)
	assert.Equal(t, "eth-b1", *rows[0].BuyOrderID)
	assert.Equal(t, "50", rows[0].CostBasis.String())

	rec, resp = s.do(t, http.MethodGet, "/api/v1/runs/ETH-USD/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run runDTO
	decode(t, resp.Data, &run)
	assert.Equal(t, single.Run.RunID, run.RunID)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []runDTO
	decode(t, resp.Data, &runs)
	assert.Len(t, runs, 1)
}

func TestRecomputeAll(t *testing.T) {
	s := newTestServer(t, nil)

	rec, resp := s.do(t, http.MethodPost, "/api/v1/recompute", map[string]interface{}{
		"all_symbols": true, "version": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var batch batchDTO
	decode(t, resp.Data, &batch)
	assert.Equal(t, 3, batch.Succeeded)
	assert.Equal(t, 0, batch.Failed)
	require.Len(t, batch.Results, 3)
	assert.Equal(t, "BTC-USD", batch.Results[0].Symbol)

	// Unmatched remainder rows carry null buy fields.
	rec, resp = s.do(t, http.MethodGet, "/api/v1/allocations?version=2&symbol=SOL-USD", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []map[string]interface{}
	decode(t, resp.Data, &rows)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0]["buy_order_id"])
	assert.Nil(t, rows[0]["pnl"])
	assert.Equal(t, "89.91", rows[0]["proceeds"])

	rec, resp = s.do(t, http.MethodGet, "/api/v1/verify?version=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reports []verifyDTO
	decode(t, resp.Data, &reports)
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.True(t, r.Match, "%s: %+v", r.Symbol, r)
	}
}

func TestRecompute_Conflict(t *testing.T) {
	s := newTestServer(t, nil)

	holder := &domain.ComputationLogEntry{
		RunID: "holder", Symbol: "BTC-USD", AllocationVersion: 1,
		Mode: domain.RunModeFull, StartedAt: time.Now().UTC(), Status: domain.RunStatusRunning,
	}
	require.NoError(t, s.runs.Begin(context.Background(), holder, time.Now().Add(-time.Hour), false))

	rec, resp := s.do(t, http.MethodPost, "/api/v1/recompute", map[string]interface{}{
		"symbol": "BTC-USD", "version": 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, response.ErrCodeRunInProgress, resp.Error.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/recompute", map[string]interface{}{
		"symbol": "BTC-USD", "version": 1, "force": true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   string
	}{
		{name: "pnl without version", method: http.MethodGet, path: "/api/v1/pnl", code: response.ErrCodeValidationFailed},
		{name: "allocations without version", method: http.MethodGet, path: "/api/v1/allocations?symbol=BTC-USD", code: response.ErrCodeValidationFailed},
		{name: "bad from", method: http.MethodGet, path: "/api/v1/pnl?version=1&from=yesterday", code: response.ErrCodeBadRequest},
		{name: "inverted range", method: http.MethodGet, path: "/api/v1/pnl?version=1&from=2024-02-01T00:00:00Z&to=2024-01-01T00:00:00Z", code: response.ErrCodeValidationFailed},
		{name: "bad run version", method: http.MethodGet, path: "/api/v1/runs/BTC-USD/zero", code: response.ErrCodeBadRequest},
		{name: "bad limit", method: http.MethodGet, path: "/api/v1/runs?limit=-1", code: response.ErrCodeBadRequest},
		{name: "recompute both targets", method: http.MethodPost, path: "/api/v1/recompute", body: map[string]interface{}{"symbol": "BTC-USD", "all_symbols": true, "version": 1}, code: response.ErrCodeBadRequest},
		{name: "recompute no target", method: http.MethodPost, path: "/api/v1/recompute", body: map[string]interface{}{"version": 1}, code: response.ErrCodeBadRequest},
		{name: "recompute no version", method: http.MethodPost, path: "/api/v1/recompute", body: map[string]interface{}{"symbol": "BTC-USD"}, code: response.ErrCodeBadRequest},
		{name: "verify without version", method: http.MethodGet, path: "/api/v1/verify", code: response.ErrCodeValidationFailed},
		{name: "diff without b", method: http.MethodGet, path: "/api/v1/versions/diff?symbol=ETH-USD&a=1", code: response.ErrCodeBadRequest},
		{name: "diff without symbol", method: http.MethodGet, path: "/api/v1/versions/diff?a=1&b=2", code: response.ErrCodeBadRequest},
		{name: "diff negative version", method: http.MethodGet, path: "/api/v1/versions/diff?symbol=ETH-USD&a=-1&b=2", code: response.ErrCodeValidationFailed},
		{name: "history without symbol", method: http.MethodGet, path: "/api/v1/pnl/history?version=1", code: response.ErrCodeBadRequest},
		{name: "history bad version", method: http.MethodGet, path: "/api/v1/pnl/history?symbol=ETH-USD&version=0", code: response.ErrCodeBadRequest},
		{name: "recent bad limit", method: http.MethodGet, path: "/api/v1/runs/recent?limit=5000", code: response.ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestRunNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	rec, resp := s.do(t, http.MethodGet, "/api/v1/runs/BTC-USD/9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, response.ErrCodeNotFound, resp.Error.Code)
}

func TestReloadConfig(t *testing.T) {
	rec, _ := newTestServer(t, nil).do(t, http.MethodPost, "/api/v1/config/reload", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ok := newTestServer(t, stubReloader{cfg: &config.Config{Revision: 3}})
	rec, resp := ok.do(t, http.MethodPost, "/api/v1/config/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int64
	decode(t, resp.Data, &body)
	assert.Equal(t, int64(3), body["revision"])

	bad := newTestServer(t, stubReloader{err: errors.New("invalid config: storage.driver")})
	rec, _ = bad.do(t, http.MethodPost, "/api/v1/config/reload", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVersionsAndDiff(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	rec, resp := s.do(t, http.MethodGet, "/api/v1/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed map[string][]int
	decode(t, resp.Data, &listed)
	assert.Empty(t, listed["versions"])

	rec, _ = s.do(t, http.MethodPost, "/api/v1/recompute", map[string]interface{}{"symbol": "ETH-USD", "version": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	at := time.Date(2024, 1, 2, 0, 3, 0, 0, time.UTC)
	require.NoError(t, s.trades.InsertBulk(ctx, []*domain.TradeRecord{
		{OrderID: "eth-b3", Symbol: "ETH-USD", Side: domain.SideBuy, Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), FilledAt: at, Status: domain.TradeStatusFilled},
		{OrderID: "eth-s2", Symbol: "ETH-USD", Side: domain.SideSell, Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(120), FilledAt: at.Add(time.Minute), Status: domain.TradeStatusFilled},
	}))
	rec, _ = s.do(t, http.MethodPost, "/api/v1/recompute", map[string]interface{}{"symbol": "ETH-USD", "version": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, resp = s.do(t, http.MethodGet, "/api/v1/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, resp.Data, &listed)
	assert.Equal(t, []int{1, 2}, listed["versions"])

	rec, resp = s.do(t, http.MethodGet, "/api/v1/versions/diff?symbol=ETH-USD&a=1&b=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var diff versionDiffDTO
	decode(t, resp.Data, &diff)
	assert.Equal(t, "ETH-USD", diff.Symbol)
	assert.Equal(t, "7.5", diff.TotalA.String())
	assert.Equal(t, "27.5", diff.TotalB.String())
	assert.Equal(t, "20", diff.Delta.String())
	assert.Equal(t, 1, diff.ChangedSells)
	require.Len(t, diff.Sells, 2)
	assert.Equal(t, "eth-s1", diff.Sells[0].SellOrderID)
	assert.True(t, diff.Sells[0].Delta.IsZero())
	assert.Equal(t, "eth-s2", diff.Sells[1].SellOrderID)
	assert.False(t, diff.Sells[1].InA)
	assert.True(t, diff.Sells[1].InB)
}

func TestPnLHistoryAndRecentRuns(t *testing.T) {
	s := newTestServer(t, nil)

	var runIDs []string
	for i := 0; i < 2; i++ {
		rec, resp := s.do(t, http.MethodPost, "/api/v1/recompute", map[string]interface{}{"symbol": "ETH-USD", "version": 1})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res runResultDTO
		decode(t, resp.Data, &res)
		runIDs = append(runIDs, res.Run.RunID)
	}

	rec, resp := s.do(t, http.MethodGet, "/api/v1/pnl/history?symbol=ETH-USD&version=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var history []snapshotDTO
	decode(t, resp.Data, &history)
	require.Len(t, history, 2)
	got := make([]string, 0, len(history))
	for _, h := range history {
		assert.Equal(t, "ETH-USD", h.Symbol)
		assert.Equal(t, 1, h.Version)
		assert.Equal(t, "7.5", h.RealizedPnL.String())
		assert.Equal(t, 2, h.Allocations)
		got = append(got, h.RunID)
	}
	assert.ElementsMatch(t, runIDs, got)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/pnl/history?symbol=BTC-USD&version=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var empty []snapshotDTO
	decode(t, resp.Data, &empty)
	assert.Empty(t, empty)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/runs/recent?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var events []notify.RunEvent
	decode(t, resp.Data, &events)
	require.Len(t, events, 1)
	assert.Equal(t, runIDs[1], events[0].RunID)
	assert.Equal(t, "success", events[0].Status)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/runs/recent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, resp.Data, &events)
	assert.Len(t, events, 2)
}

func TestOptionalReadPathsDisabled(t *testing.T) {
	s := newTestServer(t, nil, func(o *Options) {
		o.Snapshots = nil
		o.Events = nil
	})

	for _, path := range []string{"/api/v1/pnl/history?symbol=ETH-USD&version=1", "/api/v1/runs/recent"} {
		rec, resp := s.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		require.NotNil(t, resp.Error)
		assert.Equal(t, response.ErrCodeNotFound, resp.Error.Code)
	}
}
