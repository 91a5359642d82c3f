// Package recompute drives allocation recomputation: load the ledger of a
// symbol, match it, swap the allocation set and record the run.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/matching"
	"fifo-allocator/internal/observability"
	"fifo-allocator/internal/storage"
)

// Defaults applied by New when Options leave them zero.
const (
	DefaultStaleAfter  = 15 * time.Minute
	DefaultConcurrency = 4
)

// Notifier publishes terminal computation log entries.
type Notifier interface {
	Publish(ctx context.Context, entry *domain.ComputationLogEntry) error
}

// Options for creating Service.
type Options struct {
	// Required stores
	Trades    storage.TradeStore
	Runs      storage.ComputationLogStore
	Committer storage.RunCommitter

	// Optional side effects after a run
	Snapshots storage.PnLSnapshotStore
	Notifier  Notifier
	Metrics   *observability.Metrics

	Logger      *zap.Logger
	Now         func() time.Time
	StaleAfter  time.Duration // running entries older than this no longer block
	Concurrency int           // symbols recomputed in parallel by RecomputeAll
}

// Service recomputes allocations. It is safe for concurrent use; mutual
// exclusion per (symbol, version) is enforced by the computation log.
type Service struct {
	trades    storage.TradeStore
	runs      storage.ComputationLogStore
	committer storage.RunCommitter
	snapshots storage.PnLSnapshotStore
	notifier  Notifier
	metrics   *observability.Metrics

	log         *zap.Logger
	now         func() time.Time
	staleAfter  time.Duration
	concurrency int
}

// New creates a new Service.
func New(opts Options) *Service {
	s := &Service{
		trades:      opts.Trades,
		runs:        opts.Runs,
		committer:   opts.Committer,
		snapshots:   opts.Snapshots,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		now:         opts.Now,
		staleAfter:  opts.StaleAfter,
		concurrency: opts.Concurrency,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.With(zap.String("component", "recompute"))
	if s.now == nil {
		s.now = time.Now
	}
	if s.staleAfter <= 0 {
		s.staleAfter = DefaultStaleAfter
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	return s
}

// clock returns the current time at the resolution every store can keep.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Recompute rebuilds the allocation set of one (symbol, version) pair from
// its full ledger history.
//
// On success the stored set equals the matching output and the log entry is
// success. On any failure after the run began, the stored set is untouched
// and the log entry is failed with the error detail. A pair held by another
// non-stale run yields ErrRunInProgress unless req.Force is set. A run that
// was superseded while it worked fails with storage.ErrSuperseded and writes
// nothing.
func (s *Service) Recompute(ctx context.Context, req Request) (*RunResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	startedAt := s.clock()
	entry := &domain.ComputationLogEntry{
		RunID:             uuid.NewString(),
		Symbol:            req.Symbol,
		AllocationVersion: req.Version,
		Mode:              req.Mode.Kind,
		Forced:            req.Force,
		StartedAt:         startedAt,
		Status:            domain.RunStatusRunning,
	}
	log := s.log.With(
		zap.String("symbol", req.Symbol),
		zap.Int("version", req.Version),
		zap.String("run_id", entry.RunID),
		zap.String("mode", string(req.Mode.Kind)),
	)

	if err := s.runs.Begin(ctx, entry, startedAt.Add(-s.staleAfter), req.Force); err != nil {
		if errors.Is(err, storage.ErrRunInProgress) {
			s.metrics.RecordRefusal()
			log.Info("run refused, another run in progress")
			return nil, fmt.Errorf("%w: %s version %d", ErrRunInProgress, req.Symbol, req.Version)
		}
		return nil, fmt.Errorf("begin run %s/%d: %w", req.Symbol, req.Version, err)
	}
	if req.Force {
		log.Warn("run forced over any in-progress run")
	}
	log.Debug("run started")

	result, err := s.execute(ctx, entry)
	if err != nil {
		s.fail(ctx, log, entry, err)
		return nil, fmt.Errorf("recompute %s/%d: %w", req.Symbol, req.Version, err)
	}

	log.Info("run succeeded",
		zap.Int("buys", entry.BuysProcessed),
		zap.Int("sells", entry.SellsProcessed),
		zap.Int("allocations", entry.AllocationsCreated),
		zap.Int("excluded", entry.TradesExcluded),
		zap.Int("unmatched_sells", entry.UnmatchedSells),
		zap.Duration("elapsed", entry.FinishedAt.Sub(entry.StartedAt)),
	)
	return result, nil
}

// execute loads, matches and commits a begun entry.
func (s *Service) execute(ctx context.Context, entry *domain.ComputationLogEntry) (*RunResult, error) {
	trades, err := s.trades.GetBySymbol(ctx, entry.Symbol)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	computedAt := s.clock()
	res := matching.Run(entry.Symbol, entry.AllocationVersion, trades, computedAt)

	// The commit is the only step touching allocations; a cancelled context
	// must not reach it.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	finishedAt := s.clock()
	done := entry.Clone()
	done.Status = domain.RunStatusSuccess
	done.FinishedAt = &finishedAt
	done.BuysProcessed = res.BuysProcessed
	done.SellsProcessed = res.SellsProcessed
	done.AllocationsCreated = len(res.Allocations)
	done.TradesExcluded = len(res.Excluded)
	done.UnmatchedSells = res.UnmatchedSells

	if err := s.committer.Commit(ctx, done, res.Allocations); err != nil {
		return nil, fmt.Errorf("commit run: %w", err)
	}
	*entry = *done

	excluded := make(map[string]int)
	for _, x := range res.Excluded {
		excluded[string(x.Reason)]++
	}

	s.metrics.RecordRun(string(entry.Mode), string(entry.Status), finishedAt.Sub(entry.StartedAt).Seconds())
	s.metrics.RecordAllocation(len(res.Allocations), res.UnmatchedSells, excluded, float64(finishedAt.Unix()))
	s.afterSuccess(ctx, entry, res.Allocations)

	return &RunResult{Entry: entry.Clone(), Excluded: excluded}, nil
}

// fail records a failed terminal entry. Errors here are logged only; the
// caller already returns the original failure.
func (s *Service) fail(ctx context.Context, log *zap.Logger, entry *domain.ComputationLogEntry, cause error) {
	ctx = context.WithoutCancel(ctx)

	finishedAt := s.clock()
	detail := cause.Error()
	entry.Status = domain.RunStatusFailed
	entry.FinishedAt = &finishedAt
	entry.ErrorDetail = &detail

	log.Error("run failed", zap.Error(cause))
	s.metrics.RecordRun(string(entry.Mode), string(entry.Status), finishedAt.Sub(entry.StartedAt).Seconds())

	if err := s.runs.Finish(ctx, entry); err != nil {
		if errors.Is(err, storage.ErrSuperseded) {
			log.Warn("run superseded, outcome discarded")
			return
		}
		log.Error("record failed run", zap.Error(err))
		return
	}
	s.notify(ctx, log, entry)
}

// afterSuccess writes the P&L snapshot and publishes the entry.
func (s *Service) afterSuccess(ctx context.Context, entry *domain.ComputationLogEntry, rows []*domain.AllocationRecord) {
	ctx = context.WithoutCancel(ctx)
	log := s.log.With(zap.String("symbol", entry.Symbol), zap.Int("version", entry.AllocationVersion), zap.String("run_id", entry.RunID))

	if s.snapshots != nil {
		snap := domain.SummarizeAllocations(entry.Symbol, entry.AllocationVersion, rows)
		snap.RunID = entry.RunID
		snap.ComputedAt = *entry.FinishedAt
		if err := s.snapshots.Insert(ctx, &snap); err != nil {
			s.metrics.RecordSideEffectError("snapshot")
			log.Warn("write pnl snapshot", zap.Error(err))
		}
	}
	s.notify(ctx, log, entry)
}

func (s *Service) notify(ctx context.Context, log *zap.Logger, entry *domain.ComputationLogEntry) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, entry.Clone()); err != nil {
		s.metrics.RecordSideEffectError("notify")
		log.Warn("publish run event", zap.Error(err))
	}
}

// RecomputeAll recomputes every symbol selected by mode at the given version.
// Symbols run in parallel up to the configured concurrency. A failing or
// refused symbol is recorded in the result and does not stop the others.
// The returned error covers only failures to select symbols.
func (s *Service) RecomputeAll(ctx context.Context, version int, mode Mode, force bool) (*BatchResult, error) {
	if err := validateVersion(version); err != nil {
		return nil, err
	}
	if err := mode.validate(); err != nil {
		return nil, err
	}

	symbols, err := s.selectSymbols(ctx, mode)
	if err != nil {
		return nil, err
	}
	sort.Strings(symbols)

	log := s.log.With(zap.Int("version", version), zap.Stringer("mode", mode))
	log.Info("batch started", zap.Int("symbols", len(symbols)), zap.Bool("force", force))

	batch := &BatchResult{
		Version: version,
		Mode:    mode,
		Results: make([]SymbolResult, len(symbols)),
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, symbol := range symbols {
		g.Go(func() error {
			res, err := s.Recompute(ctx, Request{Symbol: symbol, Version: version, Mode: mode, Force: force})
			batch.Results[i] = SymbolResult{Symbol: symbol, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("batch finished",
		zap.Int("succeeded", batch.Succeeded()),
		zap.Int("failed", len(batch.Failures())),
	)
	return batch, nil
}

func (s *Service) selectSymbols(ctx context.Context, mode Mode) ([]string, error) {
	if mode.Kind == domain.RunModeIncremental {
		symbols, err := s.trades.ListSymbolsSince(ctx, mode.Since)
		if err != nil {
			return nil, fmt.Errorf("list symbols since %s: %w", mode.Since.Format(time.RFC3339), err)
		}
		return symbols, nil
	}
	symbols, err := s.trades.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return symbols, nil
}

func errorIsRunInProgress(err error) bool {
	return errors.Is(err, storage.ErrRunInProgress)
}
