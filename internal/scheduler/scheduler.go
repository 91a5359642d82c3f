// Package scheduler triggers periodic batch recomputations.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fifo-allocator/internal/recompute"
)

// BatchRunner runs a batch recomputation. Implemented by *recompute.Service.
type BatchRunner interface {
	RecomputeAll(ctx context.Context, version int, mode recompute.Mode, force bool) (*recompute.BatchResult, error)
}

// Options contains configuration for creating a Scheduler.
type Options struct {
	Runner BatchRunner

	// Version returns the allocation version to compute on each tick, so a
	// configuration reload takes effect without a restart.
	Version func() int

	IncrementalInterval time.Duration // Default: 1m
	IncrementalLookback time.Duration // Default: 10m, overlap for late-recorded fills
	FullInterval        time.Duration // Default: 24h, 0 or negative disables

	Logger *zap.Logger
	Now    func() time.Time
}

// Scheduler runs incremental batches on a short interval and full batches on
// a long one. Batches run one at a time on the scheduler goroutine; ticks
// that arrive while a batch runs are dropped.
type Scheduler struct {
	runner              BatchRunner
	version             func() int
	incrementalInterval time.Duration
	incrementalLookback time.Duration
	fullInterval        time.Duration
	log                 *zap.Logger
	now                 func() time.Time

	mu       sync.Mutex
	lastTick time.Time // start of the previous incremental batch
}

// New creates a new Scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		runner:              opts.Runner,
		version:             opts.Version,
		incrementalInterval: opts.IncrementalInterval,
		incrementalLookback: opts.IncrementalLookback,
		fullInterval:        opts.FullInterval,
		log:                 opts.Logger,
		now:                 opts.Now,
	}
	if s.incrementalInterval <= 0 {
		s.incrementalInterval = time.Minute
	}
	if s.incrementalLookback <= 0 {
		s.incrementalLookback = 10 * time.Minute
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.With(zap.String("component", "scheduler"))
	if s.now == nil {
		s.now = time.Now
	}
	if s.version == nil {
		s.version = func() int { return 1 }
	}
	return s
}

// Run catches up with a full batch, then ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.catchUp(ctx)

	incremental := time.NewTicker(s.incrementalInterval)
	defer incremental.Stop()

	var full <-chan time.Time
	if s.fullInterval > 0 {
		t := time.NewTicker(s.fullInterval)
		defer t.Stop()
		full = t.C
	}

	s.log.Info("scheduler started",
		zap.Duration("incremental_interval", s.incrementalInterval),
		zap.Duration("incremental_lookback", s.incrementalLookback),
		zap.Duration("full_interval", s.fullInterval),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return ctx.Err()
		case <-incremental.C:
			s.RunIncremental(ctx)
		case <-full:
			s.RunFull(ctx)
		}
	}
}

// catchUp covers fills recorded while no scheduler was running. The first
// incremental window then starts where the full batch did.
func (s *Scheduler) catchUp(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := s.now()
	s.log.Info("catch-up batch")
	s.RunFull(ctx)

	s.mu.Lock()
	if s.lastTick.IsZero() {
		s.lastTick = start
	}
	s.mu.Unlock()
}

// RunIncremental recomputes symbols with fills since the previous tick,
// widened by the lookback.
func (s *Scheduler) RunIncremental(ctx context.Context) *recompute.BatchResult {
	now := s.now()

	s.mu.Lock()
	from := s.lastTick
	if from.IsZero() {
		from = now
	}
	s.lastTick = now
	s.mu.Unlock()

	return s.run(ctx, recompute.Incremental(from.Add(-s.incrementalLookback)))
}

// RunFull recomputes every symbol.
func (s *Scheduler) RunFull(ctx context.Context) *recompute.BatchResult {
	return s.run(ctx, recompute.Full())
}

func (s *Scheduler) run(ctx context.Context, mode recompute.Mode) *recompute.BatchResult {
	version := s.version()
	log := s.log.With(zap.Int("version", version), zap.Stringer("mode", mode))

	batch, err := s.runner.RecomputeAll(ctx, version, mode, false)
	if err != nil {
		log.Error("batch failed", zap.Error(err))
		return nil
	}
	if summary := batch.Summary(); summary != "" {
		log.Warn("batch finished with failures",
			zap.Int("failed", len(batch.Failures())),
			zap.String("summary", summary),
		)
	} else {
		log.Debug("batch finished", zap.Int("symbols", len(batch.Results)))
	}
	return batch
}
