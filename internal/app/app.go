// Package app wires configuration into stores, side effects and the
// recompute service shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fifo-allocator/internal/config"
	"fifo-allocator/internal/fixtures"
	"fifo-allocator/internal/notify"
	"fifo-allocator/internal/observability"
	"fifo-allocator/internal/recompute"
	"fifo-allocator/internal/storage"
	chstore "fifo-allocator/internal/storage/clickhouse"
	"fifo-allocator/internal/storage/memory"
	"fifo-allocator/internal/storage/migrations"
	pgstore "fifo-allocator/internal/storage/postgres"
	sqlitestore "fifo-allocator/internal/storage/sqlite"
)

// Stores holds the storage implementations selected by configuration.
type Stores struct {
	Trades      storage.TradeStore
	Allocations storage.AllocationStore
	Runs        storage.ComputationLogStore
	Committer   storage.RunCommitter
	Snapshots   storage.PnLSnapshotStore // nil unless ClickHouse is configured

	closers []func()
}

// Close releases every connection in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// OpenStores connects the configured storage driver, applies migrations and
// seeds the ledger from fixtures when requested. The memory driver always
// starts from the fixtures file, or the demo ledger when none is set.
func OpenStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Stores, error) {
	s := &Stores{}
	if err := s.openPrimary(ctx, cfg.Storage, log); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.ClickHouse.DSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		s.closers = append(s.closers, func() { _ = conn.Close() })
		s.Snapshots = chstore.NewPnLSnapshotStore(conn)
		log.Info("pnl snapshots enabled", zap.String("backend", "clickhouse"))
	}

	if cfg.Storage.Driver == config.DriverMemory || cfg.Storage.FixturesFile != "" {
		n, err := fixtures.Load(ctx, s.Trades, cfg.Storage.FixturesFile)
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			log.Warn("fixtures already loaded", zap.String("file", cfg.Storage.FixturesFile))
		case err != nil:
			s.Close()
			return nil, fmt.Errorf("load fixtures: %w", err)
		default:
			log.Info("ledger seeded", zap.Int("trades", n), zap.String("file", cfg.Storage.FixturesFile))
		}
	}

	return s, nil
}

func (s *Stores) openPrimary(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) error {
	switch cfg.Driver {
	case config.DriverMemory:
		allocations := memory.NewAllocationStore()
		runs := memory.NewComputationLogStore()
		s.Trades = memory.NewTradeStore()
		s.Allocations = allocations
		s.Runs = runs
		s.Committer = memory.NewRunCommitter(allocations, runs)

	case config.DriverPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, 0)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, pool.Close)

		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			log.Info("postgres migrations applied", zap.Strings("files", applied))
		}

		s.Trades = pgstore.NewTradeStore(pool)
		s.Allocations = pgstore.NewAllocationStore(pool)
		s.Runs = pgstore.NewComputationLogStore(pool)
		s.Committer = pgstore.NewRunCommitter(pool)

	case config.DriverSQLite:
		db, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func() { closeGorm(db) })

		s.Trades = sqlitestore.NewTradeStore(db)
		s.Allocations = sqlitestore.NewAllocationStore(db)
		s.Runs = sqlitestore.NewComputationLogStore(db)
		s.Committer = sqlitestore.NewRunCommitter(db)

	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	log.Info("storage ready", zap.String("driver", cfg.Driver))
	return nil
}

func closeGorm(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// OpenNotifier connects to Redis when an address is configured. It returns a
// nil publisher and a no-op close otherwise.
func OpenNotifier(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*notify.Publisher, func(), error) {
	if cfg.Addr == "" {
		return nil, func() {}, nil
	}
	client, err := notify.NewClient(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	log.Info("run notifications enabled", zap.String("addr", cfg.Addr), zap.String("channel", cfg.Channel))
	return notify.NewPublisher(client, cfg.Channel, cfg.ListKey, cfg.ListMax), closeRedis(client), nil
}

func closeRedis(c *redis.Client) func() {
	return func() { _ = c.Close() }
}

// NewService builds the recompute service over stores. pub may be nil.
func NewService(cfg *config.Config, stores *Stores, pub *notify.Publisher, metrics *observability.Metrics, log *zap.Logger) *recompute.Service {
	opts := recompute.Options{
		Trades:      stores.Trades,
		Runs:        stores.Runs,
		Committer:   stores.Committer,
		Snapshots:   stores.Snapshots,
		Metrics:     metrics,
		Logger:      log,
		StaleAfter:  cfg.Recompute.StaleAfter,
		Concurrency: cfg.Recompute.Concurrency,
	}
	// A typed nil would make the interface non-nil.
	if pub != nil {
		opts.Notifier = pub
	}
	return recompute.New(opts)
}
