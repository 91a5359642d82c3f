// Command server runs the operator API and, when enabled, the recompute
// scheduler:
//   - HTTP: run status, P&L and allocation reports, on-demand recompute,
//     verification, config reload, /healthz and Prometheus /metrics
//   - Scheduler: incremental batches on a short interval, full batches daily
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fifo-allocator/internal/api"
	"fifo-allocator/internal/app"
	"fifo-allocator/internal/config"
	"fifo-allocator/internal/logger"
	"fifo-allocator/internal/observability"
	"fifo-allocator/internal/reporting"
	"fifo-allocator/internal/scheduler"
	"fifo-allocator/internal/verification"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("server", pflag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	fs.String("addr", "", "HTTP listen address")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("log-format", "", "Log format (json, console)")
	fs.String("storage-driver", "", "Storage driver (memory, postgres, sqlite)")
	fs.String("postgres-dsn", "", "PostgreSQL connection string")
	fs.String("sqlite-path", "", "SQLite database file")
	fs.String("fixtures", "", "YAML ledger to load at startup")
	fs.Int("concurrency", 0, "Symbols recomputed in parallel")
	_ = fs.Parse(os.Args[1:])

	mgr, err := config.NewManager(*configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Current()

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mgr, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
	log.Info("server exiting")
}

func run(ctx context.Context, mgr *config.Manager, log *zap.Logger) error {
	cfg := mgr.Current()

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer stores.Close()

	pub, closePub, err := app.OpenNotifier(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("open notifier: %w", err)
	}
	defer closePub()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(observability.DefaultNamespace, reg)

	svc := app.NewService(cfg, stores, pub, metrics, log)

	gin.SetMode(gin.ReleaseMode)
	apiOpts := api.Options{
		Recomputer:  svc,
		Runs:        stores.Runs,
		Allocations: stores.Allocations,
		Reports:     reporting.NewGenerator(stores.Allocations, stores.Runs),
		Verifier:    verification.NewVerifier(stores.Trades, stores.Allocations),
		Snapshots:   stores.Snapshots,
		Reloader:    mgr,
		Logger:      log,
	}
	// A typed nil would make the interface non-nil.
	if pub != nil {
		apiOpts.Events = pub
	}
	handlers := api.NewGinHandlers(apiOpts)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handlers, metrics, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Options{
			Runner:              svc,
			Version:             func() int { return mgr.Current().Recompute.DefaultVersion },
			IncrementalInterval: cfg.Scheduler.IncrementalInterval,
			IncrementalLookback: cfg.Scheduler.IncrementalLookback,
			FullInterval:        cfg.Scheduler.FullInterval,
			Logger:              log,
		})
		g.Go(func() error {
			err := sched.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
