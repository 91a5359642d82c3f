// Command recompute rebuilds FIFO allocations for one symbol or every symbol
// in the ledger and records each run in the computation log.
//
// Usage:
//
//	recompute --version 2 --symbol BTC-USD [--force] [--verify]
//	recompute --version 2 --all-symbols [--since 2024-01-01T00:00:00Z]
//
// The exit status is 0 when every symbol succeeded, 1 when any symbol failed,
// was refused or failed verification, and 2 on invalid usage.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"fifo-allocator/internal/app"
	"fifo-allocator/internal/config"
	"fifo-allocator/internal/logger"
	"fifo-allocator/internal/observability"
	"fifo-allocator/internal/recompute"
	"fifo-allocator/internal/verification"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitStartup = 3
)

type options struct {
	configPath string
	version    int
	symbol     string
	allSymbols bool
	force      bool
	since      string
	verify     bool
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func newFlagSet(opts *options, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("recompute", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", "", "Path to YAML configuration file")
	fs.IntVar(&opts.version, "version", 0, "Allocation version to compute (default: recompute.default_version)")
	fs.StringVar(&opts.symbol, "symbol", "", "Symbol to recompute")
	fs.BoolVar(&opts.allSymbols, "all-symbols", false, "Recompute every symbol in the ledger")
	fs.BoolVar(&opts.force, "force", false, "Supersede a fresh running computation")
	fs.StringVar(&opts.since, "since", "", "Only symbols with fills at or after this RFC3339 time (with --all-symbols)")
	fs.BoolVar(&opts.verify, "verify", false, "Replay the ledger and compare with the stored allocations afterwards")

	// Bound into configuration by name.
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("log-format", "", "Log format (json, console)")
	fs.String("storage-driver", "", "Storage driver (memory, postgres, sqlite)")
	fs.String("postgres-dsn", "", "PostgreSQL connection string")
	fs.String("sqlite-path", "", "SQLite database file")
	fs.String("fixtures", "", "YAML ledger to load before computing")
	fs.Int("concurrency", 0, "Symbols recomputed in parallel")
	return fs
}

// changedFlags returns a flag set holding only the flags given on the command
// line, so that unset flags do not override file or environment values.
func changedFlags(fs *pflag.FlagSet) *pflag.FlagSet {
	out := pflag.NewFlagSet(fs.Name(), pflag.ContinueOnError)
	fs.Visit(func(f *pflag.Flag) { out.AddFlag(f) })
	return out
}

func parseOptions(args []string, stderr io.Writer) (*options, *pflag.FlagSet, recompute.Mode, error) {
	opts := &options{}
	fs := newFlagSet(opts, stderr)
	if err := fs.Parse(args); err != nil {
		return nil, nil, recompute.Mode{}, err
	}

	if (opts.symbol == "") == !opts.allSymbols {
		return nil, nil, recompute.Mode{}, errors.New("exactly one of --symbol or --all-symbols is required")
	}
	if opts.version < 0 {
		return nil, nil, recompute.Mode{}, errors.New("--version must be positive")
	}

	mode := recompute.Full()
	if opts.since != "" {
		since, err := time.Parse(time.RFC3339Nano, opts.since)
		if err != nil {
			return nil, nil, recompute.Mode{}, fmt.Errorf("--since: %w", err)
		}
		mode = recompute.Incremental(since)
	}
	return opts, changedFlags(fs), mode, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, flags, mode, err := parseOptions(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	cfg, err := config.Load(opts.configPath, flags)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitStartup
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitStartup
	}
	defer func() { _ = log.Sync() }()

	if opts.version == 0 {
		opts.version = cfg.Recompute.DefaultVersion
	}

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Error("open stores", zap.Error(err))
		return exitStartup
	}
	defer stores.Close()

	pub, closePub, err := app.OpenNotifier(ctx, cfg.Redis, log)
	if err != nil {
		log.Error("open notifier", zap.Error(err))
		return exitStartup
	}
	defer closePub()

	metrics := observability.NewMetrics(observability.DefaultNamespace, prometheus.NewRegistry())
	svc := app.NewService(cfg, stores, pub, metrics, log)

	var batch *recompute.BatchResult
	if opts.allSymbols {
		batch, err = svc.RecomputeAll(ctx, opts.version, mode, opts.force)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailed
		}
	} else {
		res, err := svc.Recompute(ctx, recompute.Request{
			Symbol:  opts.symbol,
			Version: opts.version,
			Mode:    mode,
			Force:   opts.force,
		})
		batch = &recompute.BatchResult{
			Version: opts.version,
			Mode:    mode,
			Results: []recompute.SymbolResult{{Symbol: opts.symbol, Result: res, Err: err}},
		}
	}

	printBatch(stdout, batch)
	code := exitOK
	if len(batch.Failures()) > 0 {
		fmt.Fprintln(stderr, batch.Summary())
		code = exitFailed
	}

	if opts.verify {
		if !verify(ctx, stdout, stderr, verification.NewVerifier(stores.Trades, stores.Allocations), batch) {
			code = exitFailed
		}
	}
	return code
}

func printBatch(w io.Writer, batch *recompute.BatchResult) {
	for _, r := range batch.Results {
		if r.Err != nil {
			continue
		}
		e := r.Result.Entry
		fmt.Fprintf(w, "%s v%d %s: %d buys, %d sells, %d allocations, %d excluded, %d unmatched sells (run %s)\n",
			e.Symbol, e.AllocationVersion, e.Status, e.BuysProcessed, e.SellsProcessed,
			e.AllocationsCreated, e.TradesExcluded, e.UnmatchedSells, e.RunID)
	}
}

// verify replays every successfully recomputed symbol and reports whether
// all of them match the stored allocations.
func verify(ctx context.Context, stdout, stderr io.Writer, v *verification.Verifier, batch *recompute.BatchResult) bool {
	ok := true
	for _, r := range batch.Results {
		if r.Err != nil {
			continue
		}
		report, err := v.VerifySymbol(ctx, r.Symbol, batch.Version)
		if err != nil {
			fmt.Fprintf(stderr, "verify %s: %v\n", r.Symbol, err)
			ok = false
			continue
		}
		if report.Match {
			fmt.Fprintf(stdout, "verify %s v%d: OK (%d rows)\n", r.Symbol, batch.Version, report.StoredRows)
			continue
		}

		ok = false
		var b strings.Builder
		fmt.Fprintf(&b, "verify %s v%d: MISMATCH (stored %d rows, replay %d rows)\n",
			r.Symbol, batch.Version, report.StoredRows, report.ExpectedRows)
		for _, d := range report.Rows {
			for _, f := range d.Divergences {
				fmt.Fprintf(&b, "  seq %d %s: expected %v, got %v\n", d.Sequence, f.Field, f.Expected, f.Actual)
			}
		}
		for _, viol := range report.Violations {
			fmt.Fprintf(&b, "  %s\n", viol)
		}
		fmt.Fprint(stderr, b.String())
	}
	return ok
}
