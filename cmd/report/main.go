// Command report writes the realized P&L of one allocation version as CSV and
// Markdown files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"fifo-allocator/internal/app"
	"fifo-allocator/internal/config"
	"fifo-allocator/internal/logger"
	"fifo-allocator/internal/recompute"
	"fifo-allocator/internal/reporting"
)

type options struct {
	configPath string
	outputDir  string
	version    int
	symbol     string
	from       string
	to         string
	recompute  bool
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var opts options
	fs := pflag.NewFlagSet("report", pflag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to YAML configuration file")
	fs.StringVar(&opts.outputDir, "output-dir", "output", "Output directory for generated files")
	fs.IntVar(&opts.version, "version", 0, "Allocation version to report (required)")
	fs.StringVar(&opts.symbol, "symbol", "", "Restrict the report to one symbol")
	fs.StringVar(&opts.from, "from", "", "Only sells filled at or after this RFC3339 time")
	fs.StringVar(&opts.to, "to", "", "Only sells filled before this RFC3339 time")
	fs.BoolVar(&opts.recompute, "recompute", false, "Recompute every symbol for the version before reporting")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("log-format", "", "Log format (json, console)")
	fs.String("storage-driver", "", "Storage driver (memory, postgres, sqlite)")
	fs.String("postgres-dsn", "", "PostgreSQL connection string")
	fs.String("sqlite-path", "", "SQLite database file")
	fs.String("fixtures", "", "YAML ledger to load before reporting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := reporting.Query{Version: opts.version, Symbol: opts.symbol}
	var err error
	if q.From, err = parseTime("from", opts.from); err != nil {
		return err
	}
	if q.To, err = parseTime("to", opts.to); err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath, fs)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	if opts.recompute {
		svc := app.NewService(cfg, stores, nil, nil, log)
		batch, err := svc.RecomputeAll(ctx, opts.version, recompute.Full(), false)
		if err != nil {
			return err
		}
		if len(batch.Failures()) > 0 {
			return errors.New(batch.Summary())
		}
	}

	gen := reporting.NewGenerator(stores.Allocations, stores.Runs)
	report, err := gen.Generate(ctx, q)
	if err != nil {
		return err
	}
	rows, err := gen.Rows(ctx, q)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	files := []struct {
		name string
		body string
	}{
		{fmt.Sprintf("PNL_v%d.csv", opts.version), reporting.RenderCSV(report.Summary)},
		{fmt.Sprintf("ALLOCATIONS_v%d.csv", opts.version), reporting.RenderAllocationsCSV(rows)},
		{fmt.Sprintf("PNL_REPORT_v%d.md", opts.version), reporting.RenderMarkdown(report)},
	}

	fmt.Fprintln(stdout, "Report generated successfully:")
	for _, f := range files {
		path := filepath.Join(opts.outputDir, f.name)
		if err := os.WriteFile(path, []byte(f.body), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		fmt.Fprintf(stdout, "  - %s\n", path)
	}
	log.Info("report written",
		zap.Int("version", opts.version),
		zap.Int("symbols", len(report.Summary.Symbols)),
		zap.Int("allocations", len(rows)),
	)
	return nil
}

func parseTime(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}
