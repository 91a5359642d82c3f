package recompute

import (
	"fmt"
	"strings"
	"time"

	"fifo-allocator/internal/domain"
)

// Mode selects which symbols a batch touches. Every selected symbol is always
// recomputed over its full history.
type Mode struct {
	Kind  domain.RunMode
	Since time.Time // incremental only: symbols with a fill at or after Since
}

// Full selects every known symbol.
func Full() Mode {
	return Mode{Kind: domain.RunModeFull}
}

// Incremental selects symbols with new fills since the given instant.
func Incremental(since time.Time) Mode {
	return Mode{Kind: domain.RunModeIncremental, Since: since}
}

func (m Mode) String() string {
	if m.Kind == domain.RunModeIncremental {
		return fmt.Sprintf("incremental(since=%s)", m.Since.UTC().Format(time.RFC3339))
	}
	return string(m.Kind)
}

func (m Mode) validate() error {
	switch m.Kind {
	case domain.RunModeFull:
		return nil
	case domain.RunModeIncremental:
		if m.Since.IsZero() {
			return fmt.Errorf("%w: incremental mode requires since", ErrInvalidRequest)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, m.Kind)
	}
}

// Request asks for one (symbol, version) pair to be recomputed.
type Request struct {
	Symbol  string
	Version int
	Mode    Mode
	Force   bool // take over a non-stale running entry
}

// validate trims the symbol in place and checks the request.
func (r *Request) validate() error {
	r.Symbol = strings.TrimSpace(r.Symbol)
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if err := validateVersion(r.Version); err != nil {
		return err
	}
	return r.Mode.validate()
}

func validateVersion(v int) error {
	if v < 1 {
		return fmt.Errorf("%w: version must be positive, got %d", ErrInvalidRequest, v)
	}
	return nil
}

// RunResult is the outcome of one successful recomputation.
type RunResult struct {
	Entry    *domain.ComputationLogEntry // terminal log entry
	Excluded map[string]int              // skipped ledger rows by reason
}

// SymbolResult is one symbol's outcome inside a batch.
type SymbolResult struct {
	Symbol string
	Result *RunResult // nil when Err is set
	Err    error
}

// Refused reports whether the symbol was skipped because another run held it.
func (r SymbolResult) Refused() bool {
	return r.Err != nil && errorIsRunInProgress(r.Err)
}

// BatchResult collects the outcome of RecomputeAll.
type BatchResult struct {
	Version int
	Mode    Mode
	Results []SymbolResult // ordered by symbol
}

// Succeeded returns the number of symbols recomputed successfully.
func (b *BatchResult) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Failures returns every symbol that failed or was refused.
func (b *BatchResult) Failures() []SymbolResult {
	var out []SymbolResult
	for _, r := range b.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Summary renders one line per failed symbol, or "" when all succeeded.
func (b *BatchResult) Summary() string {
	failures := b.Failures()
	if len(failures) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d symbols failed (version %d, %s):\n",
		len(failures), len(b.Results), b.Version, b.Mode)
	for _, f := range failures {
		kind := "failed"
		if f.Refused() {
			kind = "refused"
		}
		fmt.Fprintf(&sb, "  %s: %s: %v\n", f.Symbol, kind, f.Err)
	}
	return sb.String()
}
