package domain

import "time"

// RunStatus is the state of a computation log entry.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// RunMode names how a recomputation was scheduled. Both modes recompute the
// full history of a symbol.
type RunMode string

const (
	RunModeFull        RunMode = "full"
	RunModeIncremental RunMode = "incremental"
)

// ComputationLogEntry records one recomputation attempt for (symbol, version).
// Corresponds to computation_log table.
type ComputationLogEntry struct {
	RunID             string // uuid
	Symbol            string
	AllocationVersion int
	Mode              RunMode
	Forced            bool

	StartedAt  time.Time
	FinishedAt *time.Time // nil while running
	Status     RunStatus

	BuysProcessed      int
	SellsProcessed     int
	AllocationsCreated int
	TradesExcluded     int
	UnmatchedSells     int

	ErrorDetail *string // set when Status is failed
}

// IsStale reports whether a running entry started before the given cutoff
// and therefore no longer blocks new runs.
func (e *ComputationLogEntry) IsStale(cutoff time.Time) bool {
	return e.Status == RunStatusRunning && e.StartedAt.Before(cutoff)
}

// Clone returns a copy that shares no pointers with e.
func (e *ComputationLogEntry) Clone() *ComputationLogEntry {
	c := *e
	if e.FinishedAt != nil {
		ts := *e.FinishedAt
		c.FinishedAt = &ts
	}
	if e.ErrorDetail != nil {
		msg := *e.ErrorDetail
		c.ErrorDetail = &msg
	}
	return &c
}
