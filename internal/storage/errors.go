package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. The trade ledger is append-only.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRunInProgress is returned by ComputationLogStore.Begin when a
	// non-stale running entry already exists for the same (symbol, version).
	ErrRunInProgress = errors.New("computation already running")

	// ErrSuperseded is returned by ComputationLogStore.Finish and
	// RunCommitter.Commit when the entry is no longer running because a
	// newer run took over (forced or after it went stale).
	ErrSuperseded = errors.New("run superseded by a newer run")
)
