package recompute

import (
	"errors"
	"fmt"

	"fifo-allocator/internal/storage"
)

var (
	// ErrRunInProgress is returned when another non-stale run holds the
	// (symbol, version) pair. It wraps storage.ErrRunInProgress.
	ErrRunInProgress = fmt.Errorf("recompute refused: %w", storage.ErrRunInProgress)

	// ErrInvalidRequest is returned for a malformed Request.
	ErrInvalidRequest = errors.New("invalid recompute request")
)
