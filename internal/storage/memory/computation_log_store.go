package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// ComputationLogStore is an in-memory implementation of storage.ComputationLogStore.
type ComputationLogStore struct {
	mu   sync.Mutex
	data map[string]*domain.ComputationLogEntry // keyed by run_id
}

// NewComputationLogStore creates a new in-memory computation log store.
func NewComputationLogStore() *ComputationLogStore {
	return &ComputationLogStore{
		data: make(map[string]*domain.ComputationLogEntry),
	}
}

// Begin records a running entry unless a fresh one already holds (symbol, version).
func (s *ComputationLogStore) Begin(_ context.Context, entry *domain.ComputationLogEntry, staleBefore time.Time, force bool) error {
	if entry == nil || entry.RunID == "" || entry.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[entry.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	var running []*domain.ComputationLogEntry
	for _, e := range s.data {
		if e.Symbol != entry.Symbol || e.AllocationVersion != entry.AllocationVersion || e.Status != domain.RunStatusRunning {
			continue
		}
		if !force && !e.IsStale(staleBefore) {
			return storage.ErrRunInProgress
		}
		running = append(running, e)
	}

	detail := storage.SupersededDetail
	for _, e := range running {
		finished := entry.StartedAt
		msg := detail
		e.Status = domain.RunStatusFailed
		e.FinishedAt = &finished
		e.ErrorDetail = &msg
	}

	c := entry.Clone()
	c.Status = domain.RunStatusRunning
	s.data[c.RunID] = c
	return nil
}

// Finish stores the terminal state of a running entry.
func (s *ComputationLogStore) Finish(_ context.Context, entry *domain.ComputationLogEntry) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunning(entry.RunID); err != nil {
		return err
	}
	s.data[entry.RunID] = entry.Clone()
	return nil
}

// checkRunning must be called with s.mu held.
func (s *ComputationLogStore) checkRunning(runID string) error {
	e, exists := s.data[runID]
	if !exists {
		return storage.ErrNotFound
	}
	if e.Status != domain.RunStatusRunning {
		return storage.ErrSuperseded
	}
	return nil
}

// GetByRunID retrieves an entry. Returns ErrNotFound if not exists.
func (s *ComputationLogStore) GetByRunID(_ context.Context, runID string) (*domain.ComputationLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return e.Clone(), nil
}

// LatestFor retrieves the most recent entry for (symbol, version).
func (s *ComputationLogStore) LatestFor(_ context.Context, symbol string, version int) (*domain.ComputationLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.ComputationLogEntry
	for _, e := range s.data {
		if e.Symbol != symbol || e.AllocationVersion != version {
			continue
		}
		if latest == nil || newerThan(e, latest) {
			latest = e
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest.Clone(), nil
}

// Latest retrieves up to limit entries ordered by started_at DESC.
func (s *ComputationLogStore) Latest(_ context.Context, limit int) ([]*domain.ComputationLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.ComputationLogEntry, 0, len(s.data))
	for _, e := range s.data {
		result = append(result, e.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return newerThan(result[i], result[j]) })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// newerThan orders by started_at DESC, run_id DESC.
func newerThan(a, b *domain.ComputationLogEntry) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.After(b.StartedAt)
	}
	return a.RunID > b.RunID
}

var _ storage.ComputationLogStore = (*ComputationLogStore)(nil)
