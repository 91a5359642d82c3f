package memory

import (
	"context"
	"sort"
	"sync"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

// PnLSnapshotStore is an in-memory implementation of storage.PnLSnapshotStore.
type PnLSnapshotStore struct {
	mu   sync.RWMutex
	data []*domain.PnLSnapshot
}

// NewPnLSnapshotStore creates a new in-memory snapshot store.
func NewPnLSnapshotStore() *PnLSnapshotStore {
	return &PnLSnapshotStore{}
}

// Insert appends a snapshot.
func (s *PnLSnapshotStore) Insert(_ context.Context, snap *domain.PnLSnapshot) error {
	if snap == nil || snap.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *snap
	s.data = append(s.data, &copy)
	return nil
}

// GetHistory retrieves snapshots for (symbol, version) ordered by computed_at ASC.
func (s *PnLSnapshotStore) GetHistory(_ context.Context, symbol string, version int) ([]*domain.PnLSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PnLSnapshot
	for _, snap := range s.data {
		if snap.Symbol == symbol && snap.AllocationVersion == version {
			copy := *snap
			result = append(result, &copy)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ComputedAt.Before(result[j].ComputedAt)
	})
	return result, nil
}

var _ storage.PnLSnapshotStore = (*PnLSnapshotStore)(nil)
