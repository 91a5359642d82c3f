package memory

import (
	"context"
	"sort"
	"sync"

	"fifo-allocator/internal/domain"
	"fifo-allocator/internal/storage"
)

type allocationKey struct {
	symbol  string
	version int
}

// AllocationStore is an in-memory implementation of storage.AllocationStore.
// Each (symbol, version) set is held as one slice and swapped under the
// write lock, so readers never observe a partially replaced set.
type AllocationStore struct {
	mu   sync.RWMutex
	sets map[allocationKey][]*domain.AllocationRecord
}

// NewAllocationStore creates a new in-memory allocation store.
func NewAllocationStore() *AllocationStore {
	return &AllocationStore{
		sets: make(map[allocationKey][]*domain.AllocationRecord),
	}
}

// Replace atomically swaps the allocation set of (symbol, version).
func (s *AllocationStore) Replace(_ context.Context, symbol string, version int, allocations []*domain.AllocationRecord) error {
	if symbol == "" || version <= 0 {
		return storage.ErrInvalidInput
	}

	set := make([]*domain.AllocationRecord, 0, len(allocations))
	ids := make(map[string]struct{}, len(allocations))
	for _, a := range allocations {
		if a == nil || a.Symbol != symbol || a.AllocationVersion != version {
			return storage.ErrInvalidInput
		}
		if _, dup := ids[a.AllocationID]; dup {
			return storage.ErrDuplicateKey
		}
		ids[a.AllocationID] = struct{}{}
		set = append(set, a.Clone())
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Sequence < set[j].Sequence })

	s.mu.Lock()
	defer s.mu.Unlock()

	key := allocationKey{symbol: symbol, version: version}
	if len(set) == 0 {
		delete(s.sets, key)
		return nil
	}
	s.sets[key] = set
	return nil
}

// GetBySymbolVersion retrieves the allocation set ordered by sequence ASC.
func (s *AllocationStore) GetBySymbolVersion(_ context.Context, symbol string, version int) ([]*domain.AllocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneAll(s.sets[allocationKey{symbol: symbol, version: version}]), nil
}

// Query retrieves rows matching the filter, ordered by symbol ASC, sequence ASC.
func (s *AllocationStore) Query(_ context.Context, filter storage.AllocationFilter) ([]*domain.AllocationRecord, error) {
	if filter.Version <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []allocationKey
	for k := range s.sets {
		if k.version == filter.Version && (filter.Symbol == "" || k.symbol == filter.Symbol) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].symbol < keys[j].symbol })

	var result []*domain.AllocationRecord
	for _, k := range keys {
		for _, a := range s.sets[k] {
			if filter.From != nil && a.SellFilledAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && !a.SellFilledAt.Before(*filter.To) {
				continue
			}
			result = append(result, a.Clone())
		}
	}
	return result, nil
}

// ListVersions returns every version with at least one row, sorted ASC.
func (s *AllocationStore) ListVersions(_ context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int]struct{})
	for k := range s.sets {
		seen[k.version] = struct{}{}
	}
	versions := make([]int, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

func cloneAll(in []*domain.AllocationRecord) []*domain.AllocationRecord {
	if len(in) == 0 {
		return nil
	}
	out := make([]*domain.AllocationRecord, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}

var _ storage.AllocationStore = (*AllocationStore)(nil)
