package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
)

// Store implements ports.SnapshotStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*ports.Snapshot
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*ports.Snapshot),
	}
}

func copySnapshot(s *ports.Snapshot) *ports.Snapshot {
	out := &ports.Snapshot{Path: s.Path, Cells: make([]domain.Cell, len(s.Cells)), Sealed: append([]byte(nil), s.Sealed...)}
	for i, c := range s.Cells {
		out.Cells[i] = c.Clone()
	}
	return out
}

// Save persists the snapshot in memory.
func (s *Store) Save(ctx context.Context, key string, snapshot *ports.Snapshot) error {
	// Deep copy to ensure isolation, similar to serialization
	copied := copySnapshot(snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = copied
	return nil
}

// Load retrieves the snapshot from memory.
func (s *Store) Load(ctx context.Context, key string) (*ports.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.data[key]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}

	// Copy on read so the caller can't mutate store state through the pointer
	return copySnapshot(snapshot), nil
}

// Delete removes the snapshot.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// List returns the stored keys.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
