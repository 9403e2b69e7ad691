package file

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
)

// SnapshotStore implements ports.SnapshotStore using the local filesystem.
// It stores snapshots as JSON files in a configured directory.
type SnapshotStore struct {
	BasePath string
}

// NewSnapshotStore creates a new SnapshotStore with the given base path.
// If basePath is empty, it defaults to ".quill/snapshots".
func NewSnapshotStore(basePath string) *SnapshotStore {
	if basePath == "" {
		basePath = filepath.Join(".quill", "snapshots")
	}
	return &SnapshotStore{BasePath: basePath}
}

// Keys are notebook paths, so they are escaped into flat file names.
func (s *SnapshotStore) file(key string) string {
	return filepath.Join(s.BasePath, url.PathEscape(key)+".json")
}

// Save persists the snapshot to a JSON file atomically.
func (s *SnapshotStore) Save(ctx context.Context, key string, snapshot *ports.Snapshot) error {
	if key == "" {
		return fmt.Errorf("snapshot key cannot be empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return writeAtomic(s.file(key), data)
}

// Load retrieves the snapshot from a JSON file.
func (s *SnapshotStore) Load(ctx context.Context, key string) (*ports.Snapshot, error) {
	if key == "" {
		return nil, fmt.Errorf("snapshot key cannot be empty")
	}

	data, err := os.ReadFile(s.file(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snapshot ports.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// Delete removes the snapshot file.
func (s *SnapshotStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("snapshot key cannot be empty")
	}

	err := os.Remove(s.file(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}
	return nil
}

// List returns all stored keys.
func (s *SnapshotStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	keys := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
