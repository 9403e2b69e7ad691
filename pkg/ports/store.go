package ports

import (
	"context"

	"github.com/aretw0/quill/pkg/domain"
)

// Snapshot is the persisted visible state of a notebook.
type Snapshot struct {
	Path  string        `json:"path,omitempty"`
	Cells []domain.Cell `json:"cells"`

	// Sealed carries the encrypted form of Path and Cells when the snapshot
	// went through an encrypting store. The clear fields are empty then.
	Sealed []byte `json:"sealed,omitempty"`
}

// SnapshotStore defines the interface for persisting notebook snapshots.
// This allows a restarted client to show the last visible results.
type SnapshotStore interface {
	// Save persists the snapshot under a key.
	Save(ctx context.Context, key string, snapshot *Snapshot) error

	// Load retrieves the snapshot for a key.
	// Returns domain.ErrSnapshotNotFound if the key does not exist.
	Load(ctx context.Context, key string) (*Snapshot, error)

	// Delete removes the snapshot for a key.
	Delete(ctx context.Context, key string) error

	// List returns the stored keys.
	List(ctx context.Context) ([]string, error)
}
