package file_test

import (
	"context"
	"testing"

	"github.com/aretw0/quill/pkg/adapters/file"
	"github.com/aretw0/quill/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ensure SnapshotStore implements ports.SnapshotStore
var _ ports.SnapshotStore = (*file.SnapshotStore)(nil)

func TestSnapshotStore_Contract(t *testing.T) {
	store := file.NewSnapshotStore(t.TempDir())
	ports.RunSnapshotStoreContract(t, store)
}

func TestSnapshotStore_PathKeys(t *testing.T) {
	store := file.NewSnapshotStore(t.TempDir())
	ctx := context.Background()

	key := "notebooks/analysis v2.ipynb"
	require.NoError(t, store.Save(ctx, key, &ports.Snapshot{Path: key}))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	loaded, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, loaded.Path)
}

func TestSnapshotStore_EmptyKey(t *testing.T) {
	store := file.NewSnapshotStore(t.TempDir())
	ctx := context.Background()

	assert.Error(t, store.Save(ctx, "", &ports.Snapshot{}))
	_, err := store.Load(ctx, "")
	assert.Error(t, err)
	assert.Error(t, store.Delete(ctx, ""))
}
