package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore
// implementation adheres to the defined interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	key := "contract-test-" + time.Now().Format("20060102150405")

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	result := domain.Complete(
		domain.Apply(domain.NewResult(started), domain.StreamEvent{Name: domain.Stdout, Text: "hello"}),
		started.Add(time.Second),
	)

	snapshot := &Snapshot{
		Path: "demo.ipynb",
		Cells: []domain.Cell{
			{ID: "a", Type: domain.CellCode, InitialText: "print('hello')", Result: &result},
			{ID: "b", Type: domain.CellMarkdown, InitialText: "# Title"},
		},
	}

	t.Run("Save and Load", func(t *testing.T) {
		err := store.Save(ctx, key, snapshot)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, "demo.ipynb", loaded.Path)
		require.Len(t, loaded.Cells, 2)
		assert.Equal(t, "a", loaded.Cells[0].ID)
		assert.Equal(t, "b", loaded.Cells[1].ID)
		require.NotNil(t, loaded.Cells[0].Result)
		assert.Equal(t, domain.StatusSuccess, loaded.Cells[0].Result.Status)
		require.Len(t, loaded.Cells[0].Result.Outputs, 1)
		assert.Equal(t, "hello", loaded.Cells[0].Result.Outputs[0].Text)
		assert.True(t, started.Equal(loaded.Cells[0].Result.StartedAt))
		assert.Nil(t, loaded.Cells[1].Result)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, key, snapshot)
		require.NoError(t, err)

		err = store.Delete(ctx, key)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, key)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound, "Load after Delete should return ErrSnapshotNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := key + "-1"
		id2 := key + "-2"
		_ = store.Save(ctx, id1, &Snapshot{})
		_ = store.Save(ctx, id2, &Snapshot{})

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, id1)
		assert.Contains(t, keys, id2)
	})
}
