// ABOUTME: Tests for the SQLite blob store against a real database file.
// ABOUTME: Covers roundtrip, overwrite, delete, and reopen persistence.

package offline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Roundtrip(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", []byte("hello")))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Overwrite(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k1", []byte("v1")))
	require.NoError(t, store.Set(ctx, "k1", []byte("v2")))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k1", []byte("v1")))
	require.NoError(t, store.Delete(ctx, "k1"))

	_, err = store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is a no-op
	require.NoError(t, store.Delete(ctx, "k1"))
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "console.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "k1", []byte("survives")))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("survives"), got)
}

func TestSQLiteStore_BacksOfflineManager(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	m := newTestManager(t, &scriptedReplayer{})
	m.store = store

	_, err = m.Enqueue(ctx, ActionCreate, "messages", map[string]string{"content": "durable"})
	require.NoError(t, err)

	require.Len(t, m.Queue(ctx), 1)
}
