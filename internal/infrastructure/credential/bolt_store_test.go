package credential

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	return store
}

func TestBoltStoreRoundTripAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "creds.db")

	store := openStore(t, path)
	token, err := store.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.Save(ctx, "first"))
	require.NoError(t, store.Save(ctx, "second"))
	require.NoError(t, store.Close())

	store = openStore(t, path)
	defer store.Close()

	token, err = store.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", token)

	savedAt, err := store.SavedAt(ctx)
	require.NoError(t, err)
	assert.False(t, savedAt.IsZero())
}

func TestBoltStoreClear(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "creds.db"))
	defer store.Close()

	require.NoError(t, store.Save(ctx, "tok"))
	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))

	token, err := store.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	savedAt, err := store.SavedAt(ctx)
	require.NoError(t, err)
	assert.True(t, savedAt.IsZero())
}

func TestStatic(t *testing.T) {
	token, err := Static("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}
