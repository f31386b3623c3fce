package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAclStore(t *testing.T) *AclStore {
	t.Helper()
	store, err := OpenAclStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAclStore_SetGetRoundTrip(t *testing.T) {
	store := newTestAclStore(t)
	fa := FromModeBits(100, 200, 0o640, false)

	require.NoError(t, store.Set("/export/file.txt", fa))

	got, ok, err := store.Get("/export/file.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fa.OwnerUID, got.OwnerUID)
	assert.Equal(t, fa.Entries, got.Entries)
}

func TestAclStore_GetMissingReturnsNotOK(t *testing.T) {
	store := newTestAclStore(t)
	_, ok, err := store.Get("/export/nope.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAclStore_Delete(t *testing.T) {
	store := newTestAclStore(t)
	fa := FromModeBits(100, 200, 0o640, false)
	require.NoError(t, store.Set("/export/file.txt", fa))
	require.NoError(t, store.Delete("/export/file.txt"))

	_, ok, err := store.Get("/export/file.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAclStore_Rename(t *testing.T) {
	store := newTestAclStore(t)
	fa := FromModeBits(100, 200, 0o640, false)
	require.NoError(t, store.Set("/export/old.txt", fa))
	require.NoError(t, store.Rename("/export/old.txt", "/export/new.txt"))

	_, ok, err := store.Get("/export/old.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := store.Get("/export/new.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fa.OwnerUID, got.OwnerUID)
}
