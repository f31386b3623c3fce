package handles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathToHandle_Stability(t *testing.T) {
	table := New(10)

	h1 := table.PathToHandle("/export/a.txt")
	h2 := table.PathToHandle("/export/a.txt")
	assert.Equal(t, h1, h2, "repeated PathToHandle for the same path must return the same handle")
}

func TestHandleToPath_RoundTrip(t *testing.T) {
	table := New(10)

	handle := table.PathToHandle("/export/dir/file.txt")
	path, ok := table.HandleToPath(handle)
	require.True(t, ok)
	assert.Equal(t, "/export/dir/file.txt", path)
}

func TestHandleToPath_UnknownHandleIsStale(t *testing.T) {
	table := New(10)
	_, ok := table.HandleToPath(EncodeHandle(9999, 1, 1))
	assert.False(t, ok)
}

func TestInvalidate_MakesExistingHandleStale(t *testing.T) {
	table := New(10)
	handle := table.PathToHandle("/export/gone.txt")
	table.Invalidate("/export/gone.txt")

	_, ok := table.HandleToPath(handle)
	assert.False(t, ok, "handle must go STALE after Invalidate")
}

func TestRename_OldHandleStaleNewPathResolvable(t *testing.T) {
	table := New(10)
	oldHandle := table.PathToHandle("/export/old.txt")
	table.Rename("/export/old.txt", "/export/new.txt")

	_, ok := table.HandleToPath(oldHandle)
	assert.False(t, ok)

	newHandle := table.PathToHandle("/export/new.txt")
	path, ok := table.HandleToPath(newHandle)
	require.True(t, ok)
	assert.Equal(t, "/export/new.txt", path)
}

func TestEviction_RespectsPinning(t *testing.T) {
	table := New(2)

	h1 := table.PathToHandle("/export/1.txt")
	table.Pin(h1)
	table.PathToHandle("/export/2.txt")
	table.PathToHandle("/export/3.txt") // forces an eviction

	_, ok := table.HandleToPath(h1)
	assert.True(t, ok, "pinned entry must survive eviction")
	assert.Equal(t, 2, table.Size())
}

func TestEncodeDecodeHandle_RoundTrip(t *testing.T) {
	handle := EncodeHandle(42, 7, 99)
	id, generation, fsid, err := DecodeHandle(handle)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, uint64(7), generation)
	assert.Equal(t, uint64(99), fsid)
}

func TestDecodeHandle_TooShort(t *testing.T) {
	_, _, _, err := DecodeHandle([]byte{1, 2, 3})
	assert.Error(t, err)
}
