package vfs

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestLocalBackend_CreateWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	f, err := b.Create(ctx, "/file.txt", 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f2, err := b.Open(ctx, "/file.txt", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer f2.Close()

	buf := make([]byte, 5)
	_, err = f2.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestLocalBackend_MkdirReadDirRmdir(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.Mkdir(ctx, "/sub", 0o755)
	require.NoError(t, err)

	_, err = b.Create(ctx, "/sub/a.txt", 0o644)
	require.NoError(t, err)

	entries, err := b.ReadDir(ctx, "/sub")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)

	assert.ErrorIs(t, b.Rmdir(ctx, "/sub"), ErrNotEmpty)
	require.NoError(t, b.Remove(ctx, "/sub/a.txt"))
	require.NoError(t, b.Rmdir(ctx, "/sub"))
}

func TestLocalBackend_RenameAndStat(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	f, err := b.Create(ctx, "/old.txt", 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, b.Rename(ctx, "/old.txt", "/new.txt"))

	_, err = b.Stat(ctx, "/old.txt")
	assert.ErrorIs(t, err, ErrNotExist)

	info, err := b.Stat(ctx, "/new.txt")
	require.NoError(t, err)
	assert.Equal(t, TypeRegular, info.Type)
}

func TestLocalBackend_SymlinkReadlink(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.Symlink(ctx, "/target.txt", "/link.txt"))
	target, err := b.Readlink(ctx, "/link.txt")
	require.NoError(t, err)
	assert.Equal(t, "/target.txt", target)

	info, err := b.Stat(ctx, "/link.txt")
	require.NoError(t, err)
	assert.Equal(t, TypeSymlink, info.Type)
}

func TestLocalBackend_XattrRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	f, err := b.Create(ctx, "/file.txt", 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = b.SetXattr(ctx, "/file.txt", "user.test", []byte("value"))
	if err != nil {
		t.Skipf("extended attributes unsupported on this filesystem: %v", err)
	}

	val, err := b.GetXattr(ctx, "/file.txt", "user.test")
	require.NoError(t, err)
	assert.Equal(t, "value", string(val))

	names, err := b.ListXattr(ctx, "/file.txt")
	require.NoError(t, err)
	assert.Contains(t, names, "user.test")
}

func TestLocalBackend_LockConflictDetection(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.Lock(ctx, "/file.txt", LockRange{Type: LockWrite, Owner: "a", Offset: 0, Length: 100}))
	err := b.Lock(ctx, "/file.txt", LockRange{Type: LockRead, Owner: "b", Offset: 50, Length: 10})
	assert.ErrorIs(t, err, ErrPermission)

	require.NoError(t, b.Unlock(ctx, "/file.txt", LockRange{Type: LockWrite, Owner: "a", Offset: 0, Length: 100}))
	assert.NoError(t, b.Lock(ctx, "/file.txt", LockRange{Type: LockRead, Owner: "b", Offset: 50, Length: 10}))
}

func TestLocalBackend_LockSameOwnerNeverConflicts(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.Lock(ctx, "/file.txt", LockRange{Type: LockWrite, Owner: "a", Offset: 0, Length: 100}))
	assert.NoError(t, b.Lock(ctx, "/file.txt", LockRange{Type: LockWrite, Owner: "a", Offset: 50, Length: 10}))
}

func TestLocalBackend_StatFS(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	st, err := b.StatFS(ctx, "/")
	require.NoError(t, err)
	assert.Greater(t, st.TotalBytes, uint64(0))
}
