package v2_test

import (
	"context"
	"os"
	"testing"

	"github.com/nfsd/nfsd/internal/handles"
	"github.com/nfsd/nfsd/internal/nfs"
	v2 "github.com/nfsd/nfsd/internal/nfs/v2"
	"github.com/nfsd/nfsd/internal/security"
	"github.com/nfsd/nfsd/internal/vfs"
	"github.com/stretchr/testify/require"
)

// fixture wires a real LocalBackend rooted at a temp directory behind the
// shared nfs.Server, with a single wide-open export so ACL fallback grants
// the test's own UID full access through FromModeBits.
type fixture struct {
	t       *testing.T
	srv     *nfs.Server
	handler *v2.Handler
	uid     uint32
	gid     uint32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	backend, err := vfs.NewLocalBackend(root)
	require.NoError(t, err)

	srv := &nfs.Server{
		Backend:      backend,
		Handles:      handles.New(1024),
		RootPath:     "/",
		Exports:      []security.Export{{Name: "root", Path: "/"}},
		MaxReadWrite: v2.MaxTransferSize,
	}

	return &fixture{
		t:       t,
		srv:     srv,
		handler: v2.NewHandler(srv),
		uid:     uint32(os.Getuid()),
		gid:     uint32(os.Getgid()),
	}
}

func (f *fixture) ctx() *nfs.HandlerContext {
	return &nfs.HandlerContext{
		Context:    context.Background(),
		ClientAddr: "10.0.0.5:709",
		Security:   &security.Context{Authenticated: true, UID: f.uid, GID: f.gid, ClientIP: "10.0.0.5"},
	}
}

func (f *fixture) rootHandle() []byte {
	return f.srv.RootPathToHandle()
}

func (f *fixture) handleFor(path string) []byte {
	return f.srv.Handles.PathToHandle(path)
}
