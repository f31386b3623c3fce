package v4_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nfsd/nfsd/internal/handles"
	"github.com/nfsd/nfsd/internal/nfs"
	v4 "github.com/nfsd/nfsd/internal/nfs/v4"
	"github.com/nfsd/nfsd/internal/security"
	"github.com/nfsd/nfsd/internal/vfs"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t       *testing.T
	srv     *nfs.Server
	handler *v4.Handler
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
		MaxReadWrite: 65536,
	}

	return &fixture{
		t:       t,
		srv:     srv,
		handler: v4.NewHandler(srv, security.NewSessionTable(time.Minute)),
		uid:     uint32(os.Getuid()),
		gid:     uint32(os.Getgid()),
	}
}

func (f *fixture) ctx() *nfs.HandlerContext {
	return &nfs.HandlerContext{
		Context:    context.Background(),
		ClientAddr: "10.0.0.7:2049",
		Security:   &security.Context{Authenticated: true, UID: f.uid, GID: f.gid, GIDs: []uint32{f.gid}, ClientIP: "10.0.0.7"},
	}
}
