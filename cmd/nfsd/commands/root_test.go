package commands

import (
	"context"
	"testing"
	"time"

	"github.com/nfsd/nfsd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildServerAndListener(t *testing.T) {
	cfg := &config.Config{
		BindAddress: "127.0.0.1",
		Port:        0,
		RootPath:    t.TempDir(),
		EnableNFSv3: true,
	}
	config.ApplyDefaults(cfg)

	srv, cleanup, err := buildServer(cfg)
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, srv.Backend)
	assert.Len(t, srv.Exports, 1)

	listener, err := buildListener(cfg, srv)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for listener.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.NotEmpty(t, listener.Addr())

	cancel()
	_ = listener.Stop()
	<-done
}

func TestBuildListener_NoVersionEnabled(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.EnableNFSv2, cfg.EnableNFSv3, cfg.EnableNFSv4 = false, false, false

	_, err := buildListener(cfg, nil)
	assert.Error(t, err)
}
