package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchFile_InvokesCallbackOnRewrite(t *testing.T) {
	path := writeConfigFile(t, "root_path: /export\n")

	reloaded := make(chan *Config, 1)
	w, err := WatchFile(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("root_path: /export2\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "/export2", cfg.RootPath)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}
