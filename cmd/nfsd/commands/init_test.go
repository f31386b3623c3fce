package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfsd/nfsd/internal/config"
)

func TestRunInit_WritesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	configFile = path
	initForce = false
	defer func() { configFile = ""; initForce = false }()

	require.NoError(t, runInit(nil, nil))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/nfs", cfg.RootPath)
	require.Len(t, cfg.Exports, 1)
	assert.Equal(t, "/srv/nfs", cfg.Exports[0].Path)
}

func TestRunInit_RefusesToOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root_path: /x\n"), 0o644))

	configFile = path
	initForce = false
	defer func() { configFile = ""; initForce = false }()

	assert.Error(t, runInit(nil, nil))
}

func TestRunInit_ForceOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root_path: /x\n"), 0o644))

	configFile = path
	initForce = true
	defer func() { configFile = ""; initForce = false }()

	assert.NoError(t, runInit(nil, nil))
}
