package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaultsWhenFieldsOmitted(t *testing.T) {
	path := writeConfigFile(t, "root_path: /export\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultBindAddress, cfg.BindAddress)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.True(t, cfg.EnableTCP)
	assert.True(t, cfg.EnableUDP)
	assert.True(t, cfg.EnableNFSv3)
	assert.True(t, cfg.EnableNFSv4)
}

func TestLoad_ParsesDurationsAndExports(t *testing.T) {
	path := writeConfigFile(t, `
root_path: /export
session_timeout: 45s
exports:
  - name: home
    path: /export/home
    clients: ["10.0.0.0/24"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.SessionTimeout)
	require.Len(t, cfg.Exports, 1)
	assert.Equal(t, "home", cfg.Exports[0].Name)
}

func TestLoad_MissingRootPathFailsValidation(t *testing.T) {
	path := writeConfigFile(t, "bind_address: 0.0.0.0\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidPortFailsValidation(t *testing.T) {
	path := writeConfigFile(t, "root_path: /export\nport: 99999\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := &Config{BindAddress: "127.0.0.1", Port: 2049, RootPath: "/export"}
	ApplyDefaults(cfg)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.RootPath, loaded.RootPath)
}
