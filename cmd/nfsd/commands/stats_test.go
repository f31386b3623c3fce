package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfsd/nfsd/internal/config"
)

func TestRunStats_MissingSnapshotIsConfigError(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	err := runStats(nil, nil)
	require.Error(t, err)
	var ce *configError
	assert.ErrorAs(t, err, &ce)
}

func TestRunStats_PrintsWrittenSnapshot(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	cfg := &config.Config{RootPath: t.TempDir()}
	config.ApplyDefaults(cfg)
	srv, cleanup, err := buildServer(cfg)
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, writeStatsSnapshot(srv))

	snapshotPath := statsSnapshotPath()
	_, err = os.Stat(snapshotPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(GetDefaultStateDir(), "nfsd.stats"), snapshotPath)

	out, err := captureStdout(t, func() error { return runStats(nil, nil) })
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
