package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRejectsDirWithoutMarker(t *testing.T) {
	root := t.TempDir()

	_, err := Open(root)
	require.Error(t, err)
}

func TestInitThenOpenSucceeds(t *testing.T) {
	root := t.TempDir()

	ws, err := Init(root)
	require.NoError(t, err)
	assert.Equal(t, root, ws.Root)

	again, err := Open(root)
	require.NoError(t, err)
	assert.Equal(t, ws.Root, again.Root)
}

func TestInitIsIdempotent(t *testing.T) {
	root := t.TempDir()

	_, err := Init(root)
	require.NoError(t, err)
	_, err = Init(root)
	require.NoError(t, err)
}

func TestOpenLoadsConfig(t *testing.T) {
	root := t.TempDir()
	_, err := Init(root)
	require.NoError(t, err)

	cfgPath := filepath.Join(root, configName)
	content := "output_dir = \"build\"\ncache_dir = \"cache\"\nmirror_url = \"https://example.invalid/mirror\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	ws, err := Open(root)
	require.NoError(t, err)
	assert.Equal(t, "build", ws.Config.OutputDir)
	assert.Equal(t, "cache", ws.Config.CacheDir)
	assert.Equal(t, filepath.Join(root, "build"), ws.OutputDir())
	assert.Equal(t, filepath.Join(root, "cache"), ws.CacheDir())
}

func TestOpenDefaultsConfigWhenAbsent(t *testing.T) {
	root := t.TempDir()
	ws, err := Init(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "OUTPUT"), ws.OutputDir())
	assert.Equal(t, filepath.Join(root, "SRCS"), ws.CacheDir())
}

func TestDistExistsReflectsDirectoryPresence(t *testing.T) {
	root := t.TempDir()
	ws, err := Init(root)
	require.NoError(t, err)

	exists, err := ws.DistExists()
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, os.RemoveAll(ws.DistDir()))
	exists, err = ws.DistExists()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInstanceDirIsScopedUnderInstances(t *testing.T) {
	root := t.TempDir()
	ws, err := Init(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(ws.InstancesDir(), "main"), ws.InstanceDir("main"))
}
