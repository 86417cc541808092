package layer

import (
	"os"
	"testing"

	"github.com/ciel-container/ciel/cerrors"
	"github.com/ciel-container/ciel/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOverlayLayerRejectsInvalidName(t *testing.T) {
	root := t.TempDir()
	ws, err := workspace.Init(root)
	require.NoError(t, err)

	_, err = NewOverlayLayer(ws, "")
	require.Error(t, err)
	var in *cerrors.InvalidName
	assert.ErrorAs(t, err, &in)

	_, err = NewOverlayLayer(ws, "a/b")
	require.Error(t, err)
	assert.ErrorAs(t, err, &in)
}

func TestNewOverlayLayerTouchesNoFilesystem(t *testing.T) {
	root := t.TempDir()
	ws, err := workspace.Init(root)
	require.NoError(t, err)

	l, err := NewOverlayLayer(ws, "main")
	require.NoError(t, err)

	_, statErr := os.Stat(l.MountPoint())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRollbackPreconditionAndEffect(t *testing.T) {
	l := newTestLayer(t)

	require.NoError(t, os.WriteFile(l.paths.diff+"/scratch.txt", []byte("x"), 0o644))

	require.NoError(t, l.Rollback())

	entries, err := os.ReadDir(l.paths.diff)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDestroyPreconditionAndEffect(t *testing.T) {
	l := newTestLayer(t)
	instDir := instanceDirFromPaths(l.paths)

	require.NoError(t, l.Destroy())

	_, err := os.Stat(instDir)
	assert.True(t, os.IsNotExist(err))
}

func TestGetBaseAndConfigLayer(t *testing.T) {
	l := newTestLayer(t)

	assert.NotEmpty(t, l.GetBaseLayer())
	assert.NotEmpty(t, l.GetConfigLayer())
	assert.NotEqual(t, l.GetBaseLayer(), l.GetConfigLayer())
}
