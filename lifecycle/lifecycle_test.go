package lifecycle

import (
	"context"
	"os"
	"testing"

	"github.com/ciel-container/ciel/runtime"
	"github.com/ciel-container/ciel/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T) (*Controller, *runtime.Fake) {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.Init(root)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(ws.DistDir(), 0o755))

	rt := runtime.NewFake()
	return New(ws, rt), rt
}

func TestAddTransitionsAbsentToDefined(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	st, err := c.State(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, Absent, st)

	require.NoError(t, c.Add(ctx, "main", ""))

	st, err = c.State(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, Defined, st)
}

func TestCommitPreconditionRejectsWhileActive(t *testing.T) {
	c, rt := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.Add(ctx, "main", ""))
	require.NoError(t, rt.Start(ctx, "main", "/x", runtime.StartOptions{}))

	err := c.Commit(ctx, "main")
	require.Error(t, err)
}

func TestDiagnoseReportsWorkspaceAndInstances(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.Add(ctx, "main", ""))

	diag, err := c.Diagnose(ctx)
	require.NoError(t, err)
	assert.True(t, diag.WorkspaceMarkerPresent)
	assert.True(t, diag.DistExists)
	require.Len(t, diag.Instances, 1)
	assert.Equal(t, "main", diag.Instances[0].Name)
}

func TestStartRequiresMounted(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.Add(ctx, "main", ""))

	err := c.Start(ctx, "main", runtime.StartOptions{})
	require.Error(t, err)
}

func TestStateTransitionsThroughMountAndUnmount(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.Add(ctx, "main", ""))

	if os.Getuid() != 0 {
		t.Skip("mounting overlayfs requires root")
	}

	require.NoError(t, c.Mount(ctx, "main"))
	st, err := c.State(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, Mounted, st)

	require.NoError(t, c.Unmount(ctx, "main"))
	st, err = c.State(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, Defined, st)
}
