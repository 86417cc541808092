package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeStartThenStatusReportsBooted(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Start(ctx, "main", "/instances/main/root", StartOptions{}))

	st, err := f.Status(ctx, "main")
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.True(t, st.Booted)
}

func TestFakeStartRecordsEphemeralOption(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Start(ctx, "main", "/x", StartOptions{Ephemeral: true}))

	opts, ok := f.LastStartOptions("main")
	require.True(t, ok)
	assert.True(t, opts.Ephemeral)
}

func TestFakeStatusUnknownMachineIsInactiveNotError(t *testing.T) {
	f := NewFake()
	st, err := f.Status(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, st.Active)
}

func TestFakeStopRemovesMachine(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.Start(ctx, "main", "/root", StartOptions{}))

	require.NoError(t, f.Stop(ctx, "main", 5*time.Second))

	st, err := f.Status(ctx, "main")
	require.NoError(t, err)
	assert.False(t, st.Active)
}

func TestFakeSetBootedOverridesState(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.Start(ctx, "main", "/root", StartOptions{}))

	f.SetBooted("main", false)

	st, err := f.Status(ctx, "main")
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.False(t, st.Booted)
}

func TestFakeListEnumeratesAll(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.Start(ctx, "a", "/a", StartOptions{}))
	require.NoError(t, f.Start(ctx, "b", "/b", StartOptions{}))

	list, err := f.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
