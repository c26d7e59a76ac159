package breakpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/internal/effects"
)

func setup(t *testing.T) (contracts.SuspensionManager, *effects.MemStore) {
	t.Helper()
	store := effects.NewMemStore()
	run := &contracts.Run{
		ID:        "run-1",
		Process:   "release-pipeline",
		State:     contracts.RunRunning,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateRun(context.Background(), run))
	return NewManager(store, nil, nil), store
}

func TestManager_SuspendResolveConsume(t *testing.T) {
	ctx := context.Background()
	mgr, store := setup(t)
	id := contracts.NewEffectID("run-1", 2)

	req := contracts.BreakpointRequest{
		Title:    "approve-deploy",
		Question: "Deploy v3 to production?",
		Context:  map[string]any{"version": "v3"},
	}
	require.NoError(t, mgr.Suspend(ctx, "run-1", id, 2, req))

	// 1. Re-entry keeps the existing open breakpoint
	require.NoError(t, mgr.Suspend(ctx, "run-1", id, 2, req))
	rec, err := store.Get(ctx, "run-1", id)
	require.NoError(t, err)
	require.NotNil(t, rec.Breakpoint)
	assert.Equal(t, contracts.BreakpointOpen, rec.Breakpoint.State)
	assert.Equal(t, contracts.EffectPending, rec.Status)

	// 2. Consuming before resolution fails fast
	_, err = mgr.Consume(ctx, "run-1", id)
	assert.ErrorIs(t, err, contracts.ErrBreakpointNotResolved)

	// 3. Operator resolves, run consumes exactly once
	require.NoError(t, mgr.Resolve(ctx, "run-1", id, contracts.Resolution{
		Approved:   true,
		Answer:     "go ahead",
		ResolvedBy: "release-manager",
	}))

	res, err := mgr.Consume(ctx, "run-1", id)
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, "go ahead", res.Answer)

	_, err = mgr.Consume(ctx, "run-1", id)
	assert.ErrorIs(t, err, contracts.ErrBreakpointConsumed)
}

func TestManager_ResolveRequiresOpenBreakpoint(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setup(t)
	id := contracts.NewEffectID("run-1", 0)

	require.NoError(t, mgr.Suspend(ctx, "run-1", id, 0, contracts.BreakpointRequest{Question: "ok?"}))
	require.NoError(t, mgr.Resolve(ctx, "run-1", id, contracts.Resolution{Approved: false, ResolvedBy: "op"}))

	// A second resolution is rejected; the first decision stands.
	err := mgr.Resolve(ctx, "run-1", id, contracts.Resolution{Approved: true})
	assert.ErrorIs(t, err, contracts.ErrBreakpointNotOpen)

	res, err := mgr.Consume(ctx, "run-1", id)
	require.NoError(t, err)
	assert.False(t, res.Approved)
}

func TestManager_SuspendValidation(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setup(t)

	err := mgr.Suspend(ctx, "run-1", contracts.NewEffectID("run-1", 0), 0, contracts.BreakpointRequest{})
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)
}
