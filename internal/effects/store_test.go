package effects

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/longrun/contracts"
)

func newTestRun(id contracts.RunID) *contracts.Run {
	now := time.Now()
	return &contracts.Run{
		ID:        id,
		Process:   "release-pipeline",
		State:     contracts.RunRunning,
		Inputs:    map[string]any{"ticket": "REL-42"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// storeFactories lets every test run against both backends.
func storeFactories(t *testing.T) map[string]func(t *testing.T) contracts.Store {
	t.Helper()
	return map[string]func(t *testing.T) contracts.Store{
		"memory": func(t *testing.T) contracts.Store {
			return NewMemStore()
		},
		"file": func(t *testing.T) contracts.Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_RunLifecycle(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			run := newTestRun("run-1")
			require.NoError(t, store.CreateRun(ctx, run))

			// 1. Duplicate creation is rejected
			err := store.CreateRun(ctx, newTestRun("run-1"))
			assert.ErrorIs(t, err, contracts.ErrRunExists)

			// 2. Loading an unknown run fails
			_, err = store.LoadRun(ctx, "missing")
			assert.ErrorIs(t, err, contracts.ErrRunNotFound)

			// 3. Round-trip
			loaded, err := store.LoadRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, contracts.ProcessName("release-pipeline"), loaded.Process)
			assert.Equal(t, contracts.RunRunning, loaded.State)
			assert.Equal(t, "REL-42", loaded.Inputs["ticket"])

			// 4. Update persists state transitions
			loaded.State = contracts.RunSuspended
			loaded.Cursor = 3
			require.NoError(t, store.UpdateRun(ctx, loaded))

			again, err := store.LoadRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, contracts.RunSuspended, again.State)
			assert.Equal(t, 3, again.Cursor)
		})
	}
}

func TestStore_ListRunsOrdered(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
			for i, id := range []contracts.RunID{"run-c", "run-a", "run-b"} {
				run := newTestRun(id)
				run.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				require.NoError(t, store.CreateRun(ctx, run))
			}

			runs, err := store.ListRuns(ctx)
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, contracts.RunID("run-c"), runs[0].ID)
			assert.Equal(t, contracts.RunID("run-a"), runs[1].ID)
			assert.Equal(t, contracts.RunID("run-b"), runs[2].ID)
		})
	}
}

func TestStore_BeginIsIdempotent(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))

			id := contracts.NewEffectID("run-1", 0)
			meta := contracts.BeginMeta{Seq: 0, Kind: contracts.EffectTask, Name: "build"}

			rec, created, err := store.Begin(ctx, "run-1", id, meta, json.RawMessage(`{"target":"all"}`))
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, contracts.EffectPending, rec.Status)

			// A second Begin with different input returns the original record.
			rec2, created2, err := store.Begin(ctx, "run-1", id, meta, json.RawMessage(`{"target":"other"}`))
			require.NoError(t, err)
			assert.False(t, created2)
			assert.JSONEq(t, `{"target":"all"}`, string(rec2.Input))
		})
	}
}

func TestStore_CompleteAndFailAreWriteOnce(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))

			idA := contracts.NewEffectID("run-1", 0)
			idB := contracts.NewEffectID("run-1", 1)
			_, _, err := store.Begin(ctx, "run-1", idA, contracts.BeginMeta{Seq: 0, Kind: contracts.EffectTask, Name: "build"}, nil)
			require.NoError(t, err)
			_, _, err = store.Begin(ctx, "run-1", idB, contracts.BeginMeta{Seq: 1, Kind: contracts.EffectTask, Name: "deploy"}, nil)
			require.NoError(t, err)

			// 1. Complete once, then every further transition is rejected
			require.NoError(t, store.Complete(ctx, "run-1", idA, json.RawMessage(`{"ok":true}`)))
			assert.ErrorIs(t, store.Complete(ctx, "run-1", idA, json.RawMessage(`{"ok":false}`)), contracts.ErrAlreadyCompleted)
			assert.ErrorIs(t, store.Fail(ctx, "run-1", idA, contracts.EffectError{Code: "boom"}), contracts.ErrAlreadyCompleted)

			rec, err := store.Get(ctx, "run-1", idA)
			require.NoError(t, err)
			assert.Equal(t, contracts.EffectSucceeded, rec.Status)
			assert.JSONEq(t, `{"ok":true}`, string(rec.Output))
			assert.False(t, rec.CompletedAt.IsZero())

			// 2. Failed effects are just as terminal
			require.NoError(t, store.Fail(ctx, "run-1", idB, contracts.EffectError{Code: "task_failed", Message: "deploy timed out"}))
			assert.ErrorIs(t, store.Complete(ctx, "run-1", idB, nil), contracts.ErrAlreadyCompleted)

			rec, err = store.Get(ctx, "run-1", idB)
			require.NoError(t, err)
			assert.Equal(t, contracts.EffectFailed, rec.Status)
			require.NotNil(t, rec.Error)
			assert.Equal(t, "task_failed", rec.Error.Code)

			// 3. Unknown effect ids surface ErrEffectNotFound
			_, err = store.Get(ctx, "run-1", contracts.NewEffectID("run-1", 99))
			assert.ErrorIs(t, err, contracts.ErrEffectNotFound)
		})
	}
}

func TestStore_ListOrderedBySeq(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))

			// Begin out of order, List must come back by Seq.
			for _, seq := range []int{2, 0, 1} {
				id := contracts.NewEffectID("run-1", seq)
				_, _, err := store.Begin(ctx, "run-1", id, contracts.BeginMeta{Seq: seq, Kind: contracts.EffectTask, Name: "step"}, nil)
				require.NoError(t, err)
			}

			recs, err := store.List(ctx, "run-1")
			require.NoError(t, err)
			require.Len(t, recs, 3)
			for i, rec := range recs {
				assert.Equal(t, i, rec.Seq)
			}
		})
	}
}

func TestStore_BreakpointLifecycle(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))

			id := contracts.NewEffectID("run-1", 0)
			meta := contracts.BeginMeta{
				Seq:  0,
				Kind: contracts.EffectBreakpoint,
				Name: "approve-release",
				Breakpoint: &contracts.BreakpointRequest{
					Title:    "Approve release",
					Question: "Ship v2.1.0 to production?",
				},
			}
			rec, created, err := store.Begin(ctx, "run-1", id, meta, nil)
			require.NoError(t, err)
			require.True(t, created)
			require.NotNil(t, rec.Breakpoint)
			assert.Equal(t, contracts.BreakpointOpen, rec.Breakpoint.State)

			// 1. Consuming an open breakpoint fails fast
			_, err = store.ConsumeBreakpoint(ctx, "run-1", id)
			assert.ErrorIs(t, err, contracts.ErrBreakpointNotResolved)

			// 2. Resolve exactly once
			res := contracts.Resolution{Approved: true, Answer: "ship it", ResolvedBy: "oncall"}
			require.NoError(t, store.ResolveBreakpoint(ctx, "run-1", id, res))
			assert.ErrorIs(t, store.ResolveBreakpoint(ctx, "run-1", id, res), contracts.ErrBreakpointNotOpen)

			// 3. Consume completes the effect with the resolution payload
			got, err := store.ConsumeBreakpoint(ctx, "run-1", id)
			require.NoError(t, err)
			assert.True(t, got.Approved)
			assert.Equal(t, "oncall", got.ResolvedBy)

			rec, err = store.Get(ctx, "run-1", id)
			require.NoError(t, err)
			assert.Equal(t, contracts.EffectSucceeded, rec.Status)
			assert.Equal(t, contracts.BreakpointConsumed, rec.Breakpoint.State)

			var stored contracts.Resolution
			require.NoError(t, json.Unmarshal(rec.Output, &stored))
			assert.Equal(t, "ship it", stored.Answer)

			// 4. Consumption is one-shot
			_, err = store.ConsumeBreakpoint(ctx, "run-1", id)
			assert.ErrorIs(t, err, contracts.ErrBreakpointConsumed)
		})
	}
}

func TestStore_ResolveRejectsNonBreakpoint(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))

			id := contracts.NewEffectID("run-1", 0)
			_, _, err := store.Begin(ctx, "run-1", id, contracts.BeginMeta{Seq: 0, Kind: contracts.EffectTask, Name: "build"}, nil)
			require.NoError(t, err)

			err = store.ResolveBreakpoint(ctx, "run-1", id, contracts.Resolution{Approved: true})
			assert.ErrorIs(t, err, contracts.ErrInvalidInput)
		})
	}
}

func TestFileStore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	run := newTestRun("run-1")
	require.NoError(t, store.CreateRun(ctx, run))

	idA := contracts.NewEffectID("run-1", 0)
	idB := contracts.NewEffectID("run-1", 1)
	_, _, err = store.Begin(ctx, "run-1", idA, contracts.BeginMeta{Seq: 0, Kind: contracts.EffectTask, Name: "build"}, json.RawMessage(`{"target":"all"}`))
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "run-1", idA, json.RawMessage(`{"artifact":"bin-v1"}`)))

	_, _, err = store.Begin(ctx, "run-1", idB, contracts.BeginMeta{
		Seq:        1,
		Kind:       contracts.EffectBreakpoint,
		Name:       "approve",
		Breakpoint: &contracts.BreakpointRequest{Question: "proceed?"},
	}, nil)
	require.NoError(t, err)

	run.State = contracts.RunSuspended
	run.PendingBreakpoint = idB
	require.NoError(t, store.UpdateRun(ctx, run))
	require.NoError(t, store.AppendEvent(ctx, "run-1", "run_suspended", map[string]any{"effect_id": string(idB)}))

	// A fresh store over the same directory sees everything.
	reopened, err := NewFileStore(dir)
	require.NoError(t, err)

	loaded, err := reopened.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.RunSuspended, loaded.State)
	assert.Equal(t, idB, loaded.PendingBreakpoint)

	recs, err := reopened.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, contracts.EffectSucceeded, recs[0].Status)
	assert.JSONEq(t, `{"artifact":"bin-v1"}`, string(recs[0].Output))
	require.NotNil(t, recs[1].Breakpoint)
	assert.Equal(t, contracts.BreakpointOpen, recs[1].Breakpoint.State)

	// The open breakpoint still gates resumption after restart.
	_, err = reopened.ConsumeBreakpoint(ctx, "run-1", idB)
	assert.ErrorIs(t, err, contracts.ErrBreakpointNotResolved)

	events, err := reopened.Events("run-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "run_suspended", events[0].Event)
	assert.Equal(t, 1, events[0].ID)
}

func TestFileStore_JournalIDsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateRun(ctx, newTestRun("run-1")))

	for _, ev := range []string{"run_started", "task_completed", "run_completed"} {
		require.NoError(t, store.AppendEvent(ctx, "run-1", ev, nil))
	}

	events, err := store.Events("run-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.ID)
	}
	assert.Equal(t, "run_completed", events[2].Event)
}
