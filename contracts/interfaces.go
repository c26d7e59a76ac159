package contracts

import (
	"context"
	"encoding/json"
)

// =============================================================================
// Registry
// =============================================================================

// Registry maps task names to builders. It is an explicit object handed to
// the coordinator at startup, not process-wide state, so independent engines
// and tests coexist without interference.
type Registry interface {
	// Register adds a task definition. Returns ErrDuplicateTaskName if the
	// name is already registered, ErrSchemaBuild if a declared output
	// schema fails to compile.
	Register(def TaskDefinition) error

	// Resolve builds the TaskSpec for one invocation. Returns
	// ErrUnknownTask if the name is absent, ErrSchemaBuild if the builder
	// fails while constructing the spec.
	Resolve(name TaskName, args map[string]any, tc *TaskContext) (*TaskSpec, error)

	// Names returns the registered task names in sorted order.
	Names() []TaskName
}

// =============================================================================
// Effect store / idempotency layer
// =============================================================================

// BeginMeta carries the immutable identity of an effect at creation time.
type BeginMeta struct {
	Seq  int
	Kind EffectKind
	Name string
	// Breakpoint is set when the effect is a suspension point.
	Breakpoint *BreakpointRequest
}

// EffectStore is the content-addressed, idempotent persistence layer for
// effects. Implementations must support concurrent access with per-effect-id
// compare-and-set semantics.
type EffectStore interface {
	// Begin creates a pending record or, if one already exists for this
	// id, returns it unchanged with created=false (safe re-entry).
	Begin(ctx context.Context, runID RunID, id EffectID, meta BeginMeta, input json.RawMessage) (rec *EffectRecord, created bool, err error)

	// Complete transitions pending -> succeeded. Returns ErrAlreadyCompleted
	// if the record is not pending.
	Complete(ctx context.Context, runID RunID, id EffectID, output json.RawMessage) error

	// Fail transitions pending -> failed. Terminal for this effect id.
	Fail(ctx context.Context, runID RunID, id EffectID, effErr EffectError) error

	// Get returns the record for an effect id, or ErrEffectNotFound.
	Get(ctx context.Context, runID RunID, id EffectID) (*EffectRecord, error)

	// List returns all effect records of a run ordered by Seq.
	List(ctx context.Context, runID RunID) ([]*EffectRecord, error)

	// ResolveBreakpoint transitions a breakpoint effect open -> resolved.
	// Returns ErrBreakpointNotOpen if it is not open.
	ResolveBreakpoint(ctx context.Context, runID RunID, id EffectID, res Resolution) error

	// ConsumeBreakpoint transitions resolved -> consumed, completes the
	// effect with the resolution payload and returns it. Returns
	// ErrBreakpointNotResolved while the breakpoint is still open and
	// ErrBreakpointConsumed if it was consumed before.
	ConsumeBreakpoint(ctx context.Context, runID RunID, id EffectID) (*Resolution, error)
}

// RunStore persists the one durable record per run: cursor and status.
// Together with the effect records this is everything needed to resume a run
// after total process restart.
type RunStore interface {
	// CreateRun persists a new run. Returns ErrRunExists on id collision.
	CreateRun(ctx context.Context, run *Run) error

	// LoadRun returns the persisted run or ErrRunNotFound.
	LoadRun(ctx context.Context, id RunID) (*Run, error)

	// UpdateRun overwrites the run record.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns all persisted runs ordered by creation time.
	ListRuns(ctx context.Context) ([]*Run, error)

	// AppendEvent appends an entry to the run's audit journal.
	AppendEvent(ctx context.Context, id RunID, event string, data map[string]any) error
}

// Store combines the effect and run persistence contracts; the file and
// memory backends implement both over one medium.
type Store interface {
	EffectStore
	RunStore
}

// =============================================================================
// Execution
// =============================================================================

// Worker is the external executor fulfilling agent tasks. The engine treats
// it as an opaque function with at-least-once delivery semantics and
// unbounded latency; it returns free-form text expected to contain JSON.
type Worker interface {
	Invoke(ctx context.Context, req *WorkerRequest) (string, error)
}

// Executor dispatches a materialized TaskSpec and returns the validated
// result. The raw worker result passes through the schema validator before
// being returned; a validation failure surfaces as ErrOutputSchemaViolation
// carrying the offending fields, never silently coerced.
type Executor interface {
	Execute(ctx context.Context, spec *TaskSpec, runID RunID, id EffectID) (json.RawMessage, error)
}

// =============================================================================
// Suspension
// =============================================================================

// SuspensionManager owns breakpoint lifecycle over the effect store.
type SuspensionManager interface {
	// Suspend persists the request as an open breakpoint effect. Safe to
	// re-enter: an existing open breakpoint for the id is left untouched.
	Suspend(ctx context.Context, runID RunID, id EffectID, seq int, req BreakpointRequest) error

	// Resolve records the operator decision. Invoked externally by the
	// review surface.
	Resolve(ctx context.Context, runID RunID, id EffectID, res Resolution) error

	// Consume reads the resolution and advances the breakpoint to its
	// terminal state. Called by the coordinator on resumption.
	Consume(ctx context.Context, runID RunID, id EffectID) (*Resolution, error)
}
