package contracts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/VladislavFirsov/longrun/schema"
)

// Run represents a single execution of a process definition.
// It is owned exclusively by the coordinator; nothing else mutates it.
type Run struct {
	ID      RunID
	Process ProcessName
	State   RunState

	// Cursor is the next effect counter to assign. Effect ids within the
	// run are strictly ordered by this counter.
	Cursor int

	// PendingBreakpoint references the open suspension effect while the
	// run is suspended. Empty otherwise.
	PendingBreakpoint EffectID

	Inputs map[string]any
	// Result holds the process output once the run completes.
	Result map[string]any
	// FailureReason describes why the run failed, when it did.
	FailureReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectRecord is the unit of durability: one record per (runId, effectId).
// Its output is write-once; replays never re-execute a succeeded effect.
type EffectRecord struct {
	ID    EffectID
	RunID RunID
	Seq   int

	// Kind records whether this effect was a task invocation or a
	// breakpoint, Name the task name or breakpoint title.
	Kind EffectKind
	Name string

	Status EffectStatus
	Input  json.RawMessage
	Output json.RawMessage
	Error  *EffectError

	// Breakpoint is set only on suspension effects.
	Breakpoint *BreakpointRecord

	CreatedAt   time.Time
	CompletedAt time.Time
}

// EffectKind distinguishes the two durable operations of a run.
type EffectKind string

const (
	EffectTask       EffectKind = "task"
	EffectBreakpoint EffectKind = "breakpoint"
)

// EffectError records a structured failure on an effect.
type EffectError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BreakpointRequest captures a human-facing question plus supporting context.
type BreakpointRequest struct {
	Title     string              `json:"title"`
	Question  string              `json:"question"`
	Context   map[string]any      `json:"context,omitempty"`
	Artifacts []ArtifactReference `json:"artifacts,omitempty"`
}

// Resolution is an operator decision injected at the suspension point.
// The engine delivers the payload faithfully and does not interpret it
// beyond the Approved flag used by gate policies.
type Resolution struct {
	Approved   bool      `json:"approved"`
	Answer     string    `json:"answer,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// BreakpointRecord is the durable state of one suspension point.
type BreakpointRecord struct {
	Request    BreakpointRequest `json:"request"`
	State      BreakpointState   `json:"-"`
	Resolution *Resolution       `json:"resolution,omitempty"`
}

// ArtifactReference is a named pointer to externally stored content surfaced
// to a human reviewer. Purely descriptive; never mutated.
type ArtifactReference struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Format string `json:"format,omitempty"`
}

// TaskDefinition is an immutable template mapping a stable name to a builder.
type TaskDefinition struct {
	Name TaskName
	Kind TaskKind

	// Build materializes a TaskSpec for one invocation. A builder error is
	// a definition error (ErrSchemaBuild), fatal and never retried.
	Build TaskBuilder

	// OutputSchema, when declared statically, is compiled once at
	// registration time. A builder may still attach a per-invocation
	// schema to the spec it returns.
	OutputSchema *schema.Schema
}

// TaskBuilder produces a fully specified TaskSpec from arguments and the
// per-invocation task context.
type TaskBuilder func(args map[string]any, tc *TaskContext) (*TaskSpec, error)

// TaskContext supplies effect-scoped state to a task builder.
type TaskContext struct {
	RunID    RunID
	EffectID EffectID
	// IO locates where the materialized request and result are persisted.
	IO IORefs
}

// IORefs is the effect-scoped pair of input/output locations for a task.
type IORefs struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// TaskSpec is the materialized instruction for one task invocation.
// Immutable once created; consumed exactly once by the executor.
type TaskSpec struct {
	Title string
	Kind  TaskKind

	// Worker carries the structured request for agent-kind tasks.
	Worker *WorkerRequest
	// Fn is the function reference for deterministic-kind tasks. It
	// receives Args at execution time.
	Fn DeterministicFunc

	// Args are the bound invocation arguments.
	Args map[string]any

	// Output validates the produced result before it is exposed to the
	// rest of the run.
	Output *schema.Validator

	IO     IORefs
	Labels map[string]string
}

// WorkerRequest is the structured request sent to an external worker.
type WorkerRequest struct {
	Role         string         `json:"role"`
	Task         string         `json:"task"`
	Context      map[string]any `json:"context,omitempty"`
	Instructions []string       `json:"instructions"`
	OutputFormat string         `json:"output_format"`
}

// DeterministicFunc is the direct execution path for deterministic tasks.
type DeterministicFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Event is one entry in a run's append-only journal.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	ID        int            `json:"id"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
}
