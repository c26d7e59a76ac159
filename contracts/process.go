package contracts

import "time"

// ProcessDefinition is a named, versioned process body. The body is ordinary
// sequential code over a ProcessContext; every effectful call it makes is
// intercepted, assigned a deterministic effect id and made replay-safe.
type ProcessDefinition struct {
	Name    ProcessName
	Version int
	Body    ProcessFunc
}

// ProcessFunc is a process body. It must be deterministic with respect to
// the values returned by pc.Task and pc.Breakpoint: a body that branches
// differently on resume than it did before suspension is a programming error
// the engine cannot detect.
//
// On suspension the body receives ErrSuspended from the blocking call and
// must propagate it.
type ProcessFunc func(pc ProcessContext, inputs map[string]any) (map[string]any, error)

// ProcessContext is the only interface a pipeline author uses. It is
// intentionally minimal and synchronous-looking even though task and
// breakpoint calls may suspend for long periods.
type ProcessContext interface {
	// Task invokes a registered task and returns its validated result.
	// On replay, an already-succeeded invocation returns its stored value
	// without re-executing; a permanently failed one returns its stored
	// error without retrying.
	Task(name TaskName, args map[string]any) (map[string]any, error)

	// Breakpoint posts a human-facing question and blocks the run until an
	// operator decision arrives. While unresolved it returns ErrSuspended,
	// which the body must propagate. The breakpoint is a synchronization
	// point, not an optional checkpoint, even when the return value is
	// ignored.
	Breakpoint(req BreakpointRequest) (*Resolution, error)

	// Gate evaluates a declarative predicate over prior step outputs and,
	// when it trips, opens the gate's breakpoint. Returns (nil, nil) when
	// the gate does not trip.
	Gate(g Gate, outputs map[string]any) (*Resolution, error)

	// Parallel runs independent task calls as one fan-out: every branch is
	// assigned its effect id up front and the call returns only once all
	// branches reached a terminal state.
	Parallel(calls []TaskCall) ([]map[string]any, error)

	// Log emits a structured log line attributed to the run.
	Log(level LogLevel, msg string, args ...any)

	// Now returns the wall clock. It is not recorded: process code must
	// not branch on it (effect ids never derive from time).
	Now() time.Time

	// RunID identifies the executing run.
	RunID() RunID
}

// TaskCall is one branch of a fan-out.
type TaskCall struct {
	Name TaskName
	Args map[string]any
}

// Gate is a first-class quality gate: a predicate over prior effect outputs
// that conditionally opens a breakpoint. Because both the predicate and the
// reject policy are data, the decision to suspend replays deterministically.
type Gate struct {
	Name       string
	When       Predicate
	Breakpoint BreakpointRequest
	// OnReject selects what a rejected resolution does to the run.
	OnReject GateRejectPolicy
}

// GateRejectPolicy is the process-level decision for rejected gates.
type GateRejectPolicy string

const (
	// GateRejectFail fails the run with ErrGateRejected. The default.
	GateRejectFail GateRejectPolicy = "fail"
	// GateRejectContinue delivers the rejection to the body and proceeds.
	GateRejectContinue GateRejectPolicy = "continue"
)

// PredicateOp is the comparison applied by a gate predicate.
type PredicateOp string

const (
	OpEquals    PredicateOp = "eq"
	OpNotEquals PredicateOp = "ne"
	OpIn        PredicateOp = "in"
	OpExists    PredicateOp = "exists"
)

// Predicate is a data predicate over a dotted field path into the outputs
// map, e.g. {Field: "analysis.status", Op: OpEquals, Value: "needs_review"}.
type Predicate struct {
	Field string      `json:"field" yaml:"field"`
	Op    PredicateOp `json:"op" yaml:"op"`
	Value any         `json:"value,omitempty" yaml:"value,omitempty"`
	// Values is the candidate set for OpIn.
	Values []any `json:"values,omitempty" yaml:"values,omitempty"`
}
