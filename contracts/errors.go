package contracts

import "errors"

// Sentinel errors for the engine. Callers match them with errors.Is.
var (
	// Definition errors. Fatal at registration time, never retried.
	ErrDuplicateTaskName = errors.New("task name already registered")
	ErrUnknownTask       = errors.New("unknown task name")
	ErrUnknownProcess    = errors.New("unknown process name")
	ErrSchemaBuild       = errors.New("task spec construction failed")

	// Execution errors.
	ErrOutputSchemaViolation = errors.New("worker output violates declared schema")
	ErrTaskExecutionFailed   = errors.New("task execution failed")

	// Suspension-protocol errors. Always fatal, never retried.
	ErrBreakpointNotResolved = errors.New("breakpoint not resolved")
	ErrBreakpointNotOpen     = errors.New("breakpoint not open")
	ErrBreakpointConsumed    = errors.New("breakpoint already consumed")
	ErrRunNotSuspended       = errors.New("run is not suspended")

	// Idempotency violations. Always fatal, guard against double-apply.
	ErrAlreadyCompleted = errors.New("effect is not pending")
	ErrEffectNotFound   = errors.New("effect not found")

	// Run lifecycle errors.
	ErrRunNotFound  = errors.New("run not found")
	ErrRunExists    = errors.New("run already exists")
	ErrRunTerminal  = errors.New("run already reached a terminal state")
	ErrRunCancelled = errors.New("run cancelled")

	// Input validation errors.
	ErrInvalidInput = errors.New("invalid input: nil or malformed")

	// Gate errors.
	ErrGateRejected = errors.New("gate decision rejected")
)

// ErrSuspended is the control-flow signal a process body propagates when a
// breakpoint is open. It is a normal, expected outcome, not a failure: the
// coordinator converts it into a suspended run.
var ErrSuspended = errors.New("run suspended awaiting breakpoint resolution")
