package contracts

import "context"

// Engine drives process definitions forward, assigning effect identifiers
// deterministically, replaying completed effects on resume and enforcing
// once-only side effects.
type Engine interface {
	// Start creates the run at counter 0 and executes the process body.
	// It returns when the run reaches a terminal state or suspends.
	//
	// Returns nil error on completion AND on suspension: suspension is a
	// normal outcome, observable via run.State == RunSuspended.
	// Returns error on:
	// - ErrUnknownProcess: no such process definition
	// - ErrRunExists: run id collision
	// - context.Canceled: host cancelled while executing
	// - run failure (definition, protocol or execution errors)
	Start(ctx context.Context, process ProcessName, runID RunID, inputs map[string]any) (*Run, error)

	// Resume reloads a suspended run and re-enters the process body from
	// its start. Replay guarantees every effect up to the previously open
	// breakpoint returns instantly from the store.
	//
	// Fails fast with ErrRunNotSuspended if the run is not suspended and
	// with ErrBreakpointNotResolved if its breakpoint is still open.
	Resume(ctx context.Context, runID RunID) (*Run, error)

	// Cancel transitions a suspended run to failed with reason Cancelled.
	// Resolved breakpoints remain in the store for audit.
	Cancel(ctx context.Context, runID RunID) error

	// Status returns the persisted run record.
	Status(ctx context.Context, runID RunID) (*Run, error)
}
