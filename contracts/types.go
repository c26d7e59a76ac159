// Package contracts defines the core types and interfaces for the engine.
package contracts

import "fmt"

// RunID uniquely identifies one execution of a process definition.
type RunID string

// EffectID identifies one durable effect within a run. It is derived purely
// from the run id and the in-run invocation counter, never from content or
// wall-clock time, so replays compute the same ids in the same order.
type EffectID string

// NewEffectID builds the effect id for the seq-th effect of a run.
func NewEffectID(runID RunID, seq int) EffectID {
	return EffectID(fmt.Sprintf("%s/%06d", runID, seq))
}

// ProcessName identifies a registered process definition.
type ProcessName string

// TaskName identifies a registered task definition. Names are stable across
// versions of the task.
type TaskName string

// TaskKind distinguishes how a task is fulfilled.
type TaskKind string

const (
	// TaskKindAgent dispatches a structured request to an external worker.
	TaskKindAgent TaskKind = "agent"
	// TaskKindDeterministic invokes a registered Go function directly.
	TaskKindDeterministic TaskKind = "deterministic"
)

// LogLevel is the severity of a process log line.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)
