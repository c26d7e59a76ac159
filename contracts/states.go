package contracts

// RunState represents the state of a run.
type RunState int

const (
	RunPending RunState = iota
	RunRunning
	RunSuspended
	RunCompleted
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunSuspended:
		return "suspended"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run can make no further progress.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// ParseRunState converts a persisted state string back to a RunState.
// Unknown strings map to RunPending.
func ParseRunState(s string) RunState {
	switch s {
	case "running":
		return RunRunning
	case "suspended":
		return RunSuspended
	case "completed":
		return RunCompleted
	case "failed":
		return RunFailed
	default:
		return RunPending
	}
}

// EffectStatus represents the durability state of an effect record.
type EffectStatus int

const (
	EffectPending EffectStatus = iota
	EffectSucceeded
	EffectFailed
)

func (s EffectStatus) String() string {
	switch s {
	case EffectPending:
		return "pending"
	case EffectSucceeded:
		return "succeeded"
	case EffectFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseEffectStatus converts a persisted status string back to an EffectStatus.
func ParseEffectStatus(s string) EffectStatus {
	switch s {
	case "succeeded":
		return EffectSucceeded
	case "failed":
		return EffectFailed
	default:
		return EffectPending
	}
}

// BreakpointState represents the lifecycle of a suspension point.
// Transitions are one-directional: open -> resolved -> consumed.
type BreakpointState int

const (
	BreakpointOpen BreakpointState = iota
	BreakpointResolved
	BreakpointConsumed
)

func (s BreakpointState) String() string {
	switch s {
	case BreakpointOpen:
		return "open"
	case BreakpointResolved:
		return "resolved"
	case BreakpointConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// ParseBreakpointState converts a persisted state string back to a BreakpointState.
func ParseBreakpointState(s string) BreakpointState {
	switch s {
	case "resolved":
		return BreakpointResolved
	case "consumed":
		return BreakpointConsumed
	default:
		return BreakpointOpen
	}
}
