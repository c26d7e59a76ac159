// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine counters. Create one per engine with a dedicated
// registerer so independent engines and tests do not collide.
type Metrics struct {
	RunsStarted     prometheus.Counter
	RunsCompleted   *prometheus.CounterVec // label: status
	RunsResumed     prometheus.Counter
	EffectsReplayed prometheus.Counter
	TasksExecuted   *prometheus.CounterVec // label: kind
	TaskRetries     prometheus.Counter
	BreakpointsOpen prometheus.Counter
	BreakpointsDone prometheus.Counter
}

// New registers the engine counters on reg. A nil reg registers nothing
// and returns counters that still count (unregistered).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "longrun_runs_started_total",
			Help: "Runs started.",
		}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "longrun_runs_finished_total",
			Help: "Runs that reached a terminal or suspended state.",
		}, []string{"status"}),
		RunsResumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "longrun_runs_resumed_total",
			Help: "Resume calls that re-entered a process body.",
		}),
		EffectsReplayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "longrun_effects_replayed_total",
			Help: "Effect calls served from the store without re-execution.",
		}),
		TasksExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "longrun_tasks_executed_total",
			Help: "Task dispatches to a worker or deterministic function.",
		}, []string{"kind"}),
		TaskRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "longrun_task_retries_total",
			Help: "Transient task failures that were retried.",
		}),
		BreakpointsOpen: factory.NewCounter(prometheus.CounterOpts{
			Name: "longrun_breakpoints_opened_total",
			Help: "Breakpoints opened.",
		}),
		BreakpointsDone: factory.NewCounter(prometheus.CounterOpts{
			Name: "longrun_breakpoints_consumed_total",
			Help: "Breakpoint resolutions consumed by resuming runs.",
		}),
	}
}
