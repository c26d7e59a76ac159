// Package engine is the run coordinator: it owns run lifecycle, assigns
// deterministic effect identifiers and replays completed effects when a
// suspended run re-enters its process body.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/internal/breakpoint"
	"github.com/VladislavFirsov/longrun/internal/logging"
	"github.com/VladislavFirsov/longrun/internal/metrics"
)

// cancelledReason is the failure reason recorded by Cancel.
const cancelledReason = "Cancelled"

// Options wires the coordinator's collaborators.
type Options struct {
	Store    contracts.Store
	Registry contracts.Registry
	Executor contracts.Executor
	// Suspension defaults to a manager over Store when nil.
	Suspension contracts.SuspensionManager
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

type Engine struct {
	deps    *dependencies
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	processes map[contracts.ProcessName]contracts.ProcessDefinition
}

// New creates the coordinator. Store, Registry and Executor are required.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required: %w", contracts.ErrInvalidInput)
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required: %w", contracts.ErrInvalidInput)
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required: %w", contracts.ErrInvalidInput)
	}

	logger := logging.OrNop(opts.Logger)
	m := opts.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	susp := opts.Suspension
	if susp == nil {
		susp = breakpoint.NewManager(opts.Store, logger, m)
	}

	return &Engine{
		deps: &dependencies{
			store:      opts.Store,
			registry:   opts.Registry,
			executor:   opts.Executor,
			suspension: susp,
			metrics:    m,
		},
		logger:    logger,
		metrics:   m,
		processes: make(map[contracts.ProcessName]contracts.ProcessDefinition),
	}, nil
}

var _ contracts.Engine = (*Engine)(nil)

// RegisterProcess adds a process definition. Duplicate names are rejected.
func (e *Engine) RegisterProcess(def contracts.ProcessDefinition) error {
	if def.Name == "" || def.Body == nil {
		return fmt.Errorf("process definition needs a name and a body: %w", contracts.ErrInvalidInput)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.processes[def.Name]; exists {
		return fmt.Errorf("process %q already registered: %w", def.Name, contracts.ErrInvalidInput)
	}
	e.processes[def.Name] = def
	return nil
}

// Processes returns the registered process names in sorted order.
func (e *Engine) Processes() []contracts.ProcessName {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]contracts.ProcessName, 0, len(e.processes))
	for name := range e.processes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (e *Engine) lookupProcess(name contracts.ProcessName) (contracts.ProcessDefinition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.processes[name]
	if !ok {
		return contracts.ProcessDefinition{}, fmt.Errorf("process %q: %w", name, contracts.ErrUnknownProcess)
	}
	return def, nil
}

// Start creates the run at counter zero and executes the process body until
// it completes, fails or suspends.
func (e *Engine) Start(ctx context.Context, process contracts.ProcessName, runID contracts.RunID, inputs map[string]any) (*contracts.Run, error) {
	def, err := e.lookupProcess(process)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required: %w", contracts.ErrInvalidInput)
	}

	now := time.Now()
	run := &contracts.Run{
		ID:        runID,
		Process:   process,
		State:     contracts.RunRunning,
		Inputs:    inputs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.deps.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	e.metrics.RunsStarted.Inc()
	e.appendEvent(ctx, runID, "run_started", map[string]any{"process": string(process)})
	e.logger.Info("run started", "run_id", runID, "process", process)

	return e.execute(ctx, def, run)
}

// Resume re-enters a suspended run's body from the start. Replay serves
// every previously completed effect from the store, so execution reaches
// the former suspension point without re-invoking anything.
func (e *Engine) Resume(ctx context.Context, runID contracts.RunID) (*contracts.Run, error) {
	run, err := e.deps.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State != contracts.RunSuspended {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.State, contracts.ErrRunNotSuspended)
	}

	// 1. Fail fast while the breakpoint is still open
	if run.PendingBreakpoint != "" {
		rec, err := e.deps.store.Get(ctx, runID, run.PendingBreakpoint)
		if err != nil {
			return nil, fmt.Errorf("loading pending breakpoint: %w", err)
		}
		if rec.Breakpoint != nil && rec.Breakpoint.State == contracts.BreakpointOpen {
			return nil, fmt.Errorf("breakpoint %s: %w", run.PendingBreakpoint, contracts.ErrBreakpointNotResolved)
		}
	}

	def, err := e.lookupProcess(run.Process)
	if err != nil {
		return nil, err
	}

	// 2. Re-enter the body
	run.PendingBreakpoint = ""
	e.metrics.RunsResumed.Inc()
	e.appendEvent(ctx, runID, "run_resumed", nil)
	e.logger.Info("run resumed", "run_id", runID, "process", run.Process)

	return e.execute(ctx, def, run)
}

// Cancel transitions a suspended run to failed with reason Cancelled.
// Effect records and resolved breakpoints stay in the store for audit.
func (e *Engine) Cancel(ctx context.Context, runID contracts.RunID) error {
	run, err := e.deps.store.LoadRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.State.Terminal() {
		return fmt.Errorf("run %s is %s: %w", runID, run.State, contracts.ErrRunTerminal)
	}
	if run.State != contracts.RunSuspended {
		return fmt.Errorf("run %s is %s: %w", runID, run.State, contracts.ErrRunNotSuspended)
	}

	run.State = contracts.RunFailed
	run.FailureReason = cancelledReason
	if err := e.deps.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	e.metrics.RunsCompleted.WithLabelValues("cancelled").Inc()
	e.appendEvent(ctx, runID, "run_cancelled", nil)
	e.logger.Info("run cancelled", "run_id", runID)
	return nil
}

// Status returns the persisted run record.
func (e *Engine) Status(ctx context.Context, runID contracts.RunID) (*contracts.Run, error) {
	return e.deps.store.LoadRun(ctx, runID)
}

// execute drives one body entry to its next boundary: completion, failure
// or suspension. Suspension is a normal outcome and returns a nil error.
func (e *Engine) execute(ctx context.Context, def contracts.ProcessDefinition, run *contracts.Run) (*contracts.Run, error) {
	if run.State != contracts.RunRunning {
		run.State = contracts.RunRunning
		if err := e.deps.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
	}

	rc := newRunContext(ctx, run, e.deps, e.logger)
	outputs, bodyErr := def.Body(rc, run.Inputs)
	run.Cursor = rc.seq

	switch {
	case errors.Is(bodyErr, contracts.ErrSuspended):
		run.State = contracts.RunSuspended
		run.PendingBreakpoint = rc.suspendedAt
		if err := e.deps.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
		e.metrics.RunsCompleted.WithLabelValues("suspended").Inc()
		e.appendEvent(ctx, run.ID, "run_suspended", map[string]any{
			"effect_id": string(rc.suspendedAt),
			"cursor":    rc.seq,
		})
		e.logger.Info("run suspended", "run_id", run.ID, "breakpoint", rc.suspendedAt)
		return run, nil

	case bodyErr != nil:
		run.State = contracts.RunFailed
		run.FailureReason = bodyErr.Error()
		if err := e.deps.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
		e.metrics.RunsCompleted.WithLabelValues("failed").Inc()
		e.appendEvent(ctx, run.ID, "run_failed", map[string]any{"reason": bodyErr.Error()})
		e.logger.Warn("run failed", "run_id", run.ID, "reason", bodyErr)
		return run, bodyErr

	default:
		run.State = contracts.RunCompleted
		run.Result = outputs
		if err := e.deps.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
		e.metrics.RunsCompleted.WithLabelValues("completed").Inc()
		e.appendEvent(ctx, run.ID, "run_completed", map[string]any{"cursor": rc.seq})
		e.logger.Info("run completed", "run_id", run.ID, "effects", rc.seq)
		return run, nil
	}
}

// appendEvent writes to the audit journal; journal failures are logged,
// never fatal to the run.
func (e *Engine) appendEvent(ctx context.Context, runID contracts.RunID, event string, data map[string]any) {
	if err := e.deps.store.AppendEvent(ctx, runID, event, data); err != nil {
		e.logger.Error("appending journal event", "run_id", runID, "event", event, "error", err)
	}
}
