package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/internal/logging"
	"github.com/VladislavFirsov/longrun/internal/metrics"
)

// Stable error codes persisted on failed effect records. Replay maps them
// back to the matching sentinel so a body observes the same error on every
// re-entry.
const (
	codeTaskFailed      = "task_failed"
	codeSchemaViolation = "output_schema_violation"
)

// runContext implements contracts.ProcessContext for one body entry. The
// sequence counter starts at zero on every entry; determinism of the body
// guarantees the counter assigns the same id to the same call on replay.
type runContext struct {
	ctx  context.Context
	run  *contracts.Run
	deps *dependencies

	seq int
	// suspendedAt records the breakpoint that halted this entry.
	suspendedAt contracts.EffectID

	logger *logging.Logger
}

// dependencies is the engine-owned wiring shared by every runContext.
type dependencies struct {
	store      contracts.Store
	registry   contracts.Registry
	executor   contracts.Executor
	suspension contracts.SuspensionManager
	metrics    *metrics.Metrics
}

func newRunContext(ctx context.Context, run *contracts.Run, deps *dependencies, logger *logging.Logger) *runContext {
	return &runContext{
		ctx:    ctx,
		run:    run,
		deps:   deps,
		logger: logger.With("run_id", run.ID),
	}
}

var _ contracts.ProcessContext = (*runContext)(nil)

// nextSeq hands out the next in-run invocation number.
func (rc *runContext) nextSeq() int {
	seq := rc.seq
	rc.seq++
	return seq
}

// Task invokes a registered task as a durable effect.
func (rc *runContext) Task(name contracts.TaskName, args map[string]any) (map[string]any, error) {
	seq := rc.nextSeq()
	id := contracts.NewEffectID(rc.run.ID, seq)
	return rc.runTask(name, args, seq, id)
}

// runTask is the shared body of Task and Parallel branches. The effect id is
// fixed before any store access so replay and fan-out agree on identity.
func (rc *runContext) runTask(name contracts.TaskName, args map[string]any, seq int, id contracts.EffectID) (map[string]any, error) {
	input, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("task %q: marshaling args: %w", name, err)
	}

	meta := contracts.BeginMeta{Seq: seq, Kind: contracts.EffectTask, Name: string(name)}
	rec, created, err := rc.deps.store.Begin(rc.ctx, rc.run.ID, id, meta, input)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", name, err)
	}

	// 1. Replay: a finished record answers without re-executing
	if !created && rec.Status != contracts.EffectPending {
		rc.deps.metrics.EffectsReplayed.Inc()
		return rc.replayRecord(name, rec)
	}

	// 2. Materialize the spec for this invocation
	tc := &contracts.TaskContext{RunID: rc.run.ID, EffectID: id}
	spec, err := rc.deps.registry.Resolve(name, args, tc)
	if err != nil {
		failErr := rc.deps.store.Fail(rc.ctx, rc.run.ID, id, contracts.EffectError{
			Code:    codeTaskFailed,
			Message: err.Error(),
		})
		if failErr != nil {
			rc.logger.Error("recording definition failure", "effect_id", id, "error", failErr)
		}
		rc.journal("effect_failed", map[string]any{"effect_id": string(id), "task": string(name), "code": codeTaskFailed})
		return nil, fmt.Errorf("task %q: %w", name, err)
	}

	// 3. Execute and commit the terminal state
	rc.logger.Info("executing task", "task", name, "effect_id", id, "seq", seq)
	output, execErr := rc.deps.executor.Execute(rc.ctx, spec, rc.run.ID, id)
	if execErr != nil {
		if rc.ctx.Err() != nil {
			// Host cancellation is not a task outcome. The record stays
			// pending and execution re-enters on the next attempt.
			return nil, rc.ctx.Err()
		}
		code := codeTaskFailed
		if errors.Is(execErr, contracts.ErrOutputSchemaViolation) {
			code = codeSchemaViolation
		}
		if failErr := rc.deps.store.Fail(rc.ctx, rc.run.ID, id, contracts.EffectError{
			Code:    code,
			Message: execErr.Error(),
		}); failErr != nil {
			rc.logger.Error("recording task failure", "effect_id", id, "error", failErr)
		}
		rc.journal("effect_failed", map[string]any{"effect_id": string(id), "task": string(name), "code": code})
		return nil, execErr
	}

	if err := rc.deps.store.Complete(rc.ctx, rc.run.ID, id, output); err != nil {
		return nil, fmt.Errorf("task %q: committing output: %w", name, err)
	}
	rc.journal("effect_completed", map[string]any{"effect_id": string(id), "task": string(name)})

	return decodeOutput(name, output)
}

// journal appends an audit entry. Journal failures never fail the effect:
// the effect record itself is the source of truth.
func (rc *runContext) journal(event string, data map[string]any) {
	if err := rc.deps.store.AppendEvent(rc.ctx, rc.run.ID, event, data); err != nil {
		rc.logger.Warn("appending journal event", "event", event, "error", err)
	}
}

// replayRecord converts a stored terminal record back into the value or
// error the body observed on the original pass.
func (rc *runContext) replayRecord(name contracts.TaskName, rec *contracts.EffectRecord) (map[string]any, error) {
	if rec.Status == contracts.EffectSucceeded {
		rc.logger.Debug("replaying task result", "task", name, "effect_id", rec.ID)
		return decodeOutput(name, rec.Output)
	}

	sentinel := contracts.ErrTaskExecutionFailed
	msg := ""
	if rec.Error != nil {
		msg = rec.Error.Message
		if rec.Error.Code == codeSchemaViolation {
			sentinel = contracts.ErrOutputSchemaViolation
		}
	}
	return nil, fmt.Errorf("%w: task %q: %s", sentinel, name, msg)
}

func decodeOutput(name contracts.TaskName, raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		// Non-object outputs (arrays, scalars) are exposed under "result".
		var v any
		if err2 := json.Unmarshal(raw, &v); err2 != nil {
			return nil, fmt.Errorf("task %q: decoding output: %w", name, err)
		}
		return map[string]any{"result": v}, nil
	}
	return out, nil
}

// Breakpoint opens (or re-encounters) a suspension point.
func (rc *runContext) Breakpoint(req contracts.BreakpointRequest) (*contracts.Resolution, error) {
	seq := rc.nextSeq()
	id := contracts.NewEffectID(rc.run.ID, seq)

	if err := rc.deps.suspension.Suspend(rc.ctx, rc.run.ID, id, seq, req); err != nil {
		return nil, fmt.Errorf("breakpoint %s: %w", id, err)
	}

	res, err := rc.deps.suspension.Consume(rc.ctx, rc.run.ID, id)
	switch {
	case err == nil:
		return res, nil

	case errors.Is(err, contracts.ErrBreakpointNotResolved):
		// Still waiting on an operator. Halt this entry.
		rc.suspendedAt = id
		return nil, contracts.ErrSuspended

	case errors.Is(err, contracts.ErrBreakpointConsumed):
		// Replay of an already-consumed breakpoint: serve the stored
		// resolution like any completed effect.
		rec, getErr := rc.deps.store.Get(rc.ctx, rc.run.ID, id)
		if getErr != nil {
			return nil, fmt.Errorf("breakpoint %s: %w", id, getErr)
		}
		var stored contracts.Resolution
		if err := json.Unmarshal(rec.Output, &stored); err != nil {
			return nil, fmt.Errorf("breakpoint %s: decoding resolution: %w", id, err)
		}
		rc.deps.metrics.EffectsReplayed.Inc()
		return &stored, nil

	default:
		return nil, fmt.Errorf("breakpoint %s: %w", id, err)
	}
}

// Gate evaluates a declarative predicate over prior outputs. An untripped
// gate consumes no effect id: the decision derives from stored outputs, so
// it replays identically for free.
func (rc *runContext) Gate(g contracts.Gate, outputs map[string]any) (*contracts.Resolution, error) {
	if !evalPredicate(g.When, outputs) {
		return nil, nil
	}

	req := g.Breakpoint
	if req.Title == "" {
		req.Title = g.Name
	}
	res, err := rc.Breakpoint(req)
	if err != nil {
		return nil, err
	}

	if !res.Approved && g.OnReject != contracts.GateRejectContinue {
		return res, fmt.Errorf("gate %q rejected by %s: %w", g.Name, res.ResolvedBy, contracts.ErrGateRejected)
	}
	return res, nil
}

// Parallel runs independent task calls as one fan-out. Effect ids are
// assigned to every branch before any branch starts, so completion order
// never influences identity. The call returns after ALL branches reached a
// terminal state; the first branch error, if any, is returned.
func (rc *runContext) Parallel(calls []contracts.TaskCall) ([]map[string]any, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	type branch struct {
		seq int
		id  contracts.EffectID
	}
	branches := make([]branch, len(calls))
	for i := range calls {
		seq := rc.nextSeq()
		branches[i] = branch{seq: seq, id: contracts.NewEffectID(rc.run.ID, seq)}
	}

	results := make([]map[string]any, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			out, err := rc.runTask(call.Name, call.Args, branches[i].seq, branches[i].id)
			if err != nil {
				return fmt.Errorf("branch %q: %w", call.Name, err)
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Log emits a structured line attributed to the run.
func (rc *runContext) Log(level contracts.LogLevel, msg string, args ...any) {
	switch level {
	case contracts.LogDebug:
		rc.logger.Debug(msg, args...)
	case contracts.LogWarn:
		rc.logger.Warn(msg, args...)
	case contracts.LogError:
		rc.logger.Error(msg, args...)
	default:
		rc.logger.Info(msg, args...)
	}
}

// Now returns the wall clock. Not recorded.
func (rc *runContext) Now() time.Time { return time.Now() }

// RunID identifies the executing run.
func (rc *runContext) RunID() contracts.RunID { return rc.run.ID }

// =============================================================================
// Predicate evaluation
// =============================================================================

// evalPredicate applies p to a dotted field path into outputs. A missing
// path satisfies nothing except a negated OpExists.
func evalPredicate(p contracts.Predicate, outputs map[string]any) bool {
	val, found := lookupPath(outputs, p.Field)

	switch p.Op {
	case contracts.OpExists:
		return found && val != nil
	case contracts.OpEquals:
		return found && looseEqual(val, p.Value)
	case contracts.OpNotEquals:
		return !found || !looseEqual(val, p.Value)
	case contracts.OpIn:
		if !found {
			return false
		}
		for _, candidate := range p.Values {
			if looseEqual(val, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(doc map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares values across the numeric types produced by JSON
// decoding and YAML parsing.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
