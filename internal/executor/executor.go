// Package executor dispatches materialized task specs: agent tasks go to an
// external worker with bounded retries, deterministic tasks run in-process.
// Every result passes schema validation before it leaves this package.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/internal/logging"
	"github.com/VladislavFirsov/longrun/internal/metrics"
)

// Config bounds the retry behavior of agent task execution.
type Config struct {
	// MaxAttempts caps worker invocations per effect, including the first.
	MaxAttempts int
	// InitialBackoff is the first retry delay; subsequent delays grow
	// exponentially up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AttemptTimeout bounds a single worker invocation. Zero means no
	// per-attempt deadline beyond the caller's context.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the retry policy used when none is configured.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

type executor struct {
	worker  contracts.Worker
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates an Executor dispatching agent tasks to worker. Logger and
// metrics may be nil.
func New(worker contracts.Worker, cfg Config, logger *logging.Logger, m *metrics.Metrics) contracts.Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &executor{
		worker:  worker,
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		metrics: m,
	}
}

// Execute runs one task invocation to completion.
//
// Deterministic tasks run once: the same inputs produce the same outputs, so
// a failure is final. Agent tasks retry on transient worker errors and on
// malformed or schema-violating output, up to MaxAttempts; a schema
// violation that survives every attempt surfaces as ErrOutputSchemaViolation
// with the offending fields, never coerced.
func (e *executor) Execute(ctx context.Context, spec *contracts.TaskSpec, runID contracts.RunID, id contracts.EffectID) (json.RawMessage, error) {
	if spec == nil {
		return nil, contracts.ErrInvalidInput
	}

	log := e.logger.With("run_id", runID, "effect_id", id, "task", spec.Title)

	switch spec.Kind {
	case contracts.TaskKindDeterministic:
		e.metrics.TasksExecuted.WithLabelValues(string(contracts.TaskKindDeterministic)).Inc()
		return e.executeDeterministic(ctx, spec, log)
	case contracts.TaskKindAgent:
		e.metrics.TasksExecuted.WithLabelValues(string(contracts.TaskKindAgent)).Inc()
		return e.executeAgent(ctx, spec, log)
	default:
		return nil, fmt.Errorf("task %q has kind %q: %w", spec.Title, spec.Kind, contracts.ErrInvalidInput)
	}
}

func (e *executor) executeDeterministic(ctx context.Context, spec *contracts.TaskSpec, log *logging.Logger) (json.RawMessage, error) {
	if spec.Fn == nil {
		return nil, fmt.Errorf("task %q has no function: %w", spec.Title, contracts.ErrInvalidInput)
	}

	out, err := spec.Fn(ctx, spec.Args)
	if err != nil {
		return nil, fmt.Errorf("%w: task %q: %w", contracts.ErrTaskExecutionFailed, spec.Title, err)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: task %q produced unmarshalable output: %w", contracts.ErrTaskExecutionFailed, spec.Title, err)
	}

	if spec.Output != nil {
		if err := spec.Output.Validate(raw); err != nil {
			return nil, fmt.Errorf("%w: task %q: %w", contracts.ErrOutputSchemaViolation, spec.Title, err)
		}
	}

	log.Debug("deterministic task completed")
	return raw, nil
}

func (e *executor) executeAgent(ctx context.Context, spec *contracts.TaskSpec, log *logging.Logger) (json.RawMessage, error) {
	if spec.Worker == nil {
		return nil, fmt.Errorf("task %q has no worker request: %w", spec.Title, contracts.ErrInvalidInput)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.InitialBackoff
	policy.MaxInterval = e.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	var result json.RawMessage
	attempt := 0

	operation := func() error {
		attempt++
		if attempt > 1 {
			e.metrics.TaskRetries.Inc()
		}

		attemptCtx := ctx
		if e.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
			defer cancel()
		}

		text, err := e.worker.Invoke(attemptCtx, spec.Worker)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Warn("worker invocation failed", "attempt", attempt, "error", err)
			return fmt.Errorf("%w: task %q: %w", contracts.ErrTaskExecutionFailed, spec.Title, err)
		}

		raw, err := ExtractJSON(text)
		if err != nil {
			log.Warn("worker output is not parseable", "attempt", attempt, "error", err)
			return fmt.Errorf("%w: task %q: %w", contracts.ErrOutputSchemaViolation, spec.Title, err)
		}

		if spec.Output != nil {
			if err := spec.Output.Validate(raw); err != nil {
				log.Warn("worker output failed validation", "attempt", attempt, "error", err)
				return fmt.Errorf("%w: task %q: %w", contracts.ErrOutputSchemaViolation, spec.Title, err)
			}
		}

		result = raw
		return nil
	}

	err := backoff.Retry(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.cfg.MaxAttempts-1)), ctx),
	)
	if err != nil {
		if !errors.Is(err, contracts.ErrOutputSchemaViolation) && !errors.Is(err, contracts.ErrTaskExecutionFailed) {
			err = fmt.Errorf("%w: task %q: %w", contracts.ErrTaskExecutionFailed, spec.Title, err)
		}
		return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
	}

	log.Debug("agent task completed", "attempts", attempt)
	return result, nil
}
