// Package breakpoint owns the suspension lifecycle: a breakpoint opens as a
// pending effect, an operator resolves it out of band, and the resuming run
// consumes the resolution exactly once.
package breakpoint

import (
	"context"
	"fmt"

	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/internal/logging"
	"github.com/VladislavFirsov/longrun/internal/metrics"
)

type manager struct {
	store   contracts.EffectStore
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewManager creates a SuspensionManager over store. Logger and metrics may
// be nil.
func NewManager(store contracts.EffectStore, logger *logging.Logger, m *metrics.Metrics) contracts.SuspensionManager {
	if m == nil {
		m = metrics.New(nil)
	}
	return &manager{
		store:   store,
		logger:  logging.OrNop(logger),
		metrics: m,
	}
}

// Suspend persists req as an open breakpoint effect. Re-entry with the same
// id leaves the existing record untouched, so a replayed process body
// arriving at the same breakpoint is a no-op.
func (m *manager) Suspend(ctx context.Context, runID contracts.RunID, id contracts.EffectID, seq int, req contracts.BreakpointRequest) error {
	if req.Question == "" {
		return fmt.Errorf("breakpoint %s has no question: %w", id, contracts.ErrInvalidInput)
	}

	meta := contracts.BeginMeta{
		Seq:        seq,
		Kind:       contracts.EffectBreakpoint,
		Name:       req.Title,
		Breakpoint: &req,
	}
	_, created, err := m.store.Begin(ctx, runID, id, meta, nil)
	if err != nil {
		return fmt.Errorf("opening breakpoint %s: %w", id, err)
	}
	if created {
		m.metrics.BreakpointsOpen.Inc()
		m.logger.Info("breakpoint opened",
			"run_id", runID, "effect_id", id, "question", req.Question)
	}
	return nil
}

// Resolve records the operator decision on an open breakpoint.
func (m *manager) Resolve(ctx context.Context, runID contracts.RunID, id contracts.EffectID, res contracts.Resolution) error {
	if err := m.store.ResolveBreakpoint(ctx, runID, id, res); err != nil {
		return err
	}
	m.logger.Info("breakpoint resolved",
		"run_id", runID, "effect_id", id, "approved", res.Approved, "resolved_by", res.ResolvedBy)
	return nil
}

// Consume advances a resolved breakpoint to consumed and returns the
// resolution. Fails fast with ErrBreakpointNotResolved while the breakpoint
// is still waiting on an operator.
func (m *manager) Consume(ctx context.Context, runID contracts.RunID, id contracts.EffectID) (*contracts.Resolution, error) {
	res, err := m.store.ConsumeBreakpoint(ctx, runID, id)
	if err != nil {
		return nil, err
	}
	m.metrics.BreakpointsDone.Inc()
	m.logger.Info("breakpoint consumed", "run_id", runID, "effect_id", id)
	return res, nil
}
