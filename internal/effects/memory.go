// Package effects provides the idempotency layer: content-addressed,
// write-once persistence of task inputs/outputs and breakpoint state keyed
// by deterministic effect identifiers.
package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VladislavFirsov/longrun/contracts"
)

// timeNow is a variable for testing time-dependent code.
var timeNow = time.Now

// memRun holds everything the memory store keeps per run.
type memRun struct {
	run       contracts.Run
	effects   map[contracts.EffectID]*contracts.EffectRecord
	order     []contracts.EffectID
	events    []contracts.Event
	nextEvent int
}

// MemStore is an in-memory contracts.Store. It honors the same
// compare-and-set semantics as the file backend and is the store of choice
// for tests and embedded use.
type MemStore struct {
	mu   sync.Mutex
	runs map[contracts.RunID]*memRun
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{runs: make(map[contracts.RunID]*memRun)}
}

var _ contracts.Store = (*MemStore)(nil)

// CreateRun persists a new run. Returns ErrRunExists on id collision.
func (s *MemStore) CreateRun(_ context.Context, run *contracts.Run) error {
	if run == nil || run.ID == "" {
		return contracts.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, contracts.ErrRunExists)
	}
	s.runs[run.ID] = &memRun{
		run:       *run,
		effects:   make(map[contracts.EffectID]*contracts.EffectRecord),
		nextEvent: 1,
	}
	return nil
}

// LoadRun returns a copy of the persisted run or ErrRunNotFound.
func (s *MemStore) LoadRun(_ context.Context, id contracts.RunID) (*contracts.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, contracts.ErrRunNotFound)
	}
	run := mr.run
	return &run, nil
}

// UpdateRun overwrites the run record.
func (s *MemStore) UpdateRun(_ context.Context, run *contracts.Run) error {
	if run == nil {
		return contracts.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, exists := s.runs[run.ID]
	if !exists {
		return fmt.Errorf("run %s: %w", run.ID, contracts.ErrRunNotFound)
	}
	mr.run = *run
	mr.run.UpdatedAt = timeNow()
	return nil
}

// ListRuns returns all persisted runs ordered by creation time.
func (s *MemStore) ListRuns(_ context.Context) ([]*contracts.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]*contracts.Run, 0, len(s.runs))
	for _, mr := range s.runs {
		run := mr.run
		runs = append(runs, &run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// AppendEvent appends an entry to the run's audit journal.
func (s *MemStore) AppendEvent(_ context.Context, id contracts.RunID, event string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, exists := s.runs[id]
	if !exists {
		return fmt.Errorf("run %s: %w", id, contracts.ErrRunNotFound)
	}
	mr.events = append(mr.events, contracts.Event{
		Timestamp: timeNow(),
		Type:      "event",
		ID:        mr.nextEvent,
		Event:     event,
		Data:      data,
	})
	mr.nextEvent++
	return nil
}

// Events returns the journal of a run. Test/inspection helper.
func (s *MemStore) Events(id contracts.RunID) []contracts.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, exists := s.runs[id]
	if !exists {
		return nil
	}
	events := make([]contracts.Event, len(mr.events))
	copy(events, mr.events)
	return events
}

// Begin creates a pending record or returns the existing one unchanged.
func (s *MemStore) Begin(_ context.Context, runID contracts.RunID, id contracts.EffectID, meta contracts.BeginMeta, input json.RawMessage) (*contracts.EffectRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, exists := s.runs[runID]
	if !exists {
		return nil, false, fmt.Errorf("run %s: %w", runID, contracts.ErrRunNotFound)
	}

	if rec, exists := mr.effects[id]; exists {
		cp := *rec
		return &cp, false, nil
	}

	rec := &contracts.EffectRecord{
		ID:        id,
		RunID:     runID,
		Seq:       meta.Seq,
		Kind:      meta.Kind,
		Name:      meta.Name,
		Status:    contracts.EffectPending,
		Input:     input,
		CreatedAt: timeNow(),
	}
	if meta.Breakpoint != nil {
		rec.Breakpoint = &contracts.BreakpointRecord{
			Request: *meta.Breakpoint,
			State:   contracts.BreakpointOpen,
		}
	}
	mr.effects[id] = rec
	mr.order = append(mr.order, id)

	cp := *rec
	return &cp, true, nil
}

// Complete transitions pending -> succeeded. The output is write-once.
func (s *MemStore) Complete(_ context.Context, runID contracts.RunID, id contracts.EffectID, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(runID, id)
	if err != nil {
		return err
	}
	if rec.Status != contracts.EffectPending {
		return fmt.Errorf("effect %s is %s: %w", id, rec.Status, contracts.ErrAlreadyCompleted)
	}
	rec.Status = contracts.EffectSucceeded
	rec.Output = output
	rec.CompletedAt = timeNow()
	return nil
}

// Fail transitions pending -> failed.
func (s *MemStore) Fail(_ context.Context, runID contracts.RunID, id contracts.EffectID, effErr contracts.EffectError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(runID, id)
	if err != nil {
		return err
	}
	if rec.Status != contracts.EffectPending {
		return fmt.Errorf("effect %s is %s: %w", id, rec.Status, contracts.ErrAlreadyCompleted)
	}
	rec.Status = contracts.EffectFailed
	rec.Error = &effErr
	rec.CompletedAt = timeNow()
	return nil
}

// Get returns a copy of the record for an effect id.
func (s *MemStore) Get(_ context.Context, runID contracts.RunID, id contracts.EffectID) (*contracts.EffectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(runID, id)
	if err != nil {
		return nil, err
	}
	cp := *rec
	if rec.Breakpoint != nil {
		bp := *rec.Breakpoint
		cp.Breakpoint = &bp
	}
	return &cp, nil
}

// List returns all effect records of a run ordered by Seq.
func (s *MemStore) List(_ context.Context, runID contracts.RunID) ([]*contracts.EffectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", runID, contracts.ErrRunNotFound)
	}
	recs := make([]*contracts.EffectRecord, 0, len(mr.order))
	for _, id := range mr.order {
		cp := *mr.effects[id]
		recs = append(recs, &cp)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	return recs, nil
}

// ResolveBreakpoint transitions a breakpoint effect open -> resolved.
func (s *MemStore) ResolveBreakpoint(_ context.Context, runID contracts.RunID, id contracts.EffectID, res contracts.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(runID, id)
	if err != nil {
		return err
	}
	if rec.Breakpoint == nil {
		return fmt.Errorf("effect %s is not a breakpoint: %w", id, contracts.ErrInvalidInput)
	}
	if rec.Breakpoint.State != contracts.BreakpointOpen {
		return fmt.Errorf("breakpoint %s is %s: %w", id, rec.Breakpoint.State, contracts.ErrBreakpointNotOpen)
	}
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = timeNow()
	}
	rec.Breakpoint.State = contracts.BreakpointResolved
	rec.Breakpoint.Resolution = &res
	return nil
}

// ConsumeBreakpoint transitions resolved -> consumed and completes the
// effect with the resolution payload.
func (s *MemStore) ConsumeBreakpoint(_ context.Context, runID contracts.RunID, id contracts.EffectID) (*contracts.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(runID, id)
	if err != nil {
		return nil, err
	}
	if rec.Breakpoint == nil {
		return nil, fmt.Errorf("effect %s is not a breakpoint: %w", id, contracts.ErrInvalidInput)
	}
	switch rec.Breakpoint.State {
	case contracts.BreakpointOpen:
		return nil, fmt.Errorf("breakpoint %s: %w", id, contracts.ErrBreakpointNotResolved)
	case contracts.BreakpointConsumed:
		return nil, fmt.Errorf("breakpoint %s: %w", id, contracts.ErrBreakpointConsumed)
	}

	output, err := json.Marshal(rec.Breakpoint.Resolution)
	if err != nil {
		return nil, fmt.Errorf("marshaling resolution for %s: %w", id, err)
	}
	rec.Breakpoint.State = contracts.BreakpointConsumed
	rec.Status = contracts.EffectSucceeded
	rec.Output = output
	rec.CompletedAt = timeNow()

	res := *rec.Breakpoint.Resolution
	return &res, nil
}

// lookup finds an effect record; caller holds s.mu.
func (s *MemStore) lookup(runID contracts.RunID, id contracts.EffectID) (*contracts.EffectRecord, error) {
	mr, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", runID, contracts.ErrRunNotFound)
	}
	rec, exists := mr.effects[id]
	if !exists {
		return nil, fmt.Errorf("effect %s: %w", id, contracts.ErrEffectNotFound)
	}
	return rec, nil
}
