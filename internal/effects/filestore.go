package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/VladislavFirsov/longrun/contracts"
)

// runCacheSize bounds the decoded run-state cache.
const runCacheSize = 256

// FileStore is the durable contracts.Store. Layout, one directory per run:
//
//	<dir>/runs/<runID>/state.json      run record, cursor, next event id
//	<dir>/runs/<runID>/journal.jsonl   append-only audit journal
//	<dir>/runs/<runID>/effects/<seq>.json one document per effect
//
// All writes go through a temp-file rename, so a crash mid-write leaves the
// previous document intact. No other state is required to resume a run
// after total process restart.
type FileStore struct {
	mu  sync.Mutex
	dir string

	runCache *lru.Cache[contracts.RunID, contracts.Run]
}

// NewFileStore opens (or creates) a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store dir is required: %w", contracts.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Join(dir, "runs"), 0o755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	cache, err := lru.New[contracts.RunID, contracts.Run](runCacheSize)
	if err != nil {
		return nil, err
	}
	s := &FileStore{
		dir:      dir,
		runCache: cache,
	}
	return s, nil
}

var _ contracts.Store = (*FileStore)(nil)

func (s *FileStore) lock()   { s.mu.Lock() }
func (s *FileStore) unlock() { s.mu.Unlock() }

func (s *FileStore) runDir(id contracts.RunID) string {
	return filepath.Join(s.dir, "runs", string(id))
}

func (s *FileStore) effectPath(runID contracts.RunID, id contracts.EffectID) string {
	return filepath.Join(s.runDir(runID), "effects", effectFileName(id))
}

// effectFileName maps an effect id to its on-disk document name. Effect ids
// are "<runID>/<seq>", so the base is the zero-padded sequence number.
func effectFileName(id contracts.EffectID) string {
	base := string(id)
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return base + ".json"
}

// =============================================================================
// Serialization DTOs
// =============================================================================

type runStateDoc struct {
	ID                string         `json:"id"`
	Process           string         `json:"process"`
	State             string         `json:"state"`
	Cursor            int            `json:"cursor"`
	PendingBreakpoint string         `json:"pending_breakpoint,omitempty"`
	Inputs            map[string]any `json:"inputs,omitempty"`
	Result            map[string]any `json:"result,omitempty"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	NextEventID       int            `json:"next_event_id"`
}

type breakpointDoc struct {
	Request    contracts.BreakpointRequest `json:"request"`
	State      string                      `json:"state"`
	Resolution *contracts.Resolution       `json:"resolution,omitempty"`
}

type effectDoc struct {
	ID          string                 `json:"id"`
	RunID       string                 `json:"run_id"`
	Seq         int                    `json:"seq"`
	Kind        string                 `json:"kind"`
	Name        string                 `json:"name,omitempty"`
	Status      string                 `json:"status"`
	Input       json.RawMessage        `json:"input,omitempty"`
	Output      json.RawMessage        `json:"output,omitempty"`
	Error       *contracts.EffectError `json:"error,omitempty"`
	Breakpoint  *breakpointDoc         `json:"breakpoint,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

func toRunStateDoc(run *contracts.Run, nextEventID int) *runStateDoc {
	return &runStateDoc{
		ID:                string(run.ID),
		Process:           string(run.Process),
		State:             run.State.String(),
		Cursor:            run.Cursor,
		PendingBreakpoint: string(run.PendingBreakpoint),
		Inputs:            run.Inputs,
		Result:            run.Result,
		FailureReason:     run.FailureReason,
		CreatedAt:         run.CreatedAt,
		UpdatedAt:         run.UpdatedAt,
		NextEventID:       nextEventID,
	}
}

func (d *runStateDoc) toRun() *contracts.Run {
	return &contracts.Run{
		ID:                contracts.RunID(d.ID),
		Process:           contracts.ProcessName(d.Process),
		State:             contracts.ParseRunState(d.State),
		Cursor:            d.Cursor,
		PendingBreakpoint: contracts.EffectID(d.PendingBreakpoint),
		Inputs:            d.Inputs,
		Result:            d.Result,
		FailureReason:     d.FailureReason,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func toEffectDoc(rec *contracts.EffectRecord) *effectDoc {
	doc := &effectDoc{
		ID:        string(rec.ID),
		RunID:     string(rec.RunID),
		Seq:       rec.Seq,
		Kind:      string(rec.Kind),
		Name:      rec.Name,
		Status:    rec.Status.String(),
		Input:     rec.Input,
		Output:    rec.Output,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
	}
	if !rec.CompletedAt.IsZero() {
		t := rec.CompletedAt
		doc.CompletedAt = &t
	}
	if rec.Breakpoint != nil {
		doc.Breakpoint = &breakpointDoc{
			Request:    rec.Breakpoint.Request,
			State:      rec.Breakpoint.State.String(),
			Resolution: rec.Breakpoint.Resolution,
		}
	}
	return doc
}

func (d *effectDoc) toRecord() *contracts.EffectRecord {
	rec := &contracts.EffectRecord{
		ID:        contracts.EffectID(d.ID),
		RunID:     contracts.RunID(d.RunID),
		Seq:       d.Seq,
		Kind:      contracts.EffectKind(d.Kind),
		Name:      d.Name,
		Status:    contracts.ParseEffectStatus(d.Status),
		Input:     d.Input,
		Output:    d.Output,
		Error:     d.Error,
		CreatedAt: d.CreatedAt,
	}
	if d.CompletedAt != nil {
		rec.CompletedAt = *d.CompletedAt
	}
	if d.Breakpoint != nil {
		rec.Breakpoint = &contracts.BreakpointRecord{
			Request:    d.Breakpoint.Request,
			State:      contracts.ParseBreakpointState(d.Breakpoint.State),
			Resolution: d.Breakpoint.Resolution,
		}
	}
	return rec
}

// =============================================================================
// Run records
// =============================================================================

// CreateRun persists a new run directory. Returns ErrRunExists on collision.
func (s *FileStore) CreateRun(_ context.Context, run *contracts.Run) error {
	if run == nil || run.ID == "" {
		return contracts.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()

	dir := s.runDir(run.ID)
	if _, err := os.Stat(filepath.Join(dir, "state.json")); err == nil {
		return fmt.Errorf("run %s: %w", run.ID, contracts.ErrRunExists)
	}
	if err := os.MkdirAll(filepath.Join(dir, "effects"), 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	if err := s.writeRunState(run, 1); err != nil {
		return err
	}
	return nil
}

// LoadRun returns the persisted run or ErrRunNotFound.
func (s *FileStore) LoadRun(_ context.Context, id contracts.RunID) (*contracts.Run, error) {
	if run, ok := s.runCache.Get(id); ok {
		cp := run
		return &cp, nil
	}
	s.lock()
	defer s.unlock()
	return s.loadRunLocked(id)
}

func (s *FileStore) loadRunLocked(id contracts.RunID) (*contracts.Run, error) {
	doc, err := s.readRunState(id)
	if err != nil {
		return nil, err
	}
	run := doc.toRun()
	s.runCache.Add(id, *run)
	return run, nil
}

// UpdateRun overwrites the run record, preserving the journal counter.
func (s *FileStore) UpdateRun(_ context.Context, run *contracts.Run) error {
	if run == nil {
		return contracts.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()

	doc, err := s.readRunState(run.ID)
	if err != nil {
		return err
	}
	updated := *run
	updated.UpdatedAt = timeNow()
	return s.writeRunState(&updated, doc.NextEventID)
}

// ListRuns returns all persisted runs ordered by creation time.
func (s *FileStore) ListRuns(_ context.Context) ([]*contracts.Run, error) {
	s.lock()
	defer s.unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, "runs"))
	if err != nil {
		return nil, fmt.Errorf("reading runs dir: %w", err)
	}
	runs := make([]*contracts.Run, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := s.loadRunLocked(contracts.RunID(e.Name()))
		if err != nil {
			continue // partially created dir, skip
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// AppendEvent appends a journal entry and bumps the run's event counter.
func (s *FileStore) AppendEvent(_ context.Context, id contracts.RunID, event string, data map[string]any) error {
	s.lock()
	defer s.unlock()

	doc, err := s.readRunState(id)
	if err != nil {
		return err
	}

	entry := contracts.Event{
		Timestamp: timeNow().UTC(),
		Type:      "event",
		ID:        doc.NextEventID,
		Event:     event,
		Data:      data,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}

	journal := filepath.Join(s.runDir(id), "journal.jsonl")
	f, err := os.OpenFile(journal, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("appending journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}

	doc.NextEventID++
	return s.writeRunState(doc.toRun(), doc.NextEventID)
}

// Events reads back the journal of a run. Inspection helper.
func (s *FileStore) Events(id contracts.RunID) ([]contracts.Event, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(id), "journal.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var events []contracts.Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var ev contracts.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("corrupt journal line: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// =============================================================================
// Effect records
// =============================================================================

// Begin creates a pending record or returns the existing one unchanged.
func (s *FileStore) Begin(_ context.Context, runID contracts.RunID, id contracts.EffectID, meta contracts.BeginMeta, input json.RawMessage) (*contracts.EffectRecord, bool, error) {
	s.lock()
	defer s.unlock()

	if _, err := s.readRunState(runID); err != nil {
		return nil, false, err
	}

	if rec, err := s.readEffect(runID, id); err == nil {
		return rec, false, nil
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
	if err := s.writeEffect(rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Complete transitions pending -> succeeded.
func (s *FileStore) Complete(_ context.Context, runID contracts.RunID, id contracts.EffectID, output json.RawMessage) error {
	s.lock()
	defer s.unlock()

	rec, err := s.readEffect(runID, id)
	if err != nil {
		return err
	}
	if rec.Status != contracts.EffectPending {
		return fmt.Errorf("effect %s is %s: %w", id, rec.Status, contracts.ErrAlreadyCompleted)
	}
	rec.Status = contracts.EffectSucceeded
	rec.Output = output
	rec.CompletedAt = timeNow()
	return s.writeEffect(rec)
}

// Fail transitions pending -> failed.
func (s *FileStore) Fail(_ context.Context, runID contracts.RunID, id contracts.EffectID, effErr contracts.EffectError) error {
	s.lock()
	defer s.unlock()

	rec, err := s.readEffect(runID, id)
	if err != nil {
		return err
	}
	if rec.Status != contracts.EffectPending {
		return fmt.Errorf("effect %s is %s: %w", id, rec.Status, contracts.ErrAlreadyCompleted)
	}
	rec.Status = contracts.EffectFailed
	rec.Error = &effErr
	rec.CompletedAt = timeNow()
	return s.writeEffect(rec)
}

// Get returns the record for an effect id.
func (s *FileStore) Get(_ context.Context, runID contracts.RunID, id contracts.EffectID) (*contracts.EffectRecord, error) {
	s.lock()
	defer s.unlock()
	return s.readEffect(runID, id)
}

// List returns all effect records of a run ordered by Seq.
func (s *FileStore) List(_ context.Context, runID contracts.RunID) ([]*contracts.EffectRecord, error) {
	s.lock()
	defer s.unlock()

	dir := filepath.Join(s.runDir(runID), "effects")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s: %w", runID, contracts.ErrRunNotFound)
		}
		return nil, fmt.Errorf("reading effects dir: %w", err)
	}

	recs := make([]*contracts.EffectRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := s.readEffectFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	return recs, nil
}

// ResolveBreakpoint transitions a breakpoint effect open -> resolved.
func (s *FileStore) ResolveBreakpoint(_ context.Context, runID contracts.RunID, id contracts.EffectID, res contracts.Resolution) error {
	s.lock()
	defer s.unlock()

	rec, err := s.readEffect(runID, id)
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
	return s.writeEffect(rec)
}

// ConsumeBreakpoint transitions resolved -> consumed and completes the effect.
func (s *FileStore) ConsumeBreakpoint(_ context.Context, runID contracts.RunID, id contracts.EffectID) (*contracts.Resolution, error) {
	s.lock()
	defer s.unlock()

	rec, err := s.readEffect(runID, id)
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
	if err := s.writeEffect(rec); err != nil {
		return nil, err
	}

	res := *rec.Breakpoint.Resolution
	return &res, nil
}

// =============================================================================
// File helpers
// =============================================================================

func (s *FileStore) readRunState(id contracts.RunID) (*runStateDoc, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(id), "state.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s: %w", id, contracts.ErrRunNotFound)
		}
		return nil, fmt.Errorf("reading run state: %w", err)
	}
	var doc runStateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing run state for %s: %w", id, err)
	}
	return &doc, nil
}

func (s *FileStore) writeRunState(run *contracts.Run, nextEventID int) error {
	doc := toRunStateDoc(run, nextEventID)
	if err := writeJSONAtomic(filepath.Join(s.runDir(run.ID), "state.json"), doc); err != nil {
		return err
	}
	s.runCache.Add(run.ID, *run)
	return nil
}

func (s *FileStore) readEffect(runID contracts.RunID, id contracts.EffectID) (*contracts.EffectRecord, error) {
	rec, err := s.readEffectFile(s.effectPath(runID, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("effect %s: %w", id, contracts.ErrEffectNotFound)
		}
		return nil, err
	}
	return rec, nil
}

func (s *FileStore) readEffectFile(path string) (*contracts.EffectRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc effectDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing effect %s: %w", path, err)
	}
	return doc.toRecord(), nil
}

func (s *FileStore) writeEffect(rec *contracts.EffectRecord) error {
	return writeJSONAtomic(s.effectPath(rec.RunID, rec.ID), toEffectDoc(rec))
}

// writeJSONAtomic writes via temp file + rename so readers never observe a
// partial document.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
