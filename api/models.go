// Package api exposes the engine over HTTP: run lifecycle, breakpoint
// review and Prometheus metrics.
package api

import (
	"time"

	"github.com/VladislavFirsov/longrun/contracts"
)

// StartRunRequest creates a run. ID is optional; the server generates one
// when absent.
type StartRunRequest struct {
	ID      string         `json:"id,omitempty"`
	Process string         `json:"process"`
	Inputs  map[string]any `json:"inputs,omitempty"`
}

// StartRunResponse acknowledges an accepted run.
type StartRunResponse struct {
	ID      string `json:"id"`
	Process string `json:"process"`
	State   string `json:"state"`
}

// RunResponse is the full view of a run.
type RunResponse struct {
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
	Effects           []EffectView   `json:"effects,omitempty"`
}

// EffectView is the API projection of an effect record.
type EffectView struct {
	ID     string          `json:"id"`
	Seq    int             `json:"seq"`
	Kind   string          `json:"kind"`
	Name   string          `json:"name,omitempty"`
	Status string          `json:"status"`
	Error  *EffectError    `json:"error,omitempty"`
	Review *BreakpointView `json:"breakpoint,omitempty"`
}

// EffectError mirrors the stored failure of an effect.
type EffectError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BreakpointView is the reviewer-facing form of a breakpoint.
type BreakpointView struct {
	EffectID   string                        `json:"effect_id"`
	Seq        int                           `json:"seq"`
	Title      string                        `json:"title,omitempty"`
	Question   string                        `json:"question"`
	Context    map[string]any                `json:"context,omitempty"`
	Artifacts  []contracts.ArtifactReference `json:"artifacts,omitempty"`
	State      string                        `json:"state"`
	Resolution *ResolutionView               `json:"resolution,omitempty"`
}

// ResolutionView is the recorded operator decision.
type ResolutionView struct {
	Approved   bool      `json:"approved"`
	Answer     string    `json:"answer,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ResolveRequest records an operator decision on an open breakpoint.
type ResolveRequest struct {
	Approved   bool   `json:"approved"`
	Answer     string `json:"answer,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func toRunResponse(run *contracts.Run, effects []*contracts.EffectRecord) *RunResponse {
	resp := &RunResponse{
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
	}
	for _, rec := range effects {
		resp.Effects = append(resp.Effects, toEffectView(rec))
	}
	return resp
}

func toEffectView(rec *contracts.EffectRecord) EffectView {
	view := EffectView{
		ID:     string(rec.ID),
		Seq:    rec.Seq,
		Kind:   string(rec.Kind),
		Name:   rec.Name,
		Status: rec.Status.String(),
	}
	if rec.Error != nil {
		view.Error = &EffectError{Code: rec.Error.Code, Message: rec.Error.Message}
	}
	if rec.Breakpoint != nil {
		view.Review = toBreakpointView(rec)
	}
	return view
}

func toBreakpointView(rec *contracts.EffectRecord) *BreakpointView {
	bp := rec.Breakpoint
	view := &BreakpointView{
		EffectID:  string(rec.ID),
		Seq:       rec.Seq,
		Title:     bp.Request.Title,
		Question:  bp.Request.Question,
		Context:   bp.Request.Context,
		Artifacts: bp.Request.Artifacts,
		State:     bp.State.String(),
	}
	if bp.Resolution != nil {
		view.Resolution = &ResolutionView{
			Approved:   bp.Resolution.Approved,
			Answer:     bp.Resolution.Answer,
			ResolvedBy: bp.Resolution.ResolvedBy,
			ResolvedAt: bp.Resolution.ResolvedAt,
		}
	}
	return view
}
