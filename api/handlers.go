package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/VladislavFirsov/longrun/contracts"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

// handleStartRun accepts a run and executes it in the background. The
// response is 202: completion or suspension is observed via status polling.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_input"})
		return
	}
	if req.Process == "" {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "process is required", Code: "invalid_input"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	runID := contracts.RunID(req.ID)

	// Fail fast on obvious conflicts before accepting the work.
	if _, err := s.engine.Status(r.Context(), runID); err == nil {
		s.writeError(w, contracts.ErrRunExists)
		return
	}

	err := s.tracker.launch(runID, func() error {
		_, err := s.engine.Start(s.baseCtx, contracts.ProcessName(req.Process), runID, req.Inputs)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, StartRunResponse{
		ID:      req.ID,
		Process: req.Process,
		State:   contracts.RunRunning.String(),
	})
}

// handleListRuns returns every persisted run without effect detail.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := make([]*RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run, nil))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetRun returns the run with its effect records.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := contracts.RunID(r.PathValue("id"))

	run, err := s.engine.Status(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	effects, err := s.store.List(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRunResponse(run, effects))
}

// handleResume re-enters a suspended run. Fail-fast checks happen
// synchronously; the body executes in the background.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runID := contracts.RunID(r.PathValue("id"))

	run, err := s.engine.Status(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if run.State != contracts.RunSuspended {
		s.writeError(w, contracts.ErrRunNotSuspended)
		return
	}
	if run.PendingBreakpoint != "" {
		rec, err := s.store.Get(r.Context(), runID, run.PendingBreakpoint)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if rec.Breakpoint != nil && rec.Breakpoint.State == contracts.BreakpointOpen {
			s.writeError(w, contracts.ErrBreakpointNotResolved)
			return
		}
	}

	err = s.tracker.launch(runID, func() error {
		_, err := s.engine.Resume(s.baseCtx, runID)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, StartRunResponse{
		ID:      string(runID),
		Process: string(run.Process),
		State:   contracts.RunRunning.String(),
	})
}

// handleCancel cancels a suspended run.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := contracts.RunID(r.PathValue("id"))
	if err := s.engine.Cancel(r.Context(), runID); err != nil {
		s.writeError(w, err)
		return
	}
	run, err := s.engine.Status(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRunResponse(run, nil))
}

// handleGetBreakpoint returns the run's pending breakpoint for review.
func (s *Server) handleGetBreakpoint(w http.ResponseWriter, r *http.Request) {
	runID := contracts.RunID(r.PathValue("id"))

	run, err := s.engine.Status(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if run.PendingBreakpoint == "" {
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: "run has no pending breakpoint",
			Code:  "not_found",
		})
		return
	}
	rec, err := s.store.Get(r.Context(), runID, run.PendingBreakpoint)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBreakpointView(rec))
}

// handleResolve records an operator decision on a breakpoint, addressed by
// its sequence number within the run.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	runID := contracts.RunID(r.PathValue("id"))
	seq, err := strconv.Atoi(r.PathValue("seq"))
	if err != nil || seq < 0 {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid breakpoint seq", Code: "invalid_input"})
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_input"})
		return
	}

	effectID := contracts.NewEffectID(runID, seq)
	res := contracts.Resolution{
		Approved:   req.Approved,
		Answer:     req.Answer,
		ResolvedBy: req.ResolvedBy,
	}
	if err := s.suspension.Resolve(r.Context(), runID, effectID, res); err != nil {
		s.writeError(w, err)
		return
	}

	rec, err := s.store.Get(r.Context(), runID, effectID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBreakpointView(rec))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
