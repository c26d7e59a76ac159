package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/internal/breakpoint"
	"github.com/VladislavFirsov/longrun/internal/effects"
	"github.com/VladislavFirsov/longrun/internal/engine"
	"github.com/VladislavFirsov/longrun/internal/executor"
	"github.com/VladislavFirsov/longrun/internal/metrics"
	"github.com/VladislavFirsov/longrun/internal/registry"
)

// nopWorker serves test envs that only register deterministic tasks.
type nopWorker struct{}

func (nopWorker) Invoke(_ context.Context, _ *contracts.WorkerRequest) (string, error) {
	return "", fmt.Errorf("no worker in this test")
}

type apiEnv struct {
	server *Server
	ts     *httptest.Server
}

// newAPIEnv wires a server over an engine running a review process:
// triage (deterministic), breakpoint, publish (deterministic).
func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	store := effects.NewMemStore()
	reg := registry.New()
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	susp := breakpoint.NewManager(store, nil, m)
	exec := executor.New(nopWorker{}, executor.Config{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, nil, m)

	eng, err := engine.New(engine.Options{
		Store:      store,
		Registry:   reg,
		Executor:   exec,
		Suspension: susp,
		Metrics:    m,
	})
	require.NoError(t, err)

	registerFn := func(name string, out map[string]any) {
		reg.MustRegister(contracts.TaskDefinition{
			Name: contracts.TaskName(name),
			Kind: contracts.TaskKindDeterministic,
			Build: func(args map[string]any, _ *contracts.TaskContext) (*contracts.TaskSpec, error) {
				return &contracts.TaskSpec{
					Title: name,
					Kind:  contracts.TaskKindDeterministic,
					Fn: func(_ context.Context, _ map[string]any) (map[string]any, error) {
						return out, nil
					},
				}, nil
			},
		})
	}
	registerFn("triage", map[string]any{"severity": "high"})
	registerFn("publish", map[string]any{"published": true})

	require.NoError(t, eng.RegisterProcess(contracts.ProcessDefinition{
		Name: "incident-review",
		Body: func(pc contracts.ProcessContext, inputs map[string]any) (map[string]any, error) {
			triage, err := pc.Task("triage", inputs)
			if err != nil {
				return nil, err
			}
			res, err := pc.Breakpoint(contracts.BreakpointRequest{
				Title:    "confirm-severity",
				Question: "Confirm the triage severity?",
				Context:  triage,
			})
			if err != nil {
				return nil, err
			}
			if !res.Approved {
				return map[string]any{"published": false}, nil
			}
			return pc.Task("publish", nil)
		},
	}))

	server := NewServer(ServerOptions{
		Engine:     eng,
		Store:      store,
		Suspension: susp,
		Gatherer:   promReg,
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})

	return &apiEnv{server: server, ts: ts}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// waitIdle blocks until the run's background execution settles.
func (e *apiEnv) waitIdle(runID string) {
	_ = e.server.tracker.wait(contracts.RunID(runID))
}

func TestServer_FullReviewFlow(t *testing.T) {
	env := newAPIEnv(t)

	// 1. Start
	var started StartRunResponse
	status := env.do(t, http.MethodPost, "/api/v1/runs",
		StartRunRequest{ID: "run-1", Process: "incident-review", Inputs: map[string]any{"incident": "INC-9"}},
		&started)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "run-1", started.ID)
	env.waitIdle("run-1")

	// 2. The run is suspended at the breakpoint
	var run RunResponse
	status = env.do(t, http.MethodGet, "/api/v1/runs/run-1", nil, &run)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "suspended", run.State)
	require.Len(t, run.Effects, 2)
	assert.Equal(t, "run-1/000001", run.PendingBreakpoint)

	// 3. Review surface shows the open breakpoint
	var bp BreakpointView
	status = env.do(t, http.MethodGet, "/api/v1/runs/run-1/breakpoint", nil, &bp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Confirm the triage severity?", bp.Question)
	assert.Equal(t, "open", bp.State)
	assert.Equal(t, "high", bp.Context["severity"])

	// 4. Resume before resolution is rejected
	var errResp ErrorResponse
	status = env.do(t, http.MethodPost, "/api/v1/runs/run-1/resume", nil, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "breakpoint_not_resolved", errResp.Code)

	// 5. Resolve and resume
	var resolved BreakpointView
	status = env.do(t, http.MethodPost, "/api/v1/runs/run-1/breakpoints/1/resolve",
		ResolveRequest{Approved: true, Answer: "confirmed", ResolvedBy: "oncall"}, &resolved)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "resolved", resolved.State)
	require.NotNil(t, resolved.Resolution)
	assert.True(t, resolved.Resolution.Approved)

	status = env.do(t, http.MethodPost, "/api/v1/runs/run-1/resume", nil, nil)
	require.Equal(t, http.StatusAccepted, status)
	env.waitIdle("run-1")

	// 6. Completed with the publish result
	status = env.do(t, http.MethodGet, "/api/v1/runs/run-1", nil, &run)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", run.State)
	assert.Equal(t, true, run.Result["published"])
	require.Len(t, run.Effects, 3)
	assert.Equal(t, "succeeded", run.Effects[1].Status)
	assert.Equal(t, "consumed", run.Effects[1].Review.State)
}

func TestServer_StartValidation(t *testing.T) {
	env := newAPIEnv(t)

	var errResp ErrorResponse
	status := env.do(t, http.MethodPost, "/api/v1/runs", StartRunRequest{}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)

	// Unknown process fails the background run; the record shows it.
	status = env.do(t, http.MethodPost, "/api/v1/runs",
		StartRunRequest{ID: "run-x", Process: "nope"}, nil)
	require.Equal(t, http.StatusAccepted, status)
	env.waitIdle("run-x")
	status = env.do(t, http.MethodGet, "/api/v1/runs/run-x", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)

	// Duplicate run ids are rejected up front.
	env.do(t, http.MethodPost, "/api/v1/runs",
		StartRunRequest{ID: "run-1", Process: "incident-review"}, nil)
	env.waitIdle("run-1")
	status = env.do(t, http.MethodPost, "/api/v1/runs",
		StartRunRequest{ID: "run-1", Process: "incident-review"}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "run_exists", errResp.Code)
}

func TestServer_CancelAndList(t *testing.T) {
	env := newAPIEnv(t)

	env.do(t, http.MethodPost, "/api/v1/runs",
		StartRunRequest{ID: "run-1", Process: "incident-review"}, nil)
	env.waitIdle("run-1")

	var run RunResponse
	status := env.do(t, http.MethodPost, "/api/v1/runs/run-1/cancel", nil, &run)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "failed", run.State)
	assert.Equal(t, "Cancelled", run.FailureReason)

	var errResp ErrorResponse
	status = env.do(t, http.MethodPost, "/api/v1/runs/run-1/cancel", nil, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "run_terminal", errResp.Code)

	var runs []RunResponse
	status = env.do(t, http.MethodGet, "/api/v1/runs", nil, &runs)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}

func TestServer_RejectionFollowsRejectionPath(t *testing.T) {
	env := newAPIEnv(t)

	env.do(t, http.MethodPost, "/api/v1/runs",
		StartRunRequest{ID: "run-1", Process: "incident-review"}, nil)
	env.waitIdle("run-1")

	status := env.do(t, http.MethodPost, "/api/v1/runs/run-1/breakpoints/1/resolve",
		ResolveRequest{Approved: false, Answer: "misclassified", ResolvedBy: "oncall"}, nil)
	require.Equal(t, http.StatusOK, status)

	// Double resolution conflicts.
	var errResp ErrorResponse
	status = env.do(t, http.MethodPost, "/api/v1/runs/run-1/breakpoints/1/resolve",
		ResolveRequest{Approved: true}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "breakpoint_not_open", errResp.Code)

	env.do(t, http.MethodPost, "/api/v1/runs/run-1/resume", nil, nil)
	env.waitIdle("run-1")

	var run RunResponse
	env.do(t, http.MethodGet, "/api/v1/runs/run-1", nil, &run)
	assert.Equal(t, "completed", run.State)
	assert.Equal(t, false, run.Result["published"])
}

func TestServer_MetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	env.do(t, http.MethodPost, "/api/v1/runs",
		StartRunRequest{ID: "run-1", Process: "incident-review"}, nil)
	env.waitIdle("run-1")

	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "longrun_runs_started_total 1")
	assert.Contains(t, buf.String(), "longrun_breakpoints_opened_total 1")
}
