package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/schema"
)

// scriptedWorker returns its responses in order and counts invocations.
type scriptedWorker struct {
	responses []workerResponse
	calls     int
}

type workerResponse struct {
	text string
	err  error
}

func (w *scriptedWorker) Invoke(_ context.Context, _ *contracts.WorkerRequest) (string, error) {
	i := w.calls
	w.calls++
	if i >= len(w.responses) {
		i = len(w.responses) - 1
	}
	r := w.responses[i]
	return r.text, r.err
}

func fastConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func agentSpec(validator *schema.Validator) *contracts.TaskSpec {
	return &contracts.TaskSpec{
		Title: "summarize-findings",
		Kind:  contracts.TaskKindAgent,
		Worker: &contracts.WorkerRequest{
			Role:         "a release analyst",
			Task:         "Summarize the findings",
			Instructions: []string{"Be concise"},
			OutputFormat: `{"summary": string}`,
		},
		Output: validator,
	}
}

func TestExecutor_AgentHappyPath(t *testing.T) {
	worker := &scriptedWorker{responses: []workerResponse{
		{text: "Here is the result:\n```json\n{\"summary\": \"all green\"}\n```"},
	}}
	exec := New(worker, fastConfig(), nil, nil)

	out, err := exec.Execute(context.Background(), agentSpec(nil), "run-1", contracts.NewEffectID("run-1", 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "all green"}`, string(out))
	assert.Equal(t, 1, worker.calls)
}

func TestExecutor_RetriesTransientWorkerErrors(t *testing.T) {
	worker := &scriptedWorker{responses: []workerResponse{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{text: `{"summary": "recovered"}`},
	}}
	exec := New(worker, fastConfig(), nil, nil)

	out, err := exec.Execute(context.Background(), agentSpec(nil), "run-1", contracts.NewEffectID("run-1", 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "recovered"}`, string(out))
	assert.Equal(t, 3, worker.calls)
}

func TestExecutor_TransientExhaustionFailsTask(t *testing.T) {
	worker := &scriptedWorker{responses: []workerResponse{
		{err: errors.New("worker unavailable")},
	}}
	exec := New(worker, fastConfig(), nil, nil)

	_, err := exec.Execute(context.Background(), agentSpec(nil), "run-1", contracts.NewEffectID("run-1", 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrTaskExecutionFailed)
	assert.Equal(t, 3, worker.calls)
}

func TestExecutor_RetriesValidationThenSucceeds(t *testing.T) {
	validator := schema.MustCompile(&schema.Schema{Fields: []schema.Field{
		{Name: "summary", Kind: schema.KindString, Required: true},
	}})
	worker := &scriptedWorker{responses: []workerResponse{
		{text: `{"wrong_field": 1}`},
		{text: `{"summary": "fixed"}`},
	}}
	exec := New(worker, fastConfig(), nil, nil)

	out, err := exec.Execute(context.Background(), agentSpec(validator), "run-1", contracts.NewEffectID("run-1", 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "fixed"}`, string(out))
	assert.Equal(t, 2, worker.calls)
}

func TestExecutor_ValidationExhaustionSurfacesViolation(t *testing.T) {
	validator := schema.MustCompile(&schema.Schema{Fields: []schema.Field{
		{Name: "summary", Kind: schema.KindString, Required: true},
	}})
	worker := &scriptedWorker{responses: []workerResponse{
		{text: `{"summary": 42}`},
	}}
	exec := New(worker, fastConfig(), nil, nil)

	_, err := exec.Execute(context.Background(), agentSpec(validator), "run-1", contracts.NewEffectID("run-1", 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrOutputSchemaViolation)
	assert.Equal(t, 3, worker.calls)

	var violations *schema.ViolationError
	assert.True(t, errors.As(err, &violations))
}

func TestExecutor_DeterministicTask(t *testing.T) {
	spec := &contracts.TaskSpec{
		Title: "compute-checksum",
		Kind:  contracts.TaskKindDeterministic,
		Args:  map[string]any{"input": "abc"},
		Fn: func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"checksum": fmt.Sprintf("sum(%v)", args["input"])}, nil
		},
	}
	exec := New(&scriptedWorker{}, fastConfig(), nil, nil)

	out, err := exec.Execute(context.Background(), spec, "run-1", contracts.NewEffectID("run-1", 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"checksum": "sum(abc)"}`, string(out))
}

func TestExecutor_DeterministicFailureIsFinal(t *testing.T) {
	calls := 0
	spec := &contracts.TaskSpec{
		Title: "divide",
		Kind:  contracts.TaskKindDeterministic,
		Fn: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			calls++
			return nil, errors.New("division by zero")
		},
	}
	exec := New(&scriptedWorker{}, fastConfig(), nil, nil)

	_, err := exec.Execute(context.Background(), spec, "run-1", contracts.NewEffectID("run-1", 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrTaskExecutionFailed)
	assert.Equal(t, 1, calls)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "object inside prose",
			input: `Sure, here you go: {"a": 1} Hope that helps!`,
			want:  `{"a": 1}`,
		},
		{
			name:  "markdown fence",
			input: "```json\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "array value",
			input: `The items are [1, 2, 3].`,
			want:  `[1, 2, 3]`,
		},
		{
			name:  "trailing comma repaired",
			input: `{"a": 1, "b": 2,}`,
			want:  `{"a": 1, "b": 2}`,
		},
		{
			name:  "nested braces in strings",
			input: `{"text": "a { inside } string", "n": 1}`,
			want:  `{"text": "a { inside } string", "n": 1}`,
		},
		{
			name:    "no json at all",
			input:   "I could not produce a result.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestRenderPrompt(t *testing.T) {
	req := &contracts.WorkerRequest{
		Role:         "a security reviewer",
		Task:         "Review the diff for injection risks",
		Context:      map[string]any{"repo": "payments"},
		Instructions: []string{"Check user-facing inputs", "List findings by severity"},
		OutputFormat: `{"findings": array}`,
	}

	prompt := RenderPrompt(req)
	assert.Contains(t, prompt, "You are a security reviewer.")
	assert.Contains(t, prompt, "## Task")
	assert.Contains(t, prompt, "Review the diff for injection risks")
	assert.Contains(t, prompt, `"repo": "payments"`)
	assert.Contains(t, prompt, "1. Check user-facing inputs")
	assert.Contains(t, prompt, "2. List findings by severity")
	assert.Contains(t, prompt, `{"findings": array}`)

	// Identical requests render identically.
	assert.Equal(t, prompt, RenderPrompt(req))
}
