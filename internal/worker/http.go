// Package worker provides the HTTP client for the external worker endpoint
// that fulfills agent tasks.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/internal/executor"
	"github.com/VladislavFirsov/longrun/internal/logging"
)

// invokePayload is the wire form of one worker invocation: the rendered
// prompt plus the structured request for workers that prefer it.
type invokePayload struct {
	Prompt  string                   `json:"prompt"`
	Request *contracts.WorkerRequest `json:"request"`
}

// invokeResult is the wire form of a worker response. Workers either wrap
// their output or return it as a raw body.
type invokeResult struct {
	Output string `json:"output"`
}

// HTTPWorker posts invocations to a single worker endpoint. Responses are
// returned as free-form text; extraction and validation happen upstream.
type HTTPWorker struct {
	endpoint string
	client   *http.Client
	logger   *logging.Logger
}

// NewHTTP creates a worker client for endpoint. Timeout bounds one
// invocation end to end; zero means no client-side bound.
func NewHTTP(endpoint string, timeout time.Duration, logger *logging.Logger) *HTTPWorker {
	return &HTTPWorker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.OrNop(logger),
	}
}

var _ contracts.Worker = (*HTTPWorker)(nil)

// Invoke sends the request and returns the worker's textual output.
func (w *HTTPWorker) Invoke(ctx context.Context, req *contracts.WorkerRequest) (string, error) {
	body, err := json.Marshal(invokePayload{
		Prompt:  executor.RenderPrompt(req),
		Request: req,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling worker request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building worker request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("invoking worker: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading worker response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("worker returned %d: %s", resp.StatusCode, truncate(string(data), 256))
	}

	// Prefer the wrapped form, fall back to the raw body.
	var result invokeResult
	if err := json.Unmarshal(data, &result); err == nil && result.Output != "" {
		return result.Output, nil
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
