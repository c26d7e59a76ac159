package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/internal/engine"
	"github.com/VladislavFirsov/longrun/internal/logging"
)

// Server serves the engine API. One server owns one engine.
type Server struct {
	engine     *engine.Engine
	store      contracts.Store
	suspension contracts.SuspensionManager
	logger     *logging.Logger
	tracker    *tracker

	// baseCtx governs background body executions; it outlives individual
	// requests and is cancelled on Shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	httpServer *http.Server
}

// ServerOptions wires the server's collaborators.
type ServerOptions struct {
	Addr       string
	Engine     *engine.Engine
	Store      contracts.Store
	Suspension contracts.SuspensionManager
	Logger     *logging.Logger
	// Gatherer exposes engine metrics on /metrics. Optional.
	Gatherer prometheus.Gatherer
}

// NewServer builds the server and its routes.
func NewServer(opts ServerOptions) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:     opts.Engine,
		store:      opts.Store,
		suspension: opts.Suspension,
		logger:     logging.OrNop(opts.Logger),
		tracker:    newTracker(),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/v1/runs/{id}/breakpoint", s.handleGetBreakpoint)
	mux.HandleFunc("POST /api/v1/runs/{id}/breakpoints/{seq}/resolve", s.handleResolve)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, waits for in-flight body executions
// up to the context deadline, then cancels the stragglers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	drained := make(chan struct{})
	go func() {
		s.tracker.drain()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		// Cut off the remaining body executions.
		s.cancelBase()
		<-drained
	}
	s.cancelBase()
	return err
}
