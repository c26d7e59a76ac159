// Command engined runs the durable execution engine: it loads pipeline
// definitions, recovers persisted runs from the data directory and serves
// the run lifecycle API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/VladislavFirsov/longrun/api"
	"github.com/VladislavFirsov/longrun/config"
	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/internal/breakpoint"
	"github.com/VladislavFirsov/longrun/internal/effects"
	"github.com/VladislavFirsov/longrun/internal/engine"
	"github.com/VladislavFirsov/longrun/internal/executor"
	"github.com/VladislavFirsov/longrun/internal/logging"
	"github.com/VladislavFirsov/longrun/internal/metrics"
	"github.com/VladislavFirsov/longrun/internal/registry"
	"github.com/VladislavFirsov/longrun/internal/worker"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "engined",
		Short: "Durable execution engine for human-gated pipelines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to the engine config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "engined:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	// 1. Store: durable on disk, or in-memory when no dir is configured
	var store contracts.Store
	if cfg.Store.Dir != "" {
		fs, err := effects.NewFileStore(cfg.Store.Dir)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		store = fs
		logger.Info("using file store", "dir", cfg.Store.Dir)
	} else {
		store = effects.NewMemStore()
		logger.Warn("no store dir configured, runs will not survive restarts")
	}

	// 2. Worker and executor
	if cfg.Worker.Endpoint == "" {
		return fmt.Errorf("worker.endpoint is required")
	}
	wrk := worker.NewHTTP(cfg.Worker.Endpoint, cfg.Worker.Timeout, logger)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	exec := executor.New(wrk, executor.Config{
		MaxAttempts:    cfg.Executor.MaxAttempts,
		InitialBackoff: cfg.Executor.InitialBackoff,
		MaxBackoff:     cfg.Executor.MaxBackoff,
		AttemptTimeout: cfg.Executor.AttemptTimeout,
	}, logger, m)

	// 3. Engine with pipeline definitions. A reload is a fresh registry
	// and a fresh engine, never a mutation of a live one.
	reg := registry.New()
	susp := breakpoint.NewManager(store, logger, m)
	eng, err := engine.New(engine.Options{
		Store:      store,
		Registry:   reg,
		Executor:   exec,
		Suspension: susp,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	if cfg.Pipelines.Dir != "" {
		pipelines, err := config.LoadPipelineDir(cfg.Pipelines.Dir)
		if err != nil {
			return fmt.Errorf("loading pipelines: %w", err)
		}
		for _, p := range pipelines {
			if err := engine.RegisterPipelineTasks(p, reg); err != nil {
				return err
			}
			if err := eng.RegisterProcess(engine.CompilePipeline(p)); err != nil {
				return err
			}
			logger.Info("pipeline loaded", "name", p.Name, "version", p.Version, "steps", len(p.Steps))
		}
	}
	if len(eng.Processes()) == 0 {
		logger.Warn("no pipelines loaded")
	}

	// 4. Serve
	server := api.NewServer(api.ServerOptions{
		Addr:       cfg.Server.Addr,
		Engine:     eng,
		Store:      store,
		Suspension: susp,
		Logger:     logger,
		Gatherer:   promReg,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
