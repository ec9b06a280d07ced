package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"simtracker/internal/api"
	"simtracker/internal/config"
	"simtracker/internal/dispatcher"
	"simtracker/internal/health"
	"simtracker/internal/observability"
	"simtracker/internal/payload"
	"simtracker/internal/simulation"
	"simtracker/internal/store"
	"simtracker/internal/tracker"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation tracker HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.serviceConfig()
			setupLogging(cfg.LogLevel)
			return run(cfg)
		},
	}
}

func run(svcCfg *config.ServiceConfig) error {
	ctx := context.Background()

	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	if err := os.MkdirAll(svcCfg.StorageRoot(), 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	// Open the record store and reload finished simulations
	st, err := store.New(svcCfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create callback dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)

	healthChecker := health.NewChecker()
	healthChecker.Register("store", st.Ping)

	// Register simulation types
	defaults, err := catalogDefaults(svcCfg)
	if err != nil {
		return err
	}
	regOpts := payload.Options{Defaults: defaults}
	if svcCfg.DockerEnabled {
		dockerRuntime, err := payload.NewDockerRuntime()
		if err != nil {
			return err
		}
		defer dockerRuntime.Close()

		if err := dockerRuntime.Ping(ctx); err != nil {
			slog.Warn("Docker daemon unreachable, container simulations will fail until it is", "error", err)
		} else if removed, err := dockerRuntime.Sweep(ctx); err != nil {
			slog.Warn("Failed to remove leftover containers", "error", err)
		} else if removed > 0 {
			slog.Info("Removed leftover simulation containers", "count", removed)
		}
		healthChecker.RegisterOptional("docker", dockerRuntime.Ping)
		regOpts.Runtime = dockerRuntime
	}
	registry := simulation.NewRegistry()
	keys := payload.Register(registry, regOpts)
	slog.Info("Registered simulation types", "types", keys)

	// Create tracker
	simTracker := tracker.New(registry, tracker.Config{
		PollInterval: svcCfg.QueryPollInterval,
		StopTimeout:  svcCfg.StopTimeout,
		StorageRoot:  svcCfg.StorageRoot(),
	},
		tracker.WithRecorder(st),
		tracker.WithMetrics(metrics),
		tracker.WithDispatcher(eventDispatcher),
	)
	healthChecker.Register("tracker", func(context.Context) error {
		if simTracker.IsClearing() {
			return tracker.ErrClearing
		}
		return nil
	})

	records, err := st.List(ctx, store.Filter{})
	if err != nil {
		return fmt.Errorf("failed to load simulation history: %w", err)
	}
	simTracker.LoadHistory(ctx, records)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Tracker:       simTracker,
		Registry:      registry,
		History:       st,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Queries block for up to their own timeout, so the write timeout stays
	// generous.
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port, "projectDir", svcCfg.ProjectDir)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		simTracker.Shutdown(context.Background())
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Stop simulations; unacknowledged ones are recorded as force-stopped
	stopCtx, stopCancel := context.WithTimeout(context.Background(), svcCfg.StopTimeout+5*time.Second)
	defer stopCancel()
	simTracker.Shutdown(stopCtx)

	// Phase 4: Drain callback dispatcher so end-of-run webhooks go out
	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	slog.Info("Shutdown complete")
	return nil
}
