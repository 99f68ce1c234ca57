package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nikhilbhutani/speechmentor/internal/app"
	"github.com/nikhilbhutani/speechmentor/internal/config"
	"github.com/nikhilbhutani/speechmentor/internal/observe"
	"github.com/nikhilbhutani/speechmentor/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.Workflow.Driver != "asynq" {
		slog.Error("the worker only serves the asynq driver; the local driver runs inside the API")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: cfg.Telemetry.ServiceName + "-worker"})
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	metricsSrv := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	srv := queue.NewServer(cfg.Redis, cfg.Workflow.Concurrency)
	if err := srv.Start(a.WorkerMux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
	slog.Info("starting worker", "concurrency", cfg.Workflow.Concurrency)

	// Wake-ups lost while no worker was running are re-armed here.
	if err := a.Resume(ctx); err != nil {
		slog.Warn("resume failed", "error", err)
	}

	<-ctx.Done()
	slog.Info("shutting down worker...")
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	metricsSrv.Shutdown(shutdownCtx)
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown", "error", err)
	}
	slog.Info("worker stopped")
}
