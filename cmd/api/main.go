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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: cfg.Telemetry.ServiceName + "-api"})
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	// The local driver runs executions in this process.
	if a.Local() {
		if err := a.Resume(ctx); err != nil {
			slog.Warn("resume failed", "error", err)
		}
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.Handler(ctx),
		ReadTimeout:  5 * time.Minute, // uploads up to 200MB
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	metricsSrv := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: promhttp.Handler()}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "driver", cfg.Workflow.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	metricsSrv.Shutdown(shutdownCtx)
	a.Wait()
	a.Close()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown", "error", err)
	}
	slog.Info("server stopped")
}
