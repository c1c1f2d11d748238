// Package main is the sync kernel's host process entry point: it wires the
// store, queue, network monitor, orchestrator, and lifecycle sweeper
// together, then serves the operator API (spec.md §6) until a shutdown
// signal arrives.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/fitloop/syncd/internal/adapter/observability"
	"github.com/fitloop/syncd/internal/api"
	"github.com/fitloop/syncd/internal/config"
	"github.com/fitloop/syncd/internal/lifecycle"
	"github.com/fitloop/syncd/internal/network"
	"github.com/fitloop/syncd/internal/orchestrator"
	"github.com/fitloop/syncd/internal/queue"
	"github.com/fitloop/syncd/internal/store/sqlite"
	"github.com/fitloop/syncd/internal/transport/httptransport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting syncd", slog.String("env", cfg.AppEnv))

	ctx := context.Background()
	db, err := sqlite.Open(ctx, cfg.StorePath)
	if err != nil {
		slog.Error("store open failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("store close failed", slog.Any("error", err))
		}
	}()

	qm := queue.New(db)

	prober := network.NewTCPProbe(cfg.NetProbeAddr, cfg.NetProbeInterval, cfg.NetProbeTimeout)
	monitor := network.New(prober)
	if err := monitor.Start(ctx); err != nil {
		slog.Error("network monitor start failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer monitor.Stop()

	tr := httptransport.New(cfg.SyncEndpoint, httptransport.Config{
		Timeout:           cfg.UploadTimeout,
		BackoffMaxElapsed: cfg.UploadBackoffMaxElapsed,
		BackoffInitial:    cfg.UploadBackoffInitial,
		BackoffMax:        cfg.UploadBackoffMax,
		BackoffMultiplier: cfg.UploadBackoffMultiplier,
	})

	orch := orchestrator.New(db, qm, monitor, tr, 20)
	orch.StartAutoSync(ctx, cfg.AutoSyncInterval)
	defer orch.Cancel()

	lifecycleSvc := lifecycle.New(db, qm, lifecycle.Config{
		UnsyncedRetention: cfg.UnsyncedRetention,
		StorageCapBytes:   cfg.StorageCapMB << 20,
		MLStorageCapBytes: cfg.MLStorageCapMB << 20,
		MLStorageWarnPct:  cfg.MLStorageWarnPct,
	})
	lifecycleCtx, cancelLifecycle := context.WithCancel(ctx)
	go lifecycleSvc.RunPeriodic(lifecycleCtx, cfg.CleanupInterval)
	defer cancelLifecycle()

	srv := api.NewServer(orch, qm)
	handler := api.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              cfg.OperatorAddr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("operator api listening", slog.String("addr", cfg.OperatorAddr))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("operator api server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
