// Command server starts the account vetting service: the HTTP ingress,
// the queue worker and its pool sweeps, all in one process. The queue file
// is process-exclusive, so exactly one instance runs per data directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/steam-vetter/internal/adapter/collector"
	httpserver "github.com/fairyhunter13/steam-vetter/internal/adapter/httpserver"
	"github.com/fairyhunter13/steam-vetter/internal/adapter/observability"
	"github.com/fairyhunter13/steam-vetter/internal/adapter/proxypool"
	"github.com/fairyhunter13/steam-vetter/internal/adapter/repo/filequeue"
	"github.com/fairyhunter13/steam-vetter/internal/adapter/steam"
	"github.com/fairyhunter13/steam-vetter/internal/app"
	"github.com/fairyhunter13/steam-vetter/internal/config"
	"github.com/fairyhunter13/steam-vetter/internal/usecase"
	"github.com/fairyhunter13/steam-vetter/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, check, pool and queue instrumentation.
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

	// Durable queue; survives restarts, including mid-vetting statuses.
	queue, err := filequeue.New(cfg.QueueFilePath())
	if err != nil {
		slog.Error("queue open failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Egress pool; cooldowns start clean on every boot.
	pool, err := proxypool.New(cfg.PoolFilePath(), cfg.PoolDefaultCooldown, cfg.ProxySeedFile)
	if err != nil {
		slog.Error("pool open failed", slog.Any("error", err))
		os.Exit(1)
	}

	checker := steam.New(cfg, pool)
	coll := collector.New(cfg)

	// Usecases
	enqueueSvc := usecase.NewEnqueueService(queue, coll)
	statsSvc := usecase.NewStatsService(queue)

	// Worker loops: the vetting pass, the pool sweep and the proxy smoke
	// test share one cancellable context so shutdown stops them together.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	w := worker.New(cfg, queue, checker, coll, pool)
	go w.Run(workerCtx)
	go w.RunPoolSweep(workerCtx)
	go w.RunSmokeTest(workerCtx)

	// HTTP server
	srv := httpserver.NewServer(cfg, enqueueSvc, statsSvc, pool)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	// The worker finishes its current pass before stopping; queue state is
	// persisted per mutation, so no drain is needed.
	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
