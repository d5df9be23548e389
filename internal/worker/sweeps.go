package worker

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// RunPoolSweep logs pool status on every tick and, when the pool has an
// available connection while the queue still holds deferred checks, rewinds
// them to to_check so the next pass can pick them up.
func (w *Worker) RunPoolSweep(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("pool sweep stopping")
			return
		case <-ticker.C:
			w.sweepOnce(context.WithoutCancel(ctx))
		}
	}
}

func (w *Worker) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("worker")
	ctx, span := tracer.Start(ctx, "Worker.sweepOnce")
	defer span.End()

	st := w.pool.Status()
	span.SetAttributes(
		attribute.Int("pool.total", st.Total),
		attribute.Int("pool.available", st.Available),
		attribute.Bool("pool.all_in_cooldown", st.AllInCooldown),
	)
	slog.Info("pool status",
		slog.Int("total", st.Total),
		slog.Int("available", st.Available),
		slog.Bool("all_in_cooldown", st.AllInCooldown),
		slog.Int64("next_available_in_ms", st.NextAvailableInMS))
	if st.AllInCooldown {
		return
	}

	// The queue file is canonical for deferral state; the in-memory set may
	// lag it after an error, so consult the store.
	stats, err := w.queue.Stats(ctx)
	if err != nil {
		slog.Error("queue stats failed during sweep", slog.Any("error", err))
		span.RecordError(err)
		return
	}
	if stats.Deferred == 0 {
		return
	}
	n, err := w.queue.ResetDeferredToToCheck(ctx)
	if err != nil {
		slog.Error("deferred reset failed during sweep", slog.Any("error", err))
		span.RecordError(err)
		return
	}
	w.deferred.Clear()
	span.SetAttributes(attribute.Int("queue.checks_rewound", n))
	slog.Info("pool recovered; deferred checks rewound", slog.Int("checks", n))
}

// RunSmokeTest probes upstream reachability through the current pool
// connection on every tick. The probe endpoint needs no API key; a 401
// still proves the route carries traffic.
func (w *Worker) RunSmokeTest(ctx context.Context) {
	ticker := time.NewTicker(w.smokeInterval)
	defer ticker.Stop()
	w.smokeOnce(context.WithoutCancel(ctx))
	for {
		select {
		case <-ctx.Done():
			slog.Info("smoke test stopping")
			return
		case <-ticker.C:
			w.smokeOnce(context.WithoutCancel(ctx))
		}
	}
}

func (w *Worker) smokeOnce(ctx context.Context) {
	if err := w.checker.SmokeTest(ctx); err != nil {
		slog.Warn("proxy smoke test failed", slog.Any("error", err))
	}
}
