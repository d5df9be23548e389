// Package worker drives the verification state machine: it picks the next
// actionable queue item, runs its outstanding checks in canonical order, and
// finalizes completed items against the collector.
//
// There is at most one processing pass in flight at any time. The ingress
// side only appends items; every check-status write goes through this
// package.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/steam-vetter/internal/adapter/observability"
	"github.com/fairyhunter13/steam-vetter/internal/config"
	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// Worker owns the processing loop and the periodic sweeps.
type Worker struct {
	queue     domain.QueueStore
	checker   domain.AccountChecker
	collector domain.Collector
	pool      domain.EgressPool

	itemDelay     time.Duration
	idleDelay     time.Duration
	sweepInterval time.Duration
	smokeInterval time.Duration

	deferred *deferredSet
	inFlight atomic.Bool
}

// New builds a Worker from its collaborators and the configured cadences.
func New(cfg config.Config, queue domain.QueueStore, checker domain.AccountChecker, collector domain.Collector, pool domain.EgressPool) *Worker {
	return &Worker{
		queue:         queue,
		checker:       checker,
		collector:     collector,
		pool:          pool,
		itemDelay:     cfg.WorkerItemDelay,
		idleDelay:     cfg.WorkerIdleDelay,
		sweepInterval: cfg.PoolSweepInterval,
		smokeInterval: cfg.SmokeTestInterval,
		deferred:      newDeferredSet(),
	}
}

// Run executes processing passes until ctx is canceled, re-arming after
// itemDelay when a pass did work and idleDelay when the queue had nothing
// actionable. The deferred set is rebuilt from the queue first so restarts
// resume where the previous process stopped.
func (w *Worker) Run(ctx context.Context) {
	w.rebuildDeferred(ctx)
	slog.Info("worker starting",
		slog.Duration("item_delay", w.itemDelay),
		slog.Duration("idle_delay", w.idleDelay))
	for {
		worked := w.ProcessOnce(ctx)
		delay := w.idleDelay
		if worked {
			delay = w.itemDelay
		}
		select {
		case <-ctx.Done():
			slog.Info("worker stopping")
			return
		case <-time.After(delay):
		}
	}
}

// ProcessOnce runs a single processing pass unless one is already in
// flight. It reports whether the pass handled an item, which the loop uses
// to pick the re-arm delay.
//
// Shutdown is soft: a pass started before cancellation runs its active work
// to completion; only the Run loop observes ctx.
func (w *Worker) ProcessOnce(ctx context.Context) bool {
	if !w.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer w.inFlight.Store(false)
	return w.pass(context.WithoutCancel(ctx))
}

func (w *Worker) rebuildDeferred(ctx context.Context) {
	items, err := w.queue.Items(ctx)
	if err != nil {
		slog.Error("deferred set rebuild failed", slog.Any("error", err))
		return
	}
	w.deferred.Rebuild(items)
}

// pass picks the next processable item and advances it: runs outstanding
// checks when it has any, finalizes it otherwise.
func (w *Worker) pass(ctx context.Context) bool {
	tracer := otel.Tracer("worker")
	ctx, span := tracer.Start(ctx, "Worker.pass")
	defer span.End()

	lg := slog.Default().With(slog.String("pass_id", uuid.NewString()))

	allCooled := w.pool.AllInCooldown()
	span.SetAttributes(attribute.Bool("pool.all_in_cooldown", allCooled))
	if !allCooled {
		w.drainDeferred(ctx, lg)
	}

	item, err := w.queue.NextProcessable(ctx, allCooled)
	if err != nil {
		lg.Error("queue read failed; deferring pass", slog.Any("error", err))
		span.RecordError(err)
		return false
	}
	if item == nil {
		return false
	}
	lg = lg.With(slog.String("account_id", item.AccountID))
	span.SetAttributes(attribute.String("account.id", item.AccountID))

	toRun := item.PendingChecks()
	if len(toRun) == 0 {
		return w.finalize(ctx, lg, *item)
	}
	w.runChecks(ctx, lg, *item, toRun, allCooled)
	return true
}

// drainDeferred rewinds deferred checks back to to_check once the pool has
// an available connection again. The in-memory set is only a fast-path
// guard; the queue file stays canonical.
func (w *Worker) drainDeferred(ctx context.Context, lg *slog.Logger) {
	if w.deferred.Empty() {
		return
	}
	n, err := w.queue.ResetDeferredToToCheck(ctx)
	if err != nil {
		lg.Error("deferred reset failed", slog.Any("error", err))
		return
	}
	w.deferred.Clear()
	if n > 0 {
		lg.Info("pool available again; deferred checks rewound", slog.Int("checks", n))
	}
}

// runChecks executes the outstanding checks in canonical order.
//
// A private profile discovered by steam_level short-circuits the two
// rate-limited checks for the rest of this pass: their endpoints are
// unreachable for private accounts, so they pass without an outbound call.
func (w *Worker) runChecks(ctx context.Context, lg *slog.Logger, item domain.QueueItem, toRun []domain.CheckName, allCooled bool) {
	private := false
	for _, check := range toRun {
		if private && check.RateLimitProne() {
			if err := w.queue.UpdateCheck(ctx, item.AccountID, check, domain.StatusPassed); err != nil {
				lg.Error("check update failed", slog.String("check", string(check)), slog.Any("error", err))
				return
			}
			lg.Info("check passed without call; profile is private", slog.String("check", string(check)))
			continue
		}
		if allCooled && check.RateLimitProne() {
			if err := w.queue.UpdateCheck(ctx, item.AccountID, check, domain.StatusDeferred); err != nil {
				lg.Error("check update failed", slog.String("check", string(check)), slog.Any("error", err))
				return
			}
			w.deferred.Add(item.AccountID, check)
			lg.Info("check deferred; every connection cooling", slog.String("check", string(check)))
			continue
		}

		out, err := w.checker.RunCheck(ctx, check, item.AccountID)
		if err != nil {
			lg.Warn("check errored; item retried on a later pass",
				slog.String("check", string(check)),
				slog.Any("error", err))
			return
		}
		switch {
		case out.Deferred:
			if err := w.queue.UpdateCheck(ctx, item.AccountID, check, domain.StatusDeferred); err != nil {
				lg.Error("check update failed", slog.String("check", string(check)), slog.Any("error", err))
				return
			}
			w.deferred.Add(item.AccountID, check)
			lg.Info("check deferred; pool cooling",
				slog.String("check", string(check)),
				slog.Duration("next_available_in", out.NextAvailableIn))
		case !out.Passed:
			if err := w.queue.UpdateCheck(ctx, item.AccountID, check, domain.StatusFailed); err != nil {
				lg.Error("check update failed", slog.String("check", string(check)), slog.Any("error", err))
				return
			}
			if _, err := w.queue.Remove(ctx, item.AccountID); err != nil {
				lg.Error("queue removal failed", slog.Any("error", err))
				return
			}
			w.deferred.Drop(item.AccountID)
			observability.RecordFinalized("check_failed")
			lg.Info("check failed; account dropped",
				slog.String("check", string(check)),
				slog.String("details", out.Details))
			return
		default:
			if err := w.queue.UpdateCheck(ctx, item.AccountID, check, domain.StatusPassed); err != nil {
				lg.Error("check update failed", slog.String("check", string(check)), slog.Any("error", err))
				return
			}
			if out.Private {
				private = true
			}
			lg.Info("check passed",
				slog.String("check", string(check)),
				slog.String("details", out.Details))
		}
	}
}

// finalize resolves an item with no outstanding checks: failed items drop,
// fully passed items go to the collector. A collector outage keeps the item
// queued with its verdicts intact so a later pass retries the submit alone.
func (w *Worker) finalize(ctx context.Context, lg *slog.Logger, item domain.QueueItem) bool {
	if item.HasDeferred() {
		return false
	}
	if item.AnyFailed() {
		if _, err := w.queue.Remove(ctx, item.AccountID); err != nil {
			lg.Error("queue removal failed", slog.Any("error", err))
			return false
		}
		w.deferred.Drop(item.AccountID)
		observability.RecordFinalized("check_failed")
		lg.Info("account dropped; failed checks on record")
		return true
	}

	res, err := w.collector.Submit(ctx, item.AccountID, item.Submitter)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			lg.Warn("collector unavailable; submit retried on a later pass", slog.Any("error", err))
			return true
		}
		lg.Error("collector rejected account; dropping", slog.Any("error", err))
		if _, rerr := w.queue.Remove(ctx, item.AccountID); rerr != nil {
			lg.Error("queue removal failed", slog.Any("error", rerr))
		}
		observability.RecordFinalized("submit_failed")
		return true
	}

	outcome := "submitted"
	if res == domain.SubmitDuplicate {
		outcome = "duplicate"
	}
	if _, err := w.queue.Remove(ctx, item.AccountID); err != nil {
		lg.Error("queue removal failed", slog.Any("error", err))
		return true
	}
	w.deferred.Drop(item.AccountID)
	observability.RecordFinalized(outcome)
	lg.Info("account finalized",
		slog.String("submitter", item.Submitter),
		slog.String("outcome", outcome))
	return true
}
