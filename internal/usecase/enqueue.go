// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/steam-vetter/internal/adapter/observability"
	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// EnqueueService orchestrates account submission: input validation, queue
// dedupe, the best-effort remote existence probe, and the durable append.
type EnqueueService struct {
	Queue     domain.QueueStore
	Collector domain.Collector
}

// NewEnqueueService constructs an EnqueueService with its dependencies.
func NewEnqueueService(q domain.QueueStore, c domain.Collector) EnqueueService {
	return EnqueueService{Queue: q, Collector: c}
}

// Submit validates the account id and submitter, rejects accounts already
// queued or already held downstream, and appends the rest.
//
// The existence probe is best-effort: when the collector cannot be reached
// the account is queued anyway, because the final submit is idempotent on
// duplicates.
func (s EnqueueService) Submit(ctx domain.Context, accountID, submitter string) (domain.EnqueueResult, error) {
	if !domain.ValidAccountID(accountID) {
		return "", fmt.Errorf("%w: account id must be 17 digits", domain.ErrInvalidArgument)
	}
	if submitter == "" {
		return "", fmt.Errorf("%w: submitter required", domain.ErrInvalidArgument)
	}

	queued, err := s.Queue.Contains(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("op=usecase.Submit: %w", err)
	}
	if queued {
		return domain.EnqueueAlreadyQueued, nil
	}

	exists, err := s.Collector.Exists(ctx, accountID)
	switch {
	case err != nil:
		observability.LoggerFromContext(ctx).Warn("existence check failed; queueing anyway",
			slog.String("account_id", accountID),
			slog.Any("error", err))
	case exists:
		return domain.EnqueueAlreadyCollected, nil
	}

	if err := s.Queue.Append(ctx, domain.NewQueueItem(accountID, submitter)); err != nil {
		if queued, cerr := s.Queue.Contains(ctx, accountID); cerr == nil && queued {
			return domain.EnqueueAlreadyQueued, nil
		}
		return "", fmt.Errorf("op=usecase.Submit: %w", err)
	}
	observability.ItemsEnqueuedTotal.Inc()
	observability.LoggerFromContext(ctx).Info("account queued",
		slog.String("account_id", accountID),
		slog.String("submitter", submitter))
	return domain.EnqueueAdded, nil
}
