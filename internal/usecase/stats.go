package usecase

import (
	"fmt"

	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// StatsService exposes queue composition for the stats endpoint.
type StatsService struct {
	Queue domain.QueueStore
}

// NewStatsService constructs a StatsService with the given store.
func NewStatsService(q domain.QueueStore) StatsService { return StatsService{Queue: q} }

// QueueStats aggregates per-check status counts and per-submitter counts.
func (s StatsService) QueueStats(ctx domain.Context) (domain.QueueStats, error) {
	st, err := s.Queue.Stats(ctx)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("op=usecase.QueueStats: %w", err)
	}
	return st, nil
}
