package steam

import (
	"sync"
	"time"

	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// Gate enforces a minimum wall-clock interval between outbound calls,
// regardless of endpoint or connection. Callers reserve a slot and sleep
// until it opens, so concurrent callers (the worker and the smoke-test
// timer) never violate the interval between them.
type Gate struct {
	mu   sync.Mutex
	min  time.Duration
	next time.Time
}

// NewGate builds a gate with the given minimum interval. A non-positive
// interval disables the gate.
func NewGate(min time.Duration) *Gate {
	return &Gate{min: min}
}

// Wait blocks until the caller's reserved slot opens or ctx is done.
func (g *Gate) Wait(ctx domain.Context) error {
	if g.min <= 0 {
		return nil
	}
	g.mu.Lock()
	now := time.Now()
	slot := g.next
	if slot.Before(now) {
		slot = now
	}
	g.next = slot.Add(g.min)
	g.mu.Unlock()

	sleep := time.Until(slot)
	if sleep <= 0 {
		return nil
	}
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
