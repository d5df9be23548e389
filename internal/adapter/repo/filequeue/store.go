// Package filequeue persists the verification queue as a single JSON file.
//
// The file holds a JSON array of queue items and is rewritten whole on every
// mutation. The process owns the file exclusively; all access serializes
// through one in-process mutex.
package filequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/steam-vetter/internal/adapter/observability"
	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// File write retry schedule: three retries at 500/1000/1500 ms, capped at
// 2000 ms. After exhaustion the error surfaces to the caller, which logs
// and picks the work up again on a later pass.
const (
	retryStep  = 500 * time.Millisecond
	retryCap   = 2000 * time.Millisecond
	maxRetries = 3
)

// linearBackOff yields step, 2*step, 3*step... capped at ceil.
type linearBackOff struct {
	step time.Duration
	ceil time.Duration
	next time.Duration
}

func newLinearBackOff(step, ceil time.Duration) *linearBackOff {
	return &linearBackOff{step: step, ceil: ceil, next: step}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	d := b.next
	if d > b.ceil {
		d = b.ceil
	}
	b.next += b.step
	return d
}

func (b *linearBackOff) Reset() { b.next = b.step }

// Store is a durable, ordered queue of verification items.
type Store struct {
	mu    sync.Mutex
	path  string
	items []domain.QueueItem
}

// New loads the queue from path, creating an empty file when none exists.
// A file that exists but cannot be parsed is a startup error; silently
// discarding accepted work would be worse than refusing to boot.
func New(path string) (*Store, error) {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("op=filequeue.New: %w", err)
		}
		if err := s.persistLocked(context.Background(), nil); err != nil {
			return nil, fmt.Errorf("op=filequeue.New: %w", err)
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("op=filequeue.New: %w", err)
	}
	var items []domain.QueueItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("op=filequeue.New: parse %s: %w", path, err)
	}
	for i := range items {
		if err := validateItem(items[i]); err != nil {
			return nil, fmt.Errorf("op=filequeue.New: item %d: %w", i, err)
		}
	}
	s.items = items
	return s, nil
}

func validateItem(it domain.QueueItem) error {
	if !domain.ValidAccountID(it.AccountID) {
		return fmt.Errorf("%w: account_id %q", domain.ErrInvalidArgument, it.AccountID)
	}
	if it.Submitter == "" {
		return fmt.Errorf("%w: empty submitter", domain.ErrInvalidArgument)
	}
	if len(it.Checks) != len(domain.CheckOrder) {
		return fmt.Errorf("%w: %d checks, want %d", domain.ErrInvalidArgument, len(it.Checks), len(domain.CheckOrder))
	}
	for _, c := range domain.CheckOrder {
		st, ok := it.Checks[c]
		if !ok {
			return fmt.Errorf("%w: missing check %q", domain.ErrInvalidArgument, c)
		}
		if !st.Valid() {
			return fmt.Errorf("%w: check %q has status %q", domain.ErrInvalidArgument, c, st)
		}
	}
	return nil
}

// Append adds a new item to the tail.
func (s *Store) Append(ctx domain.Context, item domain.QueueItem) error {
	if err := validateItem(item); err != nil {
		return fmt.Errorf("op=filequeue.Append: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOfLocked(item.AccountID) >= 0 {
		return fmt.Errorf("op=filequeue.Append: account %s: %w", item.AccountID, domain.ErrConflict)
	}
	next := make([]domain.QueueItem, 0, len(s.items)+1)
	next = append(next, s.items...)
	next = append(next, item.Clone())
	if err := s.persistLocked(ctx, next); err != nil {
		return fmt.Errorf("op=filequeue.Append: %w", err)
	}
	s.items = next
	observability.QueueDepth.Set(float64(len(s.items)))
	return nil
}

// Contains reports whether the account is already queued.
func (s *Store) Contains(_ domain.Context, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOfLocked(accountID) >= 0, nil
}

// UpdateCheck persists a new status for one check of one account.
func (s *Store) UpdateCheck(ctx domain.Context, accountID string, check domain.CheckName, status domain.CheckStatus) error {
	if !check.Valid() {
		return fmt.Errorf("op=filequeue.UpdateCheck: check %q: %w", check, domain.ErrInvalidArgument)
	}
	if !status.Valid() {
		return fmt.Errorf("op=filequeue.UpdateCheck: status %q: %w", status, domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(accountID)
	if idx < 0 {
		return fmt.Errorf("op=filequeue.UpdateCheck: account %s: %w", accountID, domain.ErrNotFound)
	}
	next := s.cloneItemsLocked()
	next[idx].Checks[check] = status
	if err := s.persistLocked(ctx, next); err != nil {
		return fmt.Errorf("op=filequeue.UpdateCheck: %w", err)
	}
	s.items = next
	return nil
}

// Remove deletes the account's item. Removing an absent account is a no-op.
func (s *Store) Remove(ctx domain.Context, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(accountID)
	if idx < 0 {
		return false, nil
	}
	next := make([]domain.QueueItem, 0, len(s.items)-1)
	next = append(next, s.items[:idx]...)
	next = append(next, s.items[idx+1:]...)
	if err := s.persistLocked(ctx, next); err != nil {
		return false, fmt.Errorf("op=filequeue.Remove: %w", err)
	}
	s.items = next
	observability.QueueDepth.Set(float64(len(s.items)))
	return true, nil
}

// NextProcessable picks the item the worker should handle next.
//
// The head is strictly preferred: a head with no unresolved checks awaits
// finalization and is returned regardless of pool state; a head with work
// left is returned whenever some connection is available. Only when every
// connection is cooling does the scheduler scan from the head for the first
// item that can still make progress without the pool.
func (s *Store) NextProcessable(_ domain.Context, allPoolInCooldown bool) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil, nil
	}
	head := s.items[0]
	if !head.HasToCheck() && !head.HasDeferred() {
		cp := head.Clone()
		return &cp, nil
	}
	if !allPoolInCooldown {
		cp := head.Clone()
		return &cp, nil
	}
	for i := range s.items {
		if s.items[i].HasDirectWork() {
			cp := s.items[i].Clone()
			return &cp, nil
		}
	}
	return nil, nil
}

// ResetDeferredToToCheck rewinds every deferred check back to to_check.
func (s *Store) ResetDeferredToToCheck(ctx domain.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cloneItemsLocked()
	reset := 0
	for i := range next {
		for c, st := range next[i].Checks {
			if st == domain.StatusDeferred {
				next[i].Checks[c] = domain.StatusToCheck
				reset++
			}
		}
	}
	if reset == 0 {
		return 0, nil
	}
	if err := s.persistLocked(ctx, next); err != nil {
		return 0, fmt.Errorf("op=filequeue.ResetDeferredToToCheck: %w", err)
	}
	s.items = next
	return reset, nil
}

// Items returns a deep-copied snapshot of the queue in order.
func (s *Store) Items(_ domain.Context) ([]domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneItemsLocked(), nil
}

// Stats aggregates per-check and per-submitter counts.
func (s *Store) Stats(_ domain.Context) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := domain.QueueStats{
		Total:       len(s.items),
		ByCheck:     make(map[domain.CheckName]map[domain.CheckStatus]int, len(domain.CheckOrder)),
		BySubmitter: make(map[string]int),
	}
	for _, c := range domain.CheckOrder {
		st.ByCheck[c] = make(map[domain.CheckStatus]int)
	}
	now := time.Now().UnixMilli()
	for _, it := range s.items {
		st.BySubmitter[it.Submitter]++
		if it.HasDeferred() {
			st.Deferred++
		}
		for c, cs := range it.Checks {
			st.ByCheck[c][cs]++
		}
		if age := now - it.EnqueuedAt; age > st.OldestAgeMS {
			st.OldestAgeMS = age
		}
	}
	return st, nil
}

func (s *Store) indexOfLocked(accountID string) int {
	for i := range s.items {
		if s.items[i].AccountID == accountID {
			return i
		}
	}
	return -1
}

func (s *Store) cloneItemsLocked() []domain.QueueItem {
	out := make([]domain.QueueItem, len(s.items))
	for i := range s.items {
		out[i] = s.items[i].Clone()
	}
	return out
}

// persistLocked rewrites the whole queue file, retrying transient failures
// on the linear schedule. Caller holds s.mu.
func (s *Store) persistLocked(ctx domain.Context, items []domain.QueueItem) error {
	if items == nil {
		items = []domain.QueueItem{}
	}
	raw, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	op := func() error {
		return writeFileAtomic(s.path, raw)
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("queue file write failed; retrying",
			slog.String("path", s.path),
			slog.Duration("backoff", wait),
			slog.Any("error", err))
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(newLinearBackOff(retryStep, retryCap), maxRetries), ctx)
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	return nil
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// torn file after a crash mid-write.
func writeFileAtomic(path string, raw []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
