package worker

import (
	"sync"

	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// deferredSet tracks which accounts currently hold deferred checks. It is an
// in-process optimization over the queue file, which stays canonical: the set
// is rebuilt from the queue at startup and cleared whenever deferred checks
// are rewound.
type deferredSet struct {
	mu sync.Mutex
	m  map[string]map[domain.CheckName]struct{}
}

func newDeferredSet() *deferredSet {
	return &deferredSet{m: make(map[string]map[domain.CheckName]struct{})}
}

func (d *deferredSet) Add(accountID string, check domain.CheckName) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.m[accountID]
	if !ok {
		set = make(map[domain.CheckName]struct{}, 2)
		d.m[accountID] = set
	}
	set[check] = struct{}{}
}

// Drop forgets every deferred check of one account.
func (d *deferredSet) Drop(accountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, accountID)
}

func (d *deferredSet) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m = make(map[string]map[domain.CheckName]struct{})
}

func (d *deferredSet) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.m) == 0
}

// Rebuild replaces the set with the deferred checks found in the queue
// snapshot.
func (d *deferredSet) Rebuild(items []domain.QueueItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m = make(map[string]map[domain.CheckName]struct{})
	for _, it := range items {
		for c, st := range it.Checks {
			if st != domain.StatusDeferred {
				continue
			}
			set, ok := d.m[it.AccountID]
			if !ok {
				set = make(map[domain.CheckName]struct{}, 2)
				d.m[it.AccountID] = set
			}
			set[c] = struct{}{}
		}
	}
}
