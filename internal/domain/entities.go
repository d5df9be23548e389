package domain

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInternal            = errors.New("internal error")
)

// CheckName identifies one of the profile checks an account must pass.
type CheckName string

const (
	CheckAnimatedAvatar        CheckName = "animated_avatar"
	CheckAvatarFrame           CheckName = "avatar_frame"
	CheckMiniProfileBackground CheckName = "mini_profile_background"
	CheckProfileBackground     CheckName = "profile_background"
	CheckSteamLevel            CheckName = "steam_level"
	CheckFriends               CheckName = "friends"
	CheckCSGOInventory         CheckName = "csgo_inventory"
)

// CheckOrder is the canonical execution order. Cheap ownership lookups run
// first so decorated profiles fail fast; the rate-limit-prone friends and
// inventory calls run last.
var CheckOrder = []CheckName{
	CheckAnimatedAvatar,
	CheckAvatarFrame,
	CheckMiniProfileBackground,
	CheckProfileBackground,
	CheckSteamLevel,
	CheckFriends,
	CheckCSGOInventory,
}

// RateLimitProne reports whether the check hits an endpoint that the
// upstream throttles aggressively. Only these checks route through the
// egress pool and only they may end up deferred.
func (c CheckName) RateLimitProne() bool {
	return c == CheckFriends || c == CheckCSGOInventory
}

// Valid reports whether c is one of the seven known checks.
func (c CheckName) Valid() bool {
	for _, k := range CheckOrder {
		if c == k {
			return true
		}
	}
	return false
}

// CheckStatus is the lifecycle state of a single check on a queued account.
type CheckStatus string

const (
	StatusToCheck  CheckStatus = "to_check"
	StatusPassed   CheckStatus = "passed"
	StatusFailed   CheckStatus = "failed"
	StatusDeferred CheckStatus = "deferred"
)

// Valid reports whether s is a known check status.
func (s CheckStatus) Valid() bool {
	switch s {
	case StatusToCheck, StatusPassed, StatusFailed, StatusDeferred:
		return true
	}
	return false
}

var accountIDPattern = regexp.MustCompile(`^[0-9]{17}$`)

// ValidAccountID reports whether s is a well-formed 17-digit account id.
func ValidAccountID(s string) bool {
	return accountIDPattern.MatchString(s)
}

// QueueItem is one account awaiting verification, with per-check state.
// The JSON field names are part of the on-disk queue format and must not
// change.
// Invariants: AccountID unique within the queue; Checks holds exactly the
// seven canonical keys; a newly enqueued item has every check at to_check.
type QueueItem struct {
	AccountID  string                    `json:"account_id"`
	Submitter  string                    `json:"submitter"`
	EnqueuedAt int64                     `json:"enqueued_at"`
	Checks     map[CheckName]CheckStatus `json:"checks"`
}

// NewQueueItem builds a queue item with every check at StatusToCheck and
// the enqueue time stamped in epoch milliseconds.
func NewQueueItem(accountID, submitter string) QueueItem {
	checks := make(map[CheckName]CheckStatus, len(CheckOrder))
	for _, c := range CheckOrder {
		checks[c] = StatusToCheck
	}
	return QueueItem{
		AccountID:  accountID,
		Submitter:  submitter,
		EnqueuedAt: time.Now().UnixMilli(),
		Checks:     checks,
	}
}

// Clone returns a deep copy so callers can mutate without aliasing the
// store's snapshot.
func (q QueueItem) Clone() QueueItem {
	cp := q
	cp.Checks = make(map[CheckName]CheckStatus, len(q.Checks))
	for k, v := range q.Checks {
		cp.Checks[k] = v
	}
	return cp
}

// HasToCheck reports whether any check still awaits a first verdict.
func (q QueueItem) HasToCheck() bool {
	for _, s := range q.Checks {
		if s == StatusToCheck {
			return true
		}
	}
	return false
}

// HasDeferred reports whether any check is parked on a rate limit.
func (q QueueItem) HasDeferred() bool {
	for _, s := range q.Checks {
		if s == StatusDeferred {
			return true
		}
	}
	return false
}

// AllPassed reports whether every check passed.
func (q QueueItem) AllPassed() bool {
	if len(q.Checks) == 0 {
		return false
	}
	for _, s := range q.Checks {
		if s != StatusPassed {
			return false
		}
	}
	return true
}

// AnyFailed reports whether at least one check failed.
func (q QueueItem) AnyFailed() bool {
	for _, s := range q.Checks {
		if s == StatusFailed {
			return true
		}
	}
	return false
}

// PendingChecks returns the checks still at to_check, in canonical order.
func (q QueueItem) PendingChecks() []CheckName {
	var out []CheckName
	for _, c := range CheckOrder {
		if q.Checks[c] == StatusToCheck {
			out = append(out, c)
		}
	}
	return out
}

// HasDirectWork reports whether any check at to_check can run without the
// egress pool. The scheduler uses this to find items that still make
// progress while every pool connection is cooling.
func (q QueueItem) HasDirectWork() bool {
	for _, c := range CheckOrder {
		if q.Checks[c] == StatusToCheck && !c.RateLimitProne() {
			return true
		}
	}
	return false
}

// ConnKind distinguishes the direct connection from SOCKS5 proxies.
type ConnKind string

const (
	ConnDirect ConnKind = "direct"
	ConnSOCKS5 ConnKind = "socks5"
)

// ErrorClass buckets outbound call failures for cooldown bookkeeping.
type ErrorClass string

const (
	// ClassRateLimited covers HTTP 429 responses.
	ClassRateLimited ErrorClass = "429"
	// ClassConnection covers resets, refusals, timeouts, DNS and TLS
	// failures reaching the upstream.
	ClassConnection ErrorClass = "connection_error"
	// ClassSOCKS covers failures negotiating with the proxy itself.
	ClassSOCKS ErrorClass = "socks_error"
	// ClassUnknown covers anything not matched above.
	ClassUnknown ErrorClass = "unknown"
)

// ConnectionStatus is a point-in-time view of one pool connection.
type ConnectionStatus struct {
	Kind        ConnKind   `json:"kind"`
	URL         string     `json:"url,omitempty"`
	Current     bool       `json:"current"`
	InCooldown  bool       `json:"in_cooldown"`
	CooledUntil *time.Time `json:"cooldown_until,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// PoolStatus is a point-in-time view of the whole egress pool.
type PoolStatus struct {
	Total             int                `json:"total"`
	Available         int                `json:"available"`
	AllInCooldown     bool               `json:"all_in_cooldown"`
	NextAvailableInMS int64              `json:"next_available_in_ms"`
	Connections       []ConnectionStatus `json:"connections"`
}

// CheckOutcome is the verdict of running one check against one account.
// Exactly one of the three shapes applies: a definitive verdict (Passed,
// Details), a deferral (Deferred, NextAvailableIn), or a transient error
// returned alongside as a non-nil error by AccountChecker.RunCheck.
type CheckOutcome struct {
	Passed  bool
	Details string
	// Private marks a profile whose level is hidden; friends and
	// inventory are unreachable for such accounts and count as passed.
	Private bool
	// Deferred means every pool connection was cooling; the check keeps
	// no verdict and is retried after NextAvailableIn.
	Deferred        bool
	NextAvailableIn time.Duration
}

// EnqueueResult tells the caller what happened to a submitted account.
type EnqueueResult string

const (
	EnqueueAdded            EnqueueResult = "added"
	EnqueueAlreadyQueued    EnqueueResult = "already_in_queue"
	EnqueueAlreadyCollected EnqueueResult = "already_in_remote"
)

// SubmitResult tells the worker how the collector received a vetted account.
type SubmitResult string

const (
	SubmitAccepted  SubmitResult = "accepted"
	SubmitDuplicate SubmitResult = "duplicate"
)

// QueueStats aggregates queue composition for the stats endpoint.
type QueueStats struct {
	Total       int                               `json:"total"`
	Deferred    int                               `json:"deferred"`
	ByCheck     map[CheckName]map[CheckStatus]int `json:"by_check"`
	BySubmitter map[string]int                    `json:"by_submitter"`
	OldestAgeMS int64                             `json:"oldest_age_ms"`
}

// Ports

// QueueStore persists queue items durably across restarts.
type QueueStore interface {
	// Append adds a new item; ErrConflict when the account is already
	// queued.
	Append(ctx Context, item QueueItem) error
	// Contains reports whether the account is already queued.
	Contains(ctx Context, accountID string) (bool, error)
	// UpdateCheck persists a new status for one check of one account;
	// ErrNotFound when absent, ErrInvalidArgument on unknown check or
	// status.
	UpdateCheck(ctx Context, accountID string, check CheckName, status CheckStatus) error
	// Remove deletes the account's item. Removing an absent account is
	// not an error; the bool reports whether anything was deleted.
	Remove(ctx Context, accountID string) (bool, error)
	// NextProcessable picks the item the worker should handle next given
	// whether the whole pool is cooling. Returns nil when nothing can
	// make progress.
	NextProcessable(ctx Context, allPoolInCooldown bool) (*QueueItem, error)
	// ResetDeferredToToCheck rewinds every deferred check back to
	// to_check and reports how many were rewound.
	ResetDeferredToToCheck(ctx Context) (int, error)
	// Items returns a deep-copied snapshot of the queue in order.
	Items(ctx Context) ([]QueueItem, error)
	// Stats aggregates per-check and per-submitter counts.
	Stats(ctx Context) (QueueStats, error)
}

// AccountChecker runs profile checks against the upstream platform.
type AccountChecker interface {
	// RunCheck executes one check. A non-nil error means the call could
	// not complete; the check keeps its current status and the item is
	// retried on a later pass.
	RunCheck(ctx Context, check CheckName, accountID string) (CheckOutcome, error)
	// SmokeTest probes upstream reachability through the current pool
	// connection. A 401 from the probe endpoint counts as reachable.
	SmokeTest(ctx Context) error
}

// Collector is the downstream service that stores fully vetted accounts.
type Collector interface {
	// Exists reports whether the collector already holds the account.
	Exists(ctx Context, accountID string) (bool, error)
	// Submit hands a vetted account over. Transient failures wrap
	// ErrUpstreamUnavailable so the caller can retry next pass.
	Submit(ctx Context, accountID, submitter string) (SubmitResult, error)
}

// EgressPool exposes the pool state the worker and health endpoint need.
type EgressPool interface {
	// AllInCooldown reports whether every connection is cooling.
	AllInCooldown() bool
	// Status returns a copy-on-read snapshot for diagnostics.
	Status() PoolStatus
}

// Context is an alias to allow decoupling from std context in domain
// Adapters and usecases should pass context.Context through

type Context = context.Context
