// Package proxypool manages the ordered set of egress connections used for
// rate-limited calls: one direct connection plus any number of SOCKS5
// proxies, each with independent cooldown state.
//
// Cooldown state is mirrored to a JSON config file on every mutation so
// operators can inspect it, but it is not authoritative: cooldowns reset on
// startup and stale entries expire naturally.
package proxypool

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/steam-vetter/internal/adapter/observability"
	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// Cooldown matrix (error class x endpoint). HTTP 429 cooldowns depend on
// which endpoint tripped them; transport-level classes do not.
const (
	cooldown429Friends    = 5 * time.Minute
	cooldownConnectionErr = 10 * time.Minute
	cooldownSOCKSErr      = 15 * time.Minute
	cooldownUnknown       = 10 * time.Minute

	// DefaultCooldown applies to 429s outside friends, notably the
	// inventory endpoint, whose bans run for hours.
	DefaultCooldown = 6*time.Hour + 5*time.Minute
)

// Connection is one egress route with its cooldown bookkeeping. The JSON
// field names are part of the pool config file format.
type Connection struct {
	Kind          domain.ConnKind `json:"kind"`
	URL           string          `json:"url,omitempty"`
	InCooldown    bool            `json:"in_cooldown"`
	CooldownUntil *time.Time      `json:"cooldown_until,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// cooled reports whether the connection is inside an unexpired cooldown.
func (c Connection) cooled(now time.Time) bool {
	return c.InCooldown && c.CooldownUntil != nil && now.Before(*c.CooldownUntil)
}

// fileState is the persisted shape of the pool. Unknown legacy keys are
// dropped by the decoder and never written back.
type fileState struct {
	Connections        []Connection `json:"connections"`
	CurrentIndex       int          `json:"current_index"`
	CooldownDurationMS int64        `json:"cooldown_duration_ms"`
}

// seedFile is the optional YAML bootstrap list consulted when no pool
// config file exists yet.
type seedFile struct {
	Proxies []string `yaml:"proxies"`
}

// Pool is the ordered egress connection list. Index 0 is always the direct
// connection; SOCKS5 proxies keep insertion order behind it.
type Pool struct {
	mu              sync.Mutex
	path            string
	conns           []Connection
	current         int
	defaultCooldown time.Duration
}

// New loads the pool from path. A missing file yields a direct-only pool,
// optionally extended from the YAML seed file. A file that exists but does
// not parse is replaced: the pool carries no accepted work, so starting
// fresh costs at most some premature retries.
func New(path string, defaultCooldown time.Duration, seedPath string) (*Pool, error) {
	if defaultCooldown <= 0 {
		defaultCooldown = DefaultCooldown
	}
	p := &Pool{path: path, defaultCooldown: defaultCooldown}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("op=proxypool.New: %w", err)
		}
		p.conns = []Connection{{Kind: domain.ConnDirect}}
		if seedPath != "" {
			urls, err := loadSeedFile(seedPath)
			if err != nil {
				return nil, fmt.Errorf("op=proxypool.New: %w", err)
			}
			for _, u := range urls {
				if err := validateSOCKS5URL(u); err != nil {
					return nil, fmt.Errorf("op=proxypool.New: seed %q: %w", u, err)
				}
				p.conns = append(p.conns, Connection{Kind: domain.ConnSOCKS5, URL: u})
			}
		}
	case err != nil:
		return nil, fmt.Errorf("op=proxypool.New: %w", err)
	default:
		var st fileState
		if jerr := json.Unmarshal(raw, &st); jerr != nil {
			slog.Warn("pool config unreadable; starting with direct connection only",
				slog.String("path", path),
				slog.Any("error", jerr))
			st = fileState{}
		}
		p.conns = normalizeConnections(st.Connections)
		p.current = st.CurrentIndex
		if p.current < 0 || p.current >= len(p.conns) {
			p.current = 0
		}
		if st.CooldownDurationMS > 0 {
			p.defaultCooldown = time.Duration(st.CooldownDurationMS) * time.Millisecond
		}
	}

	// Cooldown timers do not survive restarts.
	for i := range p.conns {
		p.conns[i].InCooldown = false
		p.conns[i].CooldownUntil = nil
	}

	p.mu.Lock()
	p.persistLocked()
	p.updateGaugeLocked(time.Now())
	p.mu.Unlock()
	return p, nil
}

// normalizeConnections drops entries of unknown kind, strips malformed
// socks5 URLs and guarantees a direct connection at index 0.
func normalizeConnections(in []Connection) []Connection {
	out := []Connection{{Kind: domain.ConnDirect}}
	for _, c := range in {
		switch c.Kind {
		case domain.ConnDirect:
			// Collapse extra direct entries into the mandatory one.
		case domain.ConnSOCKS5:
			if err := validateSOCKS5URL(c.URL); err != nil {
				slog.Warn("dropping pool entry with malformed url",
					slog.String("url", c.URL),
					slog.Any("error", err))
				continue
			}
			out = append(out, c)
		default:
			slog.Warn("dropping pool entry of unknown kind", slog.String("kind", string(c.Kind)))
		}
	}
	return out
}

func validateSOCKS5URL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if u.Scheme != "socks5" {
		return fmt.Errorf("%w: scheme %q, want socks5", domain.ErrInvalidArgument, u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return fmt.Errorf("%w: socks5 url needs host:port", domain.ErrInvalidArgument)
	}
	return nil
}

func loadSeedFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var sf seedFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return sf.Proxies, nil
}

// cooldownFor resolves the matrix for one error class and endpoint. The
// endpoint matters only for 429s; pass an empty name for non-check calls.
func (p *Pool) cooldownFor(class domain.ErrorClass, endpoint domain.CheckName) time.Duration {
	switch class {
	case domain.ClassRateLimited:
		if endpoint == domain.CheckFriends {
			return cooldown429Friends
		}
		return p.defaultCooldown
	case domain.ClassConnection:
		return cooldownConnectionErr
	case domain.ClassSOCKS:
		return cooldownSOCKSErr
	default:
		return cooldownUnknown
	}
}

// Current returns the connection in use after lazily clearing expired
// cooldowns. A cooled current rotates forward to the first available
// connection. When everything is cooling, allCooled is true and
// nextAvailableIn says how long until the earliest connection frees.
func (p *Pool) Current() (conn Connection, allCooled bool, nextAvailableIn time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if p.sweepExpiredLocked(now) {
		p.persistLocked()
	}
	if p.conns[p.current].cooled(now) {
		return p.rotateLocked(now)
	}
	p.updateGaugeLocked(now)
	return p.conns[p.current], false, 0
}

// rotateLocked advances current to the next non-cooled connection, scanning
// forward modulo the pool size. With every connection cooling it parks on
// the one that frees earliest. Caller holds p.mu.
func (p *Pool) rotateLocked(now time.Time) (Connection, bool, time.Duration) {
	n := len(p.conns)
	for i := 1; i <= n; i++ {
		idx := (p.current + i) % n
		if !p.conns[idx].cooled(now) {
			p.current = idx
			p.persistLocked()
			p.updateGaugeLocked(now)
			return p.conns[idx], false, 0
		}
	}
	earliest := 0
	for i := 1; i < n; i++ {
		if p.conns[i].CooldownUntil.Before(*p.conns[earliest].CooldownUntil) {
			earliest = i
		}
	}
	p.current = earliest
	p.persistLocked()
	p.updateGaugeLocked(now)
	return p.conns[earliest], true, time.Until(*p.conns[earliest].CooldownUntil)
}

// MarkCurrentCooldown stamps the current connection with the matrix
// duration for (class, endpoint), records the error, and rotates. The
// returned connection is the retry candidate; allCooled tells the caller to
// defer instead.
func (p *Pool) MarkCurrentCooldown(class domain.ErrorClass, endpoint domain.CheckName, errMsg string) (conn Connection, allCooled bool, nextAvailableIn time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	until := now.Add(p.cooldownFor(class, endpoint))
	cur := &p.conns[p.current]
	cur.InCooldown = true
	cur.CooldownUntil = &until
	cur.LastError = errMsg
	observability.RecordCooldown(string(class))
	slog.Warn("connection cooled",
		slog.String("kind", string(cur.Kind)),
		slog.String("url", cur.URL),
		slog.String("class", string(class)),
		slog.String("endpoint", string(endpoint)),
		slog.Time("until", until))
	p.persistLocked()
	return p.rotateLocked(now)
}

// AddSOCKS5 appends a proxy to the rotation.
func (p *Pool) AddSOCKS5(raw string) error {
	if err := validateSOCKS5URL(raw); err != nil {
		return fmt.Errorf("op=proxypool.AddSOCKS5: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		if c.Kind == domain.ConnSOCKS5 && c.URL == raw {
			return fmt.Errorf("op=proxypool.AddSOCKS5: %s: %w", raw, domain.ErrConflict)
		}
	}
	p.conns = append(p.conns, Connection{Kind: domain.ConnSOCKS5, URL: raw})
	if err := p.persistLocked(); err != nil {
		return fmt.Errorf("op=proxypool.AddSOCKS5: %w", err)
	}
	p.updateGaugeLocked(time.Now())
	return nil
}

// RemoveSOCKS5 drops a proxy from the rotation. The direct connection can
// never be removed. current_index renormalizes to 0 when it would dangle.
func (p *Pool) RemoveSOCKS5(raw string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := -1
	for i, c := range p.conns {
		if c.Kind == domain.ConnSOCKS5 && c.URL == raw {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("op=proxypool.RemoveSOCKS5: %s: %w", raw, domain.ErrNotFound)
	}
	p.conns = append(p.conns[:idx], p.conns[idx+1:]...)
	if p.current >= len(p.conns) || p.current == idx {
		p.current = 0
	} else if p.current > idx {
		p.current--
	}
	if err := p.persistLocked(); err != nil {
		return fmt.Errorf("op=proxypool.RemoveSOCKS5: %w", err)
	}
	p.updateGaugeLocked(time.Now())
	return nil
}

// AllInCooldown reports whether every connection is cooling.
func (p *Pool) AllInCooldown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if p.sweepExpiredLocked(now) {
		p.persistLocked()
	}
	for _, c := range p.conns {
		if !c.cooled(now) {
			return false
		}
	}
	return true
}

// Status returns a copy-on-read snapshot for the health endpoint and the
// periodic sweep log line.
func (p *Pool) Status() domain.PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if p.sweepExpiredLocked(now) {
		p.persistLocked()
	}
	st := domain.PoolStatus{
		Total:       len(p.conns),
		Connections: make([]domain.ConnectionStatus, 0, len(p.conns)),
	}
	var earliest *time.Time
	for i, c := range p.conns {
		cooled := c.cooled(now)
		if !cooled {
			st.Available++
		} else if earliest == nil || c.CooldownUntil.Before(*earliest) {
			earliest = c.CooldownUntil
		}
		st.Connections = append(st.Connections, domain.ConnectionStatus{
			Kind:        c.Kind,
			URL:         c.URL,
			Current:     i == p.current,
			InCooldown:  cooled,
			CooledUntil: c.CooldownUntil,
			LastError:   c.LastError,
		})
	}
	st.AllInCooldown = st.Available == 0
	if earliest != nil {
		st.NextAvailableInMS = time.Until(*earliest).Milliseconds()
	}
	p.updateGaugeLocked(now)
	return st
}

// sweepExpiredLocked clears expired cooldowns; reports whether any changed.
// Caller holds p.mu.
func (p *Pool) sweepExpiredLocked(now time.Time) bool {
	changed := false
	for i := range p.conns {
		c := &p.conns[i]
		if c.InCooldown && !c.cooled(now) {
			c.InCooldown = false
			c.CooldownUntil = nil
			changed = true
		}
	}
	return changed
}

func (p *Pool) updateGaugeLocked(now time.Time) {
	available := 0
	for _, c := range p.conns {
		if !c.cooled(now) {
			available++
		}
	}
	observability.PoolAvailable.Set(float64(available))
}

// persistLocked mirrors pool state to disk. Best-effort: cooldown data is
// reconstructible, so a failed write only logs. Caller holds p.mu.
func (p *Pool) persistLocked() error {
	st := fileState{
		Connections:        p.conns,
		CurrentIndex:       p.current,
		CooldownDurationMS: p.defaultCooldown.Milliseconds(),
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		slog.Warn("pool config marshal failed", slog.Any("error", err))
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		slog.Warn("pool config write failed", slog.String("path", p.path), slog.Any("error", err))
		return err
	}
	if err := os.Rename(tmp, p.path); err != nil {
		slog.Warn("pool config rename failed", slog.String("path", p.path), slog.Any("error", err))
		return err
	}
	return nil
}
