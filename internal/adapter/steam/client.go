// Package steam implements the seven profile checks against the Steam Web
// API and the community inventory endpoint, routing the rate-limit-prone
// calls through the egress pool.
package steam

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/steam-vetter/internal/adapter/observability"
	"github.com/fairyhunter13/steam-vetter/internal/adapter/proxypool"
	"github.com/fairyhunter13/steam-vetter/internal/config"
	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

const (
	pathAnimatedAvatar        = "/IPlayerService/GetAnimatedAvatar/v1/"
	pathAvatarFrame           = "/IPlayerService/GetAvatarFrame/v1/"
	pathMiniProfileBackground = "/IPlayerService/GetMiniProfileBackground/v1/"
	pathProfileBackground     = "/IPlayerService/GetProfileBackground/v1/"
	pathSteamLevel            = "/IPlayerService/GetSteamLevel/v1/"
	pathFriendList            = "/ISteamUser/GetFriendList/v0001/"
	// pathSmokeTest is keyless on purpose: the expected 401 proves the
	// route carries traffic without spending API quota.
	pathSmokeTest = "/ISteamUser/GetPlayerSummaries/v0002/"

	// A profile at level 14 or above has been curated too long to be a
	// throwaway account.
	maxSteamLevel = 13
	// More friends than this and the account is an established profile.
	maxFriends = 60

	maxBodyBytes = 4 << 20
)

// Client runs profile checks. Asset and level lookups go out directly;
// friends and inventory route through the pool with cooldown-aware retry.
type Client struct {
	cfg  config.Config
	pool *proxypool.Pool
	gate *Gate
}

// New builds a client. The gate spaces every outbound call this client
// makes, checks and smoke tests alike.
func New(cfg config.Config, pool *proxypool.Pool) *Client {
	return &Client{cfg: cfg, pool: pool, gate: NewGate(cfg.MinCallInterval)}
}

// RunCheck executes one named check against one account.
func (c *Client) RunCheck(ctx domain.Context, check domain.CheckName, accountID string) (domain.CheckOutcome, error) {
	tracer := otel.Tracer("steam.client")
	ctx, span := tracer.Start(ctx, "RunCheck")
	span.SetAttributes(
		attribute.String("check", string(check)),
		attribute.String("account.id", accountID),
	)
	defer span.End()
	start := time.Now()

	var out domain.CheckOutcome
	var err error
	switch check {
	case domain.CheckAnimatedAvatar:
		out, err = c.assetCheck(ctx, check, pathAnimatedAvatar, "avatar", accountID)
	case domain.CheckAvatarFrame:
		out, err = c.assetCheck(ctx, check, pathAvatarFrame, "avatar_frame", accountID)
	case domain.CheckMiniProfileBackground:
		out, err = c.assetCheck(ctx, check, pathMiniProfileBackground, "profile_background", accountID)
	case domain.CheckProfileBackground:
		out, err = c.assetCheck(ctx, check, pathProfileBackground, "profile_background", accountID)
	case domain.CheckSteamLevel:
		out, err = c.steamLevel(ctx, accountID)
	case domain.CheckFriends:
		out, err = c.friends(ctx, accountID)
	case domain.CheckCSGOInventory:
		out, err = c.csgoInventory(ctx, accountID)
	default:
		return domain.CheckOutcome{}, fmt.Errorf("op=steam.RunCheck: check %q: %w", check, domain.ErrInvalidArgument)
	}

	outcome := "error"
	switch {
	case err != nil:
		span.RecordError(err)
	case out.Deferred:
		outcome = "deferred"
	case out.Passed:
		outcome = "passed"
	default:
		outcome = "failed"
	}
	observability.ObserveCheck(string(check), outcome, time.Since(start))
	return out, err
}

// SmokeTest probes the current pool connection with a keyless request.
// Any HTTP response, 401 included, proves the route carries traffic.
// Transport failures cool the connection like any other pool call.
func (c *Client) SmokeTest(ctx domain.Context) error {
	conn, allCooled, wait := c.pool.Current()
	if allCooled {
		slog.Info("smoke test skipped; every connection cooling",
			slog.Duration("next_available_in", wait))
		return nil
	}
	status, _, err := c.doThrough(ctx, conn, "", c.cfg.SteamAPIBaseURL+pathSmokeTest, nil)
	if err != nil {
		if class, worthy := Classify(0, err); worthy {
			c.pool.MarkCurrentCooldown(class, "", err.Error())
		}
		return fmt.Errorf("op=steam.SmokeTest: %w", err)
	}
	slog.Debug("smoke test ok",
		slog.String("kind", string(conn.Kind)),
		slog.String("url", conn.URL),
		slog.Int("status", status))
	return nil
}

// assetCheck passes when the profile does not own the asset: the named
// field is absent or empty in the response.
func (c *Client) assetCheck(ctx domain.Context, check domain.CheckName, path, field, accountID string) (domain.CheckOutcome, error) {
	q := url.Values{"steamid": {accountID}}
	status, body, err := c.directGet(ctx, check, path, q)
	if err != nil {
		return domain.CheckOutcome{}, fmt.Errorf("op=steam.%s: %w", check, err)
	}
	if status != http.StatusOK {
		return domain.CheckOutcome{}, fmt.Errorf("op=steam.%s: status %d", check, status)
	}
	var parsed struct {
		Response map[string]json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.CheckOutcome{}, fmt.Errorf("op=steam.%s: decode: %w", check, err)
	}
	if emptyJSONValue(parsed.Response[field]) {
		return domain.CheckOutcome{Passed: true, Details: "no " + field}, nil
	}
	return domain.CheckOutcome{Passed: false, Details: field + " equipped"}, nil
}

// steamLevel passes for low-level profiles. A response without a level
// means the profile hides it; that counts as a pass and marks the account
// private so the pool-routed checks can be skipped.
func (c *Client) steamLevel(ctx domain.Context, accountID string) (domain.CheckOutcome, error) {
	q := url.Values{"key": {c.cfg.SteamAPIKey}, "steamid": {accountID}}
	status, body, err := c.directGet(ctx, domain.CheckSteamLevel, pathSteamLevel, q)
	if err != nil {
		return domain.CheckOutcome{}, fmt.Errorf("op=steam.steam_level: %w", err)
	}
	if status != http.StatusOK {
		return domain.CheckOutcome{}, fmt.Errorf("op=steam.steam_level: status %d", status)
	}
	var parsed struct {
		Response struct {
			PlayerLevel *int `json:"player_level"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.CheckOutcome{}, fmt.Errorf("op=steam.steam_level: decode: %w", err)
	}
	lvl := parsed.Response.PlayerLevel
	if lvl == nil {
		return domain.CheckOutcome{Passed: true, Private: true, Details: "level hidden (private profile)"}, nil
	}
	if *lvl <= maxSteamLevel {
		return domain.CheckOutcome{Passed: true, Details: fmt.Sprintf("level %d", *lvl)}, nil
	}
	return domain.CheckOutcome{Passed: false, Details: fmt.Sprintf("level %d above %d", *lvl, maxSteamLevel)}, nil
}

// friends passes for small friend lists. 401 means the list is private,
// which also passes.
func (c *Client) friends(ctx domain.Context, accountID string) (domain.CheckOutcome, error) {
	q := url.Values{
		"key":          {c.cfg.SteamAPIKey},
		"steamid":      {accountID},
		"relationship": {"friend"},
	}
	urlStr := c.cfg.SteamAPIBaseURL + pathFriendList + "?" + q.Encode()
	status, body, deferred, err := c.poolGet(ctx, domain.CheckFriends, urlStr, nil)
	if deferred != nil {
		return *deferred, nil
	}
	if err != nil {
		return domain.CheckOutcome{}, fmt.Errorf("op=steam.friends: %w", err)
	}
	switch {
	case status == http.StatusUnauthorized:
		return domain.CheckOutcome{Passed: true, Details: "private friends list"}, nil
	case status == http.StatusOK:
		var parsed struct {
			FriendsList struct {
				Friends []json.RawMessage `json:"friends"`
			} `json:"friendslist"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return domain.CheckOutcome{}, fmt.Errorf("op=steam.friends: decode: %w", err)
		}
		n := len(parsed.FriendsList.Friends)
		if n <= maxFriends {
			return domain.CheckOutcome{Passed: true, Details: fmt.Sprintf("%d friends", n)}, nil
		}
		return domain.CheckOutcome{Passed: false, Details: fmt.Sprintf("%d friends above %d", n, maxFriends)}, nil
	default:
		return domain.CheckOutcome{}, fmt.Errorf("op=steam.friends: status %d", status)
	}
}

// csgoInventory passes when the inventory is empty or unreadable by
// design: null body, empty object, no assets, or a 401/403 private wall.
// Redirects are not followed; 3xx responses count as reachable and their
// empty bodies read as empty inventories.
func (c *Client) csgoInventory(ctx domain.Context, accountID string) (domain.CheckOutcome, error) {
	urlStr := c.cfg.SteamCommunityBaseURL + "/inventory/" + accountID + "/730/2"
	decorate := func(req *http.Request) {
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Sec-Fetch-Dest", "empty")
		req.Header.Set("Sec-Fetch-Mode", "cors")
		req.Header.Set("Sec-Fetch-Site", "same-origin")
	}
	status, body, deferred, err := c.poolGet(ctx, domain.CheckCSGOInventory, urlStr, decorate)
	if deferred != nil {
		return *deferred, nil
	}
	if err != nil {
		return domain.CheckOutcome{}, fmt.Errorf("op=steam.csgo_inventory: %w", err)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.CheckOutcome{Passed: true, Details: "private inventory"}, nil
	case status/100 == 2 || status/100 == 3:
		empty, err := emptyInventory(body)
		if err != nil {
			return domain.CheckOutcome{}, fmt.Errorf("op=steam.csgo_inventory: decode: %w", err)
		}
		if empty {
			return domain.CheckOutcome{Passed: true, Details: "empty inventory"}, nil
		}
		return domain.CheckOutcome{Passed: false, Details: "inventory has assets"}, nil
	default:
		return domain.CheckOutcome{}, fmt.Errorf("op=steam.csgo_inventory: status %d", status)
	}
}

// poolGet issues a GET through the pool, cooling and rotating connections
// on classified failures. The loop is bounded by the pool size: every
// retry path cools exactly one connection, and a fully cooled pool returns
// a deferred outcome carrying the earliest recovery delay.
func (c *Client) poolGet(ctx domain.Context, check domain.CheckName, urlStr string, decorate func(*http.Request)) (int, []byte, *domain.CheckOutcome, error) {
	conn, allCooled, wait := c.pool.Current()
	for {
		if allCooled {
			return 0, nil, &domain.CheckOutcome{Deferred: true, NextAvailableIn: wait}, nil
		}
		status, body, err := c.doThrough(ctx, conn, check, urlStr, decorate)
		if err == nil && status != http.StatusTooManyRequests {
			return status, body, nil, nil
		}
		class, worthy := Classify(status, err)
		if !worthy {
			return 0, nil, nil, err
		}
		msg := fmt.Sprintf("status %d", status)
		if err != nil {
			msg = err.Error()
		}
		slog.Warn("pool call failed; cooling connection",
			slog.String("check", string(check)),
			slog.String("kind", string(conn.Kind)),
			slog.String("url", conn.URL),
			slog.String("class", string(class)),
			slog.String("error", msg))
		conn, allCooled, wait = c.pool.MarkCurrentCooldown(class, check, msg)
	}
}

// doThrough performs one gated GET through the given connection.
func (c *Client) doThrough(ctx domain.Context, conn proxypool.Connection, check domain.CheckName, urlStr string, decorate func(*http.Request)) (int, []byte, error) {
	if sim := c.cfg.SimulatedPoolError; sim != "" {
		switch sim {
		case "429":
			return http.StatusTooManyRequests, nil, nil
		case "connection":
			return 0, nil, fmt.Errorf("simulated: connection reset by peer")
		case "socks":
			return 0, nil, fmt.Errorf("simulated: socks5 handshake rejected")
		}
	}
	if err := c.gate.Wait(ctx); err != nil {
		return 0, nil, err
	}
	client, err := proxypool.ClientFor(conn, proxypool.TimeoutFor(check))
	if err != nil {
		return 0, nil, err
	}
	if check == domain.CheckCSGOInventory {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", proxypool.UserAgent)
	if decorate != nil {
		decorate(req)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// directGet performs one gated GET against the API base without the pool.
func (c *Client) directGet(ctx domain.Context, check domain.CheckName, path string, q url.Values) (int, []byte, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return 0, nil, err
	}
	urlStr := c.cfg.SteamAPIBaseURL + path
	if len(q) > 0 {
		urlStr += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", proxypool.UserAgent)
	client := &http.Client{Timeout: proxypool.TimeoutFor(check)}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// emptyJSONValue reports whether a raw JSON value is absent or carries no
// content: null, {}, [], or "".
func emptyJSONValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}

// emptyInventory reports whether an inventory body holds no assets.
func emptyInventory(body []byte) (bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true, nil
	}
	var parsed struct {
		Assets []json.RawMessage `json:"assets"`
	}
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return false, err
	}
	return len(parsed.Assets) == 0, nil
}
