// Package collector talks to the downstream service that stores vetted
// accounts: an existence probe consulted at enqueue time and the final
// submit call.
package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/steam-vetter/internal/adapter/observability"
	"github.com/fairyhunter13/steam-vetter/internal/config"
	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// duplicateSentinel is the body fragment the downstream returns when it
// already holds the account. Part of the downstream contract.
const duplicateSentinel = "Link already exists"

const requestTimeout = 10 * time.Second

// Client implements domain.Collector over the downstream HTTP API.
type Client struct {
	submitURL string
	existsURL string
	apiKey    string
	http      *http.Client
}

// New builds a collector client with an OTEL-instrumented transport.
func New(cfg config.Config) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)
		}))
	return &Client{
		submitURL: cfg.CollectorSubmitURL,
		existsURL: cfg.CollectorExistsURL,
		apiKey:    cfg.CollectorAPIKey,
		http:      &http.Client{Timeout: requestTimeout, Transport: transport},
	}
}

// Exists reports whether the downstream already holds the account.
func (c *Client) Exists(ctx domain.Context, accountID string) (bool, error) {
	u := c.existsURL
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	u += accountID + "/"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("op=collector.Exists: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("op=collector.Exists: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("op=collector.Exists: status %d", resp.StatusCode)
	}
	var parsed struct {
		Exists bool `json:"exists"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("op=collector.Exists: decode: %w", err)
	}
	return parsed.Exists, nil
}

// Submit hands a vetted account to the downstream. 5xx responses and
// transport failures wrap ErrUpstreamUnavailable so the worker retries on
// a later pass; any other failure is permanent.
func (c *Client) Submit(ctx domain.Context, accountID, submitter string) (domain.SubmitResult, error) {
	u, err := url.Parse(c.submitURL)
	if err != nil {
		return "", fmt.Errorf("op=collector.Submit: parse url: %w", err)
	}
	q := u.Query()
	q.Set("account_id", accountID)
	q.Set("submitter", submitter)
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("op=collector.Submit: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		observability.SubmitsTotal.WithLabelValues("retryable_error").Inc()
		return "", fmt.Errorf("op=collector.Submit: %v: %w", err, domain.ErrUpstreamUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		observability.SubmitsTotal.WithLabelValues("retryable_error").Inc()
		return "", fmt.Errorf("op=collector.Submit: read body: %v: %w", err, domain.ErrUpstreamUnavailable)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if strings.Contains(string(body), duplicateSentinel) {
			observability.SubmitsTotal.WithLabelValues("duplicate").Inc()
			slog.Info("collector already held account",
				slog.String("account_id", accountID),
				slog.String("submitter", submitter))
			return domain.SubmitDuplicate, nil
		}
		observability.SubmitsTotal.WithLabelValues("accepted").Inc()
		return domain.SubmitAccepted, nil
	case resp.StatusCode >= 500:
		observability.SubmitsTotal.WithLabelValues("retryable_error").Inc()
		return "", fmt.Errorf("op=collector.Submit: status %d: %w", resp.StatusCode, domain.ErrUpstreamUnavailable)
	default:
		observability.SubmitsTotal.WithLabelValues("permanent_error").Inc()
		return "", fmt.Errorf("op=collector.Submit: status %d", resp.StatusCode)
	}
}
