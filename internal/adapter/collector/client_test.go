package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/steam-vetter/internal/config"
	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

func newClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(config.Config{
		CollectorAPIKey:    "secret",
		CollectorSubmitURL: ts.URL + "/submit",
		CollectorExistsURL: ts.URL + "/exists",
	})
}

func TestExists(t *testing.T) {
	t.Parallel()
	var gotPath string
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"exists":true}`))
	}))

	ok, err := c.Exists(context.Background(), "76561197960434622")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/exists/76561197960434622/", gotPath)
}

func TestExists_False(t *testing.T) {
	t.Parallel()
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"exists":false}`))
	}))

	ok, err := c.Exists(context.Background(), "76561197960434622")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExists_Non200(t *testing.T) {
	t.Parallel()
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.Exists(context.Background(), "76561197960434622")
	require.Error(t, err)
}

func TestSubmit_Accepted(t *testing.T) {
	t.Parallel()
	var gotQuery map[string]string
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"account_id": q.Get("account_id"),
			"submitter":  q.Get("submitter"),
			"api_key":    q.Get("api_key"),
		}
		_, _ = w.Write([]byte("OK"))
	}))

	res, err := c.Submit(context.Background(), "76561197960434622", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmitAccepted, res)
	assert.Equal(t, map[string]string{
		"account_id": "76561197960434622",
		"submitter":  "alice",
		"api_key":    "secret",
	}, gotQuery)
}

func TestSubmit_DuplicateSentinel(t *testing.T) {
	t.Parallel()
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("error: Link already exists in storage"))
	}))

	res, err := c.Submit(context.Background(), "76561197960434622", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmitDuplicate, res)
}

func TestSubmit_ServerErrorIsRetryable(t *testing.T) {
	t.Parallel()
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Submit(context.Background(), "76561197960434622", "alice")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestSubmit_ClientErrorIsPermanent(t *testing.T) {
	t.Parallel()
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.Submit(context.Background(), "76561197960434622", "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestSubmit_TransportErrorIsRetryable(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.NotFoundHandler())
	c := New(config.Config{
		CollectorAPIKey:    "secret",
		CollectorSubmitURL: ts.URL + "/submit",
		CollectorExistsURL: ts.URL + "/exists",
	})
	ts.Close()

	_, err := c.Submit(context.Background(), "76561197960434622", "alice")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}
