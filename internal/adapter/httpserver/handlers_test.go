package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/steam-vetter/internal/adapter/repo/filequeue"
	"github.com/fairyhunter13/steam-vetter/internal/config"
	"github.com/fairyhunter13/steam-vetter/internal/domain"
	"github.com/fairyhunter13/steam-vetter/internal/usecase"
)

type stubCollector struct {
	exists bool
	err    error
}

func (s stubCollector) Exists(_ domain.Context, _ string) (bool, error) { return s.exists, s.err }

func (s stubCollector) Submit(_ domain.Context, _, _ string) (domain.SubmitResult, error) {
	return domain.SubmitAccepted, nil
}

type stubPool struct {
	status  domain.PoolStatus
	addErr  error
	rmErr   error
	added   []string
	removed []string
}

func (p *stubPool) AllInCooldown() bool          { return p.status.AllInCooldown }
func (p *stubPool) Status() domain.PoolStatus    { return p.status }
func (p *stubPool) AddSOCKS5(raw string) error {
	if p.addErr != nil {
		return p.addErr
	}
	p.added = append(p.added, raw)
	return nil
}

func (p *stubPool) RemoveSOCKS5(raw string) error {
	if p.rmErr != nil {
		return p.rmErr
	}
	p.removed = append(p.removed, raw)
	return nil
}

func newTestServer(t *testing.T, coll domain.Collector) (*Server, *filequeue.Store, *stubPool) {
	t.Helper()
	store, err := filequeue.New(filepath.Join(t.TempDir(), "profiles_queue.json"))
	require.NoError(t, err)
	if coll == nil {
		coll = stubCollector{}
	}
	pool := &stubPool{status: domain.PoolStatus{Total: 1, Available: 1}}
	srv := NewServer(config.Config{IngressAPIKey: "k"}, usecase.NewEnqueueService(store, coll), usecase.NewStatsService(store), pool)
	return srv, store, pool
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func envelopeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	m := decodeBody(t, rec)
	e, ok := m["error"].(map[string]any)
	require.True(t, ok, "body %s lacks error envelope", rec.Body.String())
	code, _ := e["code"].(string)
	return code
}

func TestAddAccount_PostAdded(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	body := strings.NewReader(`{"steam_id":"76561197960434622","username":"alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/add-steam-id", body)
	rec := httptest.NewRecorder()
	srv.AddAccountHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decodeBody(t, rec)
	assert.Equal(t, true, m["added"])

	queued, err := store.Contains(context.Background(), "76561197960434622")
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestAddAccount_GetQuery(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/add-steam-id?steam_id=76561197960434622&username=bob", nil)
	rec := httptest.NewRecorder()
	srv.AddAccountHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["added"])
}

func TestAddAccount_AlreadyQueued(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	do := func() *httptest.ResponseRecorder {
		body := strings.NewReader(`{"steam_id":"76561197960434622","username":"alice"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/add-steam-id", body)
		rec := httptest.NewRecorder()
		srv.AddAccountHandler()(rec, req)
		return rec
	}
	require.Equal(t, http.StatusOK, do().Code)

	rec := do()
	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeBody(t, rec)
	assert.Equal(t, false, m["added"])
	assert.Equal(t, true, m["already_in_queue"])
}

func TestAddAccount_AlreadyCollected(t *testing.T) {
	srv, store, _ := newTestServer(t, stubCollector{exists: true})
	body := strings.NewReader(`{"steam_id":"76561197960434622","username":"alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/add-steam-id", body)
	rec := httptest.NewRecorder()
	srv.AddAccountHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeBody(t, rec)
	assert.Equal(t, false, m["added"])
	assert.Equal(t, true, m["already_exists"])

	queued, err := store.Contains(context.Background(), "76561197960434622")
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestAddAccount_InvalidID(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	body := strings.NewReader(`{"steam_id":"1234","username":"alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/add-steam-id", body)
	rec := httptest.NewRecorder()
	srv.AddAccountHandler()(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", envelopeCode(t, rec))
}

func TestAddAccount_BadJSON(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/add-steam-id", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	srv.AddAccountHandler()(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", envelopeCode(t, rec))
}

func TestAddAccount_NotAcceptable(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/add-steam-id", strings.NewReader(`{}`))
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	srv.AddAccountHandler()(rec, req)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestAddAccount_UsernameSanitized(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	body := strings.NewReader(`{"steam_id":"76561197960434622","username":"  bob\nthe builder "}`)
	req := httptest.NewRequest(http.MethodPost, "/api/add-steam-id", body)
	rec := httptest.NewRecorder()
	srv.AddAccountHandler()(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	items, err := store.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bob the builder", items[0].Submitter)
}

func TestHealthHandler(t *testing.T) {
	srv, _, pool := newTestServer(t, nil)
	pool.status = domain.PoolStatus{Total: 3, Available: 2, NextAvailableInMS: 1500}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.HealthHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeBody(t, rec)
	assert.Equal(t, "ok", m["status"])
	conns, ok := m["connections"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), conns["total"])
	assert.Equal(t, float64(2), conns["available"])
	assert.Equal(t, false, conns["all_in_cooldown"])
	assert.Equal(t, float64(1500), conns["next_available_in_ms"])
	assert.NotEmpty(t, m["uptime"])
}

func TestQueueStatsHandler(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	require.NoError(t, store.Append(context.Background(), domain.NewQueueItem("76561197960434622", "alice")))

	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil)
	rec := httptest.NewRecorder()
	srv.QueueStatsHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeBody(t, rec)
	assert.Equal(t, float64(1), m["total"])
	bySubmitter, ok := m["by_submitter"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), bySubmitter["alice"])
}
