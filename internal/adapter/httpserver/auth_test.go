package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeyAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := APIKeyAuth("secret")(next)

	t.Run("missing key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/add-steam-id", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/add-steam-id", nil)
		req.Header.Set("X-Api-Key", "nope")
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("header key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/add-steam-id", nil)
		req.Header.Set("X-Api-Key", "secret")
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("query key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/add-steam-id?api_key=secret", nil)
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("header wins over query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/add-steam-id?api_key=secret", nil)
		req.Header.Set("X-Api-Key", "nope")
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
