package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// ListProxiesHandler returns the pool snapshot with per-connection state.
func (s *Server) ListProxiesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Pool.Status())
	}
}

// AddProxyHandler registers a SOCKS5 proxy with the pool and persists the
// new rotation.
func (s *Server) AddProxyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req addProxyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		if err := s.Pool.AddSOCKS5(req.URL); err != nil {
			writeError(w, r, err, map[string]string{"url": req.URL})
			return
		}
		LoggerFrom(r).Info("proxy added", slog.String("url", req.URL))
		writeJSON(w, http.StatusOK, s.Pool.Status())
	}
}

// RemoveProxyHandler drops a SOCKS5 proxy from the pool. The url query
// parameter names the proxy; the direct connection can never be removed.
func (s *Server) RemoveProxyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("url")
		if raw == "" {
			writeError(w, r, fmt.Errorf("%w: url query parameter required", domain.ErrInvalidArgument), nil)
			return
		}
		if err := s.Pool.RemoveSOCKS5(raw); err != nil {
			writeError(w, r, err, map[string]string{"url": raw})
			return
		}
		LoggerFrom(r).Info("proxy removed", slog.String("url", raw))
		writeJSON(w, http.StatusOK, s.Pool.Status())
	}
}
