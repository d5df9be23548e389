package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/steam-vetter/internal/config"
	"github.com/fairyhunter13/steam-vetter/internal/domain"
	"github.com/fairyhunter13/steam-vetter/internal/usecase"
	"github.com/fairyhunter13/steam-vetter/pkg/textx"
)

// PoolAdmin is the pool surface the HTTP layer needs: the shared status
// snapshot plus SOCKS5 add and remove for the admin endpoints.
type PoolAdmin interface {
	domain.EgressPool
	AddSOCKS5(raw string) error
	RemoveSOCKS5(raw string) error
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg       config.Config
	Enqueue   usecase.EnqueueService
	Stats     usecase.StatsService
	Pool      PoolAdmin
	StartedAt time.Time
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, enqueue usecase.EnqueueService, stats usecase.StatsService, pool PoolAdmin) *Server {
	return &Server{Cfg: cfg, Enqueue: enqueue, Stats: stats, Pool: pool, StartedAt: time.Now()}
}

// AddAccountHandler accepts an account for vetting. POST carries a JSON
// body; GET carries the same fields as query parameters so the endpoint
// stays usable from a plain browser or curl one-liner.
func (s *Server) AddAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept negotiation: only JSON responses supported
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a}}})
			return
		}
		var req addAccountRequest
		if r.Method == http.MethodGet {
			req.SteamID = r.URL.Query().Get("steam_id")
			req.Username = r.URL.Query().Get("username")
		} else {
			// Cap body size to prevent abuse
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
		}
		req.Username = textx.SanitizeHandle(req.Username)
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}

		res, err := s.Enqueue.Submit(r.Context(), req.SteamID, req.Username)
		if err != nil {
			writeError(w, r, fmt.Errorf("enqueue: %w", err), nil)
			return
		}
		switch res {
		case domain.EnqueueAlreadyQueued:
			writeJSON(w, http.StatusOK, map[string]any{"added": false, "already_in_queue": true})
		case domain.EnqueueAlreadyCollected:
			writeJSON(w, http.StatusOK, map[string]any{"added": false, "already_exists": true})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"added": true})
		}
	}
}

// HealthHandler reports pool counters and process uptime. Deliberately
// unauthenticated so probes and dashboards can reach it.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st := s.Pool.Status()
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"connections": map[string]any{
				"total":                st.Total,
				"available":            st.Available,
				"all_in_cooldown":      st.AllInCooldown,
				"next_available_in_ms": st.NextAvailableInMS,
			},
			"uptime": time.Since(s.StartedAt).Round(time.Second).String(),
		})
	}
}

// QueueStatsHandler returns per-check and per-submitter queue counts.
func (s *Server) QueueStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Stats.QueueStats(r.Context())
		if err != nil {
			writeError(w, r, fmt.Errorf("queue stats: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
