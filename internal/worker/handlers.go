package worker

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/synapse/internal/maintenance"
	"github.com/thebtf/synapse/internal/worker/ratelimit"
	"github.com/thebtf/synapse/internal/worker/realtime"
)

// errorResponse is the JSON body of every API error.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// handleHealth answers 200 even during init; use /api/ready for readiness.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	} else if err := s.GetInitError(); err != nil {
		status = "error"
	}
	writeJSON(w, map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleReady returns 200 only when fully initialized, 503 otherwise.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		if err := s.GetInitError(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// requireReady is middleware that returns 503 if service isn't ready.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			if err := s.GetInitError(); err != nil {
				http.Error(w, "service initialization failed: "+err.Error(), http.StatusInternalServerError)
				return
			}
			http.Error(w, "service initializing", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireWorkspaceID rejects malformed {workspaceID} path values.
func requireWorkspaceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := ValidateWorkspaceID(chi.URLParam(r, "workspaceID")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Uptime       string            `json:"uptime"`
	Version      string            `json:"version"`
	Realtime     realtime.Stats    `json:"realtime"`
	Requests     ratelimit.Stats   `json:"requests"`
	Cursors      ratelimit.Stats   `json:"cursors"`
	Checkpoint   maintenance.Stats `json:"checkpoint"`
	Database     any               `json:"database"`
	Workspaces   []string          `json:"workspaces"`
	ActiveRooms  []string          `json:"active_rooms"`
	Connections  int               `json:"connections"`
	NamerEnabled bool              `json:"namer_enabled"`
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatsResponse{
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		Version:      s.version,
		Realtime:     s.broadcaster.Stats(),
		Requests:     s.requestLimiter.Stats(),
		Cursors:      s.cursorLimiter.Stats(),
		Checkpoint:   s.checkpoint.Stats(),
		Database:     s.store.HealthCheck(r.Context()),
		Workspaces:   s.registry.Workspaces(),
		ActiveRooms:  s.rooms.ActiveRooms(),
		Connections:  s.broadcaster.ConnectionCount(),
		NamerEnabled: s.clusterer.HasNamer(),
	})
}

func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	s.broadcaster.ServeWS(w, r)
}
