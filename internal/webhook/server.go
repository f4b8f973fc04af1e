// Package webhook serves the local HTTP API used to inspect and steer a
// running tracker: status, roster, buffered kills, the activity log, key
// activation and commander-mode commands.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/user/killtracker/internal/keys"
	"github.com/user/killtracker/internal/monitor"
	"github.com/user/killtracker/internal/types"
)

// Tracker is the slice of a running monitor the API exposes.
type Tracker interface {
	Status() monitor.Status
	Activate(ctx context.Context, key string) error
	Roster() (connected, allocated []types.RosterEntry)
	BufferedKills() []types.BufferEntry
	FlushBuffer(ctx context.Context) (int, error)
	SessionEvents(ctx context.Context, limit int) ([]*types.Event, error)
	Command(ctx context.Context, action string, players []string) error
	SetVolume(level float64, muted bool) error
}

// Server is a lightweight HTTP handler for the tracker API.
type Server struct {
	tracker Tracker
	mux     *http.ServeMux
}

func NewServer(tracker Tracker) *Server {
	s := &Server{tracker: tracker, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/roster", s.handleRoster)
	s.mux.HandleFunc("GET /api/buffer", s.handleBuffer)
	s.mux.HandleFunc("POST /api/buffer/flush", s.handleFlush)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/key", s.handleKey)
	s.mux.HandleFunc("POST /api/volume", s.handleVolume)
	s.mux.HandleFunc("POST /api/commander/{action}", s.handleCommand)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.tracker.Status())
}

type rosterResponse struct {
	Connected []types.RosterEntry `json:"connected"`
	Allocated []types.RosterEntry `json:"allocated"`
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	connected, allocated := s.tracker.Roster()
	if connected == nil {
		connected = []types.RosterEntry{}
	}
	if allocated == nil {
		allocated = []types.RosterEntry{}
	}
	writeJSON(w, rosterResponse{Connected: connected, Allocated: allocated})
}

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request) {
	entries := s.tracker.BufferedKills()
	if entries == nil {
		entries = []types.BufferEntry{}
	}
	writeJSON(w, entries)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	sent, err := s.tracker.FlushBuffer(r.Context())
	resp := map[string]any{"sent": sent, "remaining": len(s.tracker.BufferedKills())}
	if err != nil {
		slog.Warn("buffer flush stopped", "sent", sent, "error", err)
		resp["error"] = err.Error()
	}
	writeJSON(w, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.tracker.SessionEvents(r.Context(), limit)
	if err != nil {
		slog.Error("tail events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, events)
}

type keyRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	switch err := s.tracker.Activate(r.Context(), req.Key); {
	case errors.Is(err, keys.ErrNoIdentity):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, keys.ErrInvalidKey):
		writeError(w, http.StatusForbidden, err.Error())
	case err != nil:
		slog.Error("key activation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeJSON(w, map[string]string{"status": s.tracker.Status().KeyStatus})
	}
}

type volumeRequest struct {
	Level float64 `json:"level"`
	Muted bool    `json:"muted"`
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Level < 0 || req.Level > 1 {
		writeError(w, http.StatusBadRequest, "level must be between 0 and 1")
		return
	}
	if err := s.tracker.SetVolume(req.Level, req.Muted); err != nil {
		slog.Error("save volume failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, req)
}

// commandRequest is the optional JSON body for /api/commander/{action}.
type commandRequest struct {
	Players []string `json:"players"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")

	var body commandRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	if err := s.tracker.Command(r.Context(), action, body.Players); err != nil {
		if errors.Is(err, monitor.ErrUnknownCommand) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		slog.Warn("commander command failed", "action", action, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, s.tracker.Status().Commander)
}
