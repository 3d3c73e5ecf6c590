package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/agentworkforce/papersync/internal/logging"
	"github.com/agentworkforce/papersync/internal/syncer"
)

// StatusProvider exposes the syncer's current snapshot to the admin API.
type StatusProvider interface {
	Status() syncer.Status
}

type ServerConfig struct {
	AdminToken string
	Logger     logging.Logger
	// Trigger, when set, requests an immediate sync cycle. Nil disables
	// the trigger endpoint.
	Trigger func()
}

type Server struct {
	status StatusProvider
	hub    *EventHub
	cfg    ServerConfig
	logger logging.Logger
}

func NewServer(status StatusProvider, hub *EventHub, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		status: status,
		hub:    hub,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}

	if authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.AdminToken); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}

	switch {
	case r.URL.Path == "/v1/admin/sync" && r.Method == http.MethodGet:
		s.handleSyncStatus(w, r)
	case r.URL.Path == "/v1/admin/sync/trigger" && r.Method == http.MethodPost:
		s.handleSyncTrigger(w, r)
	case r.URL.Path == "/v1/admin/sync/events" && r.Method == http.MethodGet:
		if s.hub == nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "event feed not enabled", getCorrelationID(r))
			return
		}
		s.handleSyncEvents(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	}
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "syncer not running", getCorrelationID(r))
		return
	}
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "manual trigger not enabled", getCorrelationID(r))
		return
	}
	s.cfg.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
