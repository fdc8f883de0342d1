package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"vitalguard/internal/access"
	"vitalguard/internal/audit"
	"vitalguard/internal/config"
	"vitalguard/internal/engine"
	"vitalguard/internal/model"
	"vitalguard/internal/stream"
)

// Server exposes the action API, the audit query, and the live event
// stream. Authentication lives in an upstream service; the principal
// arrives as trusted headers.
type Server struct {
	cfg     *config.Manager
	engine  *engine.Engine
	hub     *stream.Hub
	trail   *audit.Trail
	access  access.Resolver
	logger  *slog.Logger
	version string
}

func Start(ctx context.Context, cfg *config.Manager, eng *engine.Engine, hub *stream.Hub, trail *audit.Trail, resolver access.Resolver, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, eng, hub, trail, resolver, logger, version)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

// Handler builds the route table without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/alerts/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("/alerts/action", s.handleAction)
	mux.HandleFunc("/alerts/bulk_acknowledge", s.handleBulkAcknowledge)
	mux.HandleFunc("/audit", s.handleAudit)
	return mux
}

// NewServer wires a Server without starting it; Start covers the
// production path.
func NewServer(cfg *config.Manager, eng *engine.Engine, hub *stream.Hub, trail *audit.Trail, resolver access.Resolver, logger *slog.Logger, version string) *Server {
	return &Server{cfg: cfg, engine: eng, hub: hub, trail: trail, access: resolver, logger: logger, version: version}
}

func principalFrom(r *http.Request) (model.Principal, bool) {
	id := r.Header.Get("X-Actor-ID")
	role := model.Role(r.Header.Get("X-Actor-Role"))
	if id == "" {
		return model.Principal{}, false
	}
	switch role {
	case model.RolePatient, model.RoleCaregiver, model.RoleSystem:
	default:
		return model.Principal{}, false
	}
	return model.Principal{ID: id, Role: role}, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"time":        time.Now().UTC().Format(time.RFC3339Nano),
		"version":     s.version,
		"subscribers": s.hub.Len(),
		"ingest": map[string]bool{
			"rest":  cfg.Ingest.REST.Enabled,
			"kafka": cfg.Ingest.Kafka.Enabled,
		},
		"api": map[string]any{"enabled": cfg.API.Enabled, "addr": cfg.API.Addr},
	})
}

// handleStream is the long-lived push channel: one JSON object per
// line, snapshot first, keepalive frames between quiet periods.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation", "missing or invalid actor headers")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "transport", "streaming unsupported")
		return
	}

	// Snapshot and registration are atomic with respect to engine
	// mutations, so the init frame and the live feed never overlap
	// or leave a gap.
	scope := s.access.ResolveScope(principal)
	sub := s.engine.Subscribe(r.Context(), principal, scope)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	keepalive := s.cfg.Get().Stream.Keepalive
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()
	enc := json.NewEncoder(w)

	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := enc.Encode(ev); err != nil {
				s.hub.Unsubscribe(sub.ID)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			ev := model.Event{Type: model.EventKeepalive, Time: time.Now().UTC()}
			if err := enc.Encode(ev); err != nil {
				s.hub.Unsubscribe(sub.ID)
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation", "missing or invalid actor headers")
		return
	}
	scope := s.access.ResolveScope(principal)
	list := s.engine.VisibleActive(scope)
	payload := map[string]any{
		"alerts": list,
		"count":  len(list),
	}
	// ?resolved=N appends recent terminal alerts for history views.
	if v := r.URL.Query().Get("resolved"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			payload["resolved"] = s.engine.VisibleResolved(scope, n)
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

type acknowledgeRequest struct {
	AlertID string `json:"alert_id"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	principal, req, ok := s.decodeAction(w, r)
	if !ok {
		return
	}
	var body acknowledgeRequest
	if err := json.Unmarshal(req, &body); err != nil || body.AlertID == "" {
		writeError(w, http.StatusBadRequest, "validation", "alert_id required")
		return
	}
	alert, err := s.engine.Acknowledge(body.AlertID, principal, body.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alert": alert})
}

type actionRequest struct {
	AlertID string           `json:"alert_id"`
	Action  model.ActionKind `json:"action"`
	Note    string           `json:"note,omitempty"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	principal, req, ok := s.decodeAction(w, r)
	if !ok {
		return
	}
	var body actionRequest
	if err := json.Unmarshal(req, &body); err != nil || body.AlertID == "" || body.Action == "" {
		writeError(w, http.StatusBadRequest, "validation", "alert_id and action required")
		return
	}
	alert, err := s.engine.CaregiverAction(body.AlertID, principal, body.Action, body.Note)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alert": alert})
}

type bulkAcknowledgeRequest struct {
	Tier model.Tier `json:"tier,omitempty"`
}

func (s *Server) handleBulkAcknowledge(w http.ResponseWriter, r *http.Request) {
	principal, req, ok := s.decodeAction(w, r)
	if !ok {
		return
	}
	var body bulkAcknowledgeRequest
	if len(req) > 0 {
		if err := json.Unmarshal(req, &body); err != nil {
			writeError(w, http.StatusBadRequest, "validation", "malformed payload")
			return
		}
	}
	count, ids, err := s.engine.BulkAcknowledge(principal, body.Tier)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"acknowledged": count,
		"alert_ids":    ids,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation", "missing or invalid actor headers")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	scope := s.access.ResolveScope(principal)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": s.trail.List(scope, limit),
		"summary": s.trail.Summary(scope),
	})
}

func (s *Server) decodeAction(w http.ResponseWriter, r *http.Request) (model.Principal, []byte, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return model.Principal{}, nil, false
	}
	principal, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation", "missing or invalid actor headers")
		return model.Principal{}, nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "unreadable body")
		return model.Principal{}, nil, false
	}
	return principal, body, true
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, engine.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, engine.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "already_resolved", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": kind, "message": message},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
