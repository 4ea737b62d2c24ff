// SPDX-License-Identifier: Apache-2.0
// Package server exposes the agent's REST surface and the WebSocket
// endpoint. Everything here is thin: parse, delegate, render JSON.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adjutant-ops/adjutant/pkg/audit"
	"github.com/adjutant-ops/adjutant/pkg/catalog"
	"github.com/adjutant-ops/adjutant/pkg/gateway"
	"github.com/adjutant-ops/adjutant/pkg/safety"
	"github.com/adjutant-ops/adjutant/pkg/session"
)

// AgentConfig is the runtime-tunable part of the agent, served and
// updated through /api/v1/agent/config.
type AgentConfig struct {
	Name               string   `json:"name"`
	ServerName         string   `json:"server_name"`
	Mission            string   `json:"mission"`
	Formality          int      `json:"formality"`
	Verbosity          int      `json:"verbosity"`
	Humor              int      `json:"humor"`
	Model              string   `json:"model"`
	EnabledSkills      []string `json:"enabled_skills"`
	WriteMode          bool     `json:"write_mode"`
	WriteCapableModels []string `json:"write_capable_models"`
}

// agentConfigUpdate is the partial-update body for PUT.
type agentConfigUpdate struct {
	Name               *string   `json:"name"`
	ServerName         *string   `json:"server_name"`
	Mission            *string   `json:"mission"`
	Formality          *int      `json:"formality"`
	Verbosity          *int      `json:"verbosity"`
	Humor              *int      `json:"humor"`
	Model              *string   `json:"model"`
	EnabledSkills      *[]string `json:"enabled_skills"`
	WriteMode          *bool     `json:"write_mode"`
	WriteCapableModels *[]string `json:"write_capable_models"`
}

// Server wires the REST handlers.
type Server struct {
	catalog   *catalog.Catalog
	skillsDir string
	gateway   *gateway.Gateway
	sessions  session.Store
	audit     audit.Logger
	log       *slog.Logger

	mu     sync.RWMutex
	agent  AgentConfig
	report *catalog.LoadReport
}

// New creates a Server. report may be nil when the initial load was clean.
func New(cat *catalog.Catalog, skillsDir string, gw *gateway.Gateway, sessions session.Store, auditLog audit.Logger, agent AgentConfig, report *catalog.LoadReport, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		catalog:   cat,
		skillsDir: skillsDir,
		gateway:   gw,
		sessions:  sessions,
		audit:     auditLog,
		log:       log,
		agent:     agent,
		report:    report,
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.gateway.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/agent/config", s.handleGetConfig)
		r.Put("/agent/config", s.handlePutConfig)
		r.Get("/skills", s.handleListSkills)
		r.Post("/skills/reload", s.handleReloadSkills)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Get("/audit", s.handleListAudit)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	agent := s.agent
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var upd agentConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	if upd.Name != nil {
		s.agent.Name = *upd.Name
	}
	if upd.ServerName != nil {
		s.agent.ServerName = *upd.ServerName
	}
	if upd.Mission != nil {
		s.agent.Mission = *upd.Mission
	}
	if upd.Formality != nil {
		s.agent.Formality = *upd.Formality
	}
	if upd.Verbosity != nil {
		s.agent.Verbosity = *upd.Verbosity
	}
	if upd.Humor != nil {
		s.agent.Humor = *upd.Humor
	}
	if upd.Model != nil {
		s.agent.Model = *upd.Model
	}
	if upd.EnabledSkills != nil {
		s.agent.EnabledSkills = *upd.EnabledSkills
	}
	if upd.WriteMode != nil {
		s.agent.WriteMode = *upd.WriteMode
	}
	if upd.WriteCapableModels != nil {
		s.agent.WriteCapableModels = *upd.WriteCapableModels
	}
	agent := s.agent
	s.mu.Unlock()

	s.applyToGateway(agent)
	writeJSON(w, http.StatusOK, agent)
}

// applyToGateway pushes config changes into the turn loop. Write mode only
// takes effect when the configured model is write-capable.
func (s *Server) applyToGateway(agent AgentConfig) {
	opts := s.gateway.Options()
	opts.Model = agent.Model
	opts.EnabledSkills = agent.EnabledSkills
	opts.WriteMode = agent.WriteMode &&
		safety.IsWriteCapableModel(agent.Model, agent.WriteCapableModels)
	s.gateway.SetOptions(opts)
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	report := s.report
	s.mu.RUnlock()

	resp := map[string]any{"skills": s.catalog.Skills()}
	if report != nil {
		resp["loaded"] = report.Loaded
		resp["errors"] = report.Errors
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReloadSkills(w http.ResponseWriter, r *http.Request) {
	fresh, report, err := catalog.LoadDir(s.skillsDir)
	if err != nil {
		s.log.ErrorContext(r.Context(), "skill reload failed", "dir", s.skillsDir, "error", err)
		writeError(w, http.StatusInternalServerError, "skill reload failed: "+err.Error())
		return
	}
	s.catalog.Replace(fresh)
	s.mu.Lock()
	s.report = report
	s.mu.Unlock()

	s.log.InfoContext(r.Context(), "skills reloaded",
		"loaded", report.Loaded, "errors", len(report.Errors))
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded": report.Loaded,
		"errors": report.Errors,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context(), r.URL.Query().Get("operator"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	if list == nil {
		list = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ok, err := s.sessions.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		SessionID: q.Get("session"),
		Outcome:   q.Get("outcome"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until must be RFC3339")
			return
		}
		filter.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	entries, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit store unavailable")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
