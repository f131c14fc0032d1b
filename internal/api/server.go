// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/elter-ri/dar-harvester/internal/config"
	"github.com/elter-ri/dar-harvester/internal/rules"
	"github.com/elter-ri/dar-harvester/internal/store"
)

// Syncer is the slice of the harvester the API needs.
type Syncer interface {
	SyncRepository(ctx context.Context, repository string) error
	SyncRecord(ctx context.Context, repository, sourceURL string) error
	SyncByRegistryID(ctx context.Context, registryID string) error
}

// Server wires HTTP handlers to the harvester and stores.
type Server struct {
	router  chi.Router
	syncer  Syncer
	stores  *store.Stores
	cfg     config.Config
	log     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(syncer Syncer, stores *store.Stores, cfg config.Config, log *zap.Logger) *Server {
	s := &Server{
		syncer: syncer,
		stores: stores,
		cfg:    cfg,
		log:    log,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(log))
	r.Use(recoverMiddleware(log))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/repositories/{repository}/sync", s.syncRepository)
		r.Post("/records/sync", s.syncRecord)
		r.Route("/records/{registry_id}/rules", func(r chi.Router) {
			r.Get("/", s.listRules)
			r.Post("/", s.upsertRules)
			r.Post("/diff", s.diffRules)
			r.Delete("/{rule_id}", s.deleteRule)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// syncRepository starts a full synchronization job in the background. Jobs
// can run for a long time, so the handler only confirms the start.
func (s *Server) syncRepository(w http.ResponseWriter, r *http.Request) {
	repository := chi.URLParam(r, "repository")
	if _, ok := s.cfg.Repositories[repository]; !ok {
		writeError(w, http.StatusNotFound, "unknown repository")
		return
	}
	go func() {
		if err := s.syncer.SyncRepository(context.Background(), repository); err != nil {
			s.log.Error("background sync failed",
				zap.String("repository", repository), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"repository": repository,
		"status":     "started",
	})
}

type recordSyncRequest struct {
	Repository string `json:"repository"`
	SourceURL  string `json:"source_url"`
}

func (s *Server) syncRecord(w http.ResponseWriter, r *http.Request) {
	var req recordSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Repository == "" || req.SourceURL == "" {
		writeError(w, http.StatusBadRequest, "repository and source_url required")
		return
	}
	if err := s.syncer.SyncRecord(r.Context(), req.Repository, req.SourceURL); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"repository": req.Repository,
		"source_url": req.SourceURL,
		"status":     "synced",
	})
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	registryID := chi.URLParam(r, "registry_id")
	out, err := s.stores.Rules.ListForRecord(r.Context(), registryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	if out == nil {
		out = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

type upsertRulesRequest struct {
	Rules []rules.Rule `json:"rules"`
}

// upsertRules stores the submitted rules and re-syncs the owning record so
// the overrides take effect immediately.
func (s *Server) upsertRules(w http.ResponseWriter, r *http.Request) {
	registryID := chi.URLParam(r, "registry_id")
	var req upsertRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Rules) == 0 {
		writeError(w, http.StatusBadRequest, "at least one rule required")
		return
	}
	for i := range req.Rules {
		req.Rules[i].RegistryID = registryID
		if err := validateRule(req.Rules[i]); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	for i := range req.Rules {
		if err := s.stores.Rules.Upsert(r.Context(), &req.Rules[i]); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store rule")
			return
		}
	}
	if err := s.syncer.SyncByRegistryID(r.Context(), registryID); err != nil {
		s.log.Warn("re-sync after rule upsert failed",
			zap.String("registry_id", registryID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": req.Rules})
}

type diffRequest struct {
	Original map[string]any `json:"original"`
	Edited   map[string]any `json:"edited"`
}

// diffRules generates the rules a curator edit implies, without storing
// them. The UI shows these before the curator confirms.
func (s *Server) diffRules(w http.ResponseWriter, r *http.Request) {
	registryID := chi.URLParam(r, "registry_id")
	var req diffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Original == nil || req.Edited == nil {
		writeError(w, http.StatusBadRequest, "original and edited required")
		return
	}
	generated := rules.Generate(registryID, req.Original, req.Edited)
	if generated == nil {
		generated = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": generated})
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	registryID := chi.URLParam(r, "registry_id")
	ruleID := chi.URLParam(r, "rule_id")
	if err := s.stores.Rules.Delete(r.Context(), registryID, ruleID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	if err := s.syncer.SyncByRegistryID(r.Context(), registryID); err != nil {
		s.log.Warn("re-sync after rule delete failed",
			zap.String("registry_id", registryID), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateRule(r rules.Rule) error {
	switch r.Type {
	case rules.TypeReplace, rules.TypeAdd, rules.TypeRemove:
	default:
		return fmt.Errorf("unsupported rule type %q", r.Type)
	}
	if r.TargetPath == "" {
		return errors.New("target_path required")
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			log.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
