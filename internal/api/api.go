// Package api wires the HTTP surface: the synchronous transcription
// endpoint, inspection endpoints over the Session Registry, and the
// Prometheus scrape endpoint. The streaming endpoint itself is served by
// internal/transport; this package just mounts it on the mux.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/yueh-ai/voice-to-text/internal/logger"
	"github.com/yueh-ai/voice-to-text/internal/registry"
	"github.com/yueh-ai/voice-to-text/internal/session"
	"github.com/yueh-ai/voice-to-text/internal/telemetry"
	"github.com/yueh-ai/voice-to-text/internal/transport"
)

// Version is the service's semantic version, validated at startup so a
// malformed build tag fails fast instead of surfacing a bad /health payload.
var Version = "0.1.0"

func init() {
	if _, err := semver.StrictNewVersion(Version); err != nil {
		panic("api: invalid service version: " + err.Error())
	}
}

// Server owns the HTTP mux and its dependencies.
type Server struct {
	bindAddr string
	registry *registry.Registry
	adapter  *transport.Adapter
	metrics  *telemetry.Collectors
	log      *logger.ContextLogger

	httpServer *http.Server
}

// New constructs a Server. metrics may be nil to skip mounting /metrics.
func New(bindAddr string, reg *registry.Registry, metrics *telemetry.Collectors, log *logger.Logger) *Server {
	return &Server{
		bindAddr: bindAddr,
		registry: reg,
		adapter:  transport.New(reg, log.With(logger.ComponentTransport)),
		metrics:  metrics,
		log:      log.With(logger.ComponentAPI),
	}
}

// Start builds the mux and begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.adapter.ServeHTTP)
	mux.HandleFunc("/transcribe", s.handleTranscribe)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/metrics", s.handleSessionsMetrics)
	mux.HandleFunc("/sessions/", s.handleSessionByID)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         s.bindAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting HTTP server on %s", s.bindAddr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the listener and all open connections immediately; in-flight
// requests are not drained.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

type transcribeResponse struct {
	Text       string  `json:"text"`
	DurationMs float64 `json:"duration_ms"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", "")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty request body", "")
		return
	}

	sess, err := s.registry.Create()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error(), "SESSION_LIMIT")
		return
	}
	defer s.registry.Close(sess.ID())

	result, err := sess.TranscribeFull(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "TRANSCRIBE_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{Text: result.Text, DurationMs: float64(result.DurationMs)})
}

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Version:        Version,
		ActiveSessions: s.registry.ActiveCount(),
	})
}

type sessionSummary struct {
	SessionID      string  `json:"session_id"`
	State          string  `json:"state"`
	CreatedAt      string  `json:"created_at"`
	LastActivityAt string  `json:"last_activity_at"`
	AudioDurationMs float64 `json:"audio_duration_ms"`
}

func toSummary(info session.Info) sessionSummary {
	return sessionSummary{
		SessionID:       info.SessionID,
		State:           info.State.String(),
		CreatedAt:       info.CreatedAt.Format(time.RFC3339),
		LastActivityAt:  info.LastActivityAt.Format(time.RFC3339),
		AudioDurationMs: info.Metrics.AudioDurationMs(),
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos := s.registry.AllSessions()
	summaries := make([]sessionSummary, 0, len(infos))
	for _, info := range infos {
		summaries = append(summaries, toSummary(info))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleSessionsMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.AggregateMetrics())
}

// handleSessionByID serves GET and DELETE on /sessions/{id}.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" || id == "metrics" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, err := s.registry.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error(), "")
			return
		}
		writeJSON(w, http.StatusOK, toSummary(sess.GetInfo()))

	case http.MethodDelete:
		if !s.registry.Close(id) {
			writeError(w, http.StatusNotFound, "session not found", "")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Message: message, Code: code})
}
