// Package httpserver exposes the arena gateway's streaming endpoints: the
// fast init POST that mints a one-shot session, and the long-lived SSE GET
// that executes it.
package httpserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/debatearena/arena-gateway/internal/metrics"
	"github.com/debatearena/arena-gateway/internal/provider"
	"github.com/debatearena/arena-gateway/internal/session"
	"github.com/debatearena/arena-gateway/internal/turncontrol"
	"github.com/debatearena/arena-gateway/internal/version"
)

// Server wires the session registry, turn controller and provider into the
// HTTP surface.
type Server struct {
	registry   *session.Registry
	controller *turncontrol.Controller
	streamer   provider.Streamer
	collector  *metrics.Collector

	streamEnabled     bool
	heartbeatInterval time.Duration

	logger   *log.Logger
	logLevel string
}

// Config carries the server's construction options.
type Config struct {
	Registry   *session.Registry
	Controller *turncontrol.Controller
	Streamer   provider.Streamer
	Collector  *metrics.Collector
	// StreamEnabled gates both streaming endpoints; false answers 503 to
	// each of them (maintenance windows).
	StreamEnabled     bool
	HeartbeatInterval time.Duration
	Logger            *log.Logger
	LogLevel          string
}

// New constructs a Server with the required dependencies.
func New(cfg Config) *Server {
	collector := cfg.Collector
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Server{
		registry:          cfg.Registry,
		controller:        cfg.Controller,
		streamer:          cfg.Streamer,
		collector:         collector,
		streamEnabled:     cfg.StreamEnabled,
		heartbeatInterval: cfg.HeartbeatInterval,
		logger:            cfg.Logger,
		logLevel:          cfg.LogLevel,
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/stream/init", s.handleStreamInit)
		api.Get("/stream/{taskID}/{modelKey}/{sessionID}", s.handleStreamOpen)
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   version.Version,
		"streaming": s.streamEnabled,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.collector.GetSnapshot())))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) isDebug() bool {
	return strings.EqualFold(strings.TrimSpace(s.logLevel), "debug")
}

func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
