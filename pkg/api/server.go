// Package api serves the operator HTTP surface: health, metrics, in-flight
// sessions, the outcome ledger and a live feed of lifecycle events.
package api

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/affilink/pkg/bus"
	"github.com/odvcencio/affilink/pkg/logging"
	"github.com/odvcencio/affilink/pkg/storage"
	"github.com/odvcencio/affilink/pkg/telemetry"
	"github.com/odvcencio/affilink/pkg/workflow"
)

const (
	defaultLimit    = 50
	maxLimit        = 500
	snapshotTimeout = 2 * time.Second
)

// Sessions exposes the orchestrator's in-flight view.
type Sessions interface {
	Snapshot(ctx context.Context) (workflow.Snapshot, error)
}

// Outcomes reads the outcome ledger.
type Outcomes interface {
	ListOutcomes(ctx context.Context, limit int) ([]storage.Outcome, error)
	OutcomesForRequest(ctx context.Context, requestID string) ([]storage.Outcome, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Readiness reports whether the command stream is connected and how many
// connection attempts it has made.
type Readiness interface {
	Ready() bool
	Connects() int64
}

// ServerConfig configures the API server. Every source is optional; the
// matching endpoints answer 503 without one.
type ServerConfig struct {
	// Address to listen on (default: 127.0.0.1:5090)
	Address string

	Sessions Sessions
	Outcomes Outcomes
	Stream   Readiness
	Bus      bus.MessageBus
	Logger   *logging.Logger
}

// Server is the operator API server.
type Server struct {
	sessions   Sessions
	outcomes   Outcomes
	stream     Readiness
	feed       *eventFeed
	logger     *logging.Logger
	router     chi.Router
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:5090"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	s := &Server{
		sessions: cfg.Sessions,
		outcomes: cfg.Outcomes,
		stream:   cfg.Stream,
		logger:   cfg.Logger,
	}
	if cfg.Bus != nil {
		s.feed = newEventFeed(cfg.Bus, cfg.Logger)
	}

	router := chi.NewRouter()
	router.Use(s.logRequests)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/readyz", s.handleReadyz)
	router.Method(http.MethodGet, "/metrics", telemetry.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleSessions)
		r.Get("/outcomes", s.handleOutcomes)
		r.Get("/events", s.handleEvents)
		r.Get("/logs", s.handleLogs)
	})
	s.router = router

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info(logging.CategoryServer, "listening", "Operator API listening on "+s.httpServer.Addr, nil)
	err := s.httpServer.ListenAndServe()
	if stdliberrors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "reason": "command stream not configured"})
		return
	}
	if !s.stream.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "not ready",
			"reason":   "command stream not connected",
			"connects": s.stream.Connects(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "connects": s.stream.Connects()})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	snap, err := s.sessions.Snapshot(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if s.outcomes == nil {
		writeError(w, http.StatusServiceUnavailable, "outcome ledger disabled")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	var (
		outcomes []storage.Outcome
		err      error
	)
	if requestID := strings.TrimSpace(r.URL.Query().Get("request_id")); requestID != "" {
		outcomes, err = s.outcomes.OutcomesForRequest(r.Context(), requestID)
	} else {
		outcomes, err = s.outcomes.ListOutcomes(r.Context(), limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := s.outcomes.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if outcomes == nil {
		outcomes = []storage.Outcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outcomes": outcomes,
		"counts":   counts,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	errorsOnly, _ := strconv.ParseBool(r.URL.Query().Get("errors"))

	events, err := s.logger.Recent(limit, errorsOnly)
	if stdliberrors.Is(err, logging.ErrNoLogDir) {
		writeError(w, http.StatusServiceUnavailable, "file logging disabled")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}
	s.feed.serve(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(logging.CategoryServer, "http_request", r.Method+" "+r.URL.Path, map[string]any{
			"remote":      r.RemoteAddr,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// parseLimit reads ?limit=, writing a 400 when it is not a positive integer.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxLimit), true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
