// Package api exposes the assistant over HTTP: the SSE turn stream,
// the itinerary generation stream, transcript endpoints, and the
// WebSocket ops feed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jvelez79/travelr-sub002/internal/assistant"
	"github.com/jvelez79/travelr-sub002/internal/buildinfo"
	"github.com/jvelez79/travelr-sub002/internal/config"
	"github.com/jvelez79/travelr-sub002/internal/events"
	"github.com/jvelez79/travelr-sub002/internal/history"
	"github.com/jvelez79/travelr-sub002/internal/ratelimit"
	"github.com/jvelez79/travelr-sub002/internal/trip"
)

// SessionStats tracks per-process usage counters.
type SessionStats struct {
	mu             sync.Mutex
	TotalRequests  int64
	TotalToolCalls int64
	RateLimited    int64
	TurnsNotSaved  int64
	InputTokens    int64
	OutputTokens   int64
	StartedAt      time.Time
}

// Record adds one finished turn to the counters.
func (s *SessionStats) Record(res *assistant.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalRequests++
	s.TotalToolCalls += int64(res.ToolCallsCount)
	s.InputTokens += int64(res.InputTokens)
	s.OutputTokens += int64(res.OutputTokens)
	if !res.MessagesSaved {
		s.TurnsNotSaved++
	}
}

// RecordRateLimited counts one rejected admission.
func (s *SessionStats) RecordRateLimited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RateLimited++
}

// Snapshot returns a copy safe for serialization.
func (s *SessionStats) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"total_requests":   s.TotalRequests,
		"total_tool_calls": s.TotalToolCalls,
		"rate_limited":     s.RateLimited,
		"turns_not_saved":  s.TurnsNotSaved,
		"input_tokens":     s.InputTokens,
		"output_tokens":    s.OutputTokens,
		"uptime_seconds":   int64(time.Since(s.StartedAt).Seconds()),
	}
}

// Server is the HTTP front end.
type Server struct {
	address string
	port    int
	loop    *assistant.Loop
	gen     *assistant.Generator
	trips   *trip.Store
	hist    *history.Store
	limiter *ratelimit.Limiter
	bus     *events.Bus
	auth    *Authenticator
	stats   *SessionStats
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates the API server.
func NewServer(cfg config.ListenConfig, loop *assistant.Loop, gen *assistant.Generator, trips *trip.Store, hist *history.Store, limiter *ratelimit.Limiter, bus *events.Bus, auth *Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: cfg.Address,
		port:    cfg.Port,
		loop:    loop,
		gen:     gen,
		trips:   trips,
		hist:    hist,
		limiter: limiter,
		bus:     bus,
		auth:    auth,
		stats:   &SessionStats{StartedAt: time.Now()},
		logger:  logger,
	}
}

// Routes assembles the handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Assistant streams
	mux.HandleFunc("POST /v1/trips/{id}/assistant", s.requireAuth(s.handleAssistantTurn))
	mux.HandleFunc("POST /v1/trips/{id}/itinerary", s.requireAuth(s.handleItinerary))

	// Trips
	mux.HandleFunc("GET /v1/trips", s.requireAuth(s.handleTripList))
	mux.HandleFunc("GET /v1/trips/{id}", s.requireAuth(s.handleTripGet))
	mux.HandleFunc("POST /v1/trips", s.requireAuth(s.handleTripCreate))

	// Transcripts
	mux.HandleFunc("GET /v1/conversations", s.requireAuth(s.handleConversationList))
	mux.HandleFunc("GET /v1/conversations/{id}", s.requireAuth(s.handleConversationGet))
	mux.HandleFunc("GET /v1/conversations/{id}/export", s.requireAuth(s.handleConversationExport))

	// Ops
	mux.HandleFunc("GET /v1/ops/events", s.requireAuth(s.handleOpsEvents))
	mux.HandleFunc("GET /v1/session/stats", s.requireAuth(s.handleSessionStats))

	// Health
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Routes(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: turn streams are open-ended; the SSE
		// handlers manage write deadlines per frame.
	}

	s.logger.Info("starting API server", "address", s.address, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, buildinfo.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.stats.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to encode response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}); err != nil {
		s.logger.Debug("failed to encode error response", "error", err)
	}
}
