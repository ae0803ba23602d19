// Package control is the operator HTTP surface: agent status, the
// continuation timer, self-prompting, recent events and metrics.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/martinemde/blockbot/agentloop"
)

const (
	defaultEventBuffer = 200
	maxBodyBytes       = 16 << 10
)

// Agent is the part of the agent an operator can drive.
type Agent interface {
	Status() agentloop.Status
	SetContinueMode(enabled bool, interval time.Duration) string
	StartSelfPrompt(ctx context.Context, goal string) error
	StopSelfPrompt(ctx context.Context)
	StopActions(ctx context.Context)
}

// Server serves the control API. Record feeds it the agent's events.
type Server struct {
	agent    Agent
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	router   chi.Router

	mu     sync.Mutex
	events []agentloop.AgentEvent
	limit  int
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithEventBuffer sets how many recent events /events keeps.
func WithEventBuffer(n int) Option { return func(s *Server) { s.limit = n } }

func NewServer(agent Agent, opts ...Option) *Server {
	s := &Server{
		agent:    agent,
		logger:   zap.NewNop(),
		gatherer: prometheus.DefaultGatherer,
		limit:    defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limit <= 0 {
		s.limit = defaultEventBuffer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/status", s.handleStatus)
	r.Post("/continue", s.handleContinue)
	r.Route("/selfprompt", func(r chi.Router) {
		r.Post("/", s.handleStartSelfPrompt)
		r.Delete("/", s.handleStopSelfPrompt)
	})
	r.Post("/stop", s.handleStop)
	r.Get("/events", s.handleEvents)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Record keeps ev among the recent events, dropping the oldest when full.
func (s *Server) Record(ev agentloop.AgentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= s.limit {
		copy(s.events, s.events[1:])
		s.events = s.events[:len(s.events)-1]
	}
	s.events = append(s.events, ev)
}

// Recent returns up to n of the most recent events, oldest first. n <= 0
// returns them all.
func (s *Server) Recent(n int) []agentloop.AgentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return append([]agentloop.AgentEvent(nil), events...)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control surface listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.agent.Status())
}

// ContinueRequest switches the continuation timer. Interval is a duration
// string such as "30s"; empty keeps the current interval.
type ContinueRequest struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"`
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	var req ContinueRequest
	if status, err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}
	var interval time.Duration
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid interval %q", req.Interval))
			return
		}
		interval = d
	}
	msg := s.agent.SetContinueMode(req.Enabled, interval)
	respondJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// SelfPromptRequest starts self-prompting toward Goal.
type SelfPromptRequest struct {
	Goal string `json:"goal"`
}

func (s *Server) handleStartSelfPrompt(w http.ResponseWriter, r *http.Request) {
	var req SelfPromptRequest
	if status, err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		respondError(w, http.StatusBadRequest, errors.New("goal is required"))
		return
	}
	if err := s.agent.StartSelfPrompt(context.WithoutCancel(r.Context()), goal); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"goal": goal})
}

func (s *Server) handleStopSelfPrompt(w http.ResponseWriter, r *http.Request) {
	s.agent.StopSelfPrompt(context.WithoutCancel(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.agent.StopActions(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		n = parsed
	}
	respondJSON(w, http.StatusOK, s.Recent(n))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("control request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{Error: err.Error(), Status: status})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", maxBodyBytes)
		case errors.Is(err, io.EOF):
			return http.StatusBadRequest, errors.New("request body required")
		}
		return http.StatusBadRequest, err
	}
	return 0, nil
}
