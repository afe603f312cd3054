// Package server exposes the HTTP front door: it validates incoming quiz
// requests, acknowledges them immediately, and hands each one to the chain
// orchestrator in the background.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"quizzer/internal/chain"
	"quizzer/internal/config"
)

// Runner executes one quiz session to completion.
type Runner interface {
	Run(ctx context.Context, sess chain.Session) chain.Result
}

// Server is the HTTP front door. Sessions started by it run detached from
// the originating request; Shutdown waits for them.
type Server struct {
	cfg    config.ServerConfig
	budget time.Duration
	runner Runner
	logger *zap.Logger
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

// New builds a Server. budget is the wall-clock allowance per session.
func New(cfg config.ServerConfig, budget time.Duration, runner Runner, logger *zap.Logger) *Server {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 1
	}
	return &Server{
		cfg:    cfg,
		budget: budget,
		runner: runner,
		logger: logger,
		sem:    semaphore.NewWeighted(int64(maxSessions)),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Post("/", s.handleStart)
	return r
}

// Shutdown waits for in-flight sessions to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type startRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

type startResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	StartedAt string `json:"started_at"`
	Deadline  string `json:"deadline"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request JSON"})
		return
	}
	if req.Email == "" || req.Secret == "" || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request JSON"})
		return
	}
	if req.Secret != s.cfg.Secret {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Invalid secret"})
		return
	}
	if !s.sem.TryAcquire(1) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "Too many active sessions"})
		return
	}

	sess := chain.NewSession(req.Email, req.Secret, req.URL, s.budget)
	s.logger.Info("session accepted",
		zap.String("session", sess.ID),
		zap.String("email", sess.Email),
		zap.String("url", sess.StartURL))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		// The session outlives the request; it is bounded by its own
		// deadline, not the request context.
		res := s.runner.Run(context.Background(), sess)
		s.logger.Info("session result",
			zap.String("session", sess.ID),
			zap.String("outcome", string(res.Kind)),
			zap.Int("rounds", res.RoundsCompleted),
			zap.Error(res.LastErr))
	}()

	writeJSON(w, http.StatusOK, startResponse{
		Status:    "accepted",
		Message:   "Quiz solving started",
		StartedAt: sess.Start.UTC().Format(time.RFC3339),
		Deadline:  sess.Deadline.UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are already sent; an encode failure has nowhere to go
	_ = json.NewEncoder(w).Encode(v)
}
