// Package api exposes the HTTP interface workers and operators use to talk
// to the coordinator. Notable routes:
//   - POST /task and /task/reset for assignment handout and release.
//   - POST /submit for worker results, optionally returning the next task.
//   - GET /progress, /leaderboards/{hero} and /best for read-only views.
//   - GET /seed (loopback only) to bootstrap the account graph.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dotagraph/coordinator/internal/scheduler"
	"github.com/dotagraph/coordinator/internal/telemetry"
)

// Server wires HTTP handlers to the scheduler.
type Server struct {
	router  chi.Router
	sched   *scheduler.Scheduler
	log     *zap.Logger
	timeout time.Duration
}

// NewServer constructs a Server with middleware and routes.
func NewServer(sched *scheduler.Scheduler, log *zap.Logger, requestTimeout time.Duration) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	s := &Server{
		sched:   sched,
		log:     log,
		timeout: requestTimeout,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Post("/task", s.requestTask)
	r.Post("/task/reset", s.resetTask)
	r.Post("/submit", s.submit)
	r.Get("/progress", s.progress)
	r.Get("/seed", s.seed)
	r.Get("/leaderboards/{hero}", s.leaderboard)
	r.Get("/best", s.best)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Readiness piggybacks on a cheap store round trip.
	if _, err := s.sched.Progress(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.log.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
