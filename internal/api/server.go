// Package api exposes the HTTP interface for serve mode.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/metrics"
	"github.com/JakeFAU/biodumpy/internal/progress"
	queueMemory "github.com/JakeFAU/biodumpy/internal/queue/memory"
	"github.com/JakeFAU/biodumpy/internal/sources"
)

// Submitter registers and queues a job.
type Submitter interface {
	Submit(ctx context.Context, req biodumpy.JobRequest) (biodumpy.Job, error)
}

// JobReader is the read half of biodumpy.JobStore.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (biodumpy.Job, error)
	ListDumps(ctx context.Context, jobID string) ([]biodumpy.Dump, error)
}

// ProgressReader reports live counts for a running job.
type ProgressReader interface {
	Progress(jobID string) (progress.Tally, bool)
}

// ModuleChecker rejects module selections that cannot be built.
type ModuleChecker func(modules []string, bulk bool) error

// Options tune request validation and access.
type Options struct {
	APIKey      string
	MaxElements int
	// Progress backs GET /v1/jobs/{job_id}/progress; the route is absent
	// when nil.
	Progress ProgressReader
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router    chi.Router
	jobs      JobReader
	submitter Submitter
	check     ModuleChecker
	opts      Options
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs JobReader,
	submitter Submitter,
	check ModuleChecker,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:      jobs,
		submitter: submitter,
		check:     check,
		opts:      opts,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(60 * time.Second))
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/modules", s.listModules)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/dumps", s.listDumps)
				if opts.Progress != nil {
					r.Get("/progress", s.jobProgress)
				}
			})
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
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listModules(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"modules": sources.Catalog()})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req biodumpy.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.submitter.Submit(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, queueMemory.ErrFull), errors.Is(err, queueMemory.ErrClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listDumps(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	dumps, err := s.jobs.ListDumps(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	if dumps == nil {
		dumps = []biodumpy.Dump{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "dumps": dumps})
}

func (s *Server) jobProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	tally, ok := s.opts.Progress.Progress(jobID)
	if !ok {
		if _, err := s.jobs.GetJob(r.Context(), jobID); err != nil {
			s.writeLookupError(w, err)
			return
		}
		tally = progress.Tally{JobID: jobID}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"progress": tally})
}

func (s *Server) validate(req *biodumpy.JobRequest) error {
	elements := req.Elements[:0]
	for _, el := range req.Elements {
		if !el.IsZero() {
			elements = append(elements, el)
		}
	}
	req.Elements = elements
	if len(req.Elements) == 0 {
		return errors.New("elements required")
	}
	if s.opts.MaxElements > 0 && len(req.Elements) > s.opts.MaxElements {
		return fmt.Errorf("too many elements: %d > %d", len(req.Elements), s.opts.MaxElements)
	}
	if len(req.Modules) == 0 {
		return errors.New("modules required")
	}
	for i, name := range req.Modules {
		req.Modules[i] = strings.ToLower(strings.TrimSpace(name))
	}
	for _, part := range strings.Split(req.OutputPath, "/") {
		if part == ".." {
			return errors.New("output_path must not contain '..'")
		}
	}
	if s.check != nil {
		if err := s.check(req.Modules, req.Bulk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, biodumpy.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Error("job lookup failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "job lookup failed")
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
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
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
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeJSON(zap.NewNop(), w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(s.logger, w, status, map[string]string{"error": msg})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
