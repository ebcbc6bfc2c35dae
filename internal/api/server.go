package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
	"github.com/JakeFAU/registry-crawler/internal/metrics"
	"github.com/JakeFAU/registry-crawler/internal/search"
)

// Service is the request-handling layer the API fronts.
type Service interface {
	Collect(ctx context.Context, query, jurisdiction string, useCache bool) (search.Result, error)
	Search(ctx context.Context, query, jurisdiction string, useCache bool) (search.Stream, error)
	Enqueue(ctx context.Context, query, jurisdiction string, useCache bool) (search.Result, error)
	Job(ctx context.Context, id string) (crawler.Job, error)
	Jobs(ctx context.Context) ([]crawler.Job, error)
	DeleteJob(ctx context.Context, id string) error
	DeleteAllJobs(ctx context.Context) (int, error)
}

// ReadinessCheck reports whether downstream dependencies can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Options configures the HTTP surface.
type Options struct {
	AuthEnabled bool
	APIKey      string
	// RequestTimeout bounds non-streaming handlers. Zero disables it.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the search service.
type Server struct {
	router chi.Router
	svc    Service
	ready  ReadinessCheck
	logger *zap.Logger
}

const (
	msgCached    = "Data retrieved from cache"
	msgRetrieved = "Data retrieved successfully"
)

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(svc Service, opts Options, ready ReadinessCheck, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, ready: ready, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(s.apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/search/stream", s.searchStream)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Get("/search", s.search)
			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.submitJob)
				r.Get("/", s.listJobs)
				r.Delete("/", s.deleteAllJobs)
				r.Get("/{job_id}", s.getJob)
				r.Delete("/{job_id}", s.deleteJob)
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
	s.writeOK(w, http.StatusOK, "ok", nil)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready", nil)
			return
		}
	}
	s.writeOK(w, http.StatusOK, "ready", nil)
}

type searchParams struct {
	query        string
	jurisdiction string
	useCache     bool
	normalized   bool
}

func parseSearchParams(r *http.Request) (searchParams, error) {
	q := r.URL.Query()
	p := searchParams{
		query:        q.Get("query"),
		jurisdiction: q.Get("jurisdiction"),
		useCache:     true,
	}
	var err error
	if raw := q.Get("use_cache"); raw != "" {
		if p.useCache, err = strconv.ParseBool(raw); err != nil {
			return p, errors.New("use_cache must be a boolean")
		}
	}
	if raw := q.Get("normalized"); raw != "" {
		if p.normalized, err = strconv.ParseBool(raw); err != nil {
			return p, errors.New("normalized must be a boolean")
		}
	}
	return p, nil
}

// render shapes entities for the response, optionally with canonical keys.
func render(entities []crawler.Entity, normalized bool) []map[string]string {
	out := make([]map[string]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, renderOne(e, normalized))
	}
	return out
}

func renderOne(e crawler.Entity, normalized bool) map[string]string {
	if normalized {
		return e.Normalized()
	}
	return e
}

func cachedMessage(cached bool) string {
	if cached {
		return msgCached
	}
	return msgRetrieved
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	p, err := parseSearchParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	res, err := s.svc.Collect(r.Context(), p.query, p.jurisdiction, p.useCache)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeOK(w, http.StatusOK, cachedMessage(res.Cached), map[string]any{
		"job_id":    res.JobID,
		"companies": render(res.Entities, p.normalized),
	})
}

func (s *Server) searchStream(w http.ResponseWriter, r *http.Request) {
	p, err := parseSearchParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	stream, err := s.svc.Search(r.Context(), p.query, p.jurisdiction, p.useCache)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	message := cachedMessage(stream.Cached)
	for entity, err := range stream.Entities {
		line := envelope{Success: true, Message: message, Data: renderOne(entity, p.normalized)}
		if err != nil {
			_, msg, data := failure(err)
			line = envelope{Success: false, Message: msg, Data: data}
		}
		if werr := enc.Encode(line); werr != nil {
			s.logger.Debug("stream client went away", zap.Error(werr))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if err != nil {
			return
		}
	}
}

type submitJobRequest struct {
	Query        string `json:"query"`
	Jurisdiction string `json:"jurisdiction"`
	UseCache     *bool  `json:"use_cache"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON", nil)
		return
	}
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}
	res, err := s.svc.Enqueue(r.Context(), req.Query, req.Jurisdiction, useCache)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if res.Cached {
		s.writeOK(w, http.StatusOK, msgCached, map[string]any{
			"job_id":    res.JobID,
			"companies": render(res.Entities, false),
		})
		return
	}
	s.writeOK(w, http.StatusAccepted, "Job queued successfully", map[string]string{"job_id": res.JobID})
}

type jobSummary struct {
	JobID  string            `json:"job_id"`
	Status crawler.JobStatus `json:"status"`
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	all, err := s.svc.Jobs(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	out := make([]jobSummary, 0, len(all))
	for _, job := range all {
		out = append(out, jobSummary{JobID: job.ID, Status: job.Status})
	}
	s.writeOK(w, http.StatusOK, "Jobs retrieved successfully", map[string]any{"jobs": out})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Job(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	data := map[string]any{
		"job_id":       job.ID,
		"status":       job.Status,
		"query":        job.Query,
		"jurisdiction": job.Jurisdiction,
		"output":       nil,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
	}
	if job.Output != nil {
		data["output"] = render(job.Output, false)
	}
	if job.ErrorText != "" {
		data["error"] = job.ErrorText
	}
	s.writeOK(w, http.StatusOK, "Job retrieved successfully", data)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteJob(r.Context(), chi.URLParam(r, "job_id")); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeOK(w, http.StatusOK, "Job deleted successfully", nil)
}

func (s *Server) deleteAllJobs(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.DeleteAllJobs(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeOK(w, http.StatusOK, "All jobs deleted successfully", map[string]int{"deleted": n})
}
