package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"streetviewai/internal/ratelimit"
	"streetviewai/internal/util"
	"streetviewai/services/imageprocessor/internal/app"
)

const maxRequestBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Limiter throttles the analyze routes per client IP. Nil disables it.
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the image processor.
type Server struct {
	app            *app.App
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("imageprocessor", util.WithAPIHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleLiveness)
	s.mux.HandleFunc("/readyz", s.handleReadiness)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/models", s.handleModels)
	s.mux.HandleFunc("/info", s.handleInfo)

	s.mux.HandleFunc("/analyze", s.limited(s.handleAnalyze))
	s.mux.HandleFunc("/analyze-batch", s.limited(s.handleAnalyzeBatch))
	s.mux.HandleFunc("/analyze-async", s.limited(s.handleAnalyzeAsync))
	s.mux.HandleFunc("/jobs/", s.handleJob)

	s.mux.HandleFunc("/results/", s.handleResults)
	s.mux.HandleFunc("/images", s.handleImages)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ready(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Warn("readiness_failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Health(r.Context()))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Models(r.Context()))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Info())
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.AnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// Inference keeps running if the caller disconnects so finished work is recorded.
	resp, err := s.app.Analyze(context.WithoutCancel(r.Context()), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Filenames == nil {
		writeError(w, http.StatusBadRequest, "filenames is required")
		return
	}
	writeJSON(w, http.StatusOK, s.app.AnalyzeBatch(context.WithoutCancel(r.Context()), req))
}

func (s *Server) handleAnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.AnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	job, err := s.app.EnqueueAnalysis(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

// /jobs/{id}
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	job, err := s.app.GetJob(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// /results/{image_id}
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/results/"), "/")
	if raw == "" || strings.Contains(raw, "/") {
		notFound(w, "not found")
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid image id")
		return
	}
	res, err := s.app.GetResults(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	req := app.ListImagesRequest{}
	if v := strings.TrimSpace(q.Get("analyzed_only")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid analyzed_only")
			return
		}
		req.AnalyzedOnly = b
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = n
	}
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		req.Offset = n
	}
	resp, err := s.app.ListImages(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
		decision := s.limiter.Allow(r.Context(), key)
		if decision.Allowed {
			next(w, r)
			return
		}
		retry := int(math.Ceil(decision.RetryAfter.Seconds()))
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	logger := util.LoggerFromContext(r.Context())
	switch {
	case errors.Is(err, app.ErrNotFound):
		notFound(w, err.Error())
	case errors.Is(err, app.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrQueueDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, app.ErrPersistence):
		cause := err
		var appErr *app.Error
		if errors.As(err, &appErr) && appErr.Err != nil {
			cause = appErr.Err
		}
		logger.Error("persistence_error", "path", r.URL.Path, "err", cause)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		logger.Error("request_failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
