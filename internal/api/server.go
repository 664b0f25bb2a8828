// Package api exposes the HTTP interface for the product watch service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spectrail/specwatch/internal/detect"
	"github.com/spectrail/specwatch/internal/metrics"
	"github.com/spectrail/specwatch/internal/monitor"
	"github.com/spectrail/specwatch/internal/product"
)

type fetchService interface {
	Fetch(ctx context.Context, url string, forceRefresh bool) product.Result
	BatchFetch(ctx context.Context, urls []string, maxConcurrent int, forceRefresh bool) []product.Result
}

type checkService interface {
	CheckURL(ctx context.Context, url string) (monitor.CheckResult, error)
}

// Config controls HTTP surface behavior.
type Config struct {
	RequestTimeout time.Duration
	MaxBatchSize   int
}

// Server wires HTTP handlers to the fetcher, detector and monitor.
type Server struct {
	router   chi.Router
	fetcher  fetchService
	detector *detect.Detector
	checker  checkService
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The checker may
// be nil when monitoring is disabled; its route then returns 503.
func NewServer(fetcher fetchService, detector *detect.Detector, checker checkService, cfg Config, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		fetcher:  fetcher,
		detector: detector,
		checker:  checker,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Post("/fetch", s.fetchOne)
		r.Post("/fetch/batch", s.fetchBatch)
		r.Post("/changes", s.compareSnapshots)
		r.Post("/check", s.checkURL)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type fetchRequest struct {
	URL          string `json:"url"`
	ForceRefresh bool   `json:"force_refresh"`
}

func (s *Server) fetchOne(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	res := s.fetcher.Fetch(r.Context(), req.URL, req.ForceRefresh)
	status := http.StatusOK
	if !res.Success && res.ErrorKind == product.ErrKindMalformedInput {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, res)
}

type batchFetchRequest struct {
	URLs          []string `json:"urls"`
	MaxConcurrent int      `json:"max_concurrent"`
	ForceRefresh  bool     `json:"force_refresh"`
}

type batchFetchResponse struct {
	Results   []product.Result `json:"results"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	FromCache int              `json:"from_cache"`
}

func (s *Server) fetchBatch(w http.ResponseWriter, r *http.Request) {
	var req batchFetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		s.writeError(w, http.StatusBadRequest, "urls are required")
		return
	}
	if len(req.URLs) > s.cfg.MaxBatchSize {
		s.writeError(w, http.StatusRequestEntityTooLarge, "too many urls")
		return
	}
	results := s.fetcher.BatchFetch(r.Context(), req.URLs, req.MaxConcurrent, req.ForceRefresh)
	resp := batchFetchResponse{Results: results, Total: len(results)}
	for _, res := range results {
		if res.Success {
			resp.Succeeded++
		}
		if res.FromCache {
			resp.FromCache++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type changesRequest struct {
	Old product.Snapshot `json:"old"`
	New product.Snapshot `json:"new"`
}

type changesResponse struct {
	Changes      []product.Change      `json:"changes"`
	Summary      product.ChangeSummary `json:"summary"`
	Discontinued bool                  `json:"discontinued"`
}

func (s *Server) compareSnapshots(w http.ResponseWriter, r *http.Request) {
	var req changesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	changes := s.detector.DetectChanges(req.Old, req.New)
	s.writeJSON(w, http.StatusOK, changesResponse{
		Changes:      changes,
		Summary:      s.detector.Summarize(changes),
		Discontinued: s.detector.IsDiscontinued(req.New),
	})
}

type checkRequest struct {
	URL string `json:"url"`
}

func (s *Server) checkURL(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "monitoring is disabled")
		return
	}
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	result, err := s.checker.CheckURL(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
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
		s.logger.Info("request completed",
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

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
