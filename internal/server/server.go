// Package server exposes the operational HTTP surface: health, manual trigger and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pfrederiksen/sf-events/internal/logger"
	"github.com/pfrederiksen/sf-events/internal/metrics"
	"github.com/pfrederiksen/sf-events/internal/pipeline"
	"github.com/pfrederiksen/sf-events/internal/store"
)

// Runner is the part of the orchestrator the server drives
type Runner interface {
	TryRun(ctx context.Context) (*pipeline.Report, error)
	Last() *pipeline.Report
	Running() bool
}

// Server routes the HTTP endpoints
type Server struct {
	store   store.Store
	runner  Runner
	metrics *metrics.Metrics
	log     *logger.Logger
	mux     *http.ServeMux
}

// New creates a Server. metrics may be nil, in which case /metrics is not served.
func New(st store.Store, runner Runner, m *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	s := &Server{store: st, runner: runner, metrics: m, log: log, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /health", s.health)
	s.mux.HandleFunc("POST /api/scrape", s.scrape)
	if m != nil {
		s.mux.Handle("GET /metrics", m.Handler())
	}
	return s
}

// Handler returns the routed handler with request logging
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // a manual scrape answers when the run ends
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logger.Fields{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status   string           `json:"status"`
	Database string           `json:"database"`
	Counts   *store.Counts    `json:"counts,omitempty"`
	Scraping bool             `json:"scraping"`
	LastRun  *pipeline.Report `json:"last_run,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Scraping: s.runner.Running(), LastRun: s.runner.Last()}

	counts, err := s.storeCounts(r.Context())
	if err != nil {
		s.log.WarnErr("health check failed", nil, err)
		resp.Status = "unhealthy"
		resp.Database = "unreachable"
		resp.Error = err.Error()
		respondWithJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = "healthy"
	resp.Database = "connected"
	resp.Counts = &counts
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) storeCounts(ctx context.Context) (store.Counts, error) {
	if err := s.store.Ping(ctx); err != nil {
		return store.Counts{}, err
	}
	return s.store.Counts(ctx)
}

type scrapeResponse struct {
	Status string           `json:"status"`
	Report *pipeline.Report `json:"report,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	// the run outlives a client that hangs up
	report, err := s.runner.TryRun(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		respondWithJSON(w, http.StatusConflict, scrapeResponse{Status: "busy", Error: err.Error()})
	case err != nil:
		respondWithJSON(w, http.StatusInternalServerError, scrapeResponse{Status: "error", Report: report, Error: err.Error()})
	default:
		respondWithJSON(w, http.StatusOK, scrapeResponse{Status: "success", Report: report})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request", logger.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}
