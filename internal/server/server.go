// Package server provides the HTTP API for datalens.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/datalens/internal/config"
	"github.com/hyperjump/datalens/internal/inspect"
	"github.com/hyperjump/datalens/internal/jobs"
	"github.com/hyperjump/datalens/internal/metrics"
	"github.com/hyperjump/datalens/internal/storage"
)

// Server is the HTTP server for the datalens API.
type Server struct {
	machine   *jobs.Machine
	storage   storage.Storage
	inspector *inspect.Inspector
	config    *config.Config
	logger    *zap.Logger
	now       func() time.Time
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	machine *jobs.Machine,
	store storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		machine:   machine,
		storage:   store,
		inspector: inspect.New(cfg.Uploads.SampleRows),
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
		r.Use(s.authenticate)

		r.Get("/stats", s.handleStats)

		r.Route("/datasource", func(r chi.Router) {
			r.Get("/", s.handleListDataSources)
			r.Post("/database", s.handleSubmitDatabase)
			r.Post("/file", s.handleSubmitFile)
		})

		r.Route("/analysis", func(r chi.Router) {
			r.Get("/", s.handleListAnalyses)
			r.Get("/{id}", s.handleGetAnalysis)
			r.Get("/{id}/status", s.handleAnalysisStatus)
			r.Post("/{id}/ask", s.handleAsk)
			r.Get("/{id}/export", s.handleExport)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestLogger logs each request with zap and counts it by route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("request", fields...)
			return
		}
		s.logger.Debug("request", fields...)
	})
}
