// Package api exposes route planning and execution tracking over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/crossroute/internal/execution"
	"github.com/ggonzalez94/crossroute/internal/logging"
	"github.com/ggonzalez94/crossroute/internal/metrics"
	"github.com/ggonzalez94/crossroute/internal/providers"
	"github.com/ggonzalez94/crossroute/internal/route"
)

const shutdownTimeout = 10 * time.Second

// Planner computes route plans.
type Planner interface {
	ComputeRoutePlan(ctx context.Context, req route.Request) (route.Plan, error)
}

// PlanBook holds computed plans until an execution is created from them.
type PlanBook interface {
	Put(plan route.Plan, ttl time.Duration) error
	Get(planID string) (route.Plan, error)
}

type Options struct {
	Planner      Planner
	Plans        PlanBook
	Orchestrator *execution.Orchestrator
	Providers    *providers.Registry
	Logger       logrus.FieldLogger
	// RateLimit is requests per second per client address; zero disables it.
	RateLimit float64
	RateBurst int
}

type Server struct {
	planner      Planner
	plans        PlanBook
	orchestrator *execution.Orchestrator
	providers    *providers.Registry
	log          logrus.FieldLogger
	limiter      *RateLimiter
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	s := &Server{
		planner:      opts.Planner,
		plans:        opts.Plans,
		orchestrator: opts.Orchestrator,
		providers:    opts.Providers,
		log:          opts.Logger,
	}
	if opts.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{OK: true})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Handler)
		}
		api.Get("/providers", s.handleProviders)
		api.Post("/route-plans", s.handleRoutePlan)
		api.Post("/executions", s.handleCreateExecution)
		api.Get("/executions/status", s.handleStatus)
		api.Post("/executions/status", s.handleStatus)
		api.Get("/executions/{executionID}", s.handleGetExecution)
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("http server shutting down")
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			logging.FieldRequestID: middleware.GetReqID(r.Context()),
			"method":               r.Method,
			"path":                 r.URL.Path,
			"status":               ww.Status(),
			"elapsed_ms":           time.Since(start).Milliseconds(),
		}).Debug("http request")
	})
}
