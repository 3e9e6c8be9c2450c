// Package adminapi implements the Admin HTTP API (SPEC_FULL.md §6): a
// read-only surface over the job execution log and retry queue, plus a
// token-protected manual job trigger, for the out-of-scope dashboard and
// monitoring stack to consume. Route registration follows the teacher's
// services/automation/automation_service.go flat registerRoutes() +
// gorilla/mux style; the *marble.Service coupling that file relies on has
// no analog here, since this API has no blockchain/TEE plumbing beneath it.
package adminapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CreamyG31337/portfolio-pipeline/internal/scheduler"
	"github.com/CreamyG31337/portfolio-pipeline/internal/store"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/metrics"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/middleware"
)

// Config configures the Admin API server.
type Config struct {
	AdminToken     string
	ServiceName    string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	RateLimitRPS   int
	RateLimitBurst int
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = "portfolio-pipeline-admin"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 5
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = c.RateLimitRPS * 2
	}
	return c
}

// Server hosts the Admin HTTP API.
type Server struct {
	router  *mux.Router
	cfg     Config
	sched   *scheduler.Scheduler
	jobs    store.JobStore
	retries store.RetryQueueStore
	log     *logging.Logger
	metrics *metrics.Metrics
}

// New builds the Admin API's router with the full middleware chain wired
// the way the teacher's infrastructure/middleware toolkit is composed
// across its other services: recovery outermost, then
// security headers, CORS, logging, metrics, body limit, and timeout, with
// a rate limiter guarding the mutating run-job route specifically.
func New(cfg Config, sched *scheduler.Scheduler, jobs store.JobStore, retries store.RetryQueueStore, log *logging.Logger, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		router:  mux.NewRouter(),
		cfg:     cfg,
		sched:   sched,
		jobs:    jobs,
		retries: retries,
		log:     log,
		metrics: m,
	}
	s.registerRoutes()
	return s
}

// Handler returns the fully wrapped http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler {
	recovery := middleware.NewRecoveryMiddleware(s.log)
	security := middleware.NewSecurityHeadersMiddleware(nil)
	cors := middleware.NewCORSMiddleware(&middleware.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins})
	bodyLimit := middleware.NewBodyLimitMiddleware(s.cfg.MaxBodyBytes)
	timeout := middleware.NewTimeoutMiddleware(s.cfg.RequestTimeout)

	var h http.Handler = s.router
	h = timeout.Handler(h)
	h = bodyLimit.Handler(h)
	if s.metrics != nil {
		h = middleware.MetricsMiddleware(s.cfg.ServiceName, s.metrics)(h)
	}
	h = middleware.LoggingMiddleware(s.log)(h)
	h = cors.Handler(h)
	h = security.Handler(h)
	h = recovery.Handler(h)
	return h
}

func (s *Server) registerRoutes() {
	health := middleware.NewHealthChecker(s.cfg.ServiceName)
	health.RegisterCheck("scheduler", func() error { return nil })

	r := s.router
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		health.Handler()(w, req)
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/admin/jobs/executions", s.handleListExecutions).Methods(http.MethodGet)
	r.HandleFunc("/api/admin/jobs/retry-queue", s.handleListRetryQueue).Methods(http.MethodGet)

	runLimiter := middleware.NewRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst, s.log)
	r.Handle("/api/admin/jobs/{job_name}/run", runLimiter.Handler(http.HandlerFunc(s.handleRunJob))).Methods(http.MethodPost)

	if s.metrics != nil {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}
