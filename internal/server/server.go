// Package server exposes the experiment engine over a JSON HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dislink/dxp/internal/experiment"
	"github.com/dislink/dxp/internal/logger"
	"github.com/dislink/dxp/internal/store"
)

type Options struct {
	Port  int
	Token string // Generated when empty
	// RefreshInterval is how often the experiment cache is reloaded from the
	// store. Zero disables the scheduled refresh.
	RefreshInterval time.Duration
	Logger          *logger.Logger
	// Registry backs /metrics. The engine's metrics tracker should register
	// on the same registry.
	Registry *prometheus.Registry
}

type Server struct {
	svc       *experiment.Service
	store     *store.SQLiteStore
	port      int
	token     string
	refresh   time.Duration
	log       *logger.Logger
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	router    *http.ServeMux
	startTime time.Time
}

func New(svc *experiment.Service, st *store.SQLiteStore, opts Options) *Server {
	token := opts.Token
	if token == "" {
		token = GenerateToken()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	srv := &Server{
		svc:      svc,
		store:    st,
		port:     opts.Port,
		token:    token,
		refresh:  opts.RefreshInterval,
		log:      log.With("component", "server"),
		registry: reg,
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dxp_http_requests_total",
			Help: "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints
	s.handle("GET /health", s.handleHealth)
	s.handle("POST /api/assign", s.handleAssign)
	s.handle("GET /api/assignments", s.handleAssignAll)
	s.handle("GET /api/variant", s.handleVariant)
	s.handle("POST /api/convert", s.handleConvert)
	s.router.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Admin endpoints (protected)
	s.admin("GET /api/admin/experiments", s.handleListExperiments)
	s.admin("POST /api/admin/experiments", s.handleCreateExperiment)
	s.admin("GET /api/admin/experiments/{id}", s.handleGetExperiment)
	s.admin("PATCH /api/admin/experiments/{id}", s.handleUpdateExperiment)
	s.admin("POST /api/admin/experiments/{id}/start", s.handleTransition(s.svc.StartExperiment))
	s.admin("POST /api/admin/experiments/{id}/pause", s.handleTransition(s.svc.PauseExperiment))
	s.admin("POST /api/admin/experiments/{id}/complete", s.handleTransition(s.svc.CompleteExperiment))
	s.admin("GET /api/admin/experiments/{id}/results", s.handleResults)
	s.admin("GET /api/admin/experiments/{id}/stats", s.handleStats)
	s.admin("POST /api/admin/refresh", s.handleRefresh)
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.router.Handle(pattern, s.logMiddleware(pattern, h))
}

func (s *Server) admin(pattern string, h http.HandlerFunc) {
	s.router.Handle(pattern, s.logMiddleware(pattern, s.authMiddleware(h)))
}

// Run serves until ctx is cancelled, refreshing the experiment cache on a
// schedule, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.svc.Refresh(ctx); err != nil {
		return err
	}

	if s.refresh > 0 {
		sched, err := s.startRefresh(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := sched.Shutdown(); err != nil {
				s.log.Warn("scheduler shutdown failed", "error", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "port", s.port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("server shutting down")
	return httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) startRefresh(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.refresh),
		gocron.NewTask(func() {
			if err := s.svc.Refresh(ctx); err != nil {
				s.log.Warn("scheduled refresh failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("failed to schedule refresh: %w", err)
	}

	sched.Start()
	return sched, nil
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// GenerateToken returns a random 32-character hex admin token.
func GenerateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(bytes)
}
