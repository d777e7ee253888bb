// Package api serves the engine's operational HTTP surface: liveness,
// readiness, state snapshots, cycle progress, and Prometheus metrics. It
// exposes nothing that mutates jobs; all job data lives behind the
// scheduling service.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/engine"
	"github.com/quandohq/quando/pkg/metrics"
	"github.com/quandohq/quando/pkg/store"
	"github.com/quandohq/quando/pkg/version"
)

// readinessTimeout bounds the store probe behind /readyz and the
// scheduler-metrics fetch behind /api/status.
const readinessTimeout = 5 * time.Second

// StatusResponse is the GET /api/status body.
type StatusResponse struct {
	Engine  engine.Snapshot `json:"engine"`
	Version string          `json:"version"`

	// Scheduler carries aggregate job metrics from the scheduling service,
	// omitted when the fetch fails.
	Scheduler map[string]any `json:"scheduler,omitempty"`
}

// Server is the operational HTTP server.
type Server struct {
	state  *engine.State
	store  store.Store
	cfg    *config.OpsConfig
	logger *slog.Logger

	router *gin.Engine
	http   *http.Server
	addr   string
}

// NewServer builds the ops server around the engine state and store.
func NewServer(state *engine.State, st store.Store, cfg *config.OpsConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		state:  state,
		store:  st,
		cfg:    cfg,
		logger: logger.With("component", "ops_server"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.Healthz)
	router.GET("/readyz", s.Readyz)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	{
		api.GET("/status", s.Status)
		api.GET("/progress", s.Progress)
	}
	return router
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr is the bound listen address, empty before Start.
func (s *Server) Addr() string { return s.addr }

// Start binds the listen address and serves in the background. Bind
// failures surface immediately; serve failures after that are logged.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.addr = listener.Addr().String()
	s.logger.Info("Ops server listening", "addr", s.addr)
	go func() {
		if serveErr := s.http.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("Ops server failed", "error", serveErr)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests. Safe to call on a never-started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ────────────────────────────────────────────────────────────
// Handlers
// ────────────────────────────────────────────────────────────

// Healthz handles GET /healthz: process liveness only, no dependency
// checks, so an orchestrator never restarts the engine over a flaky
// downstream.
func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
}

// Readyz handles GET /readyz: ready means the scheduling service answers.
func (s *Server) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	if _, err := s.store.GetSchedulerMetrics(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Status handles GET /api/status: the engine state snapshot plus, best
// effort, the scheduling service's aggregate metrics.
func (s *Server) Status(c *gin.Context) {
	resp := StatusResponse{
		Engine:  s.state.Snapshot(),
		Version: version.Full(),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()
	if sched, err := s.store.GetSchedulerMetrics(ctx); err == nil {
		resp.Scheduler = sched
	} else {
		s.logger.Warn("Failed to fetch scheduler metrics", "error", err)
	}

	c.JSON(http.StatusOK, resp)
}

// Progress handles GET /api/progress: the in-flight cycle's job counts and
// per-endpoint attempt states.
func (s *Server) Progress(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.Snapshot().Progress)
}
