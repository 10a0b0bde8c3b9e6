package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/runs"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/telemetry"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/timeline"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/video"
)

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	runs       RunService      // Optional run manager for the runs API
	statuses   StatusProvider  // Optional service manager for /api/status
	health     HealthReporter  // Optional health checks for /api/health
	metrics    MetricsProvider // Optional collector for /api/metrics
	version    string          // Application version
	startTime  time.Time       // Server start time for uptime calculation
}

// RunService starts runs and serves their timelines. *runs.Manager
// implements it.
type RunService interface {
	StartRun(ctx context.Context, req runs.Request) (*runs.Status, error)
	StopRun(ctx context.Context, id string) (*runs.Status, error)
	GetRun(ctx context.Context, id string) (*runs.Status, error)
	ListRuns(ctx context.Context) ([]runs.Status, error)
	DeleteRun(ctx context.Context, id string) error
	Timeline(ctx context.Context, id string) (*timeline.Cache, error)
	Labels() []string
	VideoInfo() video.Info
}

// StatusProvider exposes the status of every registered service
type StatusProvider interface {
	GetAllStatuses() map[string]*service.ServiceStatus
}

// HealthReporter runs the registered health checks. *health.Manager
// implements it.
type HealthReporter interface {
	Check(ctx context.Context) health.Report
}

// MetricsProvider collects a metrics snapshot. *telemetry.Collector
// implements it.
type MetricsProvider interface {
	Collect(ctx context.Context) *telemetry.Metrics
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	// Set Gin mode to release mode for production
	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		version:     "dev", // Default version, can be set via SetVersion
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetRunService sets the run manager backing the runs API
func (s *Server) SetRunService(svc RunService) {
	s.runs = svc
}

// SetStatusProvider sets the source of service statuses
func (s *Server) SetStatusProvider(p StatusProvider) {
	s.statuses = p
}

// SetHealthReporter sets the health checks served on /api/health
func (s *Server) SetHealthReporter(h HealthReporter) {
	s.health = h
}

// SetMetricsProvider sets the collector served on /api/metrics
func (s *Server) SetMetricsProvider(m MetricsProvider) {
	s.metrics = m
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	// Setup routes
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		s.LogInfo("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", addr)
		}
	}()

	// Wait for context cancellation or server startup
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		s.GetStatus().SetStatus(service.StatusRunning)
		s.LogInfo("Web server started", "address", addr)
		return nil
	}
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	s.GetStatus().SetStatus(service.StatusStopped)
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/health/live", s.handleLiveness)
		api.GET("/health/ready", s.handleReadiness)
		api.GET("/status", s.handleStatus)
		api.GET("/metrics", s.handleMetrics)

		runsGroup := api.Group("/runs")
		{
			runsGroup.GET("", s.handleListRuns)
			runsGroup.POST("", s.handleStartRun)
			runsGroup.GET("/:id", s.handleGetRun)
			runsGroup.DELETE("/:id", s.handleDeleteRun)
			runsGroup.POST("/:id/stop", s.handleStopRun)
			// Scrubbing and replay
			runsGroup.GET("/:id/frame", s.handleGetFrame)
			runsGroup.GET("/:id/scene", s.handleGetScene)
			runsGroup.GET("/:id/frames/:index/detections", s.handleGetDetections)
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
