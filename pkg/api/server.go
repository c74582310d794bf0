// Package api provides the HTTP boundary for veritas: job trigger and
// status query, delegating all actual work to pkg/orchestrator.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rivergate-labs/veritas/pkg/orchestrator"
	"github.com/rivergate-labs/veritas/pkg/version"
)

// Server is the HTTP API server over one Orchestrator.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	orch       *orchestrator.Orchestrator
}

// NewServer builds a Server wired to orch and registers its routes.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	e := gin.New()
	e.Use(gin.Recovery(), requestLogger(), securityHeaders())

	s := &Server{engine: e, orch: orch}
	s.setupRoutes()
	return s
}

// setupRoutes registers every route this server serves.
func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/jobs", s.triggerJobHandler)
	v1.GET("/jobs/:id", s.statusHandler)
}

// Start runs the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener runs the HTTP server on a pre-created listener, used by
// tests that need a randomly assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: version.Full()})
}

// requestLogger logs each request's method, path, status, and latency
// through slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// securityHeaders sets standard response headers on every request.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
