// Package api exposes the loader's decision trail over HTTP for tooling.
// The API is read-only apart from the reload trigger; it never serves
// construct content.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gantryproject/gantry/internal/report"
)

// ReportProvider supplies the latest load report and runs a fresh load.
type ReportProvider interface {
	Latest() *report.Report
	Reload(ctx context.Context) (*report.Report, error)
}

// Server is the admin HTTP server.
type Server struct {
	engine   *gin.Engine
	provider ReportProvider
	logger   zerolog.Logger
}

// NewServer creates the admin server. The metrics handler is mounted at
// /metrics when non-nil.
func NewServer(provider ReportProvider, metricsHandler http.Handler, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		provider: provider,
		logger:   logger.With().Str("component", "api_server").Logger(),
	}

	engine.GET("/health", s.health)
	if metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := engine.Group("/api/v1")
	v1.GET("/report", s.getReport)
	v1.GET("/decisions/:name", s.getDecision)
	v1.POST("/reload", s.reload)

	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the server on the given address and blocks.
func (s *Server) Run(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("admin server listening")
	return s.engine.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getReport(c *gin.Context) {
	rep := s.provider.Latest()
	if rep == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no load has completed yet"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) getDecision(c *gin.Context) {
	rep := s.provider.Latest()
	if rep == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no load has completed yet"})
		return
	}

	name := c.Param("name")
	for _, entry := range rep.Entries {
		if entry.Name == name {
			c.JSON(http.StatusOK, entry)
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "unknown construct: " + name})
}

func (s *Server) reload(c *gin.Context) {
	rep, err := s.provider.Reload(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("reload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rep)
}
