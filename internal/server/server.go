package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"chatrelay/internal/auth"
	"chatrelay/internal/metrics"
	"chatrelay/internal/presence"
	"chatrelay/internal/registry"
	"chatrelay/internal/room"
	"chatrelay/pkg/log"
	"chatrelay/pkg/redis"
)

// Server represents the HTTP server
type Server struct {
	config Config
	server *http.Server
}

// Config holds server configuration
type Config struct {
	Host     string
	Port     int
	Router   *gin.Engine
	Logger   log.Logger
	Registry *registry.Registry
	Tracker  *presence.Tracker
	Broker   *room.Broker
	Limiter  *auth.ConnectionTracker
	Redis    *redis.Client
	DB       *sql.DB
	Gatherer prometheus.Gatherer
}

// New creates a new Server instance
func New(cfg Config) *Server {
	// Setup routes
	setupRoutes(cfg)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:        cfg.Router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	return &Server{
		config: cfg,
		server: server,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.config.Logger.Infof(context.Background(), "Starting HTTP server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.config.Logger.Info(ctx, "Shutting down HTTP server...")
	return s.server.Shutdown(ctx)
}

// setupRoutes sets up HTTP routes
func setupRoutes(cfg Config) {
	cfg.Router.GET("/health", func(c *gin.Context) {
		healthHandler(c, cfg)
	})
	cfg.Router.GET("/stats", func(c *gin.Context) {
		statsHandler(c, cfg)
	})
	if cfg.Gatherer != nil {
		cfg.Router.GET("/metrics", gin.WrapH(metrics.Handler(cfg.Gatherer)))
	}
}
