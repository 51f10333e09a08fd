// Package http provides the API server, the metrics server and shared middleware.
package http

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/outboxd/internal/config"
	"github.com/allisson/outboxd/internal/metrics"
	outboxHTTP "github.com/allisson/outboxd/internal/outbox/http"
	pokeHTTP "github.com/allisson/outboxd/internal/poke/http"
)

// Server represents the HTTP server
type Server struct {
	db     *sql.DB
	server *http.Server
	router *gin.Engine
	logger *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(
	db *sql.DB,
	host string,
	port int,
	logger *slog.Logger,
) *Server {
	return &Server{
		db:     db,
		logger: logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// SetupRouter builds the gin engine with middleware and every route.
func (s *Server) SetupRouter(
	cfg *config.Config,
	outboxHandler *outboxHTTP.OutboxHandler,
	pokeHandler *pokeHTTP.PokeHandler,
	metricsProvider *metrics.Provider,
) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	if metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(metricsProvider.MeterProvider(), cfg.MetricsNamespace))
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	v1 := router.Group("/v1")
	{
		v1.POST("/admin/outbox/poke", pokeHandler.PokeHandler)

		outbox := v1.Group("/outbox")
		{
			outbox.GET("/entries", outboxHandler.ListEntriesHandler)
			outbox.GET("/entries/:id", outboxHandler.GetEntryHandler)
			outbox.POST("/entries/:id/replay", outboxHandler.ReplayHandler)
			outbox.GET("/dead-letters", outboxHandler.ListDeadLettersHandler)
			outbox.GET("/stats", outboxHandler.StatsHandler)

			dispatchHandlers := []gin.HandlerFunc{}
			if cfg.RateLimitDispatchEnabled {
				dispatchHandlers = append(dispatchHandlers, outboxHTTP.DispatchRateLimitMiddleware(
					cfg.RateLimitDispatchRequestsPerSec,
					cfg.RateLimitDispatchBurst,
					s.logger,
				))
			}
			dispatchHandlers = append(dispatchHandlers, outboxHandler.DispatchHandler)
			outbox.POST("/dispatch", dispatchHandlers...)
		}
	}

	s.router = router
}

// GetHandler returns the http.Handler for testing purposes.
func (s *Server) GetHandler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		return fmt.Errorf("router not initialized, call SetupRouter first")
	}
	s.server.Handler = s.router

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports ready only when the database answers a ping.
func (s *Server) readinessHandler(c *gin.Context) {
	dbStatus := "ok"
	if s.db == nil {
		dbStatus = "error"
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warn("readiness check failed", slog.Any("error", err))
			dbStatus = "error"
		}
	}

	status := http.StatusOK
	overall := "ready"
	if dbStatus != "ok" {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}

	c.JSON(status, gin.H{
		"status": overall,
		"components": gin.H{
			"database": dbStatus,
		},
	})
}
