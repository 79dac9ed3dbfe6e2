package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"campaign-tracker/config"
	"campaign-tracker/metrics"
	"campaign-tracker/tracker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	router  *gin.Engine
	config  *config.Config
	tracker *tracker.Tracker
	server  *http.Server
}

func NewServer(cfg *config.Config, tr *tracker.Tracker) *Server {
	// Set Gin mode based on environment
	switch cfg.App.Env {
	case "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	router := gin.Default()
	if cfg.Metrics.Enabled {
		router.Use(metrics.Middleware())
	}

	// Log environment info
	log.Printf("Starting server in %s mode", cfg.App.Env)
	if cfg.App.BaseURL != "" {
		log.Printf("BaseURL configured: %s", cfg.App.BaseURL)
	} else {
		log.Printf("BaseURL will be determined dynamically from requests")
	}

	s := &Server{
		router:  router,
		config:  cfg,
		tracker: tr,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.baseURLMiddleware())

	// Health check
	s.router.GET("/health", s.healthCheck)

	// Track email opens; HEAD is answered but never counted
	s.router.GET("/track", s.trackEmailOpen)
	s.router.HEAD("/track", s.trackEmailOpen)

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}
}

// Middleware to inject BaseURL into context
func (s *Server) baseURLMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("baseURL", s.config.GetBaseURL(c.Request.Host))
		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	baseURL, _ := c.Get("baseURL")

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"service":     "campaign-tracker",
		"version":     "1.0.0",
		"environment": s.config.App.Env,
		"base_url":    baseURL,
		"store":       s.config.Store.Backend,
	})
}

func (s *Server) trackEmailOpen(c *gin.Context) {
	s.tracker.TrackEmailOpen(c.Writer, c.Request)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background. Listener failures arrive on the returned channel.
func (s *Server) Start() <-chan error {
	addr := fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Server starting on %s", addr)
	log.Printf("Environment: %s", s.config.App.Env)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for pending open notifications.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.tracker.Wait()
	return err
}
