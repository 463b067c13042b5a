// Package api serves the hub's read-only status REST API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/moeru-ai/airi-sub003/internal/config"
	"github.com/moeru-ai/airi-sub003/internal/db"
	"github.com/moeru-ai/airi-sub003/internal/hub"
	intnet "github.com/moeru-ai/airi-sub003/internal/network"
)

// DefaultRateLimitRPS is the per-client request rate.
const DefaultRateLimitRPS = 20

// StatusSource provides hub snapshots.
type StatusSource interface {
	Status(ctx context.Context) (hub.Status, error)
}

// HistorySource provides recent audit events.
type HistorySource interface {
	Recent(limit int) ([]db.SessionEvent, error)
}

// Server is the REST API server.
type Server struct {
	cfg     *config.Config
	hub     StatusSource
	history HistorySource

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. history may be nil when the audit
// log is disabled.
func NewServer(cfg *config.Config, h StatusSource, history HistorySource) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		hub:     h,
		history: history,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.API.Host, s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(DefaultRateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
	}

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/sessions", s.handleSessions)
		api.GET("/history", s.handleHistory)
		api.GET("/system", s.handleSystem)
		api.GET("/logs", s.handleLogEntries)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

