package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/spile-project/spile/internal/config"
	"github.com/spile-project/spile/internal/db"
	"github.com/spile-project/spile/internal/events"
	intnet "github.com/spile-project/spile/internal/network"
	"github.com/spile-project/spile/internal/server"
)

// defaultRateLimitRPS bounds per-client request rates on every endpoint.
const defaultRateLimitRPS = 20

// Server is the admin REST server. It exposes the orchestrator's state
// read-only and a small token-protected moderation surface.
type Server struct {
	cfg   *config.Config
	bus   *events.Bus
	orch  *server.Orchestrator
	store *db.Database

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the admin API server.
func NewServer(cfg *config.Config, bus *events.Bus, orch *server.Orchestrator, store *db.Database) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:   cfg,
		bus:   bus,
		orch:  orch,
		store: store,
	}
}

// Start binds the configured address and serves until the context is
// cancelled. It blocks; run it in its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := s.cfg.API.Addr
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR for immediate rebinding after restart, same as the
	// protocol listeners.
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("bind api server on %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("admin api server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.Use(NewRateLimiter(defaultRateLimitRPS).Middleware())

	public := router.Group("/api")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/status", s.handleStatus)
		public.GET("/sessions", s.handleSessions)
		public.GET("/system", s.handleSystem)
	}

	admin := router.Group("/api/admin")
	admin.Use(RequireToken(s.cfg.Network.RCONPassword))
	{
		admin.GET("/bans", s.handleGetBans)
		admin.POST("/bans", s.handleAddBan)
		admin.DELETE("/bans/:addr", s.handleRemoveBan)
		admin.GET("/operators", s.handleGetOperators)
		admin.POST("/operators/:name", s.handleAddOperator)
		admin.DELETE("/operators/:name", s.handleRemoveOperator)
		admin.POST("/stop", s.handleStop)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}
