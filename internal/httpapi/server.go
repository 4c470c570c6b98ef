// Package httpapi provides the HTTP edge: routing, middleware, and handlers
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agent-passport/go-core/internal/agent"
	"github.com/agent-passport/go-core/internal/appcred"
	"github.com/agent-passport/go-core/internal/metrics"
	"github.com/agent-passport/go-core/internal/ratelimit"
	"github.com/agent-passport/go-core/internal/risk"
	"github.com/agent-passport/go-core/internal/token"
	"github.com/agent-passport/go-core/internal/verify"
)

// Config configures the HTTP server
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
	Production   bool
}

// DefaultConfig returns default HTTP server configuration
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Deps carries the wired services the edge dispatches to
type Deps struct {
	Agents  *agent.Service
	Apps    *appcred.Service
	Verify  *verify.Service
	Minter  *token.Minter
	Revoker *token.Revoker
	Limiter ratelimit.Limiter
	Risk    *risk.Engine
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Server is the HTTP edge
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	agents  *agent.Service
	apps    *appcred.Service
	verify  *verify.Service
	minter  *token.Minter
	revoker *token.Revoker
	limiter ratelimit.Limiter
	risk    *risk.Engine
	metrics *metrics.Metrics
	logger  *zap.Logger

	corsOrigins []string
	production  bool
}

// New creates the HTTP edge server
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Agents == nil || deps.Apps == nil || deps.Verify == nil || deps.Minter == nil {
		return nil, fmt.Errorf("agents, apps, verify, and minter are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		agents:      deps.Agents,
		apps:        deps.Apps,
		verify:      deps.Verify,
		minter:      deps.Minter,
		revoker:     deps.Revoker,
		limiter:     deps.Limiter,
		risk:        deps.Risk,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		corsOrigins: cfg.CORSOrigins,
		production:  cfg.Production,
	}

	engine := gin.New()
	engine.Use(
		s.requestIDMiddleware(),
		s.loggingMiddleware(),
		s.recoveryMiddleware(),
		s.corsMiddleware(),
	)
	s.engine = engine
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	agents := s.engine.Group("/v1/agents")
	{
		agents.POST("/register", s.handleRegisterAgent)
		agents.POST("/:id/challenge",
			s.rateLimitMiddleware(
				pathAgentDimension("challenge_agent", ratelimit.ChallengePerAgent),
				ipDimension("challenge_ip", ratelimit.ChallengePerIP),
			),
			s.handleIssueChallenge)
		agents.POST("/:id/identity-token",
			s.rateLimitMiddleware(
				pathAgentDimension("token_agent", ratelimit.TokenPerAgent),
				ipDimension("token_ip", ratelimit.TokenPerIP),
			),
			s.handleIssueToken)
		agents.POST("/:id/keys", s.agentAuthMiddleware(), s.handleAddKey)
		agents.GET("/:id/keys", s.agentAuthMiddleware(), s.handleListKeys)
		agents.POST("/:id/keys/:kid/revoke", s.agentAuthMiddleware(), s.handleRevokeKey)
	}

	tokens := s.engine.Group("/v1/tokens", s.appAuthMiddleware(),
		s.rateLimitMiddleware(
			ipDimension("verify_ip", ratelimit.VerifyPerIP),
			appDimension("verify_app", ratelimit.VerifyPerApp),
		))
	{
		tokens.POST("/verify", s.handleVerifyToken)
		tokens.POST("/introspect", s.handleIntrospectToken)
		tokens.POST("/revoke", s.handleRevokeToken)
	}

	s.engine.GET("/.well-known/jwks.json", s.handleJWKS)
	s.engine.GET("/.well-known/openid-configuration", s.handleOpenIDConfiguration)
	s.engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.HTTPHandler()))
	}
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
