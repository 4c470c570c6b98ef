package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agent-passport/go-core/internal/apperr"
	"github.com/agent-passport/go-core/internal/appcred"
	"github.com/agent-passport/go-core/internal/ratelimit"
	"github.com/agent-passport/go-core/internal/token"
	"github.com/agent-passport/go-core/pkg/types"
)

// Context keys set by middleware
const (
	ctxRequestID   = "request_id"
	ctxAgentClaims = "agent_claims"
	ctxApp         = "authenticated_app"
	ctxAppKey      = "authenticated_app_key"
)

// RequestID returns the request id assigned by the middleware
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(ctxRequestID); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// AgentClaims returns the verified claims set by the agent auth middleware
func AgentClaims(c *gin.Context) *token.Claims {
	if v, ok := c.Get(ctxAgentClaims); ok {
		if claims, ok := v.(*token.Claims); ok {
			return claims
		}
	}
	return nil
}

// AuthenticatedApp returns the app set by the app auth middleware
func AuthenticatedApp(c *gin.Context) *types.App {
	if v, ok := c.Get(ctxApp); ok {
		if app, ok := v.(*types.App); ok {
			return app
		}
	}
	return nil
}

// requestIDMiddleware assigns a fresh UUID to every request and echoes it
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(ctxRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// loggingMiddleware logs one line per completed request
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		s.logger.Info("request",
			zap.String("request_id", RequestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), duration)
		}
	}
}

// recoveryMiddleware converts panics into the error envelope
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered interface{}) {
		s.logger.Error("panic recovered",
			zap.String("request_id", RequestID(c)),
			zap.Any("panic", recovered))
		s.writeError(c, apperr.New(apperr.CodeInternal, "internal server error"))
	})
}

// corsMiddleware handles cross-origin requests for the configured origins
func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.corsOrigins))
	allowAll := false
	for _, o := range s.corsOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			if allowAll {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-App-Key, X-Request-ID")
			c.Header("Access-Control-Max-Age", "600")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// agentAuthMiddleware requires a valid identity token whose subject matches
// the agent_id path parameter
func (s *Server) agentAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.writeError(c, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
			return
		}

		claims, err := s.minter.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			s.writeError(c, apperr.New(apperr.CodeUnauthorized, "invalid bearer token"))
			return
		}

		// a revoked token must not authorize key management
		if s.revoker != nil {
			if revoked, rerr := s.revoker.IsRevoked(c.Request.Context(), claims.ID); rerr == nil && revoked {
				s.writeError(c, apperr.New(apperr.CodeUnauthorized, "token has been revoked"))
				return
			}
		}

		if pathID := c.Param("id"); pathID != "" && pathID != claims.Subject {
			s.writeError(c, apperr.New(apperr.CodeForbidden, "token subject does not match agent"))
			return
		}

		c.Set(ctxAgentClaims, claims)
		c.Next()
	}
}

// appAuthMiddleware authenticates an app secret from the Authorization
// bearer or the X-App-Key header
func (s *Server) appAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := ""
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			secret = strings.TrimPrefix(header, "Bearer ")
		}
		if secret == "" {
			secret = c.GetHeader("X-App-Key")
		}
		if !strings.HasPrefix(secret, appcred.SecretPrefix) {
			s.writeError(c, apperr.New(apperr.CodeUnauthorized, "missing app key"))
			return
		}

		app, key, err := s.apps.ValidateKey(c.Request.Context(), secret)
		if err != nil {
			s.writeError(c, err)
			return
		}

		c.Set(ctxApp, app)
		c.Set(ctxAppKey, key)
		c.Next()
	}
}

// dimension pairs a rule with a per-request identifier extractor
type dimension struct {
	name       string
	rule       ratelimit.Rule
	identifier func(c *gin.Context) string
}

func ipDimension(name string, rule ratelimit.Rule) dimension {
	return dimension{name: name, rule: rule, identifier: func(c *gin.Context) string { return c.ClientIP() }}
}

func pathAgentDimension(name string, rule ratelimit.Rule) dimension {
	return dimension{name: name, rule: rule, identifier: func(c *gin.Context) string { return c.Param("id") }}
}

func appDimension(name string, rule ratelimit.Rule) dimension {
	return dimension{name: name, rule: rule, identifier: func(c *gin.Context) string {
		if app := AuthenticatedApp(c); app != nil {
			return app.ID.String()
		}
		return ""
	}}
}

// rateLimitMiddleware checks every applicable dimension in parallel; the
// most restrictive result wins and drives the response headers. A denial on
// an agent-keyed dimension also records a risk signal.
func (s *Server) rateLimitMiddleware(dims ...dimension) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		results := make([]*ratelimit.Result, len(dims))
		denied := make([]bool, len(dims))

		var wg sync.WaitGroup
		for i, dim := range dims {
			id := dim.identifier(c)
			if id == "" {
				continue
			}
			wg.Add(1)
			go func(i int, dim dimension, id string) {
				defer wg.Done()
				res, err := s.limiter.Check(c.Request.Context(), id, dim.rule)
				if err != nil {
					return
				}
				results[i] = res
				denied[i] = !res.Allowed
			}(i, dim, id)
		}
		wg.Wait()

		winner := ratelimit.MostRestrictive(results...)
		if winner == nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(winner.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(winner.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(winner.Reset.Unix(), 10))

		if winner.Allowed {
			c.Next()
			return
		}

		for i, dim := range dims {
			if !denied[i] {
				continue
			}
			if s.metrics != nil {
				s.metrics.RecordRateLimitDenial(dim.name)
			}
			// denials on agent-keyed dimensions feed the risk counters
			if s.risk != nil && strings.HasSuffix(dim.name, "_agent") {
				if agentID, err := uuid.Parse(dim.identifier(c)); err == nil {
					s.risk.RecordRateLimitDenial(c.Request.Context(), agentID)
				}
			}
		}

		retryAfter := int(winner.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		s.writeError(c, apperr.New(apperr.CodeRateLimited, "rate limit exceeded").
			WithDetails(map[string]interface{}{"retry_after": retryAfter}))
	}
}
