package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agent-passport/go-core/internal/apperr"
)

// tokenRequest is the shared body of the /v1/tokens endpoints
type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) handleVerifyToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperr.New(apperr.CodeValidation, "token is required"))
		return
	}
	app := AuthenticatedApp(c)

	res := s.verify.Verify(c.Request.Context(), req.Token, app.ID, c.ClientIP())

	if s.metrics != nil {
		outcome := "invalid"
		if res.Valid {
			outcome = "valid"
		}
		s.metrics.RecordVerification(outcome, res.Reason)
		if res.Risk != nil {
			s.metrics.RecordRiskScore(res.Risk.Score)
		}
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleIntrospectToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperr.New(apperr.CodeValidation, "token is required"))
		return
	}
	app := AuthenticatedApp(c)

	c.JSON(http.StatusOK, s.verify.Introspect(c.Request.Context(), req.Token, app.ID))
}

type revokeTokenResponse struct {
	Revoked   bool      `json:"revoked"`
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleRevokeToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperr.New(apperr.CodeValidation, "token is required"))
		return
	}
	app := AuthenticatedApp(c)

	jti, expiresAt, err := s.minter.DecodeUnverified(req.Token)
	if err != nil {
		s.writeError(c, apperr.Wrap(err, apperr.CodeInvalidToken, "token is malformed"))
		return
	}

	if err := s.verify.Revoke(c.Request.Context(), req.Token, app.ID, c.ClientIP()); err != nil {
		s.writeError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTokenRevoked()
	}

	c.JSON(http.StatusOK, revokeTokenResponse{Revoked: true, JTI: jti, ExpiresAt: expiresAt})
}
