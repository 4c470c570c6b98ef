package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agent-passport/go-core/internal/apperr"
	"github.com/agent-passport/go-core/pkg/types"
)

// registerAgentRequest is the body of POST /v1/agents/register
type registerAgentRequest struct {
	Handle    string `json:"handle" binding:"required"`
	PublicKey string `json:"public_key" binding:"required"`
}

type registerAgentResponse struct {
	AgentID   uuid.UUID `json:"agent_id"`
	Handle    string    `json:"handle"`
	Status    string    `json:"status"`
	KeyID     uuid.UUID `json:"key_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperr.New(apperr.CodeValidation, "handle and public_key are required"))
		return
	}

	agent, key, err := s.agents.RegisterAgent(c.Request.Context(), req.Handle, req.PublicKey, c.ClientIP())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, registerAgentResponse{
		AgentID:   agent.ID,
		Handle:    agent.Handle,
		Status:    string(agent.Status),
		KeyID:     key.ID,
		CreatedAt: agent.CreatedAt,
	})
}

type challengeResponse struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
	Nonce       string    `json:"nonce"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Server) handleIssueChallenge(c *gin.Context) {
	agentID, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	ch, err := s.agents.IssueChallenge(c.Request.Context(), agentID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, challengeResponse{
		ChallengeID: ch.ID,
		Nonce:       ch.Nonce,
		ExpiresAt:   ch.ExpiresAt,
	})
}

// issueTokenRequest is the body of POST /v1/agents/{id}/identity-token
type issueTokenRequest struct {
	ChallengeID string   `json:"challenge_id" binding:"required"`
	Signature   string   `json:"signature" binding:"required"`
	Scopes      []string `json:"scopes"`
}

type issueTokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

func (s *Server) handleIssueToken(c *gin.Context) {
	agentID, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperr.New(apperr.CodeValidation, "challenge_id and signature are required"))
		return
	}
	challengeID, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		s.writeError(c, apperr.New(apperr.CodeValidation, "challenge_id must be a UUID"))
		return
	}

	res, err := s.agents.IssueToken(c.Request.Context(), agentID, challengeID, req.Signature, c.ClientIP(), req.Scopes)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordTokenIssueFailure(string(apperr.CodeOf(err)))
		}
		s.writeError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTokenIssued()
	}

	c.JSON(http.StatusOK, issueTokenResponse{
		Token:     res.Token,
		TokenType: res.TokenType,
		ExpiresIn: res.ExpiresIn,
	})
}

// addKeyRequest is the body of POST /v1/agents/{id}/keys
type addKeyRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
}

func (s *Server) handleAddKey(c *gin.Context) {
	agentID, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	var req addKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperr.New(apperr.CodeValidation, "public_key is required"))
		return
	}

	key, err := s.agents.AddKey(c.Request.Context(), agentID, req.PublicKey, c.ClientIP())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, key)
}

func (s *Server) handleListKeys(c *gin.Context) {
	agentID, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	keys, err := s.agents.ListActiveKeys(c.Request.Context(), agentID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if keys == nil {
		keys = []*types.AgentKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (s *Server) handleRevokeKey(c *gin.Context) {
	agentID, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}
	keyID, ok := s.pathUUID(c, "kid")
	if !ok {
		return
	}

	if err := s.agents.RevokeKey(c.Request.Context(), agentID, keyID, c.ClientIP()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true, "key_id": keyID})
}

// pathUUID parses a UUID path parameter, writing the error envelope on
// failure
func (s *Server) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		s.writeError(c, apperr.Newf(apperr.CodeValidation, "%s must be a UUID", name))
		return uuid.Nil, false
	}
	return id, true
}
