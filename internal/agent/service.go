// Package agent implements agent registration, key lifecycle, and the
// challenge-to-token issuance flow
package agent

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agent-passport/go-core/internal/apperr"
	"github.com/agent-passport/go-core/internal/audit"
	"github.com/agent-passport/go-core/internal/challenge"
	"github.com/agent-passport/go-core/internal/signature"
	"github.com/agent-passport/go-core/internal/token"
	"github.com/agent-passport/go-core/pkg/types"
)

// handlePattern constrains agent handles: lowercase alphanumerics,
// underscore, hyphen, 3 to 64 chars
var handlePattern = regexp.MustCompile(`^[a-z0-9_-]{3,64}$`)

// Service coordinates the identity store, challenge manager, token minter,
// and audit trail for agent-facing operations
type Service struct {
	store      Store
	challenges *challenge.Manager
	minter     *token.Minter
	audit      audit.Logger
	logger     *zap.Logger
	now        func() time.Time
}

// NewService wires the agent service
func NewService(store Store, challenges *challenge.Manager, minter *token.Minter, auditLogger audit.Logger, logger *zap.Logger) *Service {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		challenges: challenges,
		minter:     minter,
		audit:      auditLogger,
		logger:     logger,
		now:        time.Now,
	}
}

// TokenResult is the outcome of a successful challenge redemption
type TokenResult struct {
	Token     string
	TokenType string
	ExpiresIn int
	Agent     *types.Agent
}

// RegisterAgent creates an agent and its first key atomically
func (s *Service) RegisterAgent(ctx context.Context, handle, publicKey, ipAddress string) (*types.Agent, *types.AgentKey, error) {
	if !handlePattern.MatchString(handle) {
		return nil, nil, apperr.New(apperr.CodeValidation,
			"handle must be 3-64 chars of lowercase letters, digits, underscore, or hyphen")
	}
	if !signature.IsValidPublicKey(publicKey) {
		return nil, nil, apperr.New(apperr.CodeInvalidPublicKey,
			"public key must be base64-encoded 32-byte Ed25519 key")
	}

	now := s.now()
	agent := &types.Agent{
		ID:        uuid.New(),
		Handle:    handle,
		Status:    types.AgentStatusActive,
		CreatedAt: now,
	}
	key := &types.AgentKey{
		ID:        uuid.New(),
		AgentID:   agent.ID,
		PublicKey: publicKey,
		CreatedAt: now,
	}

	if err := s.store.CreateAgentWithKey(ctx, agent, key); err != nil {
		return nil, nil, err
	}

	s.audit.Emit(ctx, &types.AuditEvent{
		EventType: audit.EventAgentRegistered,
		ActorType: types.ActorTypeAgent,
		ActorID:   agent.ID.String(),
		IPAddress: ipAddress,
		Metadata: map[string]interface{}{
			"handle": handle,
			"key_id": key.ID.String(),
		},
	})

	s.logger.Info("agent registered",
		zap.String("agent_id", agent.ID.String()),
		zap.String("handle", handle))

	return agent, key, nil
}

// GetAgent returns the public view of an agent
func (s *Service) GetAgent(ctx context.Context, id uuid.UUID) (*types.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// AddKey registers an additional key for an active agent
func (s *Service) AddKey(ctx context.Context, agentID uuid.UUID, publicKey, ipAddress string) (*types.AgentKey, error) {
	if !signature.IsValidPublicKey(publicKey) {
		return nil, apperr.New(apperr.CodeInvalidPublicKey,
			"public key must be base64-encoded 32-byte Ed25519 key")
	}

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.IsActive() {
		return nil, apperr.Newf(apperr.CodeAgentSuspended, "agent %s is suspended", agentID)
	}

	key := &types.AgentKey{
		ID:        uuid.New(),
		AgentID:   agentID,
		PublicKey: publicKey,
		CreatedAt: s.now(),
	}
	if err := s.store.AddKey(ctx, key); err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, &types.AuditEvent{
		EventType: audit.EventAgentKeyAdded,
		ActorType: types.ActorTypeAgent,
		ActorID:   agentID.String(),
		IPAddress: ipAddress,
		Metadata:  map[string]interface{}{"key_id": key.ID.String()},
	})

	return key, nil
}

// ListActiveKeys returns the agent's non-revoked keys
func (s *Service) ListActiveKeys(ctx context.Context, agentID uuid.UUID) ([]*types.AgentKey, error) {
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.store.ListActiveKeys(ctx, agentID)
}

// RevokeKey revokes one of the agent's keys. Revoking the last active key is
// allowed and leaves the agent unable to redeem challenges.
func (s *Service) RevokeKey(ctx context.Context, agentID, keyID uuid.UUID, ipAddress string) error {
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return err
	}
	if err := s.store.RevokeKey(ctx, agentID, keyID, s.now()); err != nil {
		return err
	}

	s.audit.Emit(ctx, &types.AuditEvent{
		EventType: audit.EventAgentKeyRevoked,
		ActorType: types.ActorTypeAgent,
		ActorID:   agentID.String(),
		IPAddress: ipAddress,
		Metadata:  map[string]interface{}{"key_id": keyID.String()},
	})
	return nil
}

// IssueChallenge creates a fresh challenge for the agent
func (s *Service) IssueChallenge(ctx context.Context, agentID uuid.UUID) (*types.Challenge, error) {
	return s.challenges.Issue(ctx, agentID)
}

// IssueToken redeems a signed challenge for an identity token. A consumed
// challenge stays consumed even if minting fails afterwards.
func (s *Service) IssueToken(ctx context.Context, agentID, challengeID uuid.UUID, signatureB64, ipAddress string, scopes []string) (*TokenResult, error) {
	agent, err := s.challenges.Redeem(ctx, agentID, challengeID, signatureB64)
	if err != nil {
		s.audit.Emit(ctx, &types.AuditEvent{
			EventType: audit.EventTokenIssueFailed,
			ActorType: types.ActorTypeAgent,
			ActorID:   agentID.String(),
			IPAddress: ipAddress,
			Metadata: map[string]interface{}{
				"challenge_id": challengeID.String(),
				"reason":       challenge.FailureReason(err),
			},
		})
		return nil, err
	}

	signed, claims, err := s.minter.Mint(agent.ID, agent.Handle, scopes)
	if err != nil {
		s.logger.Error("token mint failed after challenge consumption",
			zap.String("agent_id", agentID.String()),
			zap.Error(err))
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to mint identity token")
	}

	s.audit.Emit(ctx, &types.AuditEvent{
		EventType: audit.EventTokenIssued,
		ActorType: types.ActorTypeAgent,
		ActorID:   agentID.String(),
		IPAddress: ipAddress,
		Metadata: map[string]interface{}{
			"jti":          claims.ID,
			"challenge_id": challengeID.String(),
		},
	})

	return &TokenResult{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresIn: int(s.minter.TTL().Seconds()),
		Agent:     agent,
	}, nil
}
