// Package verify implements app-facing token verification, introspection,
// and revocation with risk integration
package verify

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agent-passport/go-core/internal/apperr"
	"github.com/agent-passport/go-core/internal/audit"
	"github.com/agent-passport/go-core/internal/humanverify"
	"github.com/agent-passport/go-core/internal/risk"
	"github.com/agent-passport/go-core/internal/token"
	"github.com/agent-passport/go-core/pkg/types"
)

// Verification failure reason codes surfaced to calling apps
const (
	ReasonTokenInvalid   = "token_invalid"
	ReasonTokenRevoked   = "token_revoked"
	ReasonAgentNotFound  = "agent_not_found"
	ReasonAgentSuspended = "agent_suspended"
)

// AgentGetter is the narrow identity-store surface verification needs
type AgentGetter interface {
	GetAgent(ctx context.Context, id uuid.UUID) (*types.Agent, error)
}

// EventStore persists append-only verification events
type EventStore interface {
	CreateEvent(ctx context.Context, event *types.VerificationEvent) error
}

// Result is the outcome of a verify call
type Result struct {
	Valid             bool                            `json:"valid"`
	Reason            string                          `json:"reason,omitempty"`
	AgentID           *uuid.UUID                      `json:"agent_id,omitempty"`
	Handle            string                          `json:"handle,omitempty"`
	Scopes            []string                        `json:"scopes,omitempty"`
	ExpiresAt         *time.Time                      `json:"expires_at,omitempty"`
	Risk              *types.RiskAssessment           `json:"risk,omitempty"`
	HumanVerification *types.HumanVerificationSummary `json:"human_verification,omitempty"`
}

// Introspection is the RFC 7662 response shape
type Introspection struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	JTI       string `json:"jti,omitempty"`
	Handle    string `json:"handle,omitempty"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// Service coordinates token verification for consumer apps
type Service struct {
	minter  *token.Minter
	revoker *token.Revoker
	agents  AgentGetter
	risk    *risk.Engine
	human   humanverify.Reader
	events  EventStore
	audit   audit.Logger
	logger  *zap.Logger
}

// NewService wires the verification service. The human reader may be nil.
func NewService(minter *token.Minter, revoker *token.Revoker, agents AgentGetter, riskEngine *risk.Engine, human humanverify.Reader, events EventStore, auditLogger audit.Logger, logger *zap.Logger) *Service {
	if human == nil {
		human = humanverify.NoopReader{}
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		minter:  minter,
		revoker: revoker,
		agents:  agents,
		risk:    riskEngine,
		human:   human,
		events:  events,
		audit:   auditLogger,
		logger:  logger,
	}
}

// Verify checks a presented token end to end. Revocation check runs before
// the agent-status check, which runs before risk compute, which runs before
// the verification-event write.
func (s *Service) Verify(ctx context.Context, tokenString string, appID uuid.UUID, ipAddress string) *Result {
	claims, err := s.minter.Verify(tokenString)
	if err != nil {
		s.writeEvent(ctx, appID, nil, types.VerificationInvalid, ReasonTokenInvalid, ipAddress)
		return &Result{Valid: false, Reason: ReasonTokenInvalid}
	}

	// revocation degrades to "not revoked" when the store is unreachable
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.logger.Warn("revocation check degraded", zap.String("jti", claims.ID), zap.Error(err))
		} else if revoked {
			agentID := parseAgentID(claims.Subject)
			s.writeEvent(ctx, appID, agentID, types.VerificationInvalid, ReasonTokenRevoked, ipAddress)
			return &Result{Valid: false, Reason: ReasonTokenRevoked}
		}
	}

	agentID := parseAgentID(claims.Subject)
	if agentID == nil {
		s.writeEvent(ctx, appID, nil, types.VerificationInvalid, ReasonAgentNotFound, ipAddress)
		return &Result{Valid: false, Reason: ReasonAgentNotFound}
	}

	agent, err := s.agents.GetAgent(ctx, *agentID)
	if err != nil {
		if apperr.Is(err, apperr.CodeAgentNotFound) {
			s.writeEvent(ctx, appID, agentID, types.VerificationInvalid, ReasonAgentNotFound, ipAddress)
			return &Result{Valid: false, Reason: ReasonAgentNotFound}
		}
		s.logger.Error("agent load failed during verify", zap.String("agent_id", agentID.String()), zap.Error(err))
		s.writeEvent(ctx, appID, agentID, types.VerificationError, "store_error", ipAddress)
		return &Result{Valid: false, Reason: ReasonAgentNotFound}
	}

	var assessment *types.RiskAssessment
	if s.risk != nil {
		s.risk.RecordActivity(ctx, agent.ID)
		assessment = s.risk.Assess(ctx, agent)
		s.risk.Persist(ctx, agent.ID, assessment)
	}

	if !agent.IsActive() {
		if s.risk != nil {
			s.risk.RecordVerification(ctx, agent.ID, false)
		}
		s.writeEvent(ctx, appID, agentID, types.VerificationInvalid, ReasonAgentSuspended, ipAddress)
		return &Result{Valid: false, Reason: ReasonAgentSuspended, Risk: assessment}
	}

	if s.risk != nil {
		s.risk.RecordVerification(ctx, agent.ID, true)
	}

	var summary *types.HumanVerificationSummary
	if hv, err := s.human.Summary(ctx, agent.ID); err != nil {
		s.logger.Debug("human verification read failed", zap.String("agent_id", agent.ID.String()), zap.Error(err))
	} else {
		summary = hv
	}

	s.writeEvent(ctx, appID, agentID, types.VerificationValid, "", ipAddress)

	exp := claims.ExpiresAt.Time
	return &Result{
		Valid:             true,
		AgentID:           agentID,
		Handle:            claims.Handle,
		Scopes:            claims.Scopes,
		ExpiresAt:         &exp,
		Risk:              assessment,
		HumanVerification: summary,
	}
}

// Introspect returns the RFC 7662 view of a token. Inactive unless the
// signature verifies and the agent exists and is active.
func (s *Service) Introspect(ctx context.Context, tokenString string, appID uuid.UUID) *Introspection {
	claims, err := s.minter.Verify(tokenString)
	if err != nil {
		return &Introspection{Active: false}
	}

	if s.revoker != nil {
		if revoked, err := s.revoker.IsRevoked(ctx, claims.ID); err == nil && revoked {
			return &Introspection{Active: false}
		}
	}

	agentID := parseAgentID(claims.Subject)
	if agentID == nil {
		return &Introspection{Active: false}
	}
	agent, err := s.agents.GetAgent(ctx, *agentID)
	if err != nil || !agent.IsActive() {
		return &Introspection{Active: false}
	}

	return &Introspection{
		Active:    true,
		Subject:   claims.Subject,
		Issuer:    claims.Issuer,
		IssuedAt:  claims.IssuedAt.Unix(),
		ExpiresAt: claims.ExpiresAt.Unix(),
		JTI:       claims.ID,
		Handle:    claims.Handle,
		Scope:     joinScopes(claims.Scopes),
		ClientID:  appID.String(),
		TokenType: "Bearer",
	}
}

// Revoke adds the token's JTI to the blocklist. The signature is not
// verified; possession of the compact token is sufficient to revoke it.
func (s *Service) Revoke(ctx context.Context, tokenString string, appID uuid.UUID, ipAddress string) error {
	jti, expiresAt, err := s.minter.DecodeUnverified(tokenString)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidToken, "token is malformed")
	}

	if s.revoker == nil {
		return apperr.New(apperr.CodeRedisUnavailable, "revocation store is unavailable")
	}
	if err := s.revoker.Revoke(ctx, jti, expiresAt); err != nil {
		return apperr.Wrap(err, apperr.CodeRedisUnavailable, "revocation store is unavailable")
	}

	s.audit.Emit(ctx, &types.AuditEvent{
		EventType: audit.EventTokenRevoked,
		ActorType: types.ActorTypeApp,
		ActorID:   appID.String(),
		IPAddress: ipAddress,
		Metadata:  map[string]interface{}{"jti": jti},
	})
	return nil
}

// writeEvent persists a verification event, best-effort
func (s *Service) writeEvent(ctx context.Context, appID uuid.UUID, agentID *uuid.UUID, outcome types.VerificationOutcome, reason, ipAddress string) {
	if s.events == nil {
		return
	}
	ev := &types.VerificationEvent{
		ID:        uuid.New(),
		AppID:     appID,
		AgentID:   agentID,
		Outcome:   outcome,
		Reason:    reason,
		IPAddress: ipAddress,
		CreatedAt: time.Now(),
	}
	if err := s.events.CreateEvent(ctx, ev); err != nil {
		s.logger.Warn("verification event write failed", zap.Error(err))
	}
}

func parseAgentID(subject string) *uuid.UUID {
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil
	}
	return &id
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
