// Package challenge implements the single-use challenge flow that proves
// possession of a registered agent key
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agent-passport/go-core/internal/apperr"
	"github.com/agent-passport/go-core/internal/cache"
	"github.com/agent-passport/go-core/internal/signature"
	"github.com/agent-passport/go-core/pkg/types"
)

// DefaultTTL is the challenge lifetime when not configured
const DefaultTTL = 5 * time.Minute

// NonceBytes is the entropy of a challenge nonce before base64 encoding
const NonceBytes = 32

// Redemption failure reason codes, attached to error details and audit
// metadata. Ordered checks mean a single stable reason per failure.
const (
	ReasonChallengeNotFound    = "challenge_not_found"
	ReasonChallengeMismatch    = "challenge_agent_mismatch"
	ReasonChallengeAlreadyUsed = "challenge_already_used"
	ReasonChallengeExpired     = "challenge_expired"
	ReasonAgentSuspended       = "agent_suspended"
	ReasonNoActiveKeys         = "no_active_keys"
	ReasonInvalidSignature     = "invalid_signature"
)

// Store is the persistence surface the challenge flow needs. The agent
// package's stores satisfy it.
type Store interface {
	GetAgent(ctx context.Context, id uuid.UUID) (*types.Agent, error)
	ListActiveKeys(ctx context.Context, agentID uuid.UUID) ([]*types.AgentKey, error)
	CreateChallenge(ctx context.Context, challenge *types.Challenge) error
	GetChallenge(ctx context.Context, id uuid.UUID) (*types.Challenge, error)
	ConsumeChallenge(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)
}

// Manager issues and redeems challenges. The durable store is the source of
// truth; the ephemeral mirror only accelerates expiry-based cleanup.
type Manager struct {
	store  Store
	cache  *cache.Client
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// Config configures the challenge manager
type Config struct {
	TTL    time.Duration
	Logger *zap.Logger
}

// NewManager creates a challenge manager. The cache client may be nil; the
// flow is fully functional without the mirror.
func NewManager(store Store, cacheClient *cache.Client, cfg Config) *Manager {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		cache:  cacheClient,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

// Issue creates a fresh challenge for an active agent
func (m *Manager) Issue(ctx context.Context, agentID uuid.UUID) (*types.Challenge, error) {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.IsActive() {
		return nil, apperr.Newf(apperr.CodeAgentSuspended, "agent %s is suspended", agentID)
	}

	nonce := make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	now := m.now()
	ch := &types.Challenge{
		ID:        uuid.New(),
		AgentID:   agentID,
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.store.CreateChallenge(ctx, ch); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}

	// mirror for TTL-driven cleanup; losing it never affects correctness
	if m.cache != nil {
		if err := m.cache.Set(ctx, mirrorKey(ch.ID), ch.Nonce, m.ttl); err != nil {
			m.logger.Warn("challenge mirror write failed",
				zap.String("challenge_id", ch.ID.String()),
				zap.Error(err))
		}
	}

	return ch, nil
}

// Redeem validates a signed challenge and consumes it. Checks run in a fixed
// order so each failure maps to exactly one reason. The challenge is consumed
// only after the signature verifies.
func (m *Manager) Redeem(ctx context.Context, agentID, challengeID uuid.UUID, signatureB64 string) (*types.Agent, error) {
	ch, err := m.store.GetChallenge(ctx, challengeID)
	if err != nil {
		if apperr.Is(err, apperr.CodeChallengeNotFound) {
			return nil, reasonErr(apperr.CodeChallengeNotFound, "challenge not found", ReasonChallengeNotFound)
		}
		return nil, err
	}

	// a challenge for another agent is indistinguishable from a missing one
	if ch.AgentID != agentID {
		return nil, reasonErr(apperr.CodeChallengeNotFound, "challenge not found", ReasonChallengeMismatch)
	}

	now := m.now()
	if ch.UsedAt != nil {
		return nil, reasonErr(apperr.CodeChallengeAlreadyUsed, "challenge has already been used", ReasonChallengeAlreadyUsed)
	}
	if now.After(ch.ExpiresAt) {
		return nil, reasonErr(apperr.CodeChallengeExpired, "challenge has expired", ReasonChallengeExpired)
	}

	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.IsActive() {
		return nil, reasonErr(apperr.CodeAgentSuspended, "agent is suspended", ReasonAgentSuspended)
	}

	keys, err := m.store.ListActiveKeys(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list active keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, reasonErr(apperr.CodeNoActiveKeys, "agent has no active keys", ReasonNoActiveKeys)
	}

	verified := false
	for _, key := range keys {
		if signature.Verify(signatureB64, ch.Nonce, key.PublicKey) {
			verified = true
			break
		}
	}
	if !verified {
		return nil, reasonErr(apperr.CodeInvalidSignature, "signature does not verify against any active key", ReasonInvalidSignature)
	}

	consumed, err := m.store.ConsumeChallenge(ctx, challengeID, now)
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}
	if !consumed {
		// lost the race to a concurrent redeem
		return nil, reasonErr(apperr.CodeChallengeAlreadyUsed, "challenge has already been used", ReasonChallengeAlreadyUsed)
	}

	if m.cache != nil {
		if err := m.cache.Delete(ctx, mirrorKey(challengeID)); err != nil {
			m.logger.Warn("challenge mirror delete failed",
				zap.String("challenge_id", challengeID.String()),
				zap.Error(err))
		}
	}

	return agent, nil
}

func mirrorKey(id uuid.UUID) string {
	return "challenge:" + id.String()
}

func reasonErr(code apperr.Code, message, reason string) *apperr.Error {
	return apperr.New(code, message).WithDetails(map[string]interface{}{"reason": reason})
}

// FailureReason extracts the redemption reason from an error's details,
// falling back to the stable code
func FailureReason(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Details != nil {
		if r, ok := ae.Details["reason"].(string); ok {
			return r
		}
	}
	return string(apperr.CodeOf(err))
}
