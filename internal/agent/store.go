package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agent-passport/go-core/pkg/types"
)

// Store defines persistence for agents, their keys, and their challenges.
// Per-agent invariants (handle uniqueness, challenge single-use) are
// protected here, at the durable store, not by in-process locks.
type Store interface {
	// CreateAgentWithKey creates an agent and its initial key in one
	// transaction. Fails with HANDLE_TAKEN when the handle exists.
	CreateAgentWithKey(ctx context.Context, agent *types.Agent, key *types.AgentKey) error

	// GetAgent retrieves an agent by ID
	GetAgent(ctx context.Context, id uuid.UUID) (*types.Agent, error)

	// GetAgentByHandle retrieves an agent by its unique handle
	GetAgentByHandle(ctx context.Context, handle string) (*types.Agent, error)

	// UpdateAgentStatus mutates the lifecycle status. Operator tooling
	// only; there is no HTTP endpoint for suspension.
	UpdateAgentStatus(ctx context.Context, id uuid.UUID, status types.AgentStatus) error

	// AddKey appends a key to an agent
	AddKey(ctx context.Context, key *types.AgentKey) error

	// GetKey retrieves one key scoped to its owning agent
	GetKey(ctx context.Context, agentID, keyID uuid.UUID) (*types.AgentKey, error)

	// ListActiveKeys returns the agent's non-revoked keys
	ListActiveKeys(ctx context.Context, agentID uuid.UUID) ([]*types.AgentKey, error)

	// RevokeKey sets revoked_at on a key that is not already revoked
	RevokeKey(ctx context.Context, agentID, keyID uuid.UUID, revokedAt time.Time) error

	// CreateChallenge persists a fresh challenge
	CreateChallenge(ctx context.Context, challenge *types.Challenge) error

	// GetChallenge retrieves a challenge by ID
	GetChallenge(ctx context.Context, id uuid.UUID) (*types.Challenge, error)

	// ConsumeChallenge conditionally sets used_at on an unused challenge.
	// Returns false when the challenge was already consumed; once set,
	// used_at is never cleared.
	ConsumeChallenge(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)
}
