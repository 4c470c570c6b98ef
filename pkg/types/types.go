// Package types provides shared domain types for the agent passport service
package types

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus represents the lifecycle status of an agent
type AgentStatus string

const (
	AgentStatusActive    AgentStatus = "active"
	AgentStatusSuspended AgentStatus = "suspended"
)

// Agent represents an autonomous software principal identified by a handle
// and one or more Ed25519 keys
type Agent struct {
	ID        uuid.UUID   `json:"id"`
	Handle    string      `json:"handle"`
	Status    AgentStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsActive reports whether the agent may issue challenges and tokens
func (a *Agent) IsActive() bool {
	return a.Status == AgentStatusActive
}

// AgentKey represents an Ed25519 public key registered to an agent.
// Keys are immutable except for revocation.
type AgentKey struct {
	ID        uuid.UUID  `json:"id"`
	AgentID   uuid.UUID  `json:"agent_id"`
	PublicKey string     `json:"public_key"` // base64, 32 raw bytes
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsRevoked reports whether the key has been revoked
func (k *AgentKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// Challenge represents a single-use server-issued nonce the agent signs to
// prove key possession. Once UsedAt is set it is never cleared.
type Challenge struct {
	ID        uuid.UUID  `json:"id"`
	AgentID   uuid.UUID  `json:"agent_id"`
	Nonce     string     `json:"nonce"` // base64, >= 32 random bytes
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Redeemable reports whether the challenge can still mint a token at the
// given instant
func (c *Challenge) Redeemable(now time.Time) bool {
	return c.UsedAt == nil && !now.After(c.ExpiresAt)
}

// AppStatus represents the lifecycle status of a consumer app
type AppStatus string

const (
	AppStatusActive    AppStatus = "active"
	AppStatusSuspended AppStatus = "suspended"
)

// App represents a server-side consumer of verification calls
type App struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerUserID string    `json:"owner_user_id"`
	Status      AppStatus `json:"status"`
	Scopes      []string  `json:"scopes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsActive reports whether the app may call verification endpoints
func (a *App) IsActive() bool {
	return a.Status == AppStatusActive
}

// AppKeyStatus represents the lifecycle status of an app API key
type AppKeyStatus string

const (
	AppKeyStatusActive  AppKeyStatus = "active"
	AppKeyStatusRevoked AppKeyStatus = "revoked"
)

// AppKey represents a hashed app API key. The full secret exists only in the
// caller's hands after creation; the store keeps prefix and hash.
type AppKey struct {
	ID         uuid.UUID    `json:"id"`
	AppID      uuid.UUID    `json:"app_id"`
	Prefix     string       `json:"prefix"` // first 12 chars of the secret
	SecretHash string       `json:"-"`      // argon2id encoded hash, never exposed
	Status     AppKeyStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	LastUsedAt *time.Time   `json:"last_used_at,omitempty"`
}

// ActorType identifies the kind of actor behind an audit event
type ActorType string

const (
	ActorTypeAgent      ActorType = "agent"
	ActorTypeApp        ActorType = "app"
	ActorTypePortalUser ActorType = "portal_user"
	ActorTypeSystem     ActorType = "system"
)

// AuditEvent is an append-only record of a service action. Writes are
// best-effort and never block the critical path.
type AuditEvent struct {
	ID        uuid.UUID              `json:"id"`
	EventType string                 `json:"event_type"`
	ActorType ActorType              `json:"actor_type"`
	ActorID   string                 `json:"actor_id"`
	IPAddress string                 `json:"ip_address,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// VerificationOutcome classifies the result of a token verification
type VerificationOutcome string

const (
	VerificationValid   VerificationOutcome = "valid"
	VerificationInvalid VerificationOutcome = "invalid"
	VerificationError   VerificationOutcome = "error"
)

// VerificationEvent is an append-only record of a verify call, used for
// per-app aggregates
type VerificationEvent struct {
	ID        uuid.UUID           `json:"id"`
	AppID     uuid.UUID           `json:"app_id"`
	AgentID   *uuid.UUID          `json:"agent_id,omitempty"`
	Outcome   VerificationOutcome `json:"outcome"`
	Reason    string              `json:"reason,omitempty"`
	IPAddress string              `json:"ip_address,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// RiskAction is the recommended action attached to a risk assessment
type RiskAction string

const (
	RiskActionAllow    RiskAction = "allow"
	RiskActionThrottle RiskAction = "throttle"
	RiskActionBlock    RiskAction = "block"
)

// RiskAssessment is the explainable risk result attached to verification
// responses. Advisory unless the enclosing layer elects to enforce block.
type RiskAssessment struct {
	Score             int        `json:"score"` // 0-100
	RecommendedAction RiskAction `json:"recommendedAction"`
	Reasons           []string   `json:"reasons"`
}

// RiskSnapshot is the opportunistically persisted form of a risk assessment,
// keyed by agent. Not source of truth.
type RiskSnapshot struct {
	AgentID           uuid.UUID  `json:"agent_id"`
	Score             int        `json:"score"`
	RecommendedAction RiskAction `json:"recommended_action"`
	Reasons           []string   `json:"reasons"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HumanVerificationSummary is the read-only view over the human-verification
// linking subsystem, attached best-effort to valid verification responses
type HumanVerificationSummary struct {
	Verified   bool       `json:"verified"`
	Method     string     `json:"method,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}
