// Package audit provides best-effort, append-only audit event logging.
// Writes never block the critical path and swallow their own errors.
package audit

// Audit event types emitted by the services
const (
	EventAgentRegistered  = "AGENT_REGISTERED"
	EventAgentKeyAdded    = "AGENT_KEY_ADDED"
	EventAgentKeyRevoked  = "AGENT_KEY_REVOKED"
	EventTokenIssued      = "TOKEN_ISSUED"
	EventTokenIssueFailed = "TOKEN_ISSUE_FAILED"
	EventTokenRevoked     = "TOKEN_REVOKED"
	EventAppCreated       = "APP_CREATED"
	EventAppKeyCreated    = "APP_KEY_CREATED"
	EventAppKeyRevoked    = "APP_KEY_REVOKED"
	EventAppKeysRotated   = "APP_KEYS_ROTATED"
)
