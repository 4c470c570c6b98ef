package appcred

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agent-passport/go-core/pkg/types"
)

// Store defines persistence for apps and their hashed API keys
type Store interface {
	// CreateApp persists a new app
	CreateApp(ctx context.Context, app *types.App) error

	// GetApp retrieves an app by ID
	GetApp(ctx context.Context, id uuid.UUID) (*types.App, error)

	// CreateKey persists a hashed app key
	CreateKey(ctx context.Context, key *types.AppKey) error

	// ListKeysByPrefix returns active keys whose stored prefix matches.
	// Prefixes are not unique; the caller disambiguates by hash.
	ListKeysByPrefix(ctx context.Context, prefix string) ([]*types.AppKey, error)

	// ListKeys returns all keys for an app, newest first
	ListKeys(ctx context.Context, appID uuid.UUID) ([]*types.AppKey, error)

	// RevokeKey marks a key revoked
	RevokeKey(ctx context.Context, appID, keyID uuid.UUID) error

	// RotateKeys atomically revokes all active keys and inserts the
	// replacement. No window exists where the app has no key.
	RotateKeys(ctx context.Context, appID uuid.UUID, newKey *types.AppKey) error

	// TouchKey updates last_used_at, best-effort
	TouchKey(ctx context.Context, keyID uuid.UUID, usedAt time.Time) error
}
