package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// revokedKeyPrefix addresses blocklist entries in the ephemeral store
const revokedKeyPrefix = "revoked:"

// Revoker maintains the JTI revocation blocklist in the ephemeral store.
// Entries expire with the token's natural lifetime.
type Revoker struct {
	client redis.UniversalClient
}

// NewRevoker creates a revoker over the shared ephemeral store client
func NewRevoker(client redis.UniversalClient) *Revoker {
	return &Revoker{client: client}
}

// Revoke adds a token to the blocklist with TTL = max(1s, exp - now).
// Revocation must be durable to the ephemeral store to be effective, so
// errors propagate to the caller.
func (r *Revoker) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}

	key := revokedKeyPrefix + jti
	if err := r.client.Set(ctx, key, expiresAt.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("revoke token %s: %w", jti, err)
	}
	return nil
}

// IsRevoked checks the blocklist for a JTI. Callers degrade ephemeral-store
// errors to "not revoked" (fail open).
func (r *Revoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation for %s: %w", jti, err)
	}
	return n > 0, nil
}
