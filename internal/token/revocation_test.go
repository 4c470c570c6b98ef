package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRevokeAndCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	revoker := NewRevoker(client)
	ctx := context.Background()

	revoked, err := revoker.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, revoker.Revoke(ctx, "jti-1", time.Now().Add(30*time.Minute)))

	revoked, err = revoker.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// entry expires with the token's remaining lifetime
	mr.FastForward(31 * time.Minute)
	revoked, err = revoker.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeIsIdempotent(t *testing.T) {
	_, client := newTestRedis(t)
	revoker := NewRevoker(client)
	ctx := context.Background()

	exp := time.Now().Add(time.Hour)
	require.NoError(t, revoker.Revoke(ctx, "jti-2", exp))
	require.NoError(t, revoker.Revoke(ctx, "jti-2", exp))

	revoked, err := revoker.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRevokeNearExpiredGetsMinimumTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectSet("revoked:jti-3", mock.AnyArg(), time.Second).SetVal("OK")

	revoker := NewRevoker(client)
	err := revoker.Revoke(context.Background(), "jti-3", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeSurfacesStoreErrors(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	revoker := NewRevoker(client)
	err := revoker.Revoke(context.Background(), "jti-4", time.Now().Add(time.Hour))
	assert.Error(t, err)

	_, err = revoker.IsRevoked(context.Background(), "jti-4")
	assert.Error(t, err)
}
