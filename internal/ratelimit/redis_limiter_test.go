package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, failOpen bool) (*miniredis.Miniredis, *RedisLimiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisLimiter(client, failOpen, nil)
}

func TestCheckAllowsUpToLimit(t *testing.T) {
	_, rl := newTestLimiter(t, false)
	ctx := context.Background()
	rule := Rule{Limit: 5, Window: time.Minute, KeyPrefix: "challenge:agent"}

	lastRemaining := rule.Limit
	for i := 0; i < 5; i++ {
		res, err := rl.Check(ctx, "agent-1", rule)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, rule.Limit, res.Limit)
		assert.Less(t, res.Remaining, lastRemaining, "remaining must decrease")
		lastRemaining = res.Remaining
	}
	assert.Equal(t, 0, lastRemaining)

	res, err := rl.Check(ctx, "agent-1", rule)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.GreaterOrEqual(t, res.RetryAfter, time.Second)
}

func TestCheckWindowSlides(t *testing.T) {
	mr, rl := newTestLimiter(t, false)
	ctx := context.Background()
	rule := Rule{Limit: 2, Window: time.Minute, KeyPrefix: "token:agent"}

	for i := 0; i < 2; i++ {
		res, err := rl.Check(ctx, "agent-2", rule)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := rl.Check(ctx, "agent-2", rule)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// key TTL is window+1s; advancing past it empties the window
	mr.FastForward(61 * time.Second)

	res, err = rl.Check(ctx, "agent-2", rule)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckIdentifiersAreIndependent(t *testing.T) {
	_, rl := newTestLimiter(t, false)
	ctx := context.Background()
	rule := Rule{Limit: 1, Window: time.Minute, KeyPrefix: "challenge:ip"}

	res, err := rl.Check(ctx, "10.0.0.1", rule)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = rl.Check(ctx, "10.0.0.1", rule)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	res, err = rl.Check(ctx, "10.0.0.2", rule)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckFailOpen(t *testing.T) {
	mr, rl := newTestLimiter(t, true)
	mr.Close()

	res, err := rl.Check(context.Background(), "agent-3", ChallengePerAgent)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckFailClosed(t *testing.T) {
	mr, rl := newTestLimiter(t, false)
	mr.Close()

	_, err := rl.Check(context.Background(), "agent-3", ChallengePerAgent)
	assert.Error(t, err)
}

func TestMostRestrictive(t *testing.T) {
	allowLoose := &Result{Allowed: true, Remaining: 50}
	allowTight := &Result{Allowed: true, Remaining: 2}
	denied := &Result{Allowed: false, Remaining: 0, RetryAfter: 5 * time.Second}

	assert.Equal(t, allowTight, MostRestrictive(allowLoose, allowTight))
	assert.Equal(t, denied, MostRestrictive(allowLoose, denied))
	assert.Equal(t, denied, MostRestrictive(denied, allowTight))
	assert.Nil(t, MostRestrictive())
	assert.Equal(t, allowLoose, MostRestrictive(allowLoose, nil))
}
