package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// keyPrefix is the ephemeral store namespace for all rate-limit counters
const keyPrefix = "ratelimit"

// RedisLimiter implements sliding-window rate limiting with sorted sets.
// Counters are keyed ratelimit:<prefix>:<identifier> and scored by epoch
// seconds; members carry a random suffix so simultaneous requests in the
// same second stay distinct.
type RedisLimiter struct {
	client   redis.UniversalClient
	failOpen bool
	logger   *zap.Logger
}

// NewRedisLimiter creates a redis-backed sliding-window limiter. failOpen
// controls behaviour when the ephemeral store is unavailable.
func NewRedisLimiter(client redis.UniversalClient, failOpen bool, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{client: client, failOpen: failOpen, logger: logger}
}

// Check executes the window maintenance and decision as a single pipelined
// transaction: trim expired entries, count the window pre-insert, insert the
// new entry, refresh the key TTL.
func (rl *RedisLimiter) Check(ctx context.Context, identifier string, rule Rule) (*Result, error) {
	now := time.Now()
	key := fmt.Sprintf("%s:%s:%s", keyPrefix, rule.KeyPrefix, identifier)
	windowStart := now.Add(-rule.Window).Unix()

	suffix, err := randomSuffix()
	if err != nil {
		return nil, fmt.Errorf("rate limit member suffix: %w", err)
	}
	member := fmt.Sprintf("%d:%s", now.Unix(), suffix)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.Unix()), Member: member})
	pipe.Expire(ctx, key, rule.Window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		if rl.failOpen {
			rl.logger.Warn("rate limit check failed, allowing request",
				zap.String("key", key), zap.Error(err))
			return &Result{
				Allowed:   true,
				Limit:     rule.Limit,
				Remaining: rule.Limit,
				Reset:     now.Add(rule.Window),
			}, nil
		}
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	count := int(countCmd.Val())

	if count >= rule.Limit {
		retryAfter := rl.retryAfter(ctx, key, rule, now)
		return &Result{
			Allowed:    false,
			Limit:      rule.Limit,
			Remaining:  0,
			Reset:      now.Add(retryAfter),
			RetryAfter: retryAfter,
		}, nil
	}

	remaining := rule.Limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: remaining,
		Reset:     now.Add(rule.Window),
	}, nil
}

// retryAfter derives the denial hint from the oldest entry still in the
// window: max(1, oldest + window - now)
func (rl *RedisLimiter) retryAfter(ctx context.Context, key string, rule Rule, now time.Time) time.Duration {
	oldest, err := rl.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return time.Second
	}

	oldestTS := time.Unix(int64(oldest[0].Score), 0)
	retry := oldestTS.Add(rule.Window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return retry
}

func randomSuffix() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
