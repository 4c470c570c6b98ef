// Package risk maintains per-agent behavioral counters and computes an
// explainable rule-based risk assessment
package risk

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agent-passport/go-core/internal/cache"
	"github.com/agent-passport/go-core/pkg/types"
)

// Counter windows
const (
	InvalidWindow  = 24 * time.Hour
	DenialWindow   = time.Hour
	ActivityWindow = 10 * time.Minute
	LockTTL        = 5 * time.Minute
)

// Risk reason codes
const (
	ReasonAgentSuspended   = "agent_suspended"
	ReasonNewAgent         = "new_agent"
	ReasonHighInvalidRate  = "high_invalid_rate"
	ReasonRateLimitedOften = "rate_limited_often"
	ReasonBurstActivity    = "burst_activity"
)

// Scoring thresholds
const (
	newAgentAge          = 7 * 24 * time.Hour
	invalidRateThreshold = 0.20
	denialThreshold      = 10
	activityThreshold    = 50

	blockScore    = 60
	throttleScore = 30
)

// SnapshotStore persists risk snapshots, best-effort
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snapshot *types.RiskSnapshot) error
}

// Engine records signals and scores agents. Every ephemeral read degrades to
// zero and every write swallows its error; risk never blocks verification.
type Engine struct {
	cache     *cache.Client
	snapshots SnapshotStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates a risk engine. The snapshot store may be nil, in which
// case persistence is skipped.
func NewEngine(cacheClient *cache.Client, snapshots SnapshotStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cache:     cacheClient,
		snapshots: snapshots,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordVerification records one valid or invalid verification attempt
func (e *Engine) RecordVerification(ctx context.Context, agentID uuid.UUID, valid bool) {
	tag := "invalid"
	if valid {
		tag = "valid"
	}
	e.record(ctx, invalidKey(agentID), tag, InvalidWindow)
}

// RecordRateLimitDenial records one rate-limit denial
func (e *Engine) RecordRateLimitDenial(ctx context.Context, agentID uuid.UUID) {
	e.record(ctx, denialKey(agentID), "", DenialWindow)
}

// RecordActivity records one activity event
func (e *Engine) RecordActivity(ctx context.Context, agentID uuid.UUID) {
	e.record(ctx, activityKey(agentID), "", ActivityWindow)
}

func (e *Engine) record(ctx context.Context, key, tag string, window time.Duration) {
	if e.cache == nil {
		return
	}

	now := e.now()
	member := fmt.Sprintf("%d:%s", now.Unix(), randSuffix())
	if tag != "" {
		member = fmt.Sprintf("%d:%s:%s", now.Unix(), tag, randSuffix())
	}

	rdb := e.cache.Raw()
	pipe := rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", now.Add(-window).Unix()))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.Unix()), Member: member})
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		e.logger.Debug("risk counter write failed", zap.String("key", key), zap.Error(err))
	}
}

// Assess computes the agent's risk from current signals. Deterministic in
// the counters; suspended agents short-circuit to 100/block.
func (e *Engine) Assess(ctx context.Context, agent *types.Agent) *types.RiskAssessment {
	if agent.Status == types.AgentStatusSuspended {
		return &types.RiskAssessment{
			Score:             100,
			RecommendedAction: types.RiskActionBlock,
			Reasons:           []string{ReasonAgentSuspended},
		}
	}

	now := e.now()
	score := 0
	reasons := []string{}

	if now.Sub(agent.CreatedAt) < newAgentAge {
		score += 25
		reasons = append(reasons, ReasonNewAgent)
	}

	valid, invalid := e.countVerifications(ctx, agent.ID)
	if total := valid + invalid; total > 0 {
		if rate := float64(invalid) / float64(total); rate > invalidRateThreshold {
			score += 20
			reasons = append(reasons, ReasonHighInvalidRate)
		}
	}

	if e.count(ctx, denialKey(agent.ID), DenialWindow) > denialThreshold {
		score += 20
		reasons = append(reasons, ReasonRateLimitedOften)
	}

	if e.count(ctx, activityKey(agent.ID), ActivityWindow) > activityThreshold {
		score += 15
		reasons = append(reasons, ReasonBurstActivity)
	}

	if score > 100 {
		score = 100
	}

	action := types.RiskActionAllow
	switch {
	case score >= blockScore:
		action = types.RiskActionBlock
	case score >= throttleScore:
		action = types.RiskActionThrottle
	}

	return &types.RiskAssessment{
		Score:             score,
		RecommendedAction: action,
		Reasons:           reasons,
	}
}

// Persist upserts the snapshot behind a per-agent advisory lock. A held lock
// skips the write; a lock error writes anyway.
func (e *Engine) Persist(ctx context.Context, agentID uuid.UUID, assessment *types.RiskAssessment) {
	if e.snapshots == nil {
		return
	}

	if e.cache != nil {
		acquired, err := e.cache.AcquireLock(ctx, lockKey(agentID), LockTTL)
		if err == nil && !acquired {
			return
		}
		if err != nil {
			e.logger.Debug("risk persistence lock failed, writing anyway",
				zap.String("agent_id", agentID.String()), zap.Error(err))
		}
	}

	snapshot := &types.RiskSnapshot{
		AgentID:           agentID,
		Score:             assessment.Score,
		RecommendedAction: assessment.RecommendedAction,
		Reasons:           assessment.Reasons,
		UpdatedAt:         e.now(),
	}
	if err := e.snapshots.UpsertSnapshot(ctx, snapshot); err != nil {
		e.logger.Warn("risk snapshot upsert failed",
			zap.String("agent_id", agentID.String()), zap.Error(err))
	}
}

// countVerifications splits the shared 24 h stream by member tag
func (e *Engine) countVerifications(ctx context.Context, agentID uuid.UUID) (valid, invalid int64) {
	if e.cache == nil {
		return 0, 0
	}

	now := e.now()
	min := fmt.Sprintf("%d", now.Add(-InvalidWindow).Unix())
	max := fmt.Sprintf("%d", now.Unix())

	members, err := e.cache.Raw().ZRangeByScore(ctx, invalidKey(agentID), &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		e.logger.Debug("risk counter read failed",
			zap.String("agent_id", agentID.String()), zap.Error(err))
		return 0, 0
	}

	for _, m := range members {
		if strings.Contains(m, ":invalid:") {
			invalid++
		} else if strings.Contains(m, ":valid:") {
			valid++
		}
	}
	return valid, invalid
}

func (e *Engine) count(ctx context.Context, key string, window time.Duration) int64 {
	if e.cache == nil {
		return 0
	}

	now := e.now()
	n, err := e.cache.Raw().ZCount(ctx, key,
		fmt.Sprintf("%d", now.Add(-window).Unix()),
		fmt.Sprintf("%d", now.Unix())).Result()
	if err != nil {
		e.logger.Debug("risk counter read failed", zap.String("key", key), zap.Error(err))
		return 0
	}
	return n
}

func invalidKey(id uuid.UUID) string  { return "risk:invalid:" + id.String() }
func denialKey(id uuid.UUID) string   { return "risk:ratelimit:" + id.String() }
func activityKey(id uuid.UUID) string { return "risk:burst:" + id.String() }
func lockKey(id uuid.UUID) string     { return "risk:lock:" + id.String() }

func randSuffix() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
