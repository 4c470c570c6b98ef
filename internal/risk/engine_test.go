package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-passport/go-core/internal/cache"
	"github.com/agent-passport/go-core/pkg/types"
)

type memorySnapshots struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]*types.RiskSnapshot
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{snapshots: make(map[uuid.UUID]*types.RiskSnapshot)}
}

func (m *memorySnapshots) UpsertSnapshot(ctx context.Context, s *types.RiskSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.AgentID] = s
	return nil
}

func (m *memorySnapshots) get(id uuid.UUID) *types.RiskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots[id]
}

func newEngine(t *testing.T) (*Engine, *memorySnapshots, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	snaps := newMemorySnapshots()
	return NewEngine(client, snaps, nil), snaps, mr
}

func matureAgent() *types.Agent {
	return &types.Agent{
		ID:        uuid.New(),
		Handle:    "mature",
		Status:    types.AgentStatusActive,
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	}
}

func TestAssessCleanAgent(t *testing.T) {
	e, _, _ := newEngine(t)

	r := e.Assess(context.Background(), matureAgent())
	assert.Equal(t, 0, r.Score)
	assert.Equal(t, types.RiskActionAllow, r.RecommendedAction)
	assert.Empty(t, r.Reasons)
}

func TestAssessSuspendedIsTerminal(t *testing.T) {
	e, _, _ := newEngine(t)

	agent := matureAgent()
	agent.Status = types.AgentStatusSuspended
	// signals that would otherwise add reasons are ignored
	agent.CreatedAt = time.Now()

	r := e.Assess(context.Background(), agent)
	assert.Equal(t, 100, r.Score)
	assert.Equal(t, types.RiskActionBlock, r.RecommendedAction)
	assert.Equal(t, []string{ReasonAgentSuspended}, r.Reasons)
}

func TestAssessNewAgent(t *testing.T) {
	e, _, _ := newEngine(t)

	agent := matureAgent()
	agent.CreatedAt = time.Now().Add(-24 * time.Hour)

	r := e.Assess(context.Background(), agent)
	assert.Equal(t, 25, r.Score)
	assert.Equal(t, types.RiskActionAllow, r.RecommendedAction)
	assert.Contains(t, r.Reasons, ReasonNewAgent)
}

func TestAssessHighInvalidRate(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	agent := matureAgent()

	// 3 invalid out of 10 attempts: rate 0.30 > 0.20
	for i := 0; i < 7; i++ {
		e.RecordVerification(ctx, agent.ID, true)
	}
	for i := 0; i < 3; i++ {
		e.RecordVerification(ctx, agent.ID, false)
	}

	r := e.Assess(ctx, agent)
	assert.Equal(t, 20, r.Score)
	assert.Contains(t, r.Reasons, ReasonHighInvalidRate)
}

func TestAssessInvalidRateAtThresholdDoesNotFire(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	agent := matureAgent()

	// exactly 0.20 is not strictly greater
	for i := 0; i < 8; i++ {
		e.RecordVerification(ctx, agent.ID, true)
	}
	for i := 0; i < 2; i++ {
		e.RecordVerification(ctx, agent.ID, false)
	}

	r := e.Assess(ctx, agent)
	assert.NotContains(t, r.Reasons, ReasonHighInvalidRate)
}

func TestAssessZeroAttemptsIsZeroRate(t *testing.T) {
	e, _, _ := newEngine(t)

	r := e.Assess(context.Background(), matureAgent())
	assert.NotContains(t, r.Reasons, ReasonHighInvalidRate)
}

func TestAssessRateLimitedOften(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	agent := matureAgent()

	// exactly 10 does not fire; 11 does
	for i := 0; i < 10; i++ {
		e.RecordRateLimitDenial(ctx, agent.ID)
	}
	r := e.Assess(ctx, agent)
	assert.NotContains(t, r.Reasons, ReasonRateLimitedOften)

	e.RecordRateLimitDenial(ctx, agent.ID)
	r = e.Assess(ctx, agent)
	assert.Equal(t, 20, r.Score)
	assert.Contains(t, r.Reasons, ReasonRateLimitedOften)
}

func TestAssessBurstActivity(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	agent := matureAgent()

	for i := 0; i < 51; i++ {
		e.RecordActivity(ctx, agent.ID)
	}

	r := e.Assess(ctx, agent)
	assert.Equal(t, 15, r.Score)
	assert.Contains(t, r.Reasons, ReasonBurstActivity)
}

func TestAssessCompoundSignalsThrottleAndBlock(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	agent := matureAgent()
	agent.CreatedAt = time.Now() // +25

	for i := 0; i < 3; i++ { // rate 1.0 -> +20
		e.RecordVerification(ctx, agent.ID, false)
	}

	r := e.Assess(ctx, agent)
	assert.Equal(t, 45, r.Score)
	assert.Equal(t, types.RiskActionThrottle, r.RecommendedAction)

	for i := 0; i < 11; i++ { // +20 -> 65
		e.RecordRateLimitDenial(ctx, agent.ID)
	}

	r = e.Assess(ctx, agent)
	assert.Equal(t, 65, r.Score)
	assert.Equal(t, types.RiskActionBlock, r.RecommendedAction)
	assert.Equal(t, []string{ReasonNewAgent, ReasonHighInvalidRate, ReasonRateLimitedOften}, r.Reasons)
}

func TestAssessDegradesToZeroOnOutage(t *testing.T) {
	e, _, mr := newEngine(t)
	ctx := context.Background()
	agent := matureAgent()

	for i := 0; i < 20; i++ {
		e.RecordVerification(ctx, agent.ID, false)
	}
	mr.Close()

	// counters read as zero, recording swallows errors
	e.RecordVerification(ctx, agent.ID, false)
	r := e.Assess(ctx, agent)
	assert.Equal(t, 0, r.Score)
	assert.Equal(t, types.RiskActionAllow, r.RecommendedAction)
}

func TestCountersExpireOutsideWindow(t *testing.T) {
	e, _, mr := newEngine(t)
	ctx := context.Background()
	agent := matureAgent()

	for i := 0; i < 60; i++ {
		e.RecordActivity(ctx, agent.ID)
	}
	r := e.Assess(ctx, agent)
	assert.Contains(t, r.Reasons, ReasonBurstActivity)

	// the whole key expires via its TTL
	mr.FastForward(ActivityWindow + time.Second)
	r = e.Assess(ctx, agent)
	assert.NotContains(t, r.Reasons, ReasonBurstActivity)
}

func TestPersistHonorsAdvisoryLock(t *testing.T) {
	e, snaps, _ := newEngine(t)
	ctx := context.Background()
	agent := matureAgent()

	first := &types.RiskAssessment{Score: 10, RecommendedAction: types.RiskActionAllow, Reasons: []string{}}
	e.Persist(ctx, agent.ID, first)
	require.NotNil(t, snaps.get(agent.ID))
	assert.Equal(t, 10, snaps.get(agent.ID).Score)

	// lock is held: the second write within the TTL is skipped
	second := &types.RiskAssessment{Score: 45, RecommendedAction: types.RiskActionThrottle, Reasons: []string{ReasonNewAgent}}
	e.Persist(ctx, agent.ID, second)
	assert.Equal(t, 10, snaps.get(agent.ID).Score)
}

func TestPersistWritesDespiteLockOutage(t *testing.T) {
	e, snaps, mr := newEngine(t)
	ctx := context.Background()
	agent := matureAgent()
	mr.Close()

	e.Persist(ctx, agent.ID, &types.RiskAssessment{Score: 30, RecommendedAction: types.RiskActionThrottle, Reasons: []string{}})
	require.NotNil(t, snaps.get(agent.ID))
	assert.Equal(t, 30, snaps.get(agent.ID).Score)
}
