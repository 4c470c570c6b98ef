package challenge_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-passport/go-core/internal/agent"
	"github.com/agent-passport/go-core/internal/apperr"
	"github.com/agent-passport/go-core/internal/cache"
	"github.com/agent-passport/go-core/internal/challenge"
	"github.com/agent-passport/go-core/pkg/types"
)

type fixture struct {
	store   *agent.MemoryStore
	manager *challenge.Manager
	agentID uuid.UUID
	priv    ed25519.PrivateKey
	mr      *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	store := agent.NewMemoryStore()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	agentID := uuid.New()
	require.NoError(t, store.CreateAgentWithKey(context.Background(),
		&types.Agent{
			ID:        agentID,
			Handle:    "test-agent",
			Status:    types.AgentStatusActive,
			CreatedAt: time.Now(),
		},
		&types.AgentKey{
			ID:        uuid.New(),
			AgentID:   agentID,
			PublicKey: base64.StdEncoding.EncodeToString(pub),
			CreatedAt: time.Now(),
		}))

	return &fixture{
		store:   store,
		manager: challenge.NewManager(store, client, challenge.Config{}),
		agentID: agentID,
		priv:    priv,
		mr:      mr,
	}
}

func (f *fixture) sign(nonce string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(f.priv, []byte(nonce)))
}

func TestIssueChallenge(t *testing.T) {
	f := newFixture(t)

	ch, err := f.manager.Issue(context.Background(), f.agentID)
	require.NoError(t, err)

	assert.Equal(t, f.agentID, ch.AgentID)
	assert.Nil(t, ch.UsedAt)
	assert.WithinDuration(t, time.Now().Add(challenge.DefaultTTL), ch.ExpiresAt, 2*time.Second)

	nonce, err := base64.StdEncoding.DecodeString(ch.Nonce)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(nonce), challenge.NonceBytes)

	// mirror entry carries the nonce under the durable TTL
	mirrored, merr := f.mr.Get("challenge:" + ch.ID.String())
	require.NoError(t, merr)
	assert.Equal(t, ch.Nonce, mirrored)
}

func TestIssueChallengeNoncesAreUnique(t *testing.T) {
	f := newFixture(t)

	a, err := f.manager.Issue(context.Background(), f.agentID)
	require.NoError(t, err)
	b, err := f.manager.Issue(context.Background(), f.agentID)
	require.NoError(t, err)

	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestIssueChallengeUnknownAgent(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Issue(context.Background(), uuid.New())
	assert.True(t, apperr.Is(err, apperr.CodeAgentNotFound))
}

func TestIssueChallengeSuspendedAgent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpdateAgentStatus(context.Background(), f.agentID, types.AgentStatusSuspended))

	_, err := f.manager.Issue(context.Background(), f.agentID)
	assert.True(t, apperr.Is(err, apperr.CodeAgentSuspended))
}

func TestIssueSurvivesMirrorOutage(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()

	ch, err := f.manager.Issue(context.Background(), f.agentID)
	require.NoError(t, err)
	assert.NotEmpty(t, ch.Nonce)
}

func TestRedeemHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.manager.Issue(ctx, f.agentID)
	require.NoError(t, err)

	a, err := f.manager.Redeem(ctx, f.agentID, ch.ID, f.sign(ch.Nonce))
	require.NoError(t, err)
	assert.Equal(t, f.agentID, a.ID)

	stored, err := f.store.GetChallenge(ctx, ch.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.UsedAt)

	// mirror entry is gone after redemption
	assert.False(t, f.mr.Exists("challenge:"+ch.ID.String()))
}

func TestRedeemSecondAttemptFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.manager.Issue(ctx, f.agentID)
	require.NoError(t, err)

	sig := f.sign(ch.Nonce)
	_, err = f.manager.Redeem(ctx, f.agentID, ch.ID, sig)
	require.NoError(t, err)

	_, err = f.manager.Redeem(ctx, f.agentID, ch.ID, sig)
	assert.True(t, apperr.Is(err, apperr.CodeChallengeAlreadyUsed))
	assert.Equal(t, challenge.ReasonChallengeAlreadyUsed, challenge.FailureReason(err))
}

func TestRedeemUnknownChallenge(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Redeem(context.Background(), f.agentID, uuid.New(), "sig")
	assert.True(t, apperr.Is(err, apperr.CodeChallengeNotFound))
	assert.Equal(t, challenge.ReasonChallengeNotFound, challenge.FailureReason(err))
}

func TestRedeemWrongAgentLooksLikeNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.manager.Issue(ctx, f.agentID)
	require.NoError(t, err)

	otherID := uuid.New()
	require.NoError(t, f.store.CreateAgentWithKey(ctx,
		&types.Agent{ID: otherID, Handle: "other-agent", Status: types.AgentStatusActive, CreatedAt: time.Now()},
		&types.AgentKey{ID: uuid.New(), AgentID: otherID, PublicKey: "AAAA", CreatedAt: time.Now()}))

	_, err = f.manager.Redeem(ctx, otherID, ch.ID, f.sign(ch.Nonce))
	assert.True(t, apperr.Is(err, apperr.CodeChallengeNotFound))
	assert.Equal(t, challenge.ReasonChallengeMismatch, challenge.FailureReason(err))
}

func TestRedeemExpiredChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.manager.Issue(ctx, f.agentID)
	require.NoError(t, err)

	f.manager.SetNow(func() time.Time { return ch.ExpiresAt.Add(time.Second) })

	_, err = f.manager.Redeem(ctx, f.agentID, ch.ID, f.sign(ch.Nonce))
	assert.True(t, apperr.Is(err, apperr.CodeChallengeExpired))
	assert.Equal(t, challenge.ReasonChallengeExpired, challenge.FailureReason(err))
}

func TestRedeemSuspendedAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.manager.Issue(ctx, f.agentID)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateAgentStatus(ctx, f.agentID, types.AgentStatusSuspended))

	_, err = f.manager.Redeem(ctx, f.agentID, ch.ID, f.sign(ch.Nonce))
	assert.True(t, apperr.Is(err, apperr.CodeAgentSuspended))
	assert.Equal(t, challenge.ReasonAgentSuspended, challenge.FailureReason(err))
}

func TestRedeemNoActiveKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.manager.Issue(ctx, f.agentID)
	require.NoError(t, err)

	keys, err := f.store.ListActiveKeys(ctx, f.agentID)
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, f.store.RevokeKey(ctx, f.agentID, k.ID, time.Now()))
	}

	_, err = f.manager.Redeem(ctx, f.agentID, ch.ID, f.sign(ch.Nonce))
	assert.True(t, apperr.Is(err, apperr.CodeNoActiveKeys))
	assert.Equal(t, challenge.ReasonNoActiveKeys, challenge.FailureReason(err))

	// the signature was never checked, but the challenge is still unused
	stored, err := f.store.GetChallenge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.UsedAt)
}

func TestRedeemInvalidSignatureLeavesChallengeUnused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.manager.Issue(ctx, f.agentID)
	require.NoError(t, err)

	_, wrongPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	badSig := base64.StdEncoding.EncodeToString(ed25519.Sign(wrongPriv, []byte(ch.Nonce)))

	_, err = f.manager.Redeem(ctx, f.agentID, ch.ID, badSig)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidSignature))
	assert.Equal(t, challenge.ReasonInvalidSignature, challenge.FailureReason(err))

	// a failed attempt must not burn the challenge
	a, err := f.manager.Redeem(ctx, f.agentID, ch.ID, f.sign(ch.Nonce))
	require.NoError(t, err)
	assert.Equal(t, f.agentID, a.ID)
}

func TestRedeemVerifiesAgainstAnyActiveKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pub2, priv2, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, f.store.AddKey(ctx, &types.AgentKey{
		ID:        uuid.New(),
		AgentID:   f.agentID,
		PublicKey: base64.StdEncoding.EncodeToString(pub2),
		CreatedAt: time.Now(),
	}))

	ch, err := f.manager.Issue(ctx, f.agentID)
	require.NoError(t, err)

	sig2 := base64.StdEncoding.EncodeToString(ed25519.Sign(priv2, []byte(ch.Nonce)))
	a, err := f.manager.Redeem(ctx, f.agentID, ch.ID, sig2)
	require.NoError(t, err)
	assert.Equal(t, f.agentID, a.ID)
}
