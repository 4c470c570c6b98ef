package verify

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
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
	"github.com/agent-passport/go-core/internal/risk"
	"github.com/agent-passport/go-core/internal/token"
	"github.com/agent-passport/go-core/pkg/types"
)

type verifyFixture struct {
	svc     *Service
	minter  *token.Minter
	store   *agent.MemoryStore
	events  *MemoryEvents
	agentID uuid.UUID
	appID   uuid.UUID
	mr      *miniredis.Miniredis
}

func newVerifyFixture(t *testing.T) *verifyFixture {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	jwk, err := json.Marshal(map[string]string{
		"kty": "OKP",
		"crv": "Ed25519",
		"x":   base64.RawURLEncoding.EncodeToString(pub),
		"d":   base64.RawURLEncoding.EncodeToString(priv.Seed()),
	})
	require.NoError(t, err)
	minter, err := token.NewMinter(&token.MinterConfig{SigningJWK: string(jwk)})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cacheClient := cache.NewFromClient(rdb)

	store := agent.NewMemoryStore()
	agentID := uuid.New()
	require.NoError(t, store.CreateAgentWithKey(context.Background(),
		&types.Agent{ID: agentID, Handle: "verified-agent", Status: types.AgentStatusActive, CreatedAt: time.Now().Add(-30 * 24 * time.Hour)},
		&types.AgentKey{ID: uuid.New(), AgentID: agentID, PublicKey: "unused", CreatedAt: time.Now()}))

	events := NewMemoryEvents()
	svc := NewService(
		minter,
		token.NewRevoker(rdb),
		store,
		risk.NewEngine(cacheClient, nil, nil),
		nil,
		events,
		nil,
		nil,
	)

	return &verifyFixture{
		svc:     svc,
		minter:  minter,
		store:   store,
		events:  events,
		agentID: agentID,
		appID:   uuid.New(),
		mr:      mr,
	}
}

func (f *verifyFixture) mint(t *testing.T) string {
	t.Helper()
	signed, _, err := f.minter.Mint(f.agentID, "verified-agent", []string{"verify", "read"})
	require.NoError(t, err)
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	f := newVerifyFixture(t)

	res := f.svc.Verify(context.Background(), f.mint(t), f.appID, "203.0.113.1")
	require.True(t, res.Valid)
	assert.Empty(t, res.Reason)
	assert.Equal(t, f.agentID, *res.AgentID)
	assert.Equal(t, "verified-agent", res.Handle)
	assert.Equal(t, []string{"verify", "read"}, res.Scopes)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *res.ExpiresAt, 5*time.Second)

	require.NotNil(t, res.Risk)
	assert.Equal(t, 0, res.Risk.Score)
	assert.Equal(t, types.RiskActionAllow, res.Risk.RecommendedAction)

	require.NotNil(t, res.HumanVerification)
	assert.False(t, res.HumanVerification.Verified)

	events := f.events.All()
	require.Len(t, events, 1)
	assert.Equal(t, types.VerificationValid, events[0].Outcome)
	assert.Equal(t, f.appID, events[0].AppID)
	assert.Equal(t, "203.0.113.1", events[0].IPAddress)
}

func TestVerifyGarbageToken(t *testing.T) {
	f := newVerifyFixture(t)

	res := f.svc.Verify(context.Background(), "not.a.jwt", f.appID, "")
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonTokenInvalid, res.Reason)
	assert.Nil(t, res.Risk)

	events := f.events.All()
	require.Len(t, events, 1)
	assert.Equal(t, types.VerificationInvalid, events[0].Outcome)
	assert.Equal(t, ReasonTokenInvalid, events[0].Reason)
}

func TestVerifyRevokedToken(t *testing.T) {
	f := newVerifyFixture(t)
	ctx := context.Background()

	tok := f.mint(t)
	require.NoError(t, f.svc.Revoke(ctx, tok, f.appID, ""))

	res := f.svc.Verify(ctx, tok, f.appID, "")
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonTokenRevoked, res.Reason)
}

func TestVerifyUnknownAgent(t *testing.T) {
	f := newVerifyFixture(t)

	strayID := uuid.New()
	signed, _, err := f.minter.Mint(strayID, "ghost", nil)
	require.NoError(t, err)

	res := f.svc.Verify(context.Background(), signed, f.appID, "")
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonAgentNotFound, res.Reason)
}

func TestVerifySuspendedAgent(t *testing.T) {
	f := newVerifyFixture(t)
	ctx := context.Background()

	tok := f.mint(t)
	require.NoError(t, f.store.UpdateAgentStatus(ctx, f.agentID, types.AgentStatusSuspended))

	res := f.svc.Verify(ctx, tok, f.appID, "")
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonAgentSuspended, res.Reason)

	require.NotNil(t, res.Risk)
	assert.Equal(t, 100, res.Risk.Score)
	assert.Equal(t, types.RiskActionBlock, res.Risk.RecommendedAction)
	assert.Contains(t, res.Risk.Reasons, risk.ReasonAgentSuspended)
}

func TestVerifyFailsOpenOnRevocationOutage(t *testing.T) {
	f := newVerifyFixture(t)

	tok := f.mint(t)
	f.mr.Close()

	res := f.svc.Verify(context.Background(), tok, f.appID, "")
	assert.True(t, res.Valid)
}

func TestIntrospectActiveToken(t *testing.T) {
	f := newVerifyFixture(t)

	intro := f.svc.Introspect(context.Background(), f.mint(t), f.appID)
	require.True(t, intro.Active)
	assert.Equal(t, f.agentID.String(), intro.Subject)
	assert.Equal(t, token.Issuer, intro.Issuer)
	assert.Equal(t, "verified-agent", intro.Handle)
	assert.Equal(t, "verify read", intro.Scope)
	assert.Equal(t, f.appID.String(), intro.ClientID)
	assert.Equal(t, "Bearer", intro.TokenType)
	assert.NotEmpty(t, intro.JTI)
	assert.Greater(t, intro.ExpiresAt, time.Now().Unix())
}

func TestIntrospectInactiveCases(t *testing.T) {
	f := newVerifyFixture(t)
	ctx := context.Background()

	// garbage
	assert.False(t, f.svc.Introspect(ctx, "garbage", f.appID).Active)

	// revoked
	tok := f.mint(t)
	require.NoError(t, f.svc.Revoke(ctx, tok, f.appID, ""))
	assert.False(t, f.svc.Introspect(ctx, tok, f.appID).Active)

	// suspended agent
	tok2 := f.mint(t)
	require.NoError(t, f.store.UpdateAgentStatus(ctx, f.agentID, types.AgentStatusSuspended))
	assert.False(t, f.svc.Introspect(ctx, tok2, f.appID).Active)
}

func TestRevokeMalformedToken(t *testing.T) {
	f := newVerifyFixture(t)

	err := f.svc.Revoke(context.Background(), "not-a-token", f.appID, "")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidToken))
}

func TestRevokeFailsClosedOnOutage(t *testing.T) {
	f := newVerifyFixture(t)

	tok := f.mint(t)
	f.mr.Close()

	err := f.svc.Revoke(context.Background(), tok, f.appID, "")
	assert.True(t, apperr.Is(err, apperr.CodeRedisUnavailable))
}
