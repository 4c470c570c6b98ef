// Package token provides EdDSA JWT identity token minting and verification
package token

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Issuer is the fixed iss claim for identity tokens
const Issuer = "agent-passport"

// DefaultTTL is the identity token lifetime when not configured
const DefaultTTL = 60 * time.Minute

// Verification failure reason codes
const (
	ReasonTokenInvalid   = "token_invalid"
	ReasonTokenExpired   = "token_expired"
	ReasonMissingSubject = "missing_subject"
	ReasonMissingJTI     = "missing_jti"
	ReasonMissingHandle  = "missing_handle"
)

// VerifyError is a typed verification failure carrying a stable reason code
type VerifyError struct {
	Reason string
	cause  error
}

func (e *VerifyError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("token verification failed (%s): %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("token verification failed (%s)", e.Reason)
}

func (e *VerifyError) Unwrap() error { return e.cause }

// VerifyReason extracts the reason code from a verification error,
// defaulting to token_invalid
func VerifyReason(err error) string {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ReasonTokenInvalid
}

// Claims is the identity token payload
type Claims struct {
	jwt.RegisteredClaims
	Handle string   `json:"handle"`
	Scopes []string `json:"scopes"`
}

// signingJWK is the JSON shape of the configured Ed25519 signing key
type signingJWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	D   string `json:"d"`
	Kid string `json:"kid,omitempty"`
}

// MinterConfig configures the token minter
type MinterConfig struct {
	// SigningJWK is the JSON-encoded Ed25519 private JWK loaded at startup
	SigningJWK string
	TTL        time.Duration
	Logger     *zap.Logger
}

// Minter signs and verifies EdDSA identity tokens and exposes the public JWK.
// The signing key and JWK are process-wide immutable after load.
type Minter struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	kid    string
	ttl    time.Duration
	logger *zap.Logger

	jwkOnce sync.Once
	jwk     map[string]string
}

// NewMinter loads the signing key from the configured JWK
func NewMinter(cfg *MinterConfig) (*Minter, error) {
	if cfg == nil || cfg.SigningJWK == "" {
		return nil, fmt.Errorf("signing JWK is required")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var key signingJWK
	if err := json.Unmarshal([]byte(cfg.SigningJWK), &key); err != nil {
		return nil, fmt.Errorf("parse signing JWK: %w", err)
	}
	if key.Kty != "OKP" || key.Crv != "Ed25519" {
		return nil, fmt.Errorf("signing JWK must be OKP/Ed25519, got %s/%s", key.Kty, key.Crv)
	}

	seed, err := base64.RawURLEncoding.DecodeString(key.D)
	if err != nil {
		return nil, fmt.Errorf("decode JWK d: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("JWK d must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	if key.X != "" {
		x, err := base64.RawURLEncoding.DecodeString(key.X)
		if err != nil {
			return nil, fmt.Errorf("decode JWK x: %w", err)
		}
		if !pub.Equal(ed25519.PublicKey(x)) {
			return nil, fmt.Errorf("JWK x does not match derived public key")
		}
	}

	kid := key.Kid
	if kid == "" {
		sum := sha256.Sum256(pub)
		kid = base64.RawURLEncoding.EncodeToString(sum[:8])
	}

	return &Minter{
		priv:   priv,
		pub:    pub,
		kid:    kid,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
	}, nil
}

// TTL returns the configured token lifetime
func (m *Minter) TTL() time.Duration { return m.ttl }

// Mint signs a fresh identity token for the agent. Scopes are echoed
// verbatim; nil becomes an empty array in the payload.
func (m *Minter) Mint(agentID uuid.UUID, handle string, scopes []string) (string, *Claims, error) {
	if scopes == nil {
		scopes = []string{}
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   agentID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		Handle: handle,
		Scopes: scopes,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = m.kid

	signed, err := tok.SignedString(m.priv)
	if err != nil {
		return "", nil, fmt.Errorf("sign identity token: %w", err)
	}
	return signed, claims, nil
}

// Verify parses a compact JWS, enforcing EdDSA, the fixed issuer, and expiry.
// Failures carry a stable reason code via VerifyError.
func (m *Minter) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, &VerifyError{Reason: ReasonTokenInvalid}
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.pub, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}), jwt.WithIssuer(Issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &VerifyError{Reason: ReasonTokenExpired, cause: err}
		}
		return nil, &VerifyError{Reason: ReasonTokenInvalid, cause: err}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, &VerifyError{Reason: ReasonTokenInvalid}
	}

	if claims.Subject == "" {
		return nil, &VerifyError{Reason: ReasonMissingSubject}
	}
	if claims.ID == "" {
		return nil, &VerifyError{Reason: ReasonMissingJTI}
	}
	if claims.Handle == "" {
		return nil, &VerifyError{Reason: ReasonMissingHandle}
	}

	return claims, nil
}

// DecodeUnverified extracts jti and exp without verifying the signature.
// Unsafe for authorization decisions; used only to address the revocation
// blocklist entry for a presented token.
func (m *Minter) DecodeUnverified(tokenString string) (jti string, expiresAt time.Time, err error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("decode token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.ID == "" || claims.ExpiresAt == nil {
		return "", time.Time{}, fmt.Errorf("token missing jti or exp")
	}

	return claims.ID, claims.ExpiresAt.Time, nil
}

// PublicJWK returns the public signing key as a JWK, cached after first
// computation
func (m *Minter) PublicJWK() map[string]string {
	m.jwkOnce.Do(func() {
		m.jwk = map[string]string{
			"kty": "OKP",
			"crv": "Ed25519",
			"x":   base64.RawURLEncoding.EncodeToString(m.pub),
			"kid": m.kid,
			"use": "sig",
			"alg": "EdDSA",
		}
	})
	return m.jwk
}
