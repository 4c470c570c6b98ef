package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKeyPair(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(pub), priv
}

func TestIsValidPublicKey(t *testing.T) {
	pubB64, _ := generateKeyPair(t)

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid 32-byte key", pubB64, true},
		{"empty string", "", false},
		{"not base64", "!!!not-base64!!!", false},
		{"too short", base64.StdEncoding.EncodeToString(make([]byte, 16)), false},
		{"too long", base64.StdEncoding.EncodeToString(make([]byte, 64)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidPublicKey(tt.key))
		})
	}
}

func TestVerify(t *testing.T) {
	pubB64, priv := generateKeyPair(t)
	message := "challenge-nonce-bytes"
	sig := ed25519.Sign(priv, []byte(message))
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	t.Run("round trip", func(t *testing.T) {
		assert.True(t, Verify(sigB64, message, pubB64))
	})

	t.Run("mutated message", func(t *testing.T) {
		assert.False(t, Verify(sigB64, message+"x", pubB64))
	})

	t.Run("mutated signature", func(t *testing.T) {
		flipped := make([]byte, len(sig))
		copy(flipped, sig)
		flipped[0] ^= 0x01
		assert.False(t, Verify(base64.StdEncoding.EncodeToString(flipped), message, pubB64))
	})

	t.Run("wrong key", func(t *testing.T) {
		otherPub, _ := generateKeyPair(t)
		assert.False(t, Verify(sigB64, message, otherPub))
	})

	t.Run("bad signature length", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString(make([]byte, 32))
		assert.False(t, Verify(short, message, pubB64))
	})

	t.Run("bad key length", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString(make([]byte, 16))
		assert.False(t, Verify(sigB64, message, short))
	})

	t.Run("garbage base64", func(t *testing.T) {
		assert.False(t, Verify("***", message, pubB64))
		assert.False(t, Verify(sigB64, message, "***"))
	})
}
