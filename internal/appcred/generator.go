// Package appcred manages consumer app registration and API key credentials
package appcred

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// App key format: ap_live_{hex(32 bytes)}
	SecretPrefix = "ap_live_"
	SecretBytes  = 32
	// PrefixLen is the number of leading secret chars stored for lookup
	PrefixLen = 12
)

// argon2id parameters for secret hashing
const (
	argonMemoryKiB = 64 * 1024
	argonTime      = 3
	argonThreads   = 4
	argonSaltLen   = 16
	argonKeyLen    = 32
)

// Generator creates and hashes app API key secrets
type Generator struct{}

// NewGenerator creates an app key generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a fresh secret and returns the plaintext alongside its
// lookup prefix and argon2id hash. The plaintext is shown to the caller
// exactly once and never stored.
func (g *Generator) Generate() (plain, prefix, hash string, err error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generate secret bytes: %w", err)
	}

	plain = SecretPrefix + hex.EncodeToString(raw)
	prefix = plain[:PrefixLen]

	hash, err = g.Hash(plain)
	if err != nil {
		return "", "", "", err
	}
	return plain, prefix, hash, nil
}

// Hash derives an argon2id encoded hash of the secret
func (g *Generator) Hash(plain string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plain), salt, argonTime, argonMemoryKiB, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemoryKiB, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyHash checks the secret against an encoded argon2id hash in constant
// time relative to the derived key
func (g *Generator) VerifyHash(plain, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	key := argon2.IDKey([]byte(plain), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1
}

// ValidateFormat reports whether a presented secret matches the expected
// shape before any store lookup
func (g *Generator) ValidateFormat(plain string) bool {
	if !strings.HasPrefix(plain, SecretPrefix) {
		return false
	}
	body := plain[len(SecretPrefix):]
	if len(body) != SecretBytes*2 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}
