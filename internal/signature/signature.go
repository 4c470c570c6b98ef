// Package signature provides Ed25519 key validation and detached-signature
// verification for agent keys
package signature

import (
	"crypto/ed25519"
	"encoding/base64"
)

// IsValidPublicKey reports whether b64 decodes to exactly 32 raw bytes.
// Decoding errors yield false, never an error to the caller.
func IsValidPublicKey(b64 string) bool {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return false
	}
	return len(raw) == ed25519.PublicKeySize
}

// Verify checks a detached Ed25519 signature over message (UTF-8 bytes).
// The signature must be 64 bytes and the key 32 bytes once decoded; any
// decoding or length error yields false.
func Verify(signatureB64, message, publicKeyB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}
