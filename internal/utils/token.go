package utils

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for stored tokens
	"encoding/hex"
)

// opaqueTokenBytes is the entropy of magic-link and refresh tokens.
const opaqueTokenBytes = 32

// NewOpaqueToken returns a URL-safe token of 32 random bytes, hex encoded
// (64 characters).  It is used for both magic links and refresh tokens.
func NewOpaqueToken() (string, error) {
	return randomHex(opaqueTokenBytes)
}

// HashToken returns the SHA-256 hash of the raw token as a hex string.
// Storing only the hash in the database prevents stolen rows from being
// replayed.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TokenPrefix returns at most the first 8 characters of a token, which is
// all that may appear in logs.
func TokenPrefix(raw string) string {
	if len(raw) > 8 {
		return raw[:8]
	}
	return raw
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
