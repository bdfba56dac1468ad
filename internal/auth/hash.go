package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	keyRandomBytes = 16 // 32 hex chars of entropy per key
	// PrefixLen is how much of the raw key is stored in the clear for
	// display in listings ("ak_orders_a1b2c3d4...").
	PrefixLen = 20
)

// GenerateAPIKey mints a new API key for an agent. The key embeds the
// normalized agent name for operator legibility; authentication relies only
// on the random suffix. Returns the raw key (shown once), its SHA-256 hash
// for storage, and the display prefix.
func GenerateAPIKey(normalizedAgentName string) (raw, hash, prefix string, err error) {
	buf := make([]byte, keyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("auth: generate key material: %w", err)
	}
	raw = fmt.Sprintf("ak_%s_%s", normalizedAgentName, hex.EncodeToString(buf))
	hash = HashAPIKey(raw)
	prefix = raw
	if len(prefix) > PrefixLen {
		prefix = prefix[:PrefixLen]
	}
	return raw, hash, prefix, nil
}

// HashAPIKey returns the hex SHA-256 digest of a raw API key. The digest is
// deterministic so keys can be looked up by hash in a single indexed query;
// the keyspace is 128 random bits, so offline guessing is not a concern.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey checks a raw key against a stored hash in constant time.
func VerifyAPIKey(raw, storedHash string) bool {
	computed := HashAPIKey(raw)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// ValidKeyShape reports whether a presented credential is even plausibly one
// of ours, letting the auth middleware reject garbage before a DB roundtrip.
func ValidKeyShape(raw string) bool {
	if !strings.HasPrefix(raw, "ak_") {
		return false
	}
	i := strings.LastIndex(raw, "_")
	if i <= 2 {
		return false
	}
	suffix := raw[i+1:]
	if len(suffix) != keyRandomBytes*2 {
		return false
	}
	_, err := hex.DecodeString(suffix)
	return err == nil
}
