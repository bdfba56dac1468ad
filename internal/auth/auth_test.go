package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	raw, hash, prefix, err := GenerateAPIKey("orders_agent")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, "ak_orders_agent_"))
	assert.Len(t, hash, 64)
	assert.Equal(t, raw[:PrefixLen], prefix)
	assert.True(t, ValidKeyShape(raw))
	assert.True(t, VerifyAPIKey(raw, hash))
	assert.False(t, VerifyAPIKey(raw+"x", hash))

	// Two keys for the same agent must differ.
	raw2, hash2, _, err := GenerateAPIKey("orders_agent")
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
	assert.NotEqual(t, hash, hash2)
}

func TestHashAPIKeyDeterministic(t *testing.T) {
	// Deterministic hashing is what allows O(1) lookup by hash.
	assert.Equal(t, HashAPIKey("ak_a_00112233445566778899aabbccddeeff"),
		HashAPIKey("ak_a_00112233445566778899aabbccddeeff"))
}

func TestValidKeyShape(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"ak_orders_0123456789abcdef0123456789abcdef", true},
		{"ak_multi_word_agent_0123456789abcdef0123456789abcdef", true},
		{"sk_orders_0123456789abcdef0123456789abcdef", false},
		{"ak_orders_tooshort", false},
		{"ak_orders_zzzz56789abcdef0123456789abcdefzz", false},
		{"", false},
		{"ak_", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidKeyShape(tt.key), tt.key)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	m, err := NewJWTManager("test-secret", "kanshi", "kanshi", time.Hour)
	require.NoError(t, err)

	token, exp, err := m.IssueToken("ops@example.com", "admin")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	m1, err := NewJWTManager("secret-one", "kanshi", "kanshi", time.Hour)
	require.NoError(t, err)
	m2, err := NewJWTManager("secret-two", "kanshi", "kanshi", time.Hour)
	require.NoError(t, err)

	token, _, err := m1.IssueToken("ops", "viewer")
	require.NoError(t, err)

	_, err = m2.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTRejectsWrongAudience(t *testing.T) {
	issuer, err := NewJWTManager("secret", "kanshi", "other-service", time.Hour)
	require.NoError(t, err)
	validator, err := NewJWTManager("secret", "kanshi", "kanshi", time.Hour)
	require.NoError(t, err)

	token, _, err := issuer.IssueToken("ops", "viewer")
	require.NoError(t, err)

	_, err = validator.ValidateToken(token)
	assert.Error(t, err)
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	_, err := NewJWTManager("", "kanshi", "kanshi", time.Hour)
	assert.Error(t, err)
}
