package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec("test-secret-at-least-32-bytes-long!!", "HS256")
	require.NoError(t, err)
	return codec
}

func TestNewTokenCodec(t *testing.T) {
	t.Run("empty secret is rejected", func(t *testing.T) {
		_, err := NewTokenCodec("", "HS256")
		assert.Error(t, err)
	})

	t.Run("unsupported algorithm is rejected", func(t *testing.T) {
		_, err := NewTokenCodec("secret", "RS256")
		assert.Error(t, err)

		_, err = NewTokenCodec("secret", "none")
		assert.Error(t, err)
	})

	t.Run("empty algorithm defaults to HS256", func(t *testing.T) {
		codec, err := NewTokenCodec("secret", "")
		require.NoError(t, err)
		assert.Equal(t, "HS256", codec.method.Alg())
	})
}

func TestTokenCodec_IssueAndDecode(t *testing.T) {
	codec := newTestCodec(t)

	t.Run("round trip preserves subject and type", func(t *testing.T) {
		token, err := codec.Issue("user-1", TokenTypeAccess, time.Minute, nil)
		require.NoError(t, err)

		claims, err := codec.Decode(token, true)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Subject)
		assert.True(t, claims.IsType(TokenTypeAccess))
		assert.False(t, claims.IsType(TokenTypeRefresh))
	})

	t.Run("each token gets a fresh jti", func(t *testing.T) {
		first, err := codec.Issue("user-1", TokenTypeAccess, time.Minute, nil)
		require.NoError(t, err)
		second, err := codec.Issue("user-1", TokenTypeAccess, time.Minute, nil)
		require.NoError(t, err)

		firstClaims, err := codec.Decode(first, true)
		require.NoError(t, err)
		secondClaims, err := codec.Decode(second, true)
		require.NoError(t, err)

		firstJTI, err := firstClaims.JTI()
		require.NoError(t, err)
		secondJTI, err := secondClaims.JTI()
		require.NoError(t, err)
		assert.NotEqual(t, firstJTI, secondJTI)
	})

	t.Run("extra claims ride on access tokens", func(t *testing.T) {
		token, err := codec.Issue("user-1", TokenTypeAccess, time.Minute, map[string]string{"role": "admin"})
		require.NoError(t, err)

		claims, err := codec.Decode(token, true)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Extra["role"])
	})

	t.Run("extra claims are rejected on non-access tokens", func(t *testing.T) {
		_, err := codec.Issue("user-1", TokenTypeRefresh, time.Minute, map[string]string{"role": "admin"})
		assert.Error(t, err)

		_, err = codec.Issue("user-1", TokenTypePasswordReset, time.Minute, map[string]string{"role": "admin"})
		assert.Error(t, err)
	})

	t.Run("empty subject is rejected", func(t *testing.T) {
		_, err := codec.Issue("", TokenTypeAccess, time.Minute, nil)
		assert.Error(t, err)
	})

	t.Run("expired token fails with ErrExpiredToken", func(t *testing.T) {
		token, err := codec.Issue("user-1", TokenTypeAccess, -time.Minute, nil)
		require.NoError(t, err)

		_, err = codec.Decode(token, true)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("expired token decodes with expiry verification off", func(t *testing.T) {
		token, err := codec.Issue("user-1", TokenTypeRefresh, -time.Minute, nil)
		require.NoError(t, err)

		claims, err := codec.Decode(token, false)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Subject)
		assert.True(t, claims.RemainingLifetime(time.Now().UTC()) <= 0)
	})

	t.Run("wrong secret fails with ErrMalformedToken", func(t *testing.T) {
		other, err := NewTokenCodec("a-completely-different-secret", "HS256")
		require.NoError(t, err)

		token, err := other.Issue("user-1", TokenTypeAccess, time.Minute, nil)
		require.NoError(t, err)

		_, err = codec.Decode(token, true)
		assert.ErrorIs(t, err, ErrMalformedToken)
	})

	t.Run("garbage fails with ErrMalformedToken", func(t *testing.T) {
		_, err := codec.Decode("not.a.token", true)
		assert.ErrorIs(t, err, ErrMalformedToken)

		_, err = codec.Decode("", true)
		assert.ErrorIs(t, err, ErrMalformedToken)
	})

	t.Run("signature is still checked with expiry verification off", func(t *testing.T) {
		other, err := NewTokenCodec("a-completely-different-secret", "HS256")
		require.NoError(t, err)

		token, err := other.Issue("user-1", TokenTypeAccess, time.Minute, nil)
		require.NoError(t, err)

		_, err = codec.Decode(token, false)
		assert.ErrorIs(t, err, ErrMalformedToken)
	})
}

func TestClaims_RemainingLifetime(t *testing.T) {
	codec := newTestCodec(t)

	token, err := codec.Issue("user-1", TokenTypeRefresh, time.Hour, nil)
	require.NoError(t, err)

	claims, err := codec.Decode(token, true)
	require.NoError(t, err)

	remaining := claims.RemainingLifetime(time.Now().UTC())
	assert.Greater(t, remaining, 55*time.Minute)
	assert.LessOrEqual(t, remaining, time.Hour)
}
