package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.True(t, VerifyPassword("s3cret", hash))
	assert.False(t, VerifyPassword("wrong", hash))
	assert.False(t, VerifyPassword("s3cret", "not-a-hash"))
}

func TestTokenRoundTrip(t *testing.T) {
	Init("test-secret", time.Hour)

	token, err := GenerateToken(42, "alice")
	require.NoError(t, err)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "42", claims.Subject)
}

func TestParseTokenRejects(t *testing.T) {
	Init("test-secret", time.Hour)

	good, err := GenerateToken(7, "bob")
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredStr, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           7,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
	})
	foreignStr, err := foreign.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":   "not.a.token",
		"tampered":  good + "x",
		"expired":   expiredStr,
		"wrong key": foreignStr,
	} {
		_, err := ParseToken(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}
