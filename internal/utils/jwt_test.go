package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const secret = "test-secret"

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken(secret, 42, "manager", "alice", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, 5*time.Second)

	claims, err := ParseAccessToken(secret, tok.Token)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, "manager", claims.Role)
	assert.Equal(t, "alice", claims.Username)
}

func TestParseAccessTokenRejects(t *testing.T) {
	expired, err := NewAccessToken(secret, 1, "user", "", -time.Minute)
	require.NoError(t, err)
	other, err := NewAccessToken("other-secret", 1, "user", "", time.Hour)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "user",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "1"},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "user",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Role: "user",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	cases := map[string]string{
		"expired":        expired.Token,
		"wrong secret":   other.Token,
		"no expiry":      noExp,
		"non numeric id": badSubject,
		"other alg":      hs512,
		"garbage":        "not.a.token",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAccessToken(secret, raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "s3cret"))
	assert.False(t, VerifyPassword(hash, "wrong"))

	hash, err = HashPassword("s3cret", 99)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}
