package utils // package utils provides helper functions for token creation and hashing

import (
	"errors"  // errors builds the sentinel returned for rejected tokens
	"fmt"     // fmt wraps parse failures
	"strconv" // strconv encodes the numeric user id into the subject claim
	"time"    // time utilities for generating expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and verifying signed tokens
)

// ErrInvalidToken is returned by ParseAccessToken for any token that is
// malformed, expired, signed with another key or algorithm, or missing
// the claims this service relies on.
var ErrInvalidToken = errors.New("invalid access token")

// AccessToken represents a signed JWT access token along with its expiry.
// The Token field contains the JWT string.  Exp stores the expiration
// timestamp as a time.Time.  Access tokens are encoded in the
// Authorization header when calling protected endpoints.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// Claims is the payload carried by access tokens.  The user id travels in
// the registered subject claim as a decimal string; role and username are
// private claims.
type Claims struct {
	Role     string `json:"role"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// UserID decodes the subject claim.
func (c Claims) UserID() (uint64, error) {
	return strconv.ParseUint(c.Subject, 10, 64)
}

// NewAccessToken builds and signs an HS256 JWT for a user.  It takes the
// signing secret, the user's id, role and username, and the token TTL.
// The JWT includes the standard subject, expiry and issued-at claims.
func NewAccessToken(secret string, userID uint64, role, username string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Role:     role,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	// Create a new token object specifying the signing method (HS256) and
	// sign it with the provided secret.
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw against secret and returns its claims.
// Only HS256 is accepted; tokens without an expiry or a numeric subject
// are rejected.
func ParseAccessToken(secret, raw string) (*Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return &claims, nil
}
