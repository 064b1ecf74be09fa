// Package auth resolves bearer credentials to principals and decides
// whether a principal may perform an operation.  Handlers and services
// consume the typed Verdict instead of inspecting claims themselves.
package auth

import (
	"errors"
	"strings"

	"github.com/iliyamo/cinema-tickets/internal/model"
	"github.com/iliyamo/cinema-tickets/internal/utils"
)

// ErrUnauthorized is returned for a missing, malformed or expired
// credential.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is the authenticated caller.
type Principal struct {
	UserID   uint64
	Username string
	Role     model.Role
}

// Guard verifies a bearer credential.
type Guard interface {
	Verify(credential string) (Principal, error)
}

// JWTGuard verifies HS256 access tokens issued by utils.NewAccessToken.
type JWTGuard struct {
	secret string
}

func NewJWTGuard(secret string) *JWTGuard {
	return &JWTGuard{secret: secret}
}

// Verify accepts either the raw token or a full "Bearer <token>" header
// value.
func (g *JWTGuard) Verify(credential string) (Principal, error) {
	raw := strings.TrimSpace(credential)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return Principal{}, ErrUnauthorized
	}
	claims, err := utils.ParseAccessToken(g.secret, raw)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	role := model.Role(claims.Role)
	if !role.Valid() {
		return Principal{}, ErrUnauthorized
	}
	id, _ := claims.UserID()
	return Principal{UserID: id, Username: claims.Username, Role: role}, nil
}

// Verdict is the outcome of an authorization check.
type Verdict int

const (
	Allow Verdict = iota
	Unauthenticated
	Forbidden
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	}
	return "unknown"
}

// Authorize decides whether p may act in one of roles.  A nil principal is
// Unauthenticated; an empty role list admits any authenticated caller.
func Authorize(p *Principal, roles ...model.Role) Verdict {
	if p == nil {
		return Unauthenticated
	}
	if len(roles) == 0 {
		return Allow
	}
	for _, r := range roles {
		if p.Role == r {
			return Allow
		}
	}
	return Forbidden
}
