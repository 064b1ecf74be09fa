package middleware

// identity.go carries the authenticated principal through the echo context.
// JWTAuth stores it; RequireRole, the handlers and the rate limiter read it.

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-tickets/internal/auth"
	"github.com/iliyamo/cinema-tickets/internal/service"
)

const principalKey = "principal"

// SetPrincipal attaches p to the request.
func SetPrincipal(c echo.Context, p auth.Principal) {
	c.Set(principalKey, &p)
}

// PrincipalFrom returns the authenticated caller or nil.
func PrincipalFrom(c echo.Context) *auth.Principal {
	p, _ := c.Get(principalKey).(*auth.Principal)
	return p
}

// userID returns the caller's id for cache and rate-limit keys, or "guest".
func userID(c echo.Context) string {
	if p := PrincipalFrom(c); p != nil {
		return strconv.FormatUint(p.UserID, 10)
	}
	return "guest"
}

// deny writes the error body shared with the handlers.
func deny(c echo.Context, status int, kind service.Kind, msg string) error {
	return c.JSON(status, echo.Map{"kind": kind, "message": msg})
}

func denyVerdict(c echo.Context, v auth.Verdict) error {
	if v == auth.Unauthenticated {
		return deny(c, http.StatusUnauthorized, service.KindUnauthorized, "authentication required")
	}
	return deny(c, http.StatusForbidden, service.KindForbidden, "insufficient role")
}
