package middleware // middleware provides shared request processing for handlers

import (
	"github.com/labstack/echo/v4" // echo provides middleware chaining and context

	"github.com/iliyamo/cinema-tickets/internal/auth"
	"github.com/iliyamo/cinema-tickets/internal/model"
)

// RequireRole rejects callers whose role is not one of roles.  It runs after
// JWTAuth; a request without a principal gets 401, a principal with the
// wrong role 403.  The services repeat the check, so this only saves work.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if v := auth.Authorize(PrincipalFrom(c), roles...); v != auth.Allow {
				return denyVerdict(c, v)
			}
			return next(c)
		}
	}
}
