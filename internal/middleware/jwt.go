package middleware // middleware provides shared request processing for handlers

import (
	"net/http" // HTTP status codes for responses

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/iliyamo/cinema-tickets/internal/auth"    // guard resolving bearer credentials
	"github.com/iliyamo/cinema-tickets/internal/logging" // request-scoped logger
	"github.com/iliyamo/cinema-tickets/internal/service" // error kinds for the response body
)

// JWTAuth returns an Echo middleware that resolves the Authorization header
// through guard and stores the resulting principal on the context.  Requests
// without a valid credential are answered with 401 and never reach the
// handler.
func JWTAuth(guard auth.Guard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return deny(c, http.StatusUnauthorized, service.KindUnauthorized, "missing bearer token")
			}
			p, err := guard.Verify(header)
			if err != nil {
				return deny(c, http.StatusUnauthorized, service.KindUnauthorized, "invalid token")
			}
			SetPrincipal(c, p)

			// tag the request logger so every later line names the caller
			ctx := c.Request().Context()
			ctx = logging.ToContext(ctx, logging.FromContext(ctx, nil).WithField("user_id", p.UserID))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
