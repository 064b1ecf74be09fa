package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/cinema-tickets/internal/auth"       // guard verifying bearer tokens
	"github.com/iliyamo/cinema-tickets/internal/handler"    // handlers implementing each endpoint
	"github.com/iliyamo/cinema-tickets/internal/middleware" // JWT authentication and role enforcement
	"github.com/iliyamo/cinema-tickets/internal/notify"     // WebSocket hub behind /ws
)

// prefixes lists the mount points of the API.  Every route is served both
// at the root and under /v1.
var prefixes = []string{"", "/v1"}

// RegisterRoutes registers the health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers registration, login and /me.  Register and login
// are also reachable under /v1/auth.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, guard auth.Guard) {
	e.POST("/register", a.Register)
	e.POST("/login", a.Login)
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)

	for _, p := range prefixes {
		e.GET(p+"/me", a.Me, middleware.JWTAuth(guard))
	}
}

// RegisterPublic registers unauthenticated browse endpoints and the live
// seat feed.  moviesCache wraps /movies only; pass nil to disable it.
func RegisterPublic(e *echo.Echo, s *handler.ScreeningHandler, m *handler.MovieHandler, hub *notify.Hub, moviesCache echo.MiddlewareFunc) {
	for _, p := range prefixes {
		e.GET(p+"/screenings", s.List)
		e.GET(p+"/screenings/:id", s.Get)
		if m != nil {
			if moviesCache != nil {
				e.GET(p+"/movies", m.NowPlaying, moviesCache)
			} else {
				e.GET(p+"/movies", m.NowPlaying)
			}
		}
		if hub != nil {
			e.GET(p+"/ws", handler.SeatsSocket(hub))
		}
	}
}
