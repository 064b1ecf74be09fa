package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-tickets/internal/auth"
	"github.com/iliyamo/cinema-tickets/internal/handler"
	"github.com/iliyamo/cinema-tickets/internal/middleware"
	"github.com/iliyamo/cinema-tickets/internal/model"
)

// RegisterUser registers the ticket endpoints.  Reserving requires the user
// role; listing and cancelling own tickets only a valid token (managers may
// cancel any ticket, which the service decides).
//
// Middleware is attached per route: group middleware on the root prefix
// would also wrap echo's 404 fallback and answer unknown paths with 401.
func RegisterUser(e *echo.Echo, h *handler.ReservationHandler, guard auth.Guard) {
	authn := middleware.JWTAuth(guard)
	for _, p := range prefixes {
		e.POST(p+"/reserve", h.Reserve, authn, middleware.RequireRole(model.RoleUser))
		e.GET(p+"/my-tickets", h.MyTickets, authn)
		e.DELETE(p+"/tickets/:id", h.Cancel, authn)
	}
}
