package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-tickets/internal/auth"
	"github.com/iliyamo/cinema-tickets/internal/handler"
	"github.com/iliyamo/cinema-tickets/internal/middleware"
	"github.com/iliyamo/cinema-tickets/internal/model"
)

// RegisterManager registers schedule maintenance.  All routes require a
// valid JWT and the manager role.
func RegisterManager(e *echo.Echo, s *handler.ScreeningHandler, r *handler.ReservationHandler, guard auth.Guard) {
	mw := []echo.MiddlewareFunc{middleware.JWTAuth(guard), middleware.RequireRole(model.RoleManager)}
	for _, p := range prefixes {
		e.POST(p+"/screenings", s.Create, mw...)
		e.PUT(p+"/screenings/:id", s.Update, mw...)
		e.DELETE(p+"/screenings/:id", s.Delete, mw...)
		e.GET(p+"/screenings/:id/tickets", r.ScreeningTickets, mw...)
	}
}
