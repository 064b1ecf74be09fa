package handler // handler defines the HTTP handlers of the API

import (
	"errors"   // errors unwraps typed service failures
	"net/http" // HTTP status codes
	"strconv"  // strconv parses path parameters

	"github.com/labstack/echo/v4" // echo defines request context types

	"github.com/iliyamo/cinema-tickets/internal/auth"
	"github.com/iliyamo/cinema-tickets/internal/logging"
	"github.com/iliyamo/cinema-tickets/internal/middleware"
	"github.com/iliyamo/cinema-tickets/internal/repository"
	"github.com/iliyamo/cinema-tickets/internal/service"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Kind           service.Kind `json:"kind"`
	Message        string       `json:"message"`
	AvailableSeats *int         `json:"availableSeats,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(k service.Kind) int {
	switch k {
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInvalidQuantity, service.KindInvalidRequest:
		return http.StatusBadRequest
	case service.KindInsufficientCapacity,
		service.KindDuplicateReservation,
		service.KindIdempotencyConflict,
		service.KindConflict:
		return http.StatusConflict
	case service.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err as {kind, message}.  Errors that are not service
// errors are logged and hidden behind a generic 500.
func writeError(c echo.Context, err error) error {
	var se *service.Error
	if !errors.As(err, &se) {
		se = &service.Error{Kind: service.KindInternal, Message: "internal error", Err: err}
		if errors.Is(err, repository.ErrTransient) {
			se.Kind, se.Message = service.KindTransient, "storage unavailable, retry"
		}
	}
	status := statusFor(se.Kind)
	body := errorBody{Kind: se.Kind, Message: se.Message, AvailableSeats: se.AvailableSeats}
	switch {
	case status >= http.StatusInternalServerError && se.Kind != service.KindTransient:
		logging.FromContext(c.Request().Context(), nil).WithError(se).Error("request failed")
		body.Message = "internal error"
	case se.Kind == service.KindTransient:
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, body)
}

// badRequest is the 400 answer for bodies and parameters that do not parse.
func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Kind: service.KindInvalidRequest, Message: msg})
}

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// principal returns the caller set by the JWT middleware, or nil.
func principal(c echo.Context) *auth.Principal {
	return middleware.PrincipalFrom(c)
}
