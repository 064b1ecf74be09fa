package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health answers load balancer probes with a plain "ok".  It does not touch
// the store; a wedged database shows up as 503s on the API instead.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
