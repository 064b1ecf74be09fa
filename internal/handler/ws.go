package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-tickets/internal/logging"
	"github.com/iliyamo/cinema-tickets/internal/notify"
)

// SeatsSocket upgrades GET /ws and hands the connection to hub.  The feed
// is public; it carries seat counts only.
func SeatsSocket(hub *notify.Hub) echo.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// Upgrade already answered the client
			logging.FromContext(c.Request().Context(), nil).WithError(err).Debug("websocket upgrade failed")
			return nil
		}
		hub.Serve(conn)
		return nil
	}
}
