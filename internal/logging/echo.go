package logging

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// RequestLogger stores a per-request entry, tagged with the request id
// set by echo's RequestID middleware, in the request context and logs
// one line when the handler returns.
func RequestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			entry := log.WithFields(logrus.Fields{
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
				"method":     req.Method,
				"path":       c.Path(),
			})
			c.SetRequest(req.WithContext(ToContext(req.Context(), entry)))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			fields := logrus.Fields{
				"status":     c.Response().Status,
				"latency_ms": time.Since(start).Milliseconds(),
			}
			switch status := c.Response().Status; {
			case status >= 500:
				entry.WithFields(fields).WithError(err).Error("request failed")
			case status >= 400:
				entry.WithFields(fields).Info("request rejected")
			default:
				entry.WithFields(fields).Debug("request served")
			}
			return nil
		}
	}
}
