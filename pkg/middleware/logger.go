package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/pkg/context"
	"github.com/labstack/echo/v4"
)

// quietPrefixes are probe and scrape paths logged at Debug.
var quietPrefixes = []string{"/health", "/metrics"}

// Logger writes one line per request after the handler and the error
// handler ran, so the logged status is the one the client saw.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			ctx := c.Request().Context()
			fields := map[string]any{
				"request_id":  context.GetRequestID(ctx),
				"method":      c.Request().Method,
				"route":       c.Path(),
				"uri":         c.Request().RequestURI,
				"status":      c.Response().Status,
				"remote_ip":   context.GetRemoteIP(ctx),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes_out":   c.Response().Size,
			}
			if actor := context.GetActorID(ctx); actor != nil {
				fields["actor_id"] = *actor
			}

			entry := logger.WithContext(ctx).WithFields(fields)
			switch status := c.Response().Status; {
			case status >= http.StatusInternalServerError:
				entry.Error("Request failed")
			case quiet(c.Path()):
				entry.Debug("Request")
			default:
				entry.Info("Request")
			}
			return nil
		}
	}
}

func quiet(path string) bool {
	for _, prefix := range quietPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
