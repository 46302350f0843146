package middleware

import (
	"github.com/Ramsey-B/argus/pkg/context"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// HeaderUserID carries the acting user id.
const HeaderUserID = "X-User-ID"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetRoute(ctx, c.Path())
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetActorID(ctx, req.Header.Get(HeaderUserID))

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
