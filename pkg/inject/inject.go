// Package inject holds the dependency container the HTTP handlers resolve
// their repositories from.
package inject

import (
	"context"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectoinject/loglevel"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
)

// NewContainer creates and registers a container. Container logs go to logger.
func NewContainer(id string, logger ectologger.Logger) (ectocontainer.DIContainer, error) {
	return ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:                       id,
		AllowCaptiveDependencies: true,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{
			Prefix:   "ectoinject",
			LogLevel: loglevel.WARN,
			Enabled:  true,
			LogFunc: func(ctx context.Context, level, msg string) {
				if level == loglevel.WARN {
					logger.WithContext(ctx).Warn(msg)
					return
				}
				logger.WithContext(ctx).Debug(msg)
			},
		},
	})
}

// Middleware makes the container active for every request.
func Middleware(id string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, err := ectoinject.SetActiveContainer(c.Request().Context(), id)
			if err != nil {
				return err
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
