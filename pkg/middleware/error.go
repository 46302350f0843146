package middleware

import (
	stdctx "context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/pkg/context"
	"github.com/Ramsey-B/argus/pkg/tracing"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// classify maps an error to the status and body the client sees. Errors
// that are not httperrors only expose a generic message.
func classify(err error) (int, string, map[string]any) {
	var echoErr *echo.HTTPError
	switch {
	case httperror.IsHTTPError(err):
		herr := httperror.ToHTTPError(err)
		return httperror.GetStatusCode(err), herr.Error(), herr.Meta
	case errors.As(err, &echoErr):
		if msg, ok := echoErr.Message.(string); ok {
			return echoErr.Code, msg, nil
		}
		return echoErr.Code, http.StatusText(echoErr.Code), nil
	case errors.Is(err, stdctx.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out", nil
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), nil
	}
}

func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()
		code, message, meta := classify(err)

		entry := logger.WithContext(ctx).WithError(err).WithField("status", code)
		if code >= http.StatusInternalServerError {
			entry.Error("api is returning an error")
		} else {
			entry.Warn("api is returning an error")
		}

		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: context.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}
