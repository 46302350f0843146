package utils

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
)

// BindRequest decodes the body into T and validates it. Both failures are
// client errors.
func BindRequest[T any](c echo.Context) (T, error) {
	var v T

	if err := c.Bind(&v); err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}

	if _, err := Validate(v); err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}

	return v, nil
}

// PathID reads a positive int64 path parameter.
func PathID(c echo.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s %q", name, raw)
	}
	return id, nil
}

// QueryInt64 reads an optional int64 query parameter. A missing parameter
// yields nil.
func QueryInt64(c echo.Context, name string) (*int64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s %q", name, raw)
	}
	return &v, nil
}

// QueryInt64s reads a repeated or comma separated int64 query parameter.
func QueryInt64s(c echo.Context, name string) ([]int64, error) {
	var out []int64
	for _, raw := range c.QueryParams()[name] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			v, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s %q", name, part)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// QueryInt reads an optional int query parameter, returning def when absent.
func QueryInt(c echo.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s %q", name, raw)
	}
	return v, nil
}

// QueryBool reads an optional bool query parameter.
func QueryBool(c echo.Context, name string) (bool, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s %q", name, raw)
	}
	return v, nil
}
