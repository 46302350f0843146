package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Ramsey-B/argus/pkg/capability"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticReport capability.Report

func (r staticReport) Report() capability.Report { return capability.Report(r) }

func get(t *testing.T, c *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	c.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func ok(context.Context) error { return nil }

func TestReadinessWaitsForStartup(t *testing.T) {
	c := NewChecker(PingFunc(ok), nil, nil, "v1")

	code, resp := get(t, c, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks, "startup")

	c.SetReady(true)
	code, resp = get(t, c, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1", resp.Version)
}

func TestLivenessIgnoresDependencies(t *testing.T) {
	down := PingFunc(func(context.Context) error { return errors.New("down") })
	code, resp := get(t, NewChecker(down, down, nil, "v1"), "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestHealthChecks(t *testing.T) {
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name   string
		db     Pinger
		redis  Pinger
		caps   Reporter
		code   int
		status Status
	}{
		{name: "healthy", db: PingFunc(ok), redis: PingFunc(ok), caps: staticReport{JSONMode: "native"}, code: 200, status: StatusHealthy},
		{name: "json degraded", db: PingFunc(ok), caps: staticReport{JSONMode: "degraded"}, code: 200, status: StatusDegraded},
		{name: "database down", db: down, caps: staticReport{JSONMode: "degraded"}, code: 503, status: StatusUnhealthy},
		{name: "redis down", db: PingFunc(ok), redis: down, code: 503, status: StatusUnhealthy},
		{name: "no database", code: 503, status: StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := get(t, NewChecker(tt.db, tt.redis, tt.caps, "v1"), "/health")
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, resp.Status)
			if tt.caps != nil {
				require.NotNil(t, resp.Capabilities)
				assert.Equal(t, tt.caps.Report().JSONMode, resp.Capabilities.JSONMode)
			}
		})
	}
}
