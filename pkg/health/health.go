// Package health provides liveness, readiness, and capability endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Ramsey-B/argus/pkg/capability"
	"github.com/labstack/echo/v4"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Response struct {
	Status       Status                 `json:"status"`
	Version      string                 `json:"version,omitempty"`
	Uptime       string                 `json:"uptime,omitempty"`
	Checks       map[string]CheckResult `json:"checks,omitempty"`
	Capabilities *capability.Report     `json:"capabilities,omitempty"`
	ReportedAt   time.Time              `json:"reported_at"`
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a plain ping function such as a redis client's.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type Reporter interface {
	Report() capability.Report
}

type Checker struct {
	db        Pinger
	redis     Pinger
	caps      Reporter
	startTime time.Time
	version   string
	mu        sync.RWMutex
	ready     bool
}

// NewChecker builds a checker. redis and caps may be nil.
func NewChecker(db Pinger, redis Pinger, caps Reporter, version string) *Checker {
	return &Checker{
		db:        db,
		redis:     redis,
		caps:      caps,
		startTime: time.Now(),
		version:   version,
	}
}

func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, Response{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		ReportedAt: time.Now(),
	})
}

func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, Response{
			Status:  StatusUnhealthy,
			Version: c.version,
			Checks: map[string]CheckResult{
				"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
			},
			ReportedAt: time.Now(),
		})
	}
	return c.HealthHandler(ctx)
}

func (c *Checker) HealthHandler(ctx echo.Context) error {
	checks := c.runChecks(ctx.Request().Context())
	overall := calculateOverallStatus(checks)

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	resp := Response{
		Status:     overall,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now(),
	}
	if c.caps != nil {
		report := c.caps.Report()
		resp.Capabilities = &report
	}
	return ctx.JSON(statusCode, resp)
}

func (c *Checker) runChecks(ctx context.Context) map[string]CheckResult {
	checks := map[string]CheckResult{
		"database": ping(ctx, c.db, "database not configured"),
	}
	if c.redis != nil {
		checks["redis"] = ping(ctx, c.redis, "")
	}
	if c.caps != nil && c.caps.Report().JSONMode == capability.ModeDegraded.String() {
		checks["json_queries"] = CheckResult{
			Status:  StatusDegraded,
			Message: "JSON path queries disabled, filtering in process",
		}
	}
	return checks
}

func ping(ctx context.Context, p Pinger, missing string) CheckResult {
	if p == nil {
		return CheckResult{Status: StatusUnhealthy, Message: missing}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.PingContext(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
			Latency: time.Since(start).String(),
		}
	}
	return CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
}

func calculateOverallStatus(checks map[string]CheckResult) Status {
	hasDegraded := false
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (c *Checker) RegisterRoutes(e *echo.Echo) {
	health := e.Group("/health")
	health.GET("", c.HealthHandler)
	health.GET("/live", c.LivenessHandler)
	health.GET("/ready", c.ReadinessHandler)
}
