// Package health serves liveness, readiness and Prometheus metrics over HTTP.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const checkTimeout = 2 * time.Second

// Pinger checks one backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker aggregates the backends. Mongo and Redis gate readiness; NATS is
// reported but optional. A nil NATS means notifications are disabled.
type Checker struct {
	Mongo       Pinger
	Redis       Pinger
	NATS        Pinger
	Connections func() int
}

// Report is the /health body.
type Report struct {
	Status      string `json:"status"`
	Mongo       string `json:"mongo"`
	Redis       string `json:"redis"`
	NATS        string `json:"nats"`
	Connections int    `json:"connections"`
}

func check(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

// Check pings every dependency.
func (c *Checker) Check(ctx context.Context) (Report, bool) {
	r := Report{
		Mongo: check(ctx, c.Mongo),
		Redis: check(ctx, c.Redis),
		NATS:  check(ctx, c.NATS),
	}
	if c.Connections != nil {
		r.Connections = c.Connections()
	}
	ready := r.Mongo == "ok" && r.Redis == "ok"
	r.Status = "ok"
	if !ready || (r.NATS != "ok" && r.NATS != "disabled") {
		r.Status = "degraded"
	}
	return r, ready
}

// NewServer builds the HTTP surface: GET /health, GET /ready, GET /metrics.
func NewServer(c *Checker, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddleware("chat_http"))

	e.GET("/health", func(ctx echo.Context) error {
		report, _ := c.Check(ctx.Request().Context())
		return ctx.JSON(http.StatusOK, report)
	})
	e.GET("/ready", func(ctx echo.Context) error {
		report, ready := c.Check(ctx.Request().Context())
		if !ready {
			logger.Warn("not ready", zap.String("mongo", report.Mongo), zap.String("redis", report.Redis))
			return ctx.JSON(http.StatusServiceUnavailable, report)
		}
		return ctx.JSON(http.StatusOK, report)
	})
	e.GET("/metrics", echoprometheus.NewHandler())
	return e
}
