// Package http provides the HTTP server of the run orchestrator.
package http

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xiaot623/agentrun/internal/pubsub"
	"github.com/xiaot623/agentrun/internal/service"
	v1 "github.com/xiaot623/agentrun/internal/transport/http/v1"
	"github.com/xiaot623/agentrun/internal/transport/ws"
)

// Options wires the optional parts of the server. A nil Gatherer disables
// /metrics; a nil WS disables the websocket bridge.
type Options struct {
	Transport *pubsub.Transport
	Gatherer  prometheus.Gatherer
	WS        *ws.Server
	Logger    *slog.Logger
}

// NewServer creates and configures the HTTP server.
func NewServer(svc *service.Service, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(svc, opts.Transport, opts.Logger).RegisterRoutes(e)
	if opts.WS != nil {
		opts.WS.RegisterRoutes(e)
	}
	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return e
}
