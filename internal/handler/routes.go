package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, envelope *EnvelopeHandler, health *HealthHandler, m *metrics.Metrics, cfg *config.Config) {
	e.GET("/healthz", health.Healthz)
	e.GET("/health", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.Any("/", proxy.Handle)
	e.Any("/proxy", proxy.Handle)

	if cfg.Envelope.Enabled {
		e.POST(cfg.Envelope.Path, envelope.Invoke)
	}

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
			Registry: m.Registry,
		})))
	}
}
