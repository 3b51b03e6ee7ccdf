package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/metrics"
)

// Stack installs the server middleware chain on e in order.
func Stack(e *echo.Echo, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) {
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Skipper:   isPreflight,
		Generator: uuid.NewString,
	}))
	e.Use(RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(MetricsMiddleware(m))
	}
	if cfg.Server.BodyMaxBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	}
	e.Use(SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

// Preflight responses carry the CORS headers and nothing else.
func isPreflight(c echo.Context) bool {
	return c.Request().Method == http.MethodOptions
}
