// Package middleware provides Echo middleware for logging, metrics and header hygiene.
package middleware

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/host"
)

// quietPaths are health-check endpoints logged at debug level.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/health":  true,
}

// RequestLogger returns an Echo middleware that writes one access log line per
// request. Only the target host is logged; the target path and query may carry
// credentials.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			switch {
			case quietPaths[req.URL.Path]:
				level = slog.LevelDebug
			case res.Status >= 500:
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if th := targetHost(req.URL.RawQuery); th != "" {
				attrs = append(attrs, "target_host", th)
			}
			logger.Log(context.Background(), level, "request", attrs...)

			return err
		}
	}
}

func targetHost(rawQuery string) string {
	target := host.TargetFromQuery(rawQuery)
	if target == "" {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
