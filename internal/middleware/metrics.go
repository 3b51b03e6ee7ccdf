package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			m.RequestsTotal.WithLabelValues(labels(c, err)...).Inc()
			m.RequestDuration.WithLabelValues(labels(c, err)...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// labels returns method, status code and path prefix. A returned error has
// not been rendered yet, so its status is taken from the error.
func labels(c echo.Context, err error) []string {
	status := c.Response().Status
	if err != nil && !c.Response().Committed {
		status = http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		}
	}
	return []string{
		metrics.NormalizeMethod(c.Request().Method),
		strconv.Itoa(status),
		metrics.NormalizePath(c.Request().URL.Path),
	}
}
