package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders apply to a single connection and never cross the proxy.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders strips hop-by-hop headers from the inbound request and sets
// X-Content-Type-Options on every response except preflights. Proxied
// responses may override it.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			// Headers named by Connection are hop-by-hop too.
			for _, v := range h.Values("Connection") {
				for field := range strings.SplitSeq(v, ",") {
					if field = strings.TrimSpace(field); field != "" {
						h.Del(field)
					}
				}
			}
			for _, name := range hopByHopHeaders {
				h.Del(name)
			}

			if !isPreflight(c) {
				c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			}
			return next(c)
		}
	}
}
