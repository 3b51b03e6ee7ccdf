package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness checks.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the build version and the active proxy policy.
func (h *HealthHandler) Status(c echo.Context) error {
	p := h.cfg.Proxy
	return c.JSON(http.StatusOK, map[string]string{
		"status":           "ok",
		"version":          string(h.version),
		"header_profile":   p.HeaderProfile,
		"tls_verification": p.TLSVerification,
		"timeout":          p.Timeout().String(),
		"cache_busting":    strconv.FormatBool(p.CacheBustingEnabled()),
		"envelope":         strconv.FormatBool(h.cfg.Envelope.Enabled),
	})
}
