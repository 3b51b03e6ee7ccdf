package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/host"
	"forward-proxy-go/internal/metrics"
	"forward-proxy-go/internal/service"
)

// ProxyHandler serves the streaming proxy endpoint.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle runs one proxy cycle for ?url=<target> and streams the response back.
// Every failure has already been rendered or logged by the service, so Handle
// never returns an error to echo.
func (h *ProxyHandler) Handle(c echo.Context) error {
	_ = h.service.Serve(c.Request().Context(), host.NewStreamAdapter(c))
	return nil
}

// EnvelopeHandler serves function-style invocations: the request and the
// response each travel as a single JSON document.
type EnvelopeHandler struct {
	service *service.ProxyService
	opts    host.EnvelopeOptions
	logger  *slog.Logger
}

// NewEnvelopeHandler creates an EnvelopeHandler.
func NewEnvelopeHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *EnvelopeHandler {
	l := logger.With("component", "envelope_handler")
	return &EnvelopeHandler{
		service: svc,
		opts: host.EnvelopeOptions{
			MaxBodyBytes:   cfg.Envelope.MaxBodyBytes,
			SoftLimitBytes: cfg.Envelope.SoftLimitBytes,
			Logger:         l,
			Metrics:        m,
		},
		logger: l,
	}
}

// Invoke decodes an Event, runs one proxy cycle and answers with the Result.
// Proxy failures are reported inside the Result; only a malformed event is
// rejected at the HTTP level.
func (h *EnvelopeHandler) Invoke(c echo.Context) error {
	var ev host.Event
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event document").SetInternal(err)
	}

	adapter, err := host.NewEnvelopeAdapter(&ev, h.opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "event body is not valid base64").SetInternal(err)
	}

	_ = h.service.Serve(c.Request().Context(), adapter)

	res := adapter.Result()
	if res == nil {
		h.logger.Error("proxy cycle produced no result")
		return echo.NewHTTPError(http.StatusInternalServerError, "proxy cycle produced no result")
	}
	return c.JSON(http.StatusOK, res)
}
