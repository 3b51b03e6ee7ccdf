// Package service implements the core proxy forwarding logic.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/metrics"
	"forward-proxy-go/internal/model"
	"forward-proxy-go/internal/policy"
)

// Executor issues one upstream request.
type Executor interface {
	Execute(ctx context.Context, req *model.UpstreamRequest) (*model.UpstreamResponse, error)
}

// Host is the platform-specific side of a proxy cycle: it supplies the
// inbound request and delivers the outbound response.
type Host interface {
	Receive() (*model.InboundRequest, error)
	// Send delivers resp. It does not close resp.Body.
	Send(resp *model.OutboundResponse) error
	// Committed reports whether any part of a response has reached the caller.
	Committed() bool
}

// State is a step of the proxy cycle.
type State int

// Proxy cycle states.
const (
	StateIdle State = iota
	StateValidating
	StateDispatching
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateDispatching:
		return "dispatching"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome labels for requests that did not fail.
const (
	outcomeCompleted = "completed"
	outcomePreflight = "preflight"
)

// userinfoPattern matches credentials embedded in URLs inside error messages.
var userinfoPattern = regexp.MustCompile(`(?i)(https?://)[^/@\s"]+@`)

// ProxyService runs proxy cycles. It holds no per-request state.
type ProxyService struct {
	executor  Executor
	requests  *RequestTranslator
	responses *ResponseTranslator
	policy    policy.Policy
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewProxyService creates a ProxyService.
// The metrics parameter is optional; pass nil to disable outcome recording.
func NewProxyService(exec Executor, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	p := cfg.Proxy.Policy()
	return &ProxyService{
		executor:  exec,
		requests:  NewRequestTranslator(p, cfg.Proxy.CacheBustingEnabled()),
		responses: NewResponseTranslator(p),
		policy:    p,
		logger:    logger.With("component", "proxy_service"),
		metrics:   m,
	}
}

// cycle tracks the state of one request for logging.
type cycle struct {
	state  State
	logger *slog.Logger
}

func (c *cycle) to(s State) {
	c.logger.Debug("state transition", "from", c.state.String(), "to", s.String())
	c.state = s
}

// Serve runs one complete cycle against host. Failures before the response is
// committed are sent as a JSON error envelope; failures after that can only
// end the stream early. The returned error is the terminal failure, if any.
func (s *ProxyService) Serve(ctx context.Context, host Host) error {
	c := &cycle{state: StateIdle, logger: s.logger}
	start := time.Now()

	in, err := host.Receive()
	if err != nil {
		return s.fail(c, host, err)
	}

	out, err := s.forward(ctx, c, in)
	if err != nil {
		return s.fail(c, host, err)
	}
	defer func() { _ = out.Close() }()

	if err := host.Send(out); err != nil {
		return s.fail(c, host, err)
	}

	c.to(StateCompleted)
	outcome := outcomeCompleted
	if in.Method == http.MethodOptions {
		outcome = outcomePreflight
	}
	s.recordOutcome(outcome)
	s.logger.Debug("proxy cycle completed",
		"method", in.Method,
		"status", out.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *ProxyService) forward(ctx context.Context, c *cycle, in *model.InboundRequest) (*model.OutboundResponse, error) {
	c.to(StateValidating)
	if in.Method == http.MethodOptions {
		return s.preflight(), nil
	}

	up, err := s.requests.Translate(in)
	if err != nil {
		return nil, err
	}

	c.to(StateDispatching)
	s.logger.Debug("forwarding request",
		"method", up.Method,
		"host", up.URL.Host,
	)
	resp, err := s.executor.Execute(ctx, up)
	if err != nil {
		return nil, err
	}

	c.to(StateStreaming)
	return s.responses.Translate(resp, up), nil
}

// preflight answers a CORS preflight without contacting the target.
func (s *ProxyService) preflight() *model.OutboundResponse {
	h := make(http.Header, 3)
	policy.SetCORS(h)
	return &model.OutboundResponse{
		StatusCode: http.StatusNoContent,
		StatusText: http.StatusText(http.StatusNoContent),
		Header:     h,
	}
}

// ErrorResponse renders err as the JSON error envelope.
func (s *ProxyService) ErrorResponse(err error) *model.OutboundResponse {
	pe := model.Classify(err)
	body, mErr := json.Marshal(model.ErrorBody{Error: string(pe.Code), Details: pe.Details})
	if mErr != nil {
		body = []byte(`{"error":"InternalError","details":"could not encode error"}`)
	}

	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	s.policy.Decorate(h)

	return &model.OutboundResponse{
		StatusCode: pe.Status(),
		StatusText: http.StatusText(pe.Status()),
		Header:     h,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

func (s *ProxyService) fail(c *cycle, host Host, err error) error {
	from := c.state
	c.to(StateFailed)

	if host.Committed() {
		perr := model.NewError(model.CodeStreamInterrupted, "response stream ended early", err)
		s.recordOutcome(string(perr.Code))
		s.logger.Warn("stream interrupted after headers were sent",
			"state", from.String(),
			"err", sanitizeError(err),
		)
		return perr
	}

	pe := model.Classify(err)
	s.recordOutcome(string(pe.Code))
	level := slog.LevelWarn
	if pe.Code == model.CodeInternalError {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "proxy error",
		"code", string(pe.Code),
		"state", from.String(),
		"err", sanitizeError(pe),
	)

	resp := s.ErrorResponse(pe)
	defer func() { _ = resp.Close() }()
	if sendErr := host.Send(resp); sendErr != nil {
		s.logger.Error("sending error response", "err", sanitizeError(sendErr))
		return errors.Join(pe, sendErr)
	}
	return pe
}

func (s *ProxyService) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.Outcomes.WithLabelValues(outcome).Inc()
	}
}

// sanitizeError redacts URL credentials from error messages that may contain target URLs.
func sanitizeError(err error) string {
	return userinfoPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
}
