// Package client provides the upstream HTTP client used to reach proxy targets.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/metrics"
	"forward-proxy-go/internal/model"
	"forward-proxy-go/internal/policy"
)

// errHeaderTimeout is the cancellation cause set when the upstream does not
// produce response headers in time.
var errHeaderTimeout = errors.New("upstream response header timeout")

// UpstreamClient issues exactly one request per call to an arbitrary target.
// It keeps no connections between calls: every request gets its own transport
// with keep-alives disabled.
type UpstreamClient struct {
	timeout            time.Duration
	insecureSkipVerify bool
	disableCompression bool
	logger             *slog.Logger
	metrics            *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient from the proxy config.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	return &UpstreamClient{
		timeout:            cfg.Proxy.Timeout(),
		insecureSkipVerify: cfg.Proxy.Permissive(),
		// The transport's implicit Accept-Encoding would leak past the allowlist.
		disableCompression: cfg.Proxy.Policy().Profile == policy.ProfileAllowList,
		logger:             logger.With("component", "upstream_client"),
		metrics:            m,
	}
}

func (c *UpstreamClient) newHTTPClient() (*http.Client, *http.Transport) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   c.dialTimeout(),
			KeepAlive: -1,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			// Only set by the explicitly configured "permissive" mode.
			InsecureSkipVerify: c.insecureSkipVerify, //nolint:gosec
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
		DisableCompression:    c.disableCompression,
		MaxIdleConnsPerHost:   -1,
	}
	// Redirects follow the net/http default policy (at most 10 hops).
	return &http.Client{Transport: transport}, transport
}

// defaultDialTimeout bounds connection setup when no upstream timeout is configured.
const defaultDialTimeout = 30 * time.Second

// dialTimeout follows the configured upstream timeout so a blackholed connect
// is reported as a timeout, not cut short by a fixed dialer limit.
func (c *UpstreamClient) dialTimeout() time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	return defaultDialTimeout
}

// Execute sends the upstream request and returns once response headers arrive.
// The timeout bounds the wait for headers only; the body is bounded by ctx.
// Closing the returned body releases every per-request resource and may be
// called more than once.
//
// Failures are returned as *model.Error with code UpstreamTimeout or
// UpstreamUnreachable. Nothing is retried.
func (c *UpstreamClient) Execute(ctx context.Context, up *model.UpstreamRequest) (*model.UpstreamResponse, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	var timer *time.Timer
	if c.timeout > 0 {
		timer = time.AfterFunc(c.timeout, func() { cancel(errHeaderTimeout) })
	}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	req, err := http.NewRequestWithContext(ctx, up.Method, up.URL.String(), up.Body)
	if err != nil {
		stopTimer()
		cancel(nil)
		return nil, model.NewError(model.CodeInternalError, "could not build upstream request", err)
	}
	req.Header = up.Header.Clone()
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
		req.Header.Del("Host")
	}
	// Content coding is negotiated by the transport, which decodes it
	// transparently; the response Content-Encoding is stripped downstream.
	req.Header.Del("Accept-Encoding")
	if strings.EqualFold(req.Header.Get("Connection"), "close") {
		req.Close = true
	}

	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", up.URL.Host,
	)

	hc, transport := c.newHTTPClient()
	release := func() {
		cancel(nil)
		transport.CloseIdleConnections()
	}

	start := time.Now()
	resp, err := hc.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	stopTimer()
	c.observe(req.Method, resp, time.Since(start))

	if err != nil {
		perr := classify(ctx, err, c.timeout)
		release()
		return nil, perr
	}

	// The timer may have fired between the response arriving and Stop.
	if errors.Is(context.Cause(ctx), errHeaderTimeout) {
		_ = resp.Body.Close()
		release()
		return nil, timeoutError(c.timeout, errHeaderTimeout)
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header,
		Body:       &releasingBody{ReadCloser: resp.Body, release: release},
	}, nil
}

func (c *UpstreamClient) observe(method string, resp *http.Response, d time.Duration) {
	if c.metrics == nil {
		return
	}
	m := metrics.NormalizeMethod(method)
	c.metrics.UpstreamDuration.WithLabelValues(m).Observe(d.Seconds())
	if resp != nil {
		c.metrics.UpstreamResponses.WithLabelValues(m, strconv.Itoa(resp.StatusCode)).Inc()
	}
}

// classify maps a transport error to the proxy error taxonomy.
func classify(ctx context.Context, err error, timeout time.Duration) *model.Error {
	if errors.Is(context.Cause(ctx), errHeaderTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(timeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutError(timeout, err)
	}

	if errors.Is(err, context.Canceled) {
		return model.NewError(model.CodeUpstreamUnreachable, "request canceled before the upstream responded", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.NewError(model.CodeUpstreamUnreachable, "upstream host could not be resolved", err)
	}

	var (
		unknownAuthority x509.UnknownAuthorityError
		hostnameErr      x509.HostnameError
		invalidCert      x509.CertificateInvalidError
		verifyErr        *tls.CertificateVerificationError
		recordErr        tls.RecordHeaderError
	)
	if errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert) || errors.As(err, &verifyErr) || errors.As(err, &recordErr) {
		return model.NewError(model.CodeUpstreamUnreachable, "upstream TLS handshake failed", err)
	}

	return model.NewError(model.CodeUpstreamUnreachable, "upstream connection failed", err)
}

func timeoutError(timeout time.Duration, cause error) *model.Error {
	return model.NewError(model.CodeUpstreamTimeout,
		fmt.Sprintf("upstream did not respond within %s", timeout), cause)
}

// statusText returns the reason phrase sent by the upstream, falling back to
// the standard text for the code.
func statusText(resp *http.Response) string {
	if text, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// releasingBody releases the per-request context and transport on Close.
type releasingBody struct {
	io.ReadCloser
	release func()

	once sync.Once
	err  error
}

func (b *releasingBody) Close() error {
	b.once.Do(func() {
		b.err = b.ReadCloser.Close()
		b.release()
	})
	return b.err
}
