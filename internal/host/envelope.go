package host

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"forward-proxy-go/internal/metrics"
	"forward-proxy-go/internal/model"
)

// Event is a function-style invocation request.
type Event struct {
	HTTPMethod            string              `json:"httpMethod"`
	QueryStringParameters map[string]string   `json:"queryStringParameters"`
	Headers               map[string]string   `json:"headers"`
	MultiValueHeaders     map[string][]string `json:"multiValueHeaders,omitempty"`
	Body                  string              `json:"body"`
	IsBase64Encoded       bool                `json:"isBase64Encoded"`
}

// Result is a function-style invocation response.
type Result struct {
	StatusCode        int                 `json:"statusCode"`
	Headers           map[string]string   `json:"headers"`
	MultiValueHeaders map[string][]string `json:"multiValueHeaders"`
	Body              string              `json:"body"`
	IsBase64Encoded   bool                `json:"isBase64Encoded"`
}

// EnvelopeOptions bound the buffered response.
type EnvelopeOptions struct {
	MaxBodyBytes   int64
	SoftLimitBytes int64
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// EnvelopeAdapter serves one cycle from an Event and buffers the response
// into a Result. Nothing reaches the caller until the cycle ends, so it is
// never committed.
type EnvelopeAdapter struct {
	in     *model.InboundRequest
	opts   EnvelopeOptions
	result *Result
}

// NewEnvelopeAdapter decodes ev. It fails only if a base64 body is malformed.
func NewEnvelopeAdapter(ev *Event, opts EnvelopeOptions) (*EnvelopeAdapter, error) {
	body := []byte(ev.Body)
	if ev.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(ev.Body)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 body: %w", err)
		}
		body = decoded
	}

	header := make(http.Header, len(ev.Headers)+len(ev.MultiValueHeaders))
	for k, vals := range ev.MultiValueHeaders {
		for _, v := range vals {
			header.Add(k, v)
		}
	}
	for k, v := range ev.Headers {
		if _, ok := header[http.CanonicalHeaderKey(k)]; !ok {
			header.Set(k, v)
		}
	}

	method := strings.ToUpper(ev.HTTPMethod)
	if method == "" {
		method = http.MethodGet
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &EnvelopeAdapter{
		in: &model.InboundRequest{
			Method:    method,
			TargetURL: ev.QueryStringParameters[TargetParam],
			Header:    header,
			Body:      bytes.NewReader(body),
		},
		opts: opts,
	}, nil
}

// Receive implements service.Host.
func (a *EnvelopeAdapter) Receive() (*model.InboundRequest, error) {
	return a.in, nil
}

// Send implements service.Host. The body is read in full; a body over
// MaxBodyBytes fails the cycle with an internal error.
func (a *EnvelopeAdapter) Send(resp *model.OutboundResponse) error {
	var body []byte
	if resp.Body != nil {
		limit := a.opts.MaxBodyBytes
		var r io.Reader = resp.Body
		if limit > 0 {
			r = io.LimitReader(resp.Body, limit+1)
		}
		b, err := io.ReadAll(r)
		if err != nil {
			return model.NewError(model.CodeUpstreamUnreachable, "reading upstream body failed", err)
		}
		if limit > 0 && int64(len(b)) > limit {
			a.countOversized("hard")
			return model.NewError(model.CodeInternalError,
				fmt.Sprintf("response body exceeds the %d byte envelope limit", limit), nil)
		}
		if soft := a.opts.SoftLimitBytes; soft > 0 && int64(len(b)) > soft {
			a.countOversized("soft")
			a.opts.Logger.Warn("envelope response body is close to the limit",
				"bytes", len(b),
				"soft_limit", soft,
				"max", limit,
			)
		}
		body = b
	}

	res := &Result{
		StatusCode:        resp.StatusCode,
		Headers:           make(map[string]string, len(resp.Header)),
		MultiValueHeaders: make(map[string][]string, len(resp.Header)),
	}
	for k, vals := range resp.Header {
		if len(vals) == 0 {
			continue
		}
		res.Headers[k] = vals[0]
		res.MultiValueHeaders[k] = append([]string(nil), vals...)
	}
	if resp.Binary {
		res.Body = base64.StdEncoding.EncodeToString(body)
		res.IsBase64Encoded = true
	} else {
		res.Body = string(body)
	}
	a.result = res
	return nil
}

// Committed implements service.Host.
func (a *EnvelopeAdapter) Committed() bool { return false }

// Result returns the buffered result, or nil if nothing was sent.
func (a *EnvelopeAdapter) Result() *Result {
	return a.result
}

func (a *EnvelopeAdapter) countOversized(limit string) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.EnvelopeOversized.WithLabelValues(limit).Inc()
	}
}
