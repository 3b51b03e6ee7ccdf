// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net/http"
	"net/url"
)

// InboundRequest is the request received from the caller, as handed over by a host adapter.
type InboundRequest struct {
	Method    string
	TargetURL string // raw value of the url parameter; empty when absent
	Header    http.Header
	Body      io.Reader // nil for bodiless requests
}

// UpstreamRequest is the request issued to the target.
type UpstreamRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   io.Reader

	// Cache-busting marker. Empty/zero when cache busting is disabled.
	ProxyID   string
	Timestamp int64
}

// UpstreamResponse is the target's response. Body is consumed exactly once.
type UpstreamResponse struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Body       io.ReadCloser
}

// OutboundResponse is what the proxy returns to the caller.
type OutboundResponse struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Body       io.ReadCloser // nil for empty responses

	// Binary is set when the body is not in a text family and must be
	// base64-encoded by hosts that cannot carry raw octets.
	Binary bool
}

// Close releases the response body, if any.
func (r *OutboundResponse) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}
