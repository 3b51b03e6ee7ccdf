package service

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"forward-proxy-go/internal/model"
	"forward-proxy-go/internal/policy"
)

// Cache-busting query parameters appended to every upstream URL.
const (
	ParamProxyID        = "_proxy_id"
	ParamProxyTimestamp = "_proxy_ts"
)

// RequestTranslator builds upstream requests from inbound requests.
type RequestTranslator struct {
	policy       policy.Policy
	cacheBusting bool

	now   func() time.Time
	newID func() string
}

// NewRequestTranslator creates a RequestTranslator.
func NewRequestTranslator(p policy.Policy, cacheBusting bool) *RequestTranslator {
	return &RequestTranslator{
		policy:       p,
		cacheBusting: cacheBusting,
		now:          time.Now,
		newID:        newRequestID,
	}
}

// Translate validates the target and builds the upstream request.
// GET and HEAD bodies are dropped; every other body is passed through unread.
func (t *RequestTranslator) Translate(in *model.InboundRequest) (*model.UpstreamRequest, error) {
	target, err := ParseTarget(in.TargetURL)
	if err != nil {
		return nil, err
	}

	// The random identifier also feeds the synthetic User-Agent, so it is
	// generated whenever either feature needs it.
	var (
		id string
		ts int64
	)
	if t.cacheBusting || t.policy.SyntheticUserAgent {
		id = t.newID()
		ts = t.now().UnixMilli()
	}
	if t.cacheBusting {
		appendCacheBuster(target, id, ts)
	}

	up := &model.UpstreamRequest{
		Method:    in.Method,
		URL:       target,
		Header:    t.policy.FilterRequest(in.Header, target.Hostname(), id),
		ProxyID:   id,
		Timestamp: ts,
	}
	if in.Method != http.MethodGet && in.Method != http.MethodHead {
		up.Body = in.Body
	}
	return up, nil
}

// ParseTarget validates that raw is an absolute http(s) URL with a host.
func ParseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, model.NewError(model.CodeMissingTargetURL, "the url query parameter is required", nil)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, model.NewError(model.CodeInvalidTargetURL, "the url parameter is not a valid URL", err)
	}
	if !u.IsAbs() || u.Host == "" || u.Hostname() == "" {
		return nil, model.NewError(model.CodeInvalidTargetURL, "the url parameter must be an absolute URL with a host", nil)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, model.NewError(model.CodeInvalidTargetURL, "the url parameter must use http or https", nil)
	}
	return u, nil
}

// appendCacheBuster appends the marker without re-encoding the existing query,
// so signed or order-sensitive target URLs stay intact.
func appendCacheBuster(u *url.URL, id string, ts int64) {
	marker := url.Values{}
	marker.Set(ParamProxyID, id)
	marker.Set(ParamProxyTimestamp, strconv.FormatInt(ts, 10))

	if u.RawQuery == "" {
		u.RawQuery = marker.Encode()
		return
	}
	u.RawQuery += "&" + marker.Encode()
}

// newRequestID returns 16 random bytes, hex-encoded.
func newRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b) // never fails since Go 1.24
	return hex.EncodeToString(b)
}
