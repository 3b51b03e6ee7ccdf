// Package policy decides which headers cross the proxy in each direction.
// Everything here is a pure function of its inputs.
package policy

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// Profile selects the inbound header filter.
type Profile string

const (
	// ProfileDenyList forwards everything except hop-by-hop and client-identifying headers.
	ProfileDenyList Profile = "denylist"
	// ProfileAllowList forwards only a fixed set of content negotiation and credential headers.
	ProfileAllowList Profile = "allowlist"
)

// ParseProfile parses a profile name.
func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToLower(s)) {
	case ProfileDenyList, "":
		return ProfileDenyList, nil
	case ProfileAllowList:
		return ProfileAllowList, nil
	}
	return "", fmt.Errorf("unknown header profile %q (want allowlist or denylist)", s)
}

// AllowedMethods is the value of Access-Control-Allow-Methods.
const AllowedMethods = "GET, POST, PUT, DELETE, OPTIONS"

// Debug headers echoing the cache-busting marker.
const (
	HeaderProxyRequestID = "X-Proxy-Request-Id"
	HeaderProxyTimestamp = "X-Proxy-Timestamp"
)

// Keys are canonical (http.CanonicalHeaderKey) so lookups are case-insensitive.
var (
	deniedRequestHeaders = headerSet(
		"Host",
		"Connection",
		"Keep-Alive",
		"Transfer-Encoding",
		"Content-Length",
		"X-Forwarded-For",
		"X-Real-Ip",
		"X-Forwarded-Proto",
		"X-Forwarded-Host",
	)

	allowedRequestHeaders = headerSet(
		"Accept",
		"Accept-Language",
		"Content-Type",
		"Authorization",
		"Cookie",
		"Referer",
		"User-Agent",
	)

	// The only upstream response headers the allowlist profile returns.
	allowedResponseHeaders = headerSet(
		"Content-Type",
		"Cache-Control",
		"Expires",
		"Last-Modified",
		"Etag",
	)

	// Invalid once the body has been re-framed by the proxy.
	strippedResponseHeaders = headerSet(
		"Content-Encoding",
		"Content-Length",
		"Transfer-Encoding",
		"Connection",
	)
)

func headerSet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[http.CanonicalHeaderKey(k)] = true
	}
	return m
}

// Policy is the active header policy.
type Policy struct {
	Profile Profile

	// ForceConnectionClose sends Connection: close upstream. Advisory only.
	ForceConnectionClose bool
	// AntiCache asks intermediaries not to serve the upstream request from cache.
	AntiCache bool
	// NoStore marks every outbound response as non-cacheable.
	NoStore bool
	// SyntheticUserAgent replaces User-Agent with one embedding the request ID.
	SyntheticUserAgent bool
	// DebugHeaders echoes the cache-busting marker on the outbound response.
	DebugHeaders bool
}

// FilterRequest builds the upstream header set from the inbound headers.
// host is the target URL's hostname; requestID is the cache-busting identifier (may be empty).
func (p Policy) FilterRequest(src http.Header, host, requestID string) http.Header {
	dst := make(http.Header, len(src)+4)
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if !p.forwardRequestHeader(ck) {
			continue
		}
		for _, v := range vals {
			dst.Add(ck, v)
		}
	}

	dst.Set("Host", host)
	if p.ForceConnectionClose {
		dst.Set("Connection", "close")
	}
	// The allowlist profile sends nothing beyond the allowed set, Host and Connection.
	if p.AntiCache && p.Profile != ProfileAllowList {
		dst.Set("Cache-Control", "no-cache")
		dst.Set("Pragma", "no-cache")
	}
	if p.SyntheticUserAgent && requestID != "" {
		dst.Set("User-Agent", "forward-proxy/"+requestID)
	}
	return dst
}

func (p Policy) forwardRequestHeader(canonicalKey string) bool {
	if p.Profile == ProfileAllowList {
		return allowedRequestHeaders[canonicalKey]
	}
	return !deniedRequestHeaders[canonicalKey]
}

// FilterResponse builds the outbound header set from the upstream headers.
// The allowlist profile keeps only content metadata and validators.
func (p Policy) FilterResponse(src http.Header) http.Header {
	dst := make(http.Header, len(src)+8)
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if strippedResponseHeaders[ck] {
			continue
		}
		if p.Profile == ProfileAllowList && !allowedResponseHeaders[ck] {
			continue
		}
		for _, v := range vals {
			dst.Add(ck, v)
		}
	}
	p.Decorate(dst)
	return dst
}

// Decorate sets the headers every outbound response carries: CORS and,
// when enabled, the no-store directives.
func (p Policy) Decorate(h http.Header) {
	SetCORS(h)
	if p.NoStore {
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		h.Set("Surrogate-Control", "no-store")
	}
}

// SetDebugHeaders echoes the cache-busting marker when debug headers are enabled.
func (p Policy) SetDebugHeaders(h http.Header, requestID string, ts int64) {
	if !p.DebugHeaders || requestID == "" {
		return
	}
	h.Set(HeaderProxyRequestID, requestID)
	h.Set(HeaderProxyTimestamp, strconv.FormatInt(ts, 10))
}

// SetCORS sets the three CORS headers.
func SetCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", AllowedMethods)
	h.Set("Access-Control-Allow-Headers", "*")
}

// IsTextContent reports whether a Content-Type value belongs to a text family.
// An absent content type counts as text so legitimate text is never mangled.
func IsTextContent(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	}

	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/json", mediaType == "application/xml":
		return true
	case strings.HasSuffix(mediaType, "+json"), strings.HasSuffix(mediaType, "+xml"):
		return true
	}
	return false
}
