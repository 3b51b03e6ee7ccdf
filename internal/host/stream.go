// Package host adapts hosting environments to the proxy cycle.
package host

import (
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/model"
)

// TargetParam is the query parameter carrying the target URL.
const TargetParam = "url"

const chunkSize = 32 * 1024

// StreamAdapter serves one cycle over a live echo request. The upstream body
// is relayed chunk by chunk with a flush after each write.
type StreamAdapter struct {
	c echo.Context
}

// NewStreamAdapter wraps c.
func NewStreamAdapter(c echo.Context) *StreamAdapter {
	return &StreamAdapter{c: c}
}

// Receive implements service.Host.
func (a *StreamAdapter) Receive() (*model.InboundRequest, error) {
	req := a.c.Request()
	return &model.InboundRequest{
		Method:    req.Method,
		TargetURL: TargetFromQuery(req.URL.RawQuery),
		Header:    req.Header,
		Body:      req.Body,
	}, nil
}

// Send implements service.Host.
func (a *StreamAdapter) Send(resp *model.OutboundResponse) error {
	w := a.c.Response()
	dst := w.Header()
	// Response headers set by middleware are replaced, not merged.
	for key, vals := range resp.Header {
		dst.Del(key)
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if resp.Body == nil {
		return nil
	}

	buf := make([]byte, chunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			w.Flush()
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// Committed implements service.Host.
func (a *StreamAdapter) Committed() bool {
	return a.c.Response().Committed
}

// TargetFromQuery extracts the target URL from a raw query string.
//
// Callers often pass the target unencoded, e.g. ?url=https://a.example/x?b=1&c=2.
// When the query starts with url= and the url value itself (up to the first
// '&') contains a literal '?', the whole remainder is taken as the target.
// Otherwise the query is parsed normally, so a '?' in a later parameter
// does not affect an encoded target.
func TargetFromQuery(rawQuery string) string {
	prefix := TargetParam + "="
	if rest, ok := strings.CutPrefix(rawQuery, prefix); ok {
		value, _, _ := strings.Cut(rest, "&")
		if strings.Contains(value, "?") {
			return rest
		}
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil && len(values) == 0 {
		return ""
	}
	return values.Get(TargetParam)
}
