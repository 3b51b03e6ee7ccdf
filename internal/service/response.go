package service

import (
	"forward-proxy-go/internal/model"
	"forward-proxy-go/internal/policy"
)

// ResponseTranslator builds outbound responses from upstream responses.
type ResponseTranslator struct {
	policy policy.Policy
}

// NewResponseTranslator creates a ResponseTranslator.
func NewResponseTranslator(p policy.Policy) *ResponseTranslator {
	return &ResponseTranslator{policy: p}
}

// Translate filters headers and decides the body encoding. The body is handed
// over as-is; nothing is read here.
func (t *ResponseTranslator) Translate(resp *model.UpstreamResponse, req *model.UpstreamRequest) *model.OutboundResponse {
	header := t.policy.FilterResponse(resp.Header)
	if req != nil {
		t.policy.SetDebugHeaders(header, req.ProxyID, req.Timestamp)
	}

	return &model.OutboundResponse{
		StatusCode: resp.StatusCode,
		StatusText: resp.StatusText,
		Header:     header,
		Body:       resp.Body,
		Binary:     !policy.IsTextContent(resp.Header.Get("Content-Type")),
	}
}
