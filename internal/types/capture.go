package types

import (
	"strings"
	"time"
)

// Capture sources.
const (
	SourceServer = "server"
	SourceClient = "client"
)

// CapturedCall represents one observed request/response pair, or a
// request-only record when reported by the injected browser script.
type CapturedCall struct {
	ID          string            `json:"id"`
	ProxyID     string            `json:"proxy_id"`
	Source      string            `json:"source"`
	Timestamp   time.Time         `json:"timestamp"`
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Protocol    string            `json:"protocol"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	Request     CallRequest       `json:"request"`
	Response    *CallResponse     `json:"response,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
}

// CallRequest represents the request portion of a capture.
type CallRequest struct {
	Headers          map[string]string `json:"headers,omitempty"`
	HeadersTruncated bool              `json:"headers_truncated,omitempty"`
	Body             string            `json:"body,omitempty"`
	JSON             any               `json:"json,omitempty"`
	Truncated        bool              `json:"truncated,omitempty"`
	OriginalSize     int               `json:"original_size,omitempty"`
	SHA256           string            `json:"sha256,omitempty"`
}

// CallResponse represents the response portion of a capture.
type CallResponse struct {
	Status           int               `json:"status"`
	Headers          map[string]string `json:"headers,omitempty"`
	HeadersTruncated bool              `json:"headers_truncated,omitempty"`
	Body             string            `json:"body,omitempty"`
	JSON             any               `json:"json,omitempty"`
	Truncated        bool              `json:"truncated,omitempty"`
	OriginalSize     int               `json:"original_size,omitempty"`
	SHA256           string            `json:"sha256,omitempty"`
}

// Status returns the response status, or 0 for request-only captures.
func (c *CapturedCall) Status() int {
	if c.Response == nil {
		return 0
	}
	return c.Response.Status
}

// RequestHeader looks up a request header case-insensitively.
func (c *CapturedCall) RequestHeader(name string) (string, bool) {
	return lookupHeader(c.Request.Headers, name)
}

// ResponseHeader looks up a response header case-insensitively.
func (c *CapturedCall) ResponseHeader(name string) (string, bool) {
	if c.Response == nil {
		return "", false
	}
	return lookupHeader(c.Response.Headers, name)
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
