// Package capture turns proxied exchanges and client-reported calls into
// bounded capture records and hands them to storage without blocking.
package capture

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"

	"github.com/dgnsrekt/apiscope/internal/metrics"
	"github.com/dgnsrekt/apiscope/internal/types"
)

// Sink receives finished capture records. Save must not block.
type Sink interface {
	Save(call *types.CapturedCall)
}

// Exchange is one forwarded request and, when the upstream answered, its
// response.
type Exchange struct {
	ProxyID         string
	Method          string
	URL             string
	Protocol        string
	RequestHeaders  http.Header
	RequestBody     []byte
	Status          int
	ResponseHeaders http.Header
	ResponseBody    []byte
	Started         time.Time
	Duration        time.Duration
}

// ClientLog is the payload posted by the injected interceptor script.
type ClientLog struct {
	ProxyID   string            `json:"proxyId"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Body      any               `json:"body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp any               `json:"timestamp,omitempty"`
}

// Recorder builds capture records under Limits.
type Recorder struct {
	limits  Limits
	sink    Sink
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRecorder(limits Limits, sink Sink, m *metrics.Metrics) *Recorder {
	return &Recorder{limits: limits, sink: sink, metrics: m, now: time.Now}
}

// Limits returns the limits in effect.
func (r *Recorder) Limits() Limits { return r.limits }

// Record stores a server-observed exchange and returns the record.
func (r *Recorder) Record(ex Exchange) *types.CapturedCall {
	call := r.build(types.SourceServer, ex)
	r.save(call)
	return call
}

// ClientTarget resolves the destination URL a client log refers to and
// reports whether RecordClient would keep it. Assets and same-origin page
// traffic that does not look like an API call are not kept.
func ClientTarget(log ClientLog, proxy *types.Proxy) (string, bool, error) {
	dest, err := url.Parse(proxy.DestinationURL)
	if err != nil {
		return "", false, err
	}
	target := ResolveClientURL(log.URL, proxy.ID, dest)
	if IsAsset(target) {
		return target, false, nil
	}
	if sameOrigin(target, dest) && !IsAPICall(log.Method, target, log.Headers) {
		return target, false, nil
	}
	return target, true, nil
}

// RecordClient stores a call reported by the browser script for proxy.
// It returns false when the call was skipped as an asset or as same-origin
// page traffic.
func (r *Recorder) RecordClient(log ClientLog, proxy *types.Proxy) (*types.CapturedCall, bool) {
	target, keep, err := ClientTarget(log, proxy)
	if err != nil {
		slog.Warn("Client log for proxy with unparsable destination", "proxy_id", proxy.ID, "error", err)
		r.metrics.Capture(types.SourceClient, metrics.OutcomeFailed)
		return nil, false
	}
	if !keep {
		r.metrics.Capture(types.SourceClient, metrics.OutcomeSkipped)
		return nil, false
	}

	ex := Exchange{
		ProxyID:     proxy.ID,
		Method:      log.Method,
		URL:         target,
		Protocol:    types.ProtocolHTTP,
		RequestBody: clientBody(log.Body),
		Started:     parseTimestamp(log.Timestamp, r.now()),
	}
	if len(log.Headers) > 0 {
		ex.RequestHeaders = http.Header{}
		for k, v := range log.Headers {
			ex.RequestHeaders.Set(k, v)
		}
	}
	call := r.build(types.SourceClient, ex)
	r.save(call)
	return call, true
}

func (r *Recorder) save(call *types.CapturedCall) {
	if r.sink == nil {
		return
	}
	r.sink.Save(call)
}

func (r *Recorder) build(source string, ex Exchange) *types.CapturedCall {
	started := ex.Started
	if started.IsZero() {
		started = r.now()
	}
	method := strings.ToUpper(strings.TrimSpace(ex.Method))
	if method == "" {
		method = http.MethodGet
	}
	protocol := ex.Protocol
	if protocol == "" {
		protocol = types.ProtocolHTTP
	}

	call := &types.CapturedCall{
		ID:          uuid.NewString(),
		ProxyID:     ex.ProxyID,
		Source:      source,
		Timestamp:   started.UTC(),
		Method:      method,
		URL:         truncateURL(ex.URL, r.limits.MaxURLChars),
		Protocol:    protocol,
		QueryParams: queryParams(ex.URL),
		DurationMS:  ex.Duration.Milliseconds(),
	}

	bodyLimit := r.limits.bodyLimit(source)
	call.Request.Headers, call.Request.HeadersTruncated = truncateHeaders(flattenHeaders(ex.RequestHeaders), r.limits.MaxHeaderBytes)
	if len(ex.RequestBody) > 0 {
		call.Request.Body, call.Request.Truncated, call.Request.OriginalSize, call.Request.SHA256 = truncateText(ex.RequestBody, bodyLimit)
		call.Request.JSON = parseJSON(ex.RequestBody, call.Request.Truncated)
	}

	if ex.Status > 0 {
		resp := &types.CallResponse{Status: ex.Status}
		resp.Headers, resp.HeadersTruncated = truncateHeaders(flattenHeaders(ex.ResponseHeaders), r.limits.MaxHeaderBytes)
		if len(ex.ResponseBody) > 0 {
			resp.Body, resp.Truncated, resp.OriginalSize, resp.SHA256 = truncateText(ex.ResponseBody, bodyLimit)
			resp.JSON = parseJSON(ex.ResponseBody, resp.Truncated)
		}
		call.Response = resp
	}
	return call
}

func parseJSON(body []byte, truncated bool) any {
	if truncated {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	return v
}

func queryParams(rawURL string) map[string]string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	q := u.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k, vs := range q {
		out[k] = strings.Join(vs, ",")
	}
	return out
}

// ResolveClientURL maps a URL seen by the browser back onto the
// destination. Proxy-prefixed and relative URLs resolve against dest;
// other absolute URLs are returned unchanged.
func ResolveClientURL(raw, proxyID string, dest *url.URL) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	prefix := "/proxy/" + proxyID
	if u.Path == prefix || strings.HasPrefix(u.Path, prefix+"/") {
		rest := strings.TrimPrefix(u.Path, prefix)
		if rest == "" {
			rest = "/"
		}
		out := *dest
		out.Path = strings.TrimSuffix(dest.Path, "/") + rest
		out.RawPath = ""
		out.RawQuery = u.RawQuery
		out.Fragment = ""
		return out.String()
	}
	if u.IsAbs() {
		return u.String()
	}
	return dest.ResolveReference(u).String()
}

func sameOrigin(raw string, dest *url.URL) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, dest.Scheme) && strings.EqualFold(u.Host, dest.Host)
}

// clientBody normalizes the body the script reported. Strings are taken
// as-is; structured values are re-encoded as JSON.
func clientBody(body any) []byte {
	switch v := body.(type) {
	case nil:
		return nil
	case string:
		return []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return []byte(fmt.Sprint(v))
		}
		return b
	}
}

// parseTimestamp accepts epoch milliseconds or RFC 3339 text.
func parseTimestamp(ts any, fallback time.Time) time.Time {
	switch v := ts.(type) {
	case float64:
		if v > 0 {
			return time.UnixMilli(int64(v))
		}
	case int64:
		if v > 0 {
			return time.UnixMilli(v)
		}
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return time.UnixMilli(n)
		}
	}
	return fallback
}
