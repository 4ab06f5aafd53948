// Package gateway forwards browser requests under /proxy/{proxyId}/ to the
// proxy's destination, rewrites pages so they keep flowing through the
// gateway, and records each exchange.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgnsrekt/apiscope/internal/capture"
	"github.com/dgnsrekt/apiscope/internal/metrics"
	"github.com/dgnsrekt/apiscope/internal/policy"
	"github.com/dgnsrekt/apiscope/internal/rewrite"
	"github.com/dgnsrekt/apiscope/internal/types"
)

// ProxyStore is the slice of persistence the gateway needs.
type ProxyStore interface {
	GetProxy(ctx context.Context, id string) (*types.Proxy, error)
	TouchProxy(ctx context.Context, id string, at time.Time) error
}

// Config tunes forwarding.
type Config struct {
	// TunnelURL is the public base URL of the tunnel listener.
	TunnelURL string
	// LogEndpoint is where the injected script posts client captures.
	LogEndpoint string
	// Timeout bounds one upstream exchange.
	Timeout time.Duration
	// MaxRequestBytes caps request bodies read from the browser.
	MaxRequestBytes int64
	// MaxRewriteBytes caps text bodies buffered for rewriting. Larger
	// bodies stream through unmodified.
	MaxRewriteBytes int64
}

func DefaultConfig() Config {
	return Config{
		TunnelURL:       "ws://127.0.0.1:8191",
		LogEndpoint:     "/api/v1/capture/log",
		Timeout:         30 * time.Second,
		MaxRequestBytes: 32 << 20,
		MaxRewriteBytes: 16 << 20,
	}
}

// Methods served under the proxy prefix.
var Methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

type Gateway struct {
	store    ProxyStore
	policy   *policy.Policy
	recorder *capture.Recorder
	metrics  *metrics.Metrics
	client   *http.Client
	cfg      Config
	tracer   trace.Tracer
	now      func() time.Time
}

func New(store ProxyStore, pol *policy.Policy, rec *capture.Recorder, m *metrics.Metrics, cfg Config) *Gateway {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = def.MaxRequestBytes
	}
	if cfg.MaxRewriteBytes <= 0 {
		cfg.MaxRewriteBytes = def.MaxRewriteBytes
	}
	if cfg.TunnelURL == "" {
		cfg.TunnelURL = def.TunnelURL
	}
	if cfg.LogEndpoint == "" {
		cfg.LogEndpoint = def.LogEndpoint
	}
	return &Gateway{
		store:    store,
		policy:   pol,
		recorder: rec,
		metrics:  m,
		client:   NewClient(pol, cfg.Timeout),
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/dgnsrekt/apiscope/internal/gateway"),
		now:      time.Now,
	}
}

// NewClient returns an HTTP client whose dialer re-checks every resolved
// address against the policy and which hands redirects back to the caller.
func NewClient(pol *policy.Policy, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   pol.DialControl,
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Mount registers the gateway routes on r.
func (g *Gateway) Mount(r chi.Router) {
	for _, m := range Methods {
		r.Method(m, "/proxy/{proxyId}", g)
		r.Method(m, "/proxy/{proxyId}/*", g)
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	proxyID := chi.URLParam(r, "proxyId")
	rest := chi.URLParam(r, "*")
	started := g.now()

	ctx, span := g.tracer.Start(r.Context(), "gateway.forward",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("proxy.id", proxyID),
			attribute.String("http.method", r.Method),
		),
	)
	defer span.End()

	status := g.serve(ctx, w, r, proxyID, rest)
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	g.metrics.GatewayRequest(r.Method, status, g.now().Sub(started))
}

func (g *Gateway) serve(ctx context.Context, w http.ResponseWriter, r *http.Request, proxyID, rest string) int {
	proxy, err := g.store.GetProxy(ctx, proxyID)
	if err != nil {
		return writeError(w, err)
	}
	if !proxy.Active() {
		return writeError(w, types.NewError(types.CodeInactive, fmt.Sprintf("proxy %s is inactive", proxyID), nil))
	}
	if err := g.policy.Check(ctx, proxy.DestinationURL); err != nil {
		return writeError(w, err)
	}
	dest, err := url.Parse(proxy.DestinationURL)
	if err != nil {
		return writeError(w, types.NewError(types.CodeValidation, "invalid destination URL", err))
	}
	rw, err := rewrite.New(rewrite.Options{
		ProxyID:     proxyID,
		Destination: proxy.DestinationURL,
		TunnelURL:   g.cfg.TunnelURL,
		LogEndpoint: g.cfg.LogEndpoint,
	})
	if err != nil {
		return writeError(w, types.NewError(types.CodeValidation, "invalid destination URL", err))
	}

	target, err := targetURL(dest, rest, r.URL.RawQuery)
	if err != nil {
		return writeError(w, types.NewError(types.CodeValidation, "invalid request path", err))
	}

	var reqBody []byte
	if r.Body != nil {
		reqBody, err = io.ReadAll(http.MaxBytesReader(w, r.Body, g.cfg.MaxRequestBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large", Code: types.CodeValidation})
			}
			return writeError(w, types.NewError(types.CodeValidation, "read request body", err))
		}
	}

	resolve := func(ref string) string { return capture.ResolveClientURL(ref, proxyID, dest) }
	out, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(reqBody))
	if err != nil {
		return writeError(w, types.NewError(types.CodeValidation, "build upstream request", err))
	}
	out.Header = outboundHeaders(r.Header, rw.Origin(), resolve)
	if len(reqBody) == 0 {
		out.Body = http.NoBody
	}

	ex := capture.Exchange{
		ProxyID:        proxyID,
		Method:         r.Method,
		URL:            target,
		Protocol:       types.ProtocolHTTP,
		RequestHeaders: out.Header.Clone(),
		RequestBody:    reqBody,
		Started:        g.now(),
	}

	resp, err := g.client.Do(out)
	if err != nil {
		return g.upstreamFailure(w, ex, err)
	}
	defer resp.Body.Close()

	status := g.relay(w, resp, rw, &ex)
	g.touch(ctx, proxyID)
	return status
}

// relay writes the upstream response and records the exchange. Text bodies
// are buffered, HTML and CSS are rewritten, everything else streams.
func (g *Gateway) relay(w http.ResponseWriter, resp *http.Response, rw *rewrite.Rewriter, ex *capture.Exchange) int {
	ct := resp.Header.Get("Content-Type")
	asset := capture.IsAsset(ex.URL)
	ex.Status = resp.StatusCode
	ex.ResponseHeaders = resp.Header.Clone()

	var src io.Reader = resp.Body
	if strings.TrimSpace(ct) == "" {
		ct, src = sniffType(resp.Body)
	}
	text := capture.IsTextContentType(ct) &&
		(resp.ContentLength < 0 || resp.ContentLength <= g.cfg.MaxRewriteBytes)
	if !text {
		copyResponseHeaders(w.Header(), resp.Header, rw.Location, false)
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, src); err != nil {
			slog.Debug("Gateway stream interrupted", "proxy_id", ex.ProxyID, "url", ex.URL, "error", err)
		}
		ex.Duration = g.now().Sub(ex.Started)
		if !asset {
			g.recorder.Record(*ex)
		}
		return resp.StatusCode
	}

	body, err := io.ReadAll(io.LimitReader(src, g.cfg.MaxRewriteBytes+1))
	if err != nil {
		slog.Warn("Upstream body read failed", "proxy_id", ex.ProxyID, "url", ex.URL, "error", err)
	}
	ex.Duration = g.now().Sub(ex.Started)
	ex.ResponseBody = body

	overflow := int64(len(body)) > g.cfg.MaxRewriteBytes
	payload := body
	rewritten := false
	if !overflow && err == nil {
		payload, rewritten = g.rewriteBody(rw, mediaType(ct), body, ex)
	}

	copyResponseHeaders(w.Header(), resp.Header, rw.Location, rewritten && mediaType(ct) == "text/html")
	if !overflow {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	}
	w.WriteHeader(resp.StatusCode)
	if _, werr := w.Write(payload); werr != nil {
		slog.Debug("Gateway response write failed", "proxy_id", ex.ProxyID, "error", werr)
	} else if overflow {
		if _, cerr := io.Copy(w, src); cerr != nil {
			slog.Debug("Gateway stream interrupted", "proxy_id", ex.ProxyID, "url", ex.URL, "error", cerr)
		}
	}

	if !asset {
		g.recorder.Record(*ex)
	}
	return resp.StatusCode
}

func (g *Gateway) rewriteBody(rw *rewrite.Rewriter, mt string, body []byte, ex *capture.Exchange) ([]byte, bool) {
	switch mt {
	case "text/html", "application/xhtml+xml":
		out, err := rw.HTML(body)
		if err != nil {
			slog.Warn("HTML rewrite failed, serving original", "proxy_id", ex.ProxyID, "url", ex.URL, "error", err)
			return body, false
		}
		return out, true
	case "text/css":
		return []byte(rw.CSS(string(body))), true
	}
	return body, false
}

// upstreamFailure records a synthetic 502 exchange and answers the caller.
func (g *Gateway) upstreamFailure(w http.ResponseWriter, ex capture.Exchange, cause error) int {
	slog.Warn("Upstream request failed", "proxy_id", ex.ProxyID, "url", ex.URL, "error", cause)
	diag := errorBody{
		Error:  "upstream request failed",
		Code:   types.CodeUpstreamFailure,
		Detail: cause.Error(),
		URL:    ex.URL,
	}
	raw, _ := json.Marshal(diag)
	ex.Status = http.StatusBadGateway
	ex.ResponseHeaders = http.Header{"Content-Type": {"application/json"}}
	ex.ResponseBody = raw
	ex.Duration = g.now().Sub(ex.Started)
	if !capture.IsAsset(ex.URL) {
		g.recorder.Record(ex)
	}
	return writeJSON(w, http.StatusBadGateway, diag)
}

func (g *Gateway) touch(ctx context.Context, proxyID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := g.store.TouchProxy(ctx, proxyID, g.now().UTC()); err != nil {
		slog.Debug("Proxy last-used update failed", "proxy_id", proxyID, "error", err)
	}
}

// targetURL joins the destination with the path below the proxy prefix.
func targetURL(dest *url.URL, rest, rawQuery string) (string, error) {
	base := dest.Scheme + "://" + dest.Host + strings.TrimSuffix(dest.EscapedPath(), "/")
	raw := base + "/" + strings.TrimPrefix(rest, "/")
	if rawQuery != "" {
		raw += "?" + rawQuery
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// sniffLen is how much of an untyped body is inspected to classify it.
const sniffLen = 512

// sniffType classifies a response body that arrived without a
// Content-Type. The returned reader replays the inspected prefix.
func sniffType(body io.Reader) (string, io.Reader) {
	br := bufio.NewReaderSize(body, sniffLen)
	peek, _ := br.Peek(sniffLen)
	trimmed := bytes.TrimLeft(peek, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return "application/json", br
	}
	return http.DetectContentType(peek), br
}

func mediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	}
	return mt
}

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
	URL    string `json:"url,omitempty"`
}

func writeError(w http.ResponseWriter, err error) int {
	var coded *types.CodedError
	if !errors.As(err, &coded) {
		slog.Error("Gateway internal error", "error", err)
		return writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL"})
	}
	status := StatusFor(coded.Code)
	body := errorBody{Error: coded.Message, Code: coded.Code}
	if coded.Cause != nil && status != http.StatusInternalServerError {
		body.Detail = coded.Cause.Error()
	}
	return writeJSON(w, status, body)
}

// StatusFor maps an error code to the HTTP status the gateway answers with.
func StatusFor(code string) int {
	switch code {
	case types.CodeValidation:
		return http.StatusBadRequest
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeInactive:
		return http.StatusGone
	case types.CodeConflict:
		return http.StatusConflict
	case types.CodeUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.MarshalWrite(w, v); err != nil {
		slog.Debug("Gateway error write failed", "error", err)
	}
	return status
}
