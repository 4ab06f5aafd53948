// Package tunnel relays browser WebSocket connections to the destination
// a proxy identifier points at.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgnsrekt/apiscope/internal/capture"
	"github.com/dgnsrekt/apiscope/internal/metrics"
	"github.com/dgnsrekt/apiscope/internal/policy"
	"github.com/dgnsrekt/apiscope/internal/relay"
	"github.com/dgnsrekt/apiscope/internal/types"
)

// Path is where the tunnel listener accepts upgrades.
const Path = "/ws-proxy"

// ProxyStore is the slice of persistence the tunnel needs.
type ProxyStore interface {
	GetProxy(ctx context.Context, id string) (*types.Proxy, error)
}

type Config struct {
	DialTimeout time.Duration
	// MaxFrameBytes bounds a single relayed frame.
	MaxFrameBytes int64
}

func DefaultConfig() Config {
	return Config{DialTimeout: 15 * time.Second, MaxFrameBytes: 16 << 20}
}

// forwardedHeaders are copied from the browser handshake to the upstream one.
var forwardedHeaders = []string{"Cookie", "User-Agent", "Accept-Language", "Authorization"}

type Server struct {
	store    ProxyStore
	policy   *policy.Policy
	recorder *capture.Recorder
	feed     *relay.Feed
	metrics  *metrics.Metrics
	registry *Registry
	cfg      Config
	tracer   trace.Tracer
}

func New(store ProxyStore, pol *policy.Policy, rec *capture.Recorder, feed *relay.Feed, m *metrics.Metrics, cfg Config) *Server {
	def := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = def.MaxFrameBytes
	}
	return &Server{
		store:    store,
		policy:   pol,
		recorder: rec,
		feed:     feed,
		metrics:  m,
		registry: NewRegistry(),
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/dgnsrekt/apiscope/internal/tunnel"),
	}
}

// Registry exposes the live session registry.
func (s *Server) Registry() *Registry { return s.registry }

// Handler returns the tunnel listener's router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(Path, s.ServeHTTP)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","connections":%d}`, s.registry.Count())
	})
	return r
}

// Shutdown closes every live session.
func (s *Server) Shutdown() {
	n := s.registry.Count()
	s.registry.CloseAll()
	if n > 0 {
		slog.Info("Tunnel sessions closed", "count", n)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.registry.Closed() {
		http.Error(w, "tunnel server is shutting down", http.StatusServiceUnavailable)
		return
	}
	proxyID := r.URL.Query().Get("proxyId")
	original := r.URL.Query().Get("originalUrl")

	ctx, span := s.tracer.Start(r.Context(), "tunnel.dial",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("proxy.id", proxyID)),
	)
	target, status, err := s.resolve(ctx, proxyID, original)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		slog.Info("Tunnel rejected", "proxy_id", proxyID, "original_url", original, "status", status, "error", err)
		http.Error(w, err.Error(), status)
		return
	}
	span.SetAttributes(attribute.String("ws.target", target))

	started := time.Now()
	dialer := ws.Dialer{
		Timeout:   s.cfg.DialTimeout,
		Protocols: requestedProtocols(r),
		Header:    ws.HandshakeHeaderHTTP(upstreamHeaders(r, target)),
		NetDial:   (&net.Dialer{Timeout: s.cfg.DialTimeout, Control: s.policy.DialControl}).DialContext,
	}
	server, serverBuf, hs, err := dialer.Dial(ctx, target)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		slog.Warn("Tunnel upstream dial failed", "proxy_id", proxyID, "target", target, "error", err)
		s.record(proxyID, target, r, http.StatusBadGateway, "", started)
		s.feed.PublishTunnel(proxyID, relay.TunnelState{State: "failed", TargetURL: target, Reason: err.Error()})
		http.Error(w, "upstream websocket dial failed", http.StatusBadGateway)
		return
	}
	span.End()

	upgrader := ws.HTTPUpgrader{
		Protocol: func(p string) bool { return hs.Protocol != "" && p == hs.Protocol },
	}
	client, clientRW, _, err := upgrader.Upgrade(r, w)
	if err != nil {
		slog.Warn("Tunnel client upgrade failed", "proxy_id", proxyID, "error", err)
		_ = ws.WriteFrame(server, ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, "client upgrade failed"))))
		_ = server.Close()
		if serverBuf != nil {
			ws.PutReader(serverBuf)
		}
		return
	}
	s.record(proxyID, target, r, http.StatusSwitchingProtocols, hs.Protocol, started)

	sess := newSession(proxyID, target, client, clientRW.Reader, server, serverBuf, s.cfg.MaxFrameBytes, s.metrics)
	s.registry.add(sess)
	s.metrics.TunnelOpened()
	s.feed.PublishTunnel(proxyID, relay.TunnelState{State: "open", TargetURL: target})
	slog.Info("Tunnel opened", "proxy_id", proxyID, "target", target, "protocol", hs.Protocol)

	sess.run()

	s.registry.remove(sess)
	s.metrics.TunnelClosed()
	if serverBuf != nil {
		ws.PutReader(serverBuf)
	}
	s.feed.PublishTunnel(proxyID, relay.TunnelState{State: "closed", TargetURL: target, Reason: sess.reason})
	slog.Info("Tunnel closed", "proxy_id", proxyID, "target", target, "reason", sess.reason, "duration_ms", time.Since(started).Milliseconds())
}

// resolve validates the proxy and picks the upstream socket URL, returning
// the HTTP status to reject with.
func (s *Server) resolve(ctx context.Context, proxyID, original string) (string, int, error) {
	if proxyID == "" {
		return "", http.StatusBadRequest, fmt.Errorf("proxyId is required")
	}
	proxy, err := s.store.GetProxy(ctx, proxyID)
	if err != nil {
		return "", statusFor(err), err
	}
	if !proxy.Active() {
		return "", http.StatusGone, fmt.Errorf("proxy %s is inactive", proxyID)
	}
	if err := s.policy.Check(ctx, proxy.DestinationURL); err != nil {
		return "", http.StatusBadRequest, err
	}

	target := original
	if target == "" {
		target, err = socketURL(proxy.DestinationURL)
		if err != nil {
			return "", http.StatusBadRequest, err
		}
	}
	if err := s.policy.CheckSocket(ctx, target); err != nil {
		return "", http.StatusBadRequest, err
	}
	return target, 0, nil
}

// record stores the handshake as a websocket capture.
func (s *Server) record(proxyID, target string, r *http.Request, status int, protocol string, started time.Time) {
	if s.recorder == nil {
		return
	}
	respHeaders := http.Header{}
	if status == http.StatusSwitchingProtocols {
		respHeaders.Set("Upgrade", "websocket")
		respHeaders.Set("Connection", "Upgrade")
		if protocol != "" {
			respHeaders.Set("Sec-WebSocket-Protocol", protocol)
		}
	}
	req := r.Header.Clone()
	req.Del("Sec-WebSocket-Key")
	s.recorder.Record(capture.Exchange{
		ProxyID:         proxyID,
		Method:          http.MethodGet,
		URL:             target,
		Protocol:        types.ProtocolWebSocket,
		RequestHeaders:  req,
		Status:          status,
		ResponseHeaders: respHeaders,
		Started:         started,
		Duration:        time.Since(started),
	})
}

func socketURL(dest string) (string, error) {
	u, err := url.Parse(dest)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

func requestedProtocols(r *http.Request) []string {
	var out []string
	for _, v := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func upstreamHeaders(r *http.Request, target string) http.Header {
	h := http.Header{}
	for _, name := range forwardedHeaders {
		for _, v := range r.Header.Values(name) {
			h.Add(name, v)
		}
	}
	if u, err := url.Parse(target); err == nil {
		scheme := "http"
		if u.Scheme == "wss" {
			scheme = "https"
		}
		h.Set("Origin", scheme+"://"+u.Host)
	}
	return h
}

func statusFor(err error) int {
	var coded *types.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case types.CodeNotFound:
			return http.StatusNotFound
		case types.CodeValidation:
			return http.StatusBadRequest
		case types.CodeInactive:
			return http.StatusGone
		}
	}
	return http.StatusInternalServerError
}
