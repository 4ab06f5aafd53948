package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/apiscope/internal/capture"
	"github.com/dgnsrekt/apiscope/internal/policy"
	"github.com/dgnsrekt/apiscope/internal/types"
)

type memStore map[string]*types.Proxy

func (m memStore) GetProxy(_ context.Context, id string) (*types.Proxy, error) {
	p, ok := m[id]
	if !ok {
		return nil, types.NewError(types.CodeNotFound, "proxy "+id+" not found", nil)
	}
	return p, nil
}

type memSink struct {
	mu    sync.Mutex
	calls []*types.CapturedCall
}

func (s *memSink) Save(c *types.CapturedCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *memSink) all() []*types.CapturedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.CapturedCall(nil), s.calls...)
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{
		Subprotocols: []string{"chat"},
		CheckOrigin:  func(*http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	server  *Server
	tunnel  *httptest.Server
	sink    *memSink
	echoURL string
}

func newFixture(t *testing.T, pol *policy.Policy) *fixture {
	t.Helper()
	echo := echoServer(t)
	store := memStore{
		"p1":   {ID: "p1", DestinationURL: echo.URL, Status: types.ProxyActive},
		"idle": {ID: "idle", DestinationURL: echo.URL, Status: types.ProxyInactive},
	}
	if pol == nil {
		pol = policy.New(policy.Options{AllowPrivate: true})
	}
	sink := &memSink{}
	s := New(store, pol, capture.NewRecorder(capture.DefaultLimits(), sink, nil), nil, nil, Config{DialTimeout: 2 * time.Second})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{
		server:  s,
		tunnel:  ts,
		sink:    sink,
		echoURL: "ws" + strings.TrimPrefix(echo.URL, "http") + "/echo",
	}
}

func (f *fixture) url(proxyID, original string) string {
	q := url.Values{}
	if proxyID != "" {
		q.Set("proxyId", proxyID)
	}
	if original != "" {
		q.Set("originalUrl", original)
	}
	return "ws" + strings.TrimPrefix(f.tunnel.URL, "http") + Path + "?" + q.Encode()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRelaysTextAndBinaryFrames(t *testing.T) {
	f := newFixture(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(f.url("p1", f.echoURL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"subscribe"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage || string(data) != `{"op":"subscribe"}` {
		t.Fatalf("unexpected echo %d %q", mt, data)
	}

	payload := []byte{0, 1, 2, 250, 251}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	mt, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read binary: %v", err)
	}
	if mt != websocket.BinaryMessage || string(data) != string(payload) {
		t.Fatalf("binary frame altered: %v", data)
	}

	if n := f.server.Registry().Count(); n != 1 {
		t.Fatalf("expected 1 registered session, got %d", n)
	}
}

func TestDefaultsToProxyDestination(t *testing.T) {
	f := newFixture(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(f.url("p1", ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, data, err := conn.ReadMessage(); err != nil || string(data) != "ping" {
		t.Fatalf("expected echo, got %q %v", data, err)
	}
}

func TestCloseHandshakePropagates(t *testing.T) {
	f := newFixture(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(f.url("p1", f.echoURL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		t.Fatalf("write close: %v", err)
	}
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure {
		t.Fatalf("expected normal closure echoed through the tunnel, got %v", err)
	}
	waitFor(t, func() bool { return f.server.Registry().Count() == 0 })
}

func TestShutdownClosesSessions(t *testing.T) {
	f := newFixture(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(f.url("p1", f.echoURL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return f.server.Registry().Count() == 1 })

	f.server.Shutdown()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseGoingAway {
		t.Fatalf("expected going-away close, got %v", err)
	}
	waitFor(t, func() bool { return f.server.Registry().Count() == 0 })
}

func TestShutdownRefusesNewTunnels(t *testing.T) {
	f := newFixture(t, nil)
	f.server.Shutdown()

	conn, resp, err := websocket.DefaultDialer.Dial(f.url("p1", f.echoURL), nil)
	if err == nil {
		conn.Close()
		t.Fatal("dial after shutdown succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got resp=%v err=%v", resp, err)
	}
	if calls := f.sink.all(); len(calls) != 0 {
		t.Fatalf("refused tunnel must not be captured, got %d calls", len(calls))
	}
}

func TestRegistryShutsDownSessionAddedAfterClose(t *testing.T) {
	clientNear, clientFar := net.Pipe()
	serverNear, serverFar := net.Pipe()
	drained := make(chan struct{}, 2)
	for _, c := range []net.Conn{clientFar, serverFar} {
		go func(c net.Conn) {
			_, _ = io.Copy(io.Discard, c)
			drained <- struct{}{}
		}(c)
	}

	reg := NewRegistry()
	reg.CloseAll()
	if !reg.Closed() {
		t.Fatal("registry not marked closed")
	}

	sess := newSession("p1", "ws://upstream.test/", clientNear, nil, serverNear, nil, 0, nil)
	reg.add(sess)

	for i := 0; i < 2; i++ {
		select {
		case <-drained:
		case <-time.After(3 * time.Second):
			t.Fatal("late session was not shut down")
		}
	}
	if sess.reason != "server shutdown" {
		t.Fatalf("reason = %q", sess.reason)
	}
}

func TestSubprotocolNegotiatedWithUpstream(t *testing.T) {
	f := newFixture(t, nil)
	d := websocket.Dialer{Subprotocols: []string{"chat"}}
	conn, resp, err := d.Dial(f.url("p1", f.echoURL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if got := resp.Header.Get("Sec-WebSocket-Protocol"); got != "chat" {
		t.Fatalf("expected chat subprotocol, got %q", got)
	}
}

func TestRecordsHandshakeCapture(t *testing.T) {
	f := newFixture(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(f.url("p1", f.echoURL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	calls := f.sink.all()
	if len(calls) != 1 {
		t.Fatalf("expected 1 capture, got %d", len(calls))
	}
	c := calls[0]
	if c.Protocol != types.ProtocolWebSocket || c.Status() != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected capture %+v", c)
	}
	if c.URL != f.echoURL {
		t.Fatalf("capture must carry the upstream URL, got %s", c.URL)
	}
	if _, ok := c.RequestHeader("Sec-WebSocket-Key"); ok {
		t.Fatal("handshake key must not be stored")
	}
}

func TestRejections(t *testing.T) {
	f := newFixture(t, nil)
	strict := newFixture(t, policy.New(policy.Options{}))

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"missing proxy id", f.url("", f.echoURL), http.StatusBadRequest},
		{"unknown proxy", f.url("nope", f.echoURL), http.StatusNotFound},
		{"inactive proxy", f.url("idle", f.echoURL), http.StatusGone},
		{"bad scheme", f.url("p1", "ftp://example.com/feed"), http.StatusBadRequest},
		{"private destination", strict.url("p1", strict.echoURL), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tt.url, nil)
			if err == nil {
				t.Fatal("expected dial failure")
			}
			if resp == nil || resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %+v", tt.want, resp)
			}
		})
	}
}

func TestUpstreamDialFailureIs502(t *testing.T) {
	f := newFixture(t, nil)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	_, resp, err := websocket.DefaultDialer.Dial(f.url("p1", deadURL), nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %+v", resp)
	}
	calls := f.sink.all()
	if len(calls) != 1 || calls[0].Status() != http.StatusBadGateway {
		t.Fatalf("expected failed handshake capture, got %+v", calls)
	}
}
