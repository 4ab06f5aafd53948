package rewrite

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRewriter(t *testing.T, dest string) *Rewriter {
	t.Helper()
	r, err := New(Options{ProxyID: "p1", Destination: dest, TunnelURL: "ws://127.0.0.1:8191"})
	require.NoError(t, err)
	return r
}

func TestNewRejectsRelativeDestination(t *testing.T) {
	_, err := New(Options{ProxyID: "p1", Destination: "/just/a/path"})
	assert.Error(t, err)
	_, err = New(Options{Destination: "https://example.com"})
	assert.Error(t, err)
}

func TestURL(t *testing.T) {
	r := newTestRewriter(t, "https://example.com")
	tests := []struct {
		in, want string
	}{
		{"https://example.com/api/users?page=2", "/proxy/p1/api/users?page=2"},
		{"https://EXAMPLE.com/", "/proxy/p1/"},
		{"https://example.com", "/proxy/p1/"},
		{"//example.com/app.js", "/proxy/p1/app.js"},
		{"/static/app.css", "/proxy/p1/static/app.css"},
		{"/proxy/p1/already", "/proxy/p1/already"},
		{"https://cdn.other.com/lib.js", "https://cdn.other.com/lib.js"},
		{"relative/path.png", "relative/path.png"},
		{"#top", "#top"},
		{"data:image/png;base64,AAAA", "data:image/png;base64,AAAA"},
		{"javascript:void(0)", "javascript:void(0)"},
		{"mailto:a@example.com", "mailto:a@example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, r.URL(tt.in))
		})
	}
}

func TestURLStripsDestinationBasePath(t *testing.T) {
	r := newTestRewriter(t, "https://example.com/app/")
	assert.Equal(t, "/proxy/p1/users", r.URL("https://example.com/app/users"))
	assert.Equal(t, "/proxy/p1/", r.URL("/app"))
	assert.Equal(t, "/proxy/p1/other", r.URL("/other"))
}

func TestSocket(t *testing.T) {
	r := newTestRewriter(t, "https://example.com")

	got := r.Socket("wss://stream.example.com/feed?x=1")
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "ws", u.Scheme)
	assert.Equal(t, "127.0.0.1:8191", u.Host)
	assert.Equal(t, "/ws-proxy", u.Path)
	assert.Equal(t, "p1", u.Query().Get("proxyId"))
	assert.Equal(t, "wss://stream.example.com/feed?x=1", u.Query().Get("originalUrl"))

	u, err = url.Parse(r.Socket("/socket"))
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/socket", u.Query().Get("originalUrl"))

	assert.Equal(t, got, r.Socket(got), "tunnel URLs are not wrapped twice")
}

func TestCSS(t *testing.T) {
	r := newTestRewriter(t, "https://example.com")
	in := `body{background:url('/img/bg.png')} .x{background:url(https://example.com/a.png)} .y{background:url(data:image/png;base64,AA)}
@import "/css/theme.css";
@import url("https://cdn.other.com/x.css");`
	out := r.CSS(in)
	assert.Contains(t, out, `url('/proxy/p1/img/bg.png')`)
	assert.Contains(t, out, `url(/proxy/p1/a.png)`)
	assert.Contains(t, out, `url(data:image/png;base64,AA)`)
	assert.Contains(t, out, `@import "/proxy/p1/css/theme.css"`)
	assert.Contains(t, out, `url("https://cdn.other.com/x.css")`)
}

func TestScript(t *testing.T) {
	r := newTestRewriter(t, "https://example.com")
	in := "fetch('/api/items');\n" +
		"xhr.open(\"POST\", \"https://example.com/api/save\");\n" +
		"fetch(`/api/${id}`);\n" +
		"var ws = new WebSocket('wss://example.com/live');\n" +
		"fetch('https://other.com/x');"
	out := r.Script(in)
	assert.Contains(t, out, "fetch('/proxy/p1/api/items')")
	assert.Contains(t, out, `.open("POST", "/proxy/p1/api/save")`)
	assert.Contains(t, out, "fetch(`/api/${id}`)")
	assert.Contains(t, out, "'ws://127.0.0.1:8191/ws-proxy?originalUrl=wss%3A%2F%2Fexample.com%2Flive&proxyId=p1'")
	assert.Contains(t, out, "fetch('https://other.com/x')")
}

func TestHTML(t *testing.T) {
	r := newTestRewriter(t, "https://example.com")
	page := `<!DOCTYPE html>
<html><head>
<meta http-equiv="Content-Security-Policy" content="default-src 'self'">
<base href="https://example.com/">
<link rel="stylesheet" href="/css/site.css">
<style>.hero{background:url(/img/hero.jpg)}</style>
</head><body>
<a href="https://example.com/about">About</a>
<a href="https://elsewhere.org/">Out</a>
<img src="/logo.png" srcset="/logo.png 1x, /logo@2x.png 2x">
<div style="background:url('/bg.png')"></div>
<form action="/login" method="post"></form>
<script>if (a && b < c) { fetch("/api/me"); }</script>
<script src="/app.js"></script>
<script type="application/ld+json">{"url":"/not-js"}</script>
</body></html>`

	out, err := r.HTML([]byte(page))
	require.NoError(t, err)
	s := string(out)

	assert.True(t, strings.HasPrefix(s, "<!DOCTYPE html>"))
	assert.Contains(t, s, `<head><base href="/proxy/p1/"/><script data-apiscope="interceptor">`)
	assert.Equal(t, 1, strings.Count(s, "<base "))
	assert.NotContains(t, s, "Content-Security-Policy")
	assert.Contains(t, s, `href="/proxy/p1/css/site.css"`)
	assert.Contains(t, s, `url(/proxy/p1/img/hero.jpg)`)
	assert.Contains(t, s, `href="/proxy/p1/about"`)
	assert.Contains(t, s, `href="https://elsewhere.org/"`)
	assert.Contains(t, s, `src="/proxy/p1/logo.png"`)
	assert.Contains(t, s, `srcset="/proxy/p1/logo.png 1x, /proxy/p1/logo@2x.png 2x"`)
	assert.Contains(t, s, `action="/proxy/p1/login"`)
	assert.Contains(t, s, `fetch("/proxy/p1/api/me")`)
	assert.Contains(t, s, `if (a && b < c)`, "inline script text must not be entity escaped")
	assert.Contains(t, s, `src="/proxy/p1/app.js"`)
	assert.Contains(t, s, `{"url":"/not-js"}`)
	assert.Contains(t, s, "window.__apiscopeInstalled")
}

func TestHTMLWithoutHeadGetsOne(t *testing.T) {
	r := newTestRewriter(t, "https://example.com")
	out, err := r.HTML([]byte(`<p>hello</p>`))
	require.NoError(t, err)
	assert.Contains(t, string(out), `<head><base href="/proxy/p1/"/>`)
}

func TestInterceptorEmbedsConfig(t *testing.T) {
	r := newTestRewriter(t, "https://example.com")
	js, err := r.Interceptor()
	require.NoError(t, err)
	assert.Contains(t, js, `"proxyId":"p1"`)
	assert.Contains(t, js, `"prefix":"/proxy/p1"`)
	assert.Contains(t, js, `"tunnel":"ws://127.0.0.1:8191/ws-proxy"`)
	assert.Contains(t, js, `"logEndpoint":"/api/v1/capture/log"`)
	assert.Contains(t, js, `"minIntervalMs":1000`)
	assert.NotContains(t, js, "{{")
}

func TestInterceptorEscapesScriptClose(t *testing.T) {
	r, err := New(Options{ProxyID: "p</script>", Destination: "https://example.com"})
	require.NoError(t, err)
	js, err := r.Interceptor()
	require.NoError(t, err)
	assert.NotContains(t, js, "</script>")
}
