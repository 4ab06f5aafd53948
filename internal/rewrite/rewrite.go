// Package rewrite points the URLs inside proxied HTML, CSS and inline
// scripts back at the gateway and injects the browser-side interceptor.
package rewrite

import (
	"fmt"
	"net/url"
	"strings"
)

// Options describes one proxy identifier as seen from the browser.
type Options struct {
	ProxyID string
	// Destination is the upstream base URL the proxy prefix maps to.
	Destination string
	// TunnelURL is the public base of the tunnel listener, e.g. ws://127.0.0.1:8191.
	TunnelURL string
	// LogEndpoint receives client capture payloads.
	LogEndpoint string
}

// Rewriter rewrites documents served under /proxy/{id}/.
type Rewriter struct {
	proxyID  string
	prefix   string
	dest     *url.URL
	basePath string
	tunnel   string
	logURL   string
}

// PathPrefix returns the gateway prefix for a proxy identifier.
func PathPrefix(proxyID string) string {
	return "/proxy/" + proxyID
}

func New(opts Options) (*Rewriter, error) {
	if opts.ProxyID == "" {
		return nil, fmt.Errorf("proxy id is required")
	}
	dest, err := url.Parse(opts.Destination)
	if err != nil {
		return nil, fmt.Errorf("parse destination: %w", err)
	}
	if dest.Scheme == "" || dest.Host == "" {
		return nil, fmt.Errorf("destination %q is not absolute", opts.Destination)
	}
	tunnel := strings.TrimSuffix(opts.TunnelURL, "/")
	if tunnel == "" {
		tunnel = "ws://127.0.0.1:8191"
	}
	logURL := opts.LogEndpoint
	if logURL == "" {
		logURL = "/api/v1/capture/log"
	}
	return &Rewriter{
		proxyID:  opts.ProxyID,
		prefix:   PathPrefix(opts.ProxyID),
		dest:     dest,
		basePath: strings.TrimSuffix(dest.Path, "/"),
		tunnel:   tunnel + "/ws-proxy",
		logURL:   logURL,
	}, nil
}

// Prefix returns the proxy path prefix without a trailing slash.
func (r *Rewriter) Prefix() string { return r.prefix }

// Origin returns the destination origin (scheme://host).
func (r *Rewriter) Origin() string { return r.dest.Scheme + "://" + r.dest.Host }

var passthroughSchemes = []string{"data:", "blob:", "javascript:", "mailto:", "tel:", "about:"}

// URL rewrites one reference. Absolute references to the destination origin
// and root-relative references move under the proxy prefix. Relative,
// external, fragment and already-prefixed references are returned as is.
func (r *Rewriter) URL(ref string) string {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ref
	}
	lower := strings.ToLower(trimmed)
	for _, s := range passthroughSchemes {
		if strings.HasPrefix(lower, s) {
			return ref
		}
	}

	if strings.HasPrefix(trimmed, "//") {
		trimmed = r.dest.Scheme + ":" + trimmed
		lower = strings.ToLower(trimmed)
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		u, err := url.Parse(trimmed)
		if err != nil || !strings.EqualFold(u.Host, r.dest.Host) {
			return ref
		}
		return r.mapPath(u.EscapedPath()) + suffix(u)
	}

	if !strings.HasPrefix(trimmed, "/") {
		return ref
	}
	if r.isPrefixed(trimmed) {
		return ref
	}
	return r.prefix + r.stripBase(trimmed)
}

// Location rewrites a redirect target so the browser stays on the gateway.
func (r *Rewriter) Location(loc string) string {
	return r.URL(loc)
}

// Socket maps a WebSocket reference to the tunnel endpoint. Relative
// references resolve against the destination.
func (r *Rewriter) Socket(ref string) string {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" || strings.HasPrefix(trimmed, r.tunnel) {
		return ref
	}
	target, err := r.socketTarget(trimmed)
	if err != nil {
		return ref
	}
	q := url.Values{}
	q.Set("proxyId", r.proxyID)
	q.Set("originalUrl", target)
	return r.tunnel + "?" + q.Encode()
}

func (r *Rewriter) socketTarget(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() {
		u = r.dest.ResolveReference(u)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported socket scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func (r *Rewriter) isPrefixed(p string) bool {
	return p == r.prefix || strings.HasPrefix(p, r.prefix+"/") ||
		strings.HasPrefix(p, r.prefix+"?") || strings.HasPrefix(p, r.prefix+"#")
}

func (r *Rewriter) mapPath(p string) string {
	if p == "" {
		p = "/"
	}
	if r.isPrefixed(p) {
		return p
	}
	return r.prefix + r.stripBase(p)
}

// stripBase removes the destination's base path so the gateway can add it
// back when it builds the upstream URL.
func (r *Rewriter) stripBase(p string) string {
	if r.basePath == "" {
		return p
	}
	if p == r.basePath {
		return "/"
	}
	if strings.HasPrefix(p, r.basePath+"/") {
		return p[len(r.basePath):]
	}
	return p
}

func suffix(u *url.URL) string {
	var b strings.Builder
	if u.RawQuery != "" || u.ForceQuery {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteString("#")
		b.WriteString(u.EscapedFragment())
	}
	return b.String()
}
