package gateway

import (
	"net/http"
	"strings"
)

var strippedRequestHeaders = map[string]struct{}{
	"Host":              {},
	"Connection":        {},
	"Content-Length":    {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Keep-Alive":        {},
	"Te":                {},
	"Trailer":           {},
	// Without it the transport negotiates gzip itself and decodes the body.
	"Accept-Encoding": {},
}

var strippedResponseHeaders = map[string]struct{}{
	"Content-Encoding":  {},
	"Transfer-Encoding": {},
	"Connection":        {},
	"Upgrade":           {},
	"Keep-Alive":        {},
	"Content-Length":    {},
}

// outboundHeaders copies the browser's headers minus hop-by-hop and
// proxy headers, and points Origin and Referer back at the destination.
func outboundHeaders(in http.Header, origin string, resolve func(string) string) http.Header {
	out := make(http.Header, len(in))
	for name, values := range in {
		canon := http.CanonicalHeaderKey(name)
		if _, drop := strippedRequestHeaders[canon]; drop {
			continue
		}
		if strings.HasPrefix(canon, "Proxy-") {
			continue
		}
		out[canon] = append([]string(nil), values...)
	}
	for _, token := range connectionTokens(in) {
		out.Del(token)
	}
	if out.Get("Origin") != "" {
		out.Set("Origin", origin)
	}
	if ref := out.Get("Referer"); ref != "" {
		out.Set("Referer", resolve(ref))
	}
	return out
}

// connectionTokens lists headers named by the Connection header, which
// are hop-by-hop for this request only.
func connectionTokens(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}

// copyResponseHeaders writes upstream headers to dst, rewriting Location
// and Set-Cookie so the browser stays on the gateway.
func copyResponseHeaders(dst, src http.Header, location func(string) string, dropCSP bool) {
	for name, values := range src {
		canon := http.CanonicalHeaderKey(name)
		if _, drop := strippedResponseHeaders[canon]; drop {
			continue
		}
		switch canon {
		case "Content-Security-Policy", "Content-Security-Policy-Report-Only":
			if dropCSP {
				continue
			}
		case "Location", "Content-Location":
			for _, v := range values {
				dst.Add(canon, location(v))
			}
			continue
		case "Set-Cookie":
			for _, v := range values {
				dst.Add(canon, stripCookieDomain(v))
			}
			continue
		}
		for _, v := range values {
			dst.Add(canon, v)
		}
	}
}

// stripCookieDomain removes the Domain attribute so the cookie binds to
// the gateway host.
func stripCookieDomain(cookie string) string {
	parts := strings.Split(cookie, ";")
	kept := parts[:1]
	for _, p := range parts[1:] {
		attr := strings.TrimSpace(p)
		if len(attr) >= 6 && strings.EqualFold(attr[:6], "domain") &&
			(len(attr) == 6 || attr[6] == '=' || attr[6] == ' ') {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, ";")
}
