package capture

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var assetExtensions = map[string]struct{}{
	".js": {}, ".mjs": {}, ".css": {}, ".map": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {}, ".webp": {}, ".avif": {}, ".bmp": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	".mp4": {}, ".webm": {}, ".mp3": {}, ".wav": {}, ".ogg": {}, ".m4a": {},
	".pdf": {}, ".zip": {}, ".gz": {}, ".wasm": {},
}

var staticPrefixes = []string{
	"/static/", "/assets/", "/_next/static/", "/_nuxt/", "/images/", "/img/",
	"/fonts/", "/css/", "/js/", "/media/", "/dist/", "/build/", "/favicon",
}

var apiPath = regexp.MustCompile(`(?i)(^|/)(api|graphql|gql|rest|rpc|v[0-9]+)(/|$)`)

// IsAsset reports whether rawURL names a static asset by extension or by a
// well-known static path prefix.
func IsAsset(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	if _, ok := assetExtensions[path.Ext(p)]; ok {
		return true
	}
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// IsAPICall reports whether a client-observed call looks like API traffic
// rather than page navigation.
func IsAPICall(method, rawURL string, headers map[string]string) bool {
	if m := strings.ToUpper(method); m != "" && m != "GET" && m != "HEAD" {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if apiPath.MatchString(u.Path) || strings.HasSuffix(strings.ToLower(u.Path), ".json") {
		return true
	}
	for k, v := range headers {
		lk := strings.ToLower(k)
		if (lk == "accept" || lk == "content-type") && isJSONish(v) {
			return true
		}
	}
	return false
}

// IsTextContentType reports whether a response body of this type is text
// that may be buffered and inspected.
func IsTextContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	}
	switch {
	case strings.HasPrefix(mt, "text/"):
		return true
	case isJSONish(mt), strings.HasSuffix(mt, "+xml"):
		return true
	}
	switch mt {
	case "application/javascript", "application/x-javascript", "application/ecmascript",
		"application/xml", "application/x-www-form-urlencoded", "application/xhtml+xml":
		return true
	}
	return false
}

func isJSONish(v string) bool {
	v = strings.ToLower(v)
	return strings.Contains(v, "json") || strings.Contains(v, "graphql")
}
