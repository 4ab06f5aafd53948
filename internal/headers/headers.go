// Package headers summarizes authorization, CORS, and hardening headers of
// a captured exchange.
package headers

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgnsrekt/apiscope/internal/types"
)

// Authorization schemes.
const (
	SchemeBearer  = "Bearer"
	SchemeBasic   = "Basic"
	SchemeAPIKey  = "API-Key"
	SchemeCustom  = "Custom"
	SchemeUnknown = "Unknown"
)

const maxCredentialPreview = 20

// SecurityHeaders lists the hardening headers surfaced in a summary.
var SecurityHeaders = []string{
	"x-content-type-options",
	"x-frame-options",
	"x-xss-protection",
	"strict-transport-security",
	"referrer-policy",
	"permissions-policy",
}

var jwtShape = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*$`)

// Summary is the derived security view of one exchange. Every section is
// optional and omitted when the headers carry no evidence for it.
type Summary struct {
	Authorization *AuthInfo         `json:"authorization,omitempty"`
	AuthRequired  bool              `json:"auth_required"`
	CORS          *types.CORSConfig `json:"cors,omitempty"`
	Security      map[string]string `json:"security_headers,omitempty"`
	Custom        map[string]string `json:"custom_headers,omitempty"`
}

// AuthInfo describes an Authorization header without echoing the secret.
type AuthInfo struct {
	Scheme string   `json:"scheme"`
	Value  string   `json:"value"`
	JWT    *JWTInfo `json:"jwt,omitempty"`
}

// Analyze summarizes request headers and optional response headers.
func Analyze(request, response map[string]string) Summary {
	var out Summary
	if v, ok := lookup(request, "authorization"); ok && strings.TrimSpace(v) != "" {
		out.Authorization = analyzeAuthorization(v)
		out.AuthRequired = true
	}
	out.CORS = CORS(response)
	out.Security = securityHeaders(response)
	out.Custom = customHeaders(request)
	return out
}

// AnalyzeCall summarizes a captured call, applying the auth evidence rule
// to its response status as well.
func AnalyzeCall(call *types.CapturedCall) Summary {
	var resp map[string]string
	if call.Response != nil {
		resp = call.Response.Headers
	}
	out := Analyze(call.Request.Headers, resp)
	out.AuthRequired, _ = AuthEvidence(call.Request.Headers, call.Status())
	return out
}

// AuthEvidence reports whether an exchange proves authentication is
// required: an Authorization header was sent or the server answered 401.
// Cookies are not evidence.
func AuthEvidence(request map[string]string, status int) (bool, string) {
	if v, ok := lookup(request, "authorization"); ok && strings.TrimSpace(v) != "" {
		return true, ClassifyScheme(v)
	}
	if status == http.StatusUnauthorized {
		return true, SchemeUnknown
	}
	return false, ""
}

// ClassifyScheme classifies an Authorization header value by its prefix.
func ClassifyScheme(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case strings.HasPrefix(v, "bearer "):
		return SchemeBearer
	case strings.HasPrefix(v, "basic "):
		return SchemeBasic
	case strings.HasPrefix(v, "apikey "), strings.HasPrefix(v, "api-key "),
		strings.HasPrefix(v, "api_key "), strings.HasPrefix(v, "key "), strings.HasPrefix(v, "token "):
		return SchemeAPIKey
	default:
		return SchemeCustom
	}
}

func analyzeAuthorization(value string) *AuthInfo {
	value = strings.TrimSpace(value)
	scheme := ClassifyScheme(value)
	credential := value
	if scheme != SchemeCustom {
		if _, rest, ok := strings.Cut(value, " "); ok {
			credential = strings.TrimSpace(rest)
		}
	}
	info := &AuthInfo{Scheme: scheme, Value: preview(credential)}
	if scheme == SchemeBearer || jwtShape.MatchString(credential) {
		jwt := DecodeJWT(credential)
		info.JWT = &jwt
	}
	return info
}

// preview keeps at most maxCredentialPreview bytes of s, cut on a rune
// boundary.
func preview(s string) string {
	if len(s) <= maxCredentialPreview {
		return s
	}
	n := maxCredentialPreview
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// CORS extracts the access-control-* policy from response headers. It
// returns nil when none are present.
func CORS(response map[string]string) *types.CORSConfig {
	var cfg types.CORSConfig
	found := false
	if v, ok := lookup(response, "access-control-allow-origin"); ok {
		cfg.AllowOrigins = SplitList(v)
		found = true
	}
	if v, ok := lookup(response, "access-control-allow-methods"); ok {
		cfg.AllowMethods = SplitList(v)
		found = true
	}
	if v, ok := lookup(response, "access-control-allow-headers"); ok {
		cfg.AllowHeaders = SplitList(v)
		found = true
	}
	if v, ok := lookup(response, "access-control-expose-headers"); ok {
		cfg.ExposeHeaders = SplitList(v)
		found = true
	}
	if v, ok := lookup(response, "access-control-allow-credentials"); ok {
		b := strings.EqualFold(strings.TrimSpace(v), "true")
		cfg.AllowCredentials = &b
		found = true
	}
	if v, ok := lookup(response, "access-control-max-age"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.MaxAge = &n
			found = true
		}
	}
	if !found {
		return nil
	}
	return &cfg
}

// SplitList splits a comma-separated header value, dropping blanks.
func SplitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func securityHeaders(response map[string]string) map[string]string {
	var out map[string]string
	for _, name := range SecurityHeaders {
		if v, ok := lookup(response, name); ok {
			if out == nil {
				out = map[string]string{}
			}
			out[name] = v
		}
	}
	return out
}

// customHeaders collects non-standard x-* request headers.
func customHeaders(request map[string]string) map[string]string {
	var out map[string]string
	for k, v := range request {
		lk := strings.ToLower(k)
		if !strings.HasPrefix(lk, "x-") || isSecurityHeader(lk) {
			continue
		}
		if out == nil {
			out = map[string]string{}
		}
		out[lk] = v
	}
	return out
}

func isSecurityHeader(name string) bool {
	for _, h := range SecurityHeaders {
		if h == name {
			return true
		}
	}
	return false
}

func lookup(headers map[string]string, name string) (string, bool) {
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
