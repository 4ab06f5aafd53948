// Package pattern turns concrete request URLs into abstract endpoint
// patterns by replacing dynamic path segments with ":id".
package pattern

import (
	"net/url"
	"regexp"
	"strings"
)

// Param is the placeholder substituted for dynamic path segments.
const Param = ":id"

var (
	uuidRe    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
	cuidRe    = regexp.MustCompile(`^(?:cl|c)[0-9a-z]{24,25}$`)
	tokenRe   = regexp.MustCompile(`^[0-9A-Za-z]{20,}$`)
	numericRe = regexp.MustCompile(`^[0-9]+$`)
)

// Normalize returns the path of rawURL with dynamic segments replaced by
// ":id". Malformed input is returned unchanged.
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if IsDynamic(seg) {
			segments[i] = Param
		}
	}
	out := strings.Join(segments, "/")
	if len(out) > 1 {
		out = strings.TrimRight(out, "/")
		if out == "" {
			out = "/"
		}
	}
	return out
}

// IsDynamic reports whether a single path segment looks like an identifier.
// Checks run in priority order: UUID, CUID, long opaque token, numeric.
func IsDynamic(seg string) bool {
	switch {
	case uuidRe.MatchString(seg):
		return true
	case cuidRe.MatchString(seg):
		return true
	case tokenRe.MatchString(seg):
		return true
	case numericRe.MatchString(seg):
		return true
	}
	return false
}

// Extract returns the canonical grouping key "{METHOD} {normalized path}".
func Extract(rawURL, method string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + Normalize(rawURL)
}

// Split breaks a grouping key back into method and path. A key without a
// method is returned as a bare path.
func Split(key string) (method, path string) {
	method, path, ok := strings.Cut(key, " ")
	if !ok {
		return "", key
	}
	return method, path
}

// IsParam reports whether a pattern segment is a placeholder.
func IsParam(seg string) bool {
	return strings.HasPrefix(seg, ":")
}

// Segments splits a path into its non-empty segments.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
