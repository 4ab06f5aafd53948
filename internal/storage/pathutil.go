package storage

import (
	"net/url"
	"strings"
)

// SanitizeSegment makes s safe to use as a single path segment.
func SanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "unknown"
	}
	return out
}

// DestinationSlug turns a destination URL into a directory name, e.g.
// "https://api.example.com/v1/" becomes "api.example.com_v1".
func DestinationSlug(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	path := strings.Trim(parsed.Path, "/")
	slug := parsed.Hostname()
	if path != "" {
		slug += "_" + strings.ReplaceAll(path, "/", "_")
	}
	return SanitizeSegment(slug), nil
}
