package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"
)

func truncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}

func truncateStringBytes(in string, maxBytes int) (string, bool, int, string) {
	out, truncated, size, hash := truncateBytes([]byte(in), maxBytes)
	return string(out), truncated, size, hash
}

// truncateText cuts body to maxBytes and drops a trailing partial rune.
func truncateText(body []byte, maxBytes int) (string, bool, int, string) {
	out, truncated, size, hash := truncateBytes(body, maxBytes)
	if truncated {
		for len(out) > 0 && !utf8.Valid(out) {
			out = out[:len(out)-1]
		}
	}
	return string(out), truncated, size, hash
}

// truncateURL keeps at most maxChars runes of raw.
func truncateURL(raw string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(raw) <= maxChars {
		return raw
	}
	runes := []rune(raw)
	return string(runes[:maxChars])
}

// flattenHeaders joins multi-valued headers with ", ".
func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

// truncateHeaders keeps headers, in name order, while their serialized
// size stays within maxBytes.
func truncateHeaders(headers map[string]string, maxBytes int) (map[string]string, bool) {
	if len(headers) == 0 || maxBytes <= 0 {
		return headers, false
	}
	if b, err := json.Marshal(headers); err == nil && len(b) <= maxBytes {
		return headers, false
	}

	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make(map[string]string, len(headers))
	size := 2
	for _, k := range names {
		entry := len(k) + len(headers[k]) + 6
		if size+entry > maxBytes {
			continue
		}
		out[k] = headers[k]
		size += entry
	}
	return out, true
}
