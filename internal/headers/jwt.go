package headers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// JWTInfo is the decoded, unverified view of a JSON Web Token.
type JWTInfo struct {
	Valid     bool           `json:"valid"`
	Algorithm string         `json:"algorithm,omitempty"`
	Type      string         `json:"type,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	IssuedAt  *time.Time     `json:"issued_at,omitempty"`
	Expired   bool           `json:"expired,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// DecodeJWT decodes the header and payload segments of token. The
// signature is not verified. Failures are reported in the result.
func DecodeJWT(token string) JWTInfo {
	return decodeJWT(token, time.Now())
}

func decodeJWT(token string, now time.Time) JWTInfo {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return JWTInfo{Error: fmt.Sprintf("invalid JWT format: expected 3 parts, got %d", len(parts))}
	}

	var header struct {
		Alg string `json:"alg"`
		Typ string `json:"typ"`
	}
	raw, err := base64URLDecode(parts[0])
	if err != nil {
		return JWTInfo{Error: fmt.Sprintf("failed to decode header: %v", err)}
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return JWTInfo{Error: fmt.Sprintf("failed to parse header: %v", err)}
	}

	raw, err = base64URLDecode(parts[1])
	if err != nil {
		return JWTInfo{Error: fmt.Sprintf("failed to decode payload: %v", err)}
	}
	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return JWTInfo{Error: fmt.Sprintf("failed to parse payload: %v", err)}
	}

	info := JWTInfo{Valid: true, Algorithm: header.Alg, Type: header.Typ, Claims: claims}
	if exp, ok := unixClaim(claims, "exp"); ok {
		info.ExpiresAt = &exp
		info.Expired = now.After(exp)
	}
	if iat, ok := unixClaim(claims, "iat"); ok {
		info.IssuedAt = &iat
	}
	return info
}

func unixClaim(claims map[string]any, key string) (time.Time, bool) {
	v, ok := claims[key].(float64)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	return time.Unix(int64(v), 0).UTC(), true
}

func base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
