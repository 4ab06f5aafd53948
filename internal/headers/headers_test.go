package headers

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/apiscope/internal/types"
)

func makeJWT(header, payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(header)) + "." + enc.EncodeToString([]byte(payload)) + ".c2ln"
}

func TestDecodeJWT(t *testing.T) {
	tok := makeJWT(`{"alg":"HS256","typ":"JWT"}`, `{"sub":"42","exp":2000000000,"iat":1500000000}`)
	info := decodeJWT(tok, time.Unix(1600000000, 0))
	require.True(t, info.Valid)
	assert.Equal(t, "HS256", info.Algorithm)
	assert.Equal(t, "JWT", info.Type)
	require.NotNil(t, info.ExpiresAt)
	assert.Equal(t, int64(2000000000), info.ExpiresAt.Unix())
	require.NotNil(t, info.IssuedAt)
	assert.Equal(t, int64(1500000000), info.IssuedAt.Unix())
	assert.False(t, info.Expired)
	assert.Equal(t, "42", info.Claims["sub"])

	info = decodeJWT(tok, time.Unix(2100000000, 0))
	assert.True(t, info.Expired)
}

func TestDecodeJWTInvalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "not three parts", token: "abc.def"},
		{name: "empty", token: ""},
		{name: "bad base64 header", token: "!!!.e30.sig"},
		{name: "header not json", token: base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".e30.sig"},
		{name: "payload not json", token: "e30." + base64.RawURLEncoding.EncodeToString([]byte("[")) + ".sig"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var info JWTInfo
			assert.NotPanics(t, func() { info = DecodeJWT(tc.token) })
			assert.False(t, info.Valid)
			assert.NotEmpty(t, info.Error)
		})
	}
}

func TestClassifyScheme(t *testing.T) {
	assert.Equal(t, SchemeBearer, ClassifyScheme("Bearer abc"))
	assert.Equal(t, SchemeBearer, ClassifyScheme("bearer abc"))
	assert.Equal(t, SchemeBasic, ClassifyScheme("Basic dXNlcjpwYXNz"))
	assert.Equal(t, SchemeAPIKey, ClassifyScheme("ApiKey 123"))
	assert.Equal(t, SchemeCustom, ClassifyScheme("Signature keyId=x"))
}

func TestAnalyzeAuthorization(t *testing.T) {
	tok := makeJWT(`{"alg":"RS256"}`, `{"exp":2000000000}`)
	sum := Analyze(map[string]string{"AUTHORIZATION": "Bearer " + tok}, nil)
	require.NotNil(t, sum.Authorization)
	assert.True(t, sum.AuthRequired)
	assert.Equal(t, SchemeBearer, sum.Authorization.Scheme)
	assert.LessOrEqual(t, len(sum.Authorization.Value), maxCredentialPreview+3)
	require.NotNil(t, sum.Authorization.JWT)
	assert.Equal(t, "RS256", sum.Authorization.JWT.Algorithm)

	custom := Analyze(map[string]string{"authorization": tok}, nil)
	require.NotNil(t, custom.Authorization)
	assert.Equal(t, SchemeCustom, custom.Authorization.Scheme)
	assert.NotNil(t, custom.Authorization.JWT, "jwt-shaped value is decoded regardless of scheme")

	basic := Analyze(map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}, nil)
	assert.Nil(t, basic.Authorization.JWT)
}

func TestAnalyzeNoEvidence(t *testing.T) {
	sum := Analyze(map[string]string{"Cookie": "session=abc", "Accept": "*/*"}, map[string]string{"Content-Type": "text/html"})
	assert.Nil(t, sum.Authorization)
	assert.False(t, sum.AuthRequired)
	assert.Nil(t, sum.CORS)
	assert.Nil(t, sum.Security)
	assert.Nil(t, sum.Custom)
}

func TestAnalyzeCORSAndSecurity(t *testing.T) {
	resp := map[string]string{
		"Access-Control-Allow-Origin":      "https://app.example.com",
		"Access-Control-Allow-Methods":     "GET, POST ,OPTIONS",
		"Access-Control-Allow-Headers":     "Authorization,Content-Type",
		"Access-Control-Allow-Credentials": "true",
		"Access-Control-Max-Age":           "600",
		"X-Frame-Options":                  "DENY",
		"Strict-Transport-Security":        "max-age=31536000",
	}
	sum := Analyze(map[string]string{"X-Request-Id": "r1"}, resp)
	require.NotNil(t, sum.CORS)
	assert.Equal(t, []string{"https://app.example.com"}, sum.CORS.AllowOrigins)
	assert.Equal(t, []string{"GET", "POST", "OPTIONS"}, sum.CORS.AllowMethods)
	assert.Equal(t, []string{"Authorization", "Content-Type"}, sum.CORS.AllowHeaders)
	require.NotNil(t, sum.CORS.AllowCredentials)
	assert.True(t, *sum.CORS.AllowCredentials)
	require.NotNil(t, sum.CORS.MaxAge)
	assert.Equal(t, 600, *sum.CORS.MaxAge)
	assert.Equal(t, "DENY", sum.Security["x-frame-options"])
	assert.Len(t, sum.Security, 2)
	assert.Equal(t, "r1", sum.Custom["x-request-id"])
}

func TestAuthEvidence(t *testing.T) {
	ok, kind := AuthEvidence(map[string]string{"authorization": "Basic x"}, 200)
	assert.True(t, ok)
	assert.Equal(t, SchemeBasic, kind)

	ok, kind = AuthEvidence(nil, 401)
	assert.True(t, ok)
	assert.Equal(t, SchemeUnknown, kind)

	ok, _ = AuthEvidence(map[string]string{"Cookie": "sid=1"}, 200)
	assert.False(t, ok)
}

func TestAnalyzeCallUses401(t *testing.T) {
	call := &types.CapturedCall{Response: &types.CallResponse{Status: 401}}
	sum := AnalyzeCall(call)
	assert.True(t, sum.AuthRequired)
	assert.Nil(t, sum.Authorization)
}

func TestPreviewCutsOnRuneBoundary(t *testing.T) {
	short := "abc"
	assert.Equal(t, short, preview(short))

	// 19 ASCII bytes then a 3-byte rune straddling the cut.
	multi := strings.Repeat("k", 19) + "€€€"
	got := preview(multi)
	assert.True(t, utf8.ValidString(got), "preview %q is not valid UTF-8", got)
	assert.Equal(t, strings.Repeat("k", 19)+"...", got)

	sum := Analyze(map[string]string{"Authorization": "Custom " + multi}, nil)
	require.NotNil(t, sum.Authorization)
	assert.True(t, utf8.ValidString(sum.Authorization.Value))
}
