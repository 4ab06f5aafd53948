package rewrite

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

//go:embed interceptor.js.tmpl
var interceptorSource string

var interceptorTmpl = template.Must(template.New("interceptor").Parse(interceptorSource))

// Client-side throttling applied by the injected script.
const (
	LogIntervalMillis = 1000
	RecentHistorySize = 50
	ClientBodyPreview = 5120
)

const assetPattern = `\.(js|mjs|css|map|png|jpe?g|gif|svg|ico|webp|avif|bmp|woff2?|ttf|otf|eot|mp4|webm|mp3|wav|ogg|m4a|pdf|zip|gz|wasm)$`

type interceptorConfig struct {
	ProxyID       string `json:"proxyId"`
	Prefix        string `json:"prefix"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	BasePath      string `json:"basePath"`
	Tunnel        string `json:"tunnel"`
	LogEndpoint   string `json:"logEndpoint"`
	AssetPattern  string `json:"assetPattern"`
	MinIntervalMs int    `json:"minIntervalMs"`
	RecentSize    int    `json:"recentSize"`
	MaxBody       int    `json:"maxBody"`
}

// Interceptor renders the script that patches fetch, XMLHttpRequest and
// WebSocket inside the proxied page.
func (r *Rewriter) Interceptor() (string, error) {
	cfg := interceptorConfig{
		ProxyID:       r.proxyID,
		Prefix:        r.prefix,
		Origin:        r.Origin(),
		Destination:   r.dest.String(),
		BasePath:      r.basePath,
		Tunnel:        r.tunnel,
		LogEndpoint:   r.logURL,
		AssetPattern:  assetPattern,
		MinIntervalMs: LogIntervalMillis,
		RecentSize:    RecentHistorySize,
		MaxBody:       ClientBodyPreview,
	}
	raw, err := json.Marshal(cfg, jsontext.EscapeForHTML(true), jsontext.EscapeForJS(true))
	if err != nil {
		return "", fmt.Errorf("encode interceptor config: %w", err)
	}
	var buf bytes.Buffer
	if err := interceptorTmpl.Execute(&buf, struct{ Config string }{string(raw)}); err != nil {
		return "", fmt.Errorf("render interceptor: %w", err)
	}
	return buf.String(), nil
}
