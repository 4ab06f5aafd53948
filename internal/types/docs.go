package types

import "time"

// Documentation is one generated documentation version for a proxy.
type Documentation struct {
	ID          string    `json:"id"`
	ProxyID     string    `json:"proxy_id"`
	Version     int       `json:"version"`
	Markdown    string    `json:"markdown"`
	OpenAPI     string    `json:"openapi"`
	TypeScript  string    `json:"typescript"`
	Endpoints   int       `json:"endpoints"`
	GeneratedAt time.Time `json:"generated_at"`
}
