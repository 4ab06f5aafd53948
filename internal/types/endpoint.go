package types

import "time"

// API types.
const (
	APITypeREST      = "REST"
	APITypeGraphQL   = "GraphQL"
	APITypeWebSocket = "WebSocket"
)

// Pagination types.
const (
	PaginationPage   = "page"
	PaginationOffset = "offset"
	PaginationCursor = "cursor"
)

// Endpoint protocols.
const (
	ProtocolHTTP      = "http"
	ProtocolWebSocket = "websocket"
)

// CORSConfig is the union of access-control-* response headers observed.
type CORSConfig struct {
	AllowOrigins     []string `json:"allow_origins,omitempty"`
	AllowMethods     []string `json:"allow_methods,omitempty"`
	AllowHeaders     []string `json:"allow_headers,omitempty"`
	ExposeHeaders    []string `json:"expose_headers,omitempty"`
	AllowCredentials *bool    `json:"allow_credentials,omitempty"`
	MaxAge           *int     `json:"max_age,omitempty"`
}

// DiscoveredEndpoint is the persisted analysis result for one pattern.
// Pattern is the "METHOD /normalized/path" grouping key; Method and Path
// are its two halves. It is keyed by (ProxyID, Pattern, Protocol).
type DiscoveredEndpoint struct {
	ProxyID         string             `json:"proxy_id"`
	Pattern         string             `json:"pattern"`
	Method          string             `json:"method"`
	Path            string             `json:"path"`
	Protocol        string             `json:"protocol"`
	RequestSchema   *Schema            `json:"request_schema,omitempty"`
	ResponseSchemas map[string]*Schema `json:"response_schemas,omitempty"`
	AuthRequired    bool               `json:"auth_required"`
	AuthType        string             `json:"auth_type,omitempty"`
	PaginationType  string             `json:"pagination_type,omitempty"`
	APIType         string             `json:"api_type"`
	CORS            *CORSConfig        `json:"cors,omitempty"`
	Description     string             `json:"description,omitempty"`
	CallCount       int                `json:"call_count"`
	AnalyzedAt      time.Time          `json:"analyzed_at"`
}

// Key returns the unique key of the endpoint within its proxy.
func (e *DiscoveredEndpoint) Key() string {
	return e.Protocol + " " + e.Pattern
}
