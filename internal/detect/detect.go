// Package detect classifies a group of captured calls sharing one endpoint
// pattern: auth requirement, pagination style, API type, and CORS policy.
package detect

import (
	"strings"

	"github.com/dgnsrekt/apiscope/internal/headers"
	"github.com/dgnsrekt/apiscope/internal/types"
)

// Result is the classification of one call group.
type Result struct {
	AuthRequired   bool              `json:"auth_required"`
	AuthType       string            `json:"auth_type,omitempty"`
	PaginationType string            `json:"pagination_type,omitempty"`
	APIType        string            `json:"api_type"`
	CORS           *types.CORSConfig `json:"cors,omitempty"`
}

var paginationKeys = []struct {
	key  string
	kind string
}{
	{"page", types.PaginationPage},
	{"pagenumber", types.PaginationPage},
	{"offset", types.PaginationOffset},
	{"cursor", types.PaginationCursor},
	{"after", types.PaginationCursor},
}

// Detect classifies calls. Calls are scanned in order, so the first call
// with an Authorization header decides the auth type.
func Detect(calls []*types.CapturedCall) Result {
	res := Result{APIType: APIType(calls)}
	res.AuthRequired, res.AuthType = Auth(calls)
	res.PaginationType = Pagination(calls)

	for _, c := range calls {
		if c.Response == nil {
			continue
		}
		res.CORS = MergeCORS(res.CORS, headers.CORS(c.Response.Headers))
	}
	return res
}

// Auth applies the evidence rule across calls. A call carrying an
// Authorization header takes precedence over a bare 401 when typing.
func Auth(calls []*types.CapturedCall) (bool, string) {
	required := false
	for _, c := range calls {
		ok, kind := headers.AuthEvidence(c.Request.Headers, c.Status())
		if !ok {
			continue
		}
		required = true
		if kind != headers.SchemeUnknown {
			return true, kind
		}
	}
	if required {
		return true, headers.SchemeUnknown
	}
	return false, ""
}

// Pagination returns the first pagination style found in query keys.
func Pagination(calls []*types.CapturedCall) string {
	for _, c := range calls {
		if len(c.QueryParams) == 0 {
			continue
		}
		for _, pk := range paginationKeys {
			for k := range c.QueryParams {
				if strings.EqualFold(k, pk.key) {
					return pk.kind
				}
			}
		}
	}
	return ""
}

// APIType returns GraphQL when any content-type declares it, WebSocket
// when a call was an upgrade, REST otherwise.
func APIType(calls []*types.CapturedCall) string {
	for _, c := range calls {
		if isGraphQL(c) {
			return types.APITypeGraphQL
		}
	}
	for _, c := range calls {
		if c.Protocol == types.ProtocolWebSocket {
			return types.APITypeWebSocket
		}
		if v, ok := c.RequestHeader("upgrade"); ok && strings.EqualFold(strings.TrimSpace(v), "websocket") {
			return types.APITypeWebSocket
		}
	}
	return types.APITypeREST
}

func isGraphQL(c *types.CapturedCall) bool {
	if v, ok := c.RequestHeader("content-type"); ok && strings.Contains(strings.ToLower(v), "graphql") {
		return true
	}
	if v, ok := c.ResponseHeader("content-type"); ok && strings.Contains(strings.ToLower(v), "graphql") {
		return true
	}
	return false
}

// MergeCORS unions two CORS configs. Lists are deduplicated in order,
// credentials are true if either side allowed them, max-age keeps the
// larger value.
func MergeCORS(a, b *types.CORSConfig) *types.CORSConfig {
	if b == nil {
		return a
	}
	if a == nil {
		cp := *b
		return &cp
	}
	out := &types.CORSConfig{
		AllowOrigins:  union(a.AllowOrigins, b.AllowOrigins),
		AllowMethods:  union(a.AllowMethods, b.AllowMethods),
		AllowHeaders:  union(a.AllowHeaders, b.AllowHeaders),
		ExposeHeaders: union(a.ExposeHeaders, b.ExposeHeaders),
	}
	switch {
	case a.AllowCredentials == nil:
		out.AllowCredentials = b.AllowCredentials
	case b.AllowCredentials == nil:
		out.AllowCredentials = a.AllowCredentials
	default:
		v := *a.AllowCredentials || *b.AllowCredentials
		out.AllowCredentials = &v
	}
	switch {
	case a.MaxAge == nil:
		out.MaxAge = b.MaxAge
	case b.MaxAge == nil || *a.MaxAge >= *b.MaxAge:
		out.MaxAge = a.MaxAge
	default:
		out.MaxAge = b.MaxAge
	}
	return out
}

func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			key := strings.ToLower(v)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
