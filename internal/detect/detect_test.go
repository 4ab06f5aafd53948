package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/apiscope/internal/types"
)

func call(reqHeaders map[string]string, status int, respHeaders map[string]string, query map[string]string) *types.CapturedCall {
	c := &types.CapturedCall{
		Method:      "GET",
		Protocol:    types.ProtocolHTTP,
		QueryParams: query,
		Request:     types.CallRequest{Headers: reqHeaders},
	}
	if status > 0 {
		c.Response = &types.CallResponse{Status: status, Headers: respHeaders}
	}
	return c
}

func TestDetectAuth(t *testing.T) {
	tests := []struct {
		name     string
		calls    []*types.CapturedCall
		required bool
		kind     string
	}{
		{
			name:  "no evidence",
			calls: []*types.CapturedCall{call(map[string]string{"Cookie": "sid=1"}, 200, nil, nil)},
		},
		{
			name: "first authorization wins",
			calls: []*types.CapturedCall{
				call(nil, 200, nil, nil),
				call(map[string]string{"Authorization": "Basic abc"}, 200, nil, nil),
				call(map[string]string{"Authorization": "Bearer abc"}, 200, nil, nil),
			},
			required: true,
			kind:     "Basic",
		},
		{
			name:     "401 only",
			calls:    []*types.CapturedCall{call(nil, 401, nil, nil)},
			required: true,
			kind:     "Unknown",
		},
		{
			name: "header beats earlier 401 for type",
			calls: []*types.CapturedCall{
				call(nil, 401, nil, nil),
				call(map[string]string{"authorization": "Bearer t"}, 200, nil, nil),
			},
			required: true,
			kind:     "Bearer",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Detect(tc.calls)
			assert.Equal(t, tc.required, res.AuthRequired)
			assert.Equal(t, tc.kind, res.AuthType)
		})
	}
}

func TestDetectPagination(t *testing.T) {
	assert.Equal(t, types.PaginationPage, Pagination([]*types.CapturedCall{call(nil, 200, nil, map[string]string{"page": "2"})}))
	assert.Equal(t, types.PaginationPage, Pagination([]*types.CapturedCall{call(nil, 200, nil, map[string]string{"pageNumber": "2"})}))
	assert.Equal(t, types.PaginationOffset, Pagination([]*types.CapturedCall{call(nil, 200, nil, map[string]string{"offset": "20", "limit": "10"})}))
	assert.Equal(t, types.PaginationCursor, Pagination([]*types.CapturedCall{call(nil, 200, nil, map[string]string{"after": "abc"})}))
	assert.Equal(t, "", Pagination([]*types.CapturedCall{call(nil, 200, nil, map[string]string{"q": "x"})}))

	ordered := []*types.CapturedCall{
		call(nil, 200, nil, map[string]string{"cursor": "c1"}),
		call(nil, 200, nil, map[string]string{"page": "1"}),
	}
	assert.Equal(t, types.PaginationCursor, Pagination(ordered))
}

func TestDetectAPIType(t *testing.T) {
	assert.Equal(t, types.APITypeREST, APIType([]*types.CapturedCall{call(nil, 200, map[string]string{"Content-Type": "application/json"}, nil)}))
	assert.Equal(t, types.APITypeGraphQL, APIType([]*types.CapturedCall{call(map[string]string{"Content-Type": "application/graphql"}, 200, nil, nil)}))
	assert.Equal(t, types.APITypeGraphQL, APIType([]*types.CapturedCall{
		call(map[string]string{"Upgrade": "websocket"}, 101, nil, nil),
		call(nil, 200, map[string]string{"content-type": "application/graphql-response+json"}, nil),
	}))
	assert.Equal(t, types.APITypeWebSocket, APIType([]*types.CapturedCall{call(map[string]string{"Upgrade": "WebSocket"}, 101, nil, nil)}))
	assert.Equal(t, types.APITypeWebSocket, APIType([]*types.CapturedCall{{Protocol: types.ProtocolWebSocket}}))
}

func TestDetectCORSUnion(t *testing.T) {
	calls := []*types.CapturedCall{
		call(nil, 200, map[string]string{"Access-Control-Allow-Origin": "https://a.test", "Access-Control-Max-Age": "60"}, nil),
		call(nil, 200, map[string]string{"Access-Control-Allow-Origin": "https://b.test", "Access-Control-Allow-Methods": "GET,POST", "Access-Control-Max-Age": "600"}, nil),
		call(nil, 200, map[string]string{"access-control-allow-origin": "https://a.test", "access-control-allow-credentials": "true"}, nil),
		call(nil, 0, nil, nil),
	}
	res := Detect(calls)
	require.NotNil(t, res.CORS)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, res.CORS.AllowOrigins)
	assert.Equal(t, []string{"GET", "POST"}, res.CORS.AllowMethods)
	require.NotNil(t, res.CORS.MaxAge)
	assert.Equal(t, 600, *res.CORS.MaxAge)
	require.NotNil(t, res.CORS.AllowCredentials)
	assert.True(t, *res.CORS.AllowCredentials)
}

func TestDetectNoCORS(t *testing.T) {
	res := Detect([]*types.CapturedCall{call(nil, 200, map[string]string{"Content-Type": "text/plain"}, nil)})
	assert.Nil(t, res.CORS)
	assert.Equal(t, types.APITypeREST, res.APIType)
}
