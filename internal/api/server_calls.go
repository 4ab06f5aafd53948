package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/apiscope/internal/headers"
	"github.com/dgnsrekt/apiscope/internal/types"
)

func registerCallHandlers(api huma.API, svc Service) {
	type listCallsOutput struct {
		Body struct {
			ProxyID string                `json:"proxy_id"`
			Calls   []*types.CapturedCall `json:"calls"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-calls", Method: http.MethodGet, Path: "/api/v1/proxies/{proxy_id}/calls", Summary: "List captured calls, most recent first", Tags: []string{"Calls"}},
		func(ctx context.Context, input *struct {
			ProxyID string `path:"proxy_id"`
			Limit   int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
		}) (*listCallsOutput, error) {
			calls, err := svc.ListCalls(ctx, input.ProxyID, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listCallsOutput{}
			out.Body.ProxyID = input.ProxyID
			out.Body.Calls = calls
			if out.Body.Calls == nil {
				out.Body.Calls = []*types.CapturedCall{}
			}
			return out, nil
		})

	type securityOutput struct {
		Body headers.Summary
	}
	huma.Register(api, huma.Operation{OperationID: "call-security", Method: http.MethodGet, Path: "/api/v1/proxies/{proxy_id}/calls/{call_id}/security", Summary: "Analyze the auth, CORS and security headers of one call", Tags: []string{"Calls"}},
		func(ctx context.Context, input *struct {
			ProxyID string `path:"proxy_id"`
			CallID  string `path:"call_id"`
		}) (*securityOutput, error) {
			summary, err := svc.CallSecurity(ctx, input.ProxyID, input.CallID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &securityOutput{Body: summary}, nil
		})
}
