package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/apiscope/internal/analysis"
	"github.com/dgnsrekt/apiscope/internal/types"
	"github.com/dgnsrekt/apiscope/internal/variation"
)

func registerAnalysisHandlers(api huma.API, svc Service) {
	type analyzeOutput struct {
		Body *analysis.Result
	}
	huma.Register(api, huma.Operation{OperationID: "analyze-proxy", Method: http.MethodPost, Path: "/api/v1/proxies/{proxy_id}/analyze", Summary: "Rebuild discovered endpoints from captured calls", Description: "Returns 409 while another analysis of the same proxy is running.", Tags: []string{"Analysis"}},
		func(ctx context.Context, input *proxyIDInput) (*analyzeOutput, error) {
			res, err := svc.Analyze(ctx, input.ProxyID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &analyzeOutput{Body: res}, nil
		})

	type endpointsOutput struct {
		Body struct {
			ProxyID   string                      `json:"proxy_id"`
			Endpoints []*types.DiscoveredEndpoint `json:"endpoints"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-endpoints", Method: http.MethodGet, Path: "/api/v1/proxies/{proxy_id}/endpoints", Summary: "List discovered endpoints", Tags: []string{"Analysis"}},
		func(ctx context.Context, input *proxyIDInput) (*endpointsOutput, error) {
			eps, err := svc.ListEndpoints(ctx, input.ProxyID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &endpointsOutput{}
			out.Body.ProxyID = input.ProxyID
			out.Body.Endpoints = eps
			if out.Body.Endpoints == nil {
				out.Body.Endpoints = []*types.DiscoveredEndpoint{}
			}
			return out, nil
		})

	type variationsOutput struct {
		Body variation.Report
	}
	huma.Register(api, huma.Operation{OperationID: "list-variations", Method: http.MethodGet, Path: "/api/v1/proxies/{proxy_id}/variations", Summary: "Group URL, query and payload variations of one pattern", Tags: []string{"Analysis"}},
		func(ctx context.Context, input *struct {
			ProxyID string `path:"proxy_id"`
			Pattern string `query:"pattern" required:"true" doc:"Grouping key, e.g. 'GET /users/:id', or a bare normalized path"`
		}) (*variationsOutput, error) {
			report, err := svc.Variations(ctx, input.ProxyID, input.Pattern)
			if err != nil {
				return nil, mapErr(err)
			}
			return &variationsOutput{Body: report}, nil
		})
}
