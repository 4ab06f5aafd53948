package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/apiscope/internal/types"
)

func registerProxyHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "create-proxy", Method: http.MethodPost, Path: "/api/v1/proxies", Summary: "Create a proxy for a destination", Tags: []string{"Proxies"}, DefaultStatus: http.StatusCreated},
		func(ctx context.Context, input *struct {
			Body struct {
				Name           string `json:"name,omitempty" doc:"Display name. Defaults to the destination host."`
				DestinationURL string `json:"destination_url" required:"true" doc:"Destination base URL (http or https)"`
			}
		}) (*proxyOutput, error) {
			p, err := svc.CreateProxy(ctx, input.Body.Name, input.Body.DestinationURL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &proxyOutput{Body: p}, nil
		})

	type listProxiesOutput struct {
		Body struct {
			Proxies []*types.Proxy `json:"proxies"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-proxies", Method: http.MethodGet, Path: "/api/v1/proxies", Summary: "List proxies", Tags: []string{"Proxies"}},
		func(ctx context.Context, input *struct{}) (*listProxiesOutput, error) {
			proxies, err := svc.ListProxies(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listProxiesOutput{}
			out.Body.Proxies = proxies
			if out.Body.Proxies == nil {
				out.Body.Proxies = []*types.Proxy{}
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-proxy", Method: http.MethodGet, Path: "/api/v1/proxies/{proxy_id}", Summary: "Get a proxy", Tags: []string{"Proxies"}},
		func(ctx context.Context, input *proxyIDInput) (*proxyOutput, error) {
			p, err := svc.GetProxy(ctx, input.ProxyID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &proxyOutput{Body: p}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "update-proxy-status", Method: http.MethodPatch, Path: "/api/v1/proxies/{proxy_id}", Summary: "Activate or deactivate a proxy", Tags: []string{"Proxies"}},
		func(ctx context.Context, input *struct {
			ProxyID string `path:"proxy_id"`
			Body    struct {
				Status string `json:"status" required:"true" doc:"active or inactive"`
			}
		}) (*proxyOutput, error) {
			p, err := svc.SetProxyStatus(ctx, input.ProxyID, input.Body.Status)
			if err != nil {
				return nil, mapErr(err)
			}
			return &proxyOutput{Body: p}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-proxy", Method: http.MethodDelete, Path: "/api/v1/proxies/{proxy_id}", Summary: "Delete a proxy with its captured traffic, endpoints and docs", Tags: []string{"Proxies"}, DefaultStatus: http.StatusNoContent},
		func(ctx context.Context, input *proxyIDInput) (*struct{}, error) {
			if err := svc.DeleteProxy(ctx, input.ProxyID); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})
}
