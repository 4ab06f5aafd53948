package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/apiscope/internal/docs"
	"github.com/dgnsrekt/apiscope/internal/types"
)

func registerDocsHandlers(api huma.API, svc Service, retainDefault bool) {
	type docsOutput struct {
		Body *types.Documentation
	}

	huma.Register(api, huma.Operation{OperationID: "generate-docs", Method: http.MethodPost, Path: "/api/v1/proxies/{proxy_id}/docs", Summary: "Generate a new documentation version", Tags: []string{"Docs"}, DefaultStatus: http.StatusCreated},
		func(ctx context.Context, input *struct {
			ProxyID string `path:"proxy_id"`
			Body    struct {
				RetainHistory *bool `json:"retain_history,omitempty" doc:"Keep earlier versions. Defaults to the server setting."`
				Describe      bool  `json:"describe,omitempty" doc:"Fill in endpoint descriptions before rendering"`
			} `required:"false"`
		}) (*docsOutput, error) {
			opts := docs.Options{RetainHistory: retainDefault, Describe: input.Body.Describe}
			if input.Body.RetainHistory != nil {
				opts.RetainHistory = *input.Body.RetainHistory
			}
			doc, err := svc.GenerateDocs(ctx, input.ProxyID, opts)
			if err != nil {
				return nil, mapErr(err)
			}
			return &docsOutput{Body: doc}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-docs", Method: http.MethodGet, Path: "/api/v1/proxies/{proxy_id}/docs", Summary: "Get a documentation version", Tags: []string{"Docs"}},
		func(ctx context.Context, input *struct {
			ProxyID string `path:"proxy_id"`
			Version int    `query:"version" minimum:"0" doc:"Version number. Omit for the latest."`
		}) (*docsOutput, error) {
			doc, err := svc.GetDocs(ctx, input.ProxyID, input.Version)
			if err != nil {
				return nil, mapErr(err)
			}
			return &docsOutput{Body: doc}, nil
		})

	type versionsOutput struct {
		Body struct {
			ProxyID  string `json:"proxy_id"`
			Versions []int  `json:"versions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-doc-versions", Method: http.MethodGet, Path: "/api/v1/proxies/{proxy_id}/docs/versions", Summary: "List stored documentation versions", Tags: []string{"Docs"}},
		func(ctx context.Context, input *proxyIDInput) (*versionsOutput, error) {
			versions, err := svc.DocVersions(ctx, input.ProxyID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &versionsOutput{}
			out.Body.ProxyID = input.ProxyID
			out.Body.Versions = versions
			if out.Body.Versions == nil {
				out.Body.Versions = []int{}
			}
			return out, nil
		})
}
