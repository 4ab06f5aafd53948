package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/apiscope/internal/analysis"
	"github.com/dgnsrekt/apiscope/internal/capture"
	"github.com/dgnsrekt/apiscope/internal/docs"
	"github.com/dgnsrekt/apiscope/internal/gateway"
	"github.com/dgnsrekt/apiscope/internal/headers"
	"github.com/dgnsrekt/apiscope/internal/metrics"
	"github.com/dgnsrekt/apiscope/internal/relay"
	"github.com/dgnsrekt/apiscope/internal/types"
	"github.com/dgnsrekt/apiscope/internal/variation"
)

type Service interface {
	CreateProxy(ctx context.Context, name, destinationURL string) (*types.Proxy, error)
	ListProxies(ctx context.Context) ([]*types.Proxy, error)
	GetProxy(ctx context.Context, id string) (*types.Proxy, error)
	SetProxyStatus(ctx context.Context, id, status string) (*types.Proxy, error)
	DeleteProxy(ctx context.Context, id string) error
	ListCalls(ctx context.Context, proxyID string, limit int) ([]*types.CapturedCall, error)
	CallSecurity(ctx context.Context, proxyID, callID string) (headers.Summary, error)
	IngestClientLog(ctx context.Context, log capture.ClientLog) string
	Analyze(ctx context.Context, proxyID string) (*analysis.Result, error)
	ListEndpoints(ctx context.Context, proxyID string) ([]*types.DiscoveredEndpoint, error)
	Variations(ctx context.Context, proxyID, key string) (variation.Report, error)
	GenerateDocs(ctx context.Context, proxyID string, opts docs.Options) (*types.Documentation, error)
	GetDocs(ctx context.Context, proxyID string, version int) (*types.Documentation, error)
	DocVersions(ctx context.Context, proxyID string) ([]int, error)
}

// Options wires the non-huma routes served next to the control API.
type Options struct {
	Version string
	// Gateway serves /proxy/{proxyId}/*; nil leaves it unmounted.
	Gateway *gateway.Gateway
	// Broker feeds the live SSE stream; nil leaves it unmounted.
	Broker  *relay.Broker
	Metrics *metrics.Metrics
	// RetainDocsHistory is the default for docs generation requests that
	// do not say.
	RetainDocsHistory bool
}

type proxyIDInput struct {
	ProxyID string `path:"proxy_id"`
}

type proxyOutput struct {
	Body *types.Proxy
}

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	cfg := huma.DefaultConfig("apiscope API", version)
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	page := []byte(docsPage(version))
	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write(page); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Handle("/metrics", opts.Metrics.Handler())
	router.Post(ingressPath, ingressHandler(svc))
	router.Options(ingressPath, ingressHandler(svc))
	if opts.Broker != nil {
		router.Get("/api/v1/proxies/{proxy_id}/live", relay.SSEHandler(opts.Broker, func(r *http.Request) string {
			return chi.URLParam(r, "proxy_id")
		}))
	}
	if opts.Gateway != nil {
		opts.Gateway.Mount(router)
	}

	registerHealthHandlers(api)
	registerProxyHandlers(api, svc)
	registerCallHandlers(api, svc)
	registerAnalysisHandlers(api, svc)
	registerDocsHandlers(api, svc, opts.RetainDocsHistory)

	return router
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case types.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case types.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case types.CodeInactive:
			return huma.Error410Gone(coded.Message)
		case types.CodeConflict:
			return huma.Error409Conflict(coded.Message)
		case types.CodeUpstreamFailure:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
