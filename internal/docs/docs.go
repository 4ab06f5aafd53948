// Package docs renders discovered endpoints as Markdown, OpenAPI 3.1 and
// TypeScript declarations, and stores each rendering as a new version.
package docs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/apiscope/internal/describe"
	"github.com/dgnsrekt/apiscope/internal/metrics"
	"github.com/dgnsrekt/apiscope/internal/storage"
	"github.com/dgnsrekt/apiscope/internal/types"
)

// Artifact file names written by Export.
const (
	FileMarkdown    = "api.md"
	FileOpenAPIJSON = "openapi.json"
	FileOpenAPIYAML = "openapi.yaml"
	FileTypeScript  = "types.d.ts"
)

// Store is the persistence the generator needs.
type Store interface {
	GetProxy(ctx context.Context, id string) (*types.Proxy, error)
	ListEndpoints(ctx context.Context, proxyID string) ([]*types.DiscoveredEndpoint, error)
	AppendDocsFunc(ctx context.Context, proxyID string, retainHistory bool, build func(version int) (*types.Documentation, error)) (*types.Documentation, error)
}

// Describer produces endpoint descriptions. It must not fail.
type Describer interface {
	Describe(ctx context.Context, req describe.Request) string
}

type Options struct {
	// RetainHistory keeps earlier versions; otherwise only the new one remains.
	RetainHistory bool
	// Describe fills in missing endpoint descriptions before rendering.
	Describe bool
}

type Generator struct {
	store     Store
	describer Describer
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewGenerator(store Store, d Describer, m *metrics.Metrics) *Generator {
	return &Generator{store: store, describer: d, metrics: m, now: time.Now}
}

// Generate renders the proxy's current endpoints and stores the result as
// the next documentation version.
func (g *Generator) Generate(ctx context.Context, proxyID string, opts Options) (*types.Documentation, error) {
	proxy, err := g.store.GetProxy(ctx, proxyID)
	if err != nil {
		return nil, err
	}
	endpoints, err := g.store.ListEndpoints(ctx, proxyID)
	if err != nil {
		return nil, err
	}
	if opts.Describe && g.describer != nil {
		g.describeAll(ctx, endpoints)
	}

	at := g.now()
	doc, err := g.store.AppendDocsFunc(ctx, proxyID, opts.RetainHistory, func(version int) (*types.Documentation, error) {
		return Render(proxy, endpoints, version, at)
	})
	if err != nil {
		return nil, err
	}
	g.metrics.DocsGenerated()
	slog.Info("Documentation generated", "proxy_id", proxyID, "version", doc.Version,
		"endpoints", doc.Endpoints, "retain_history", opts.RetainHistory)
	return doc, nil
}

func (g *Generator) describeAll(ctx context.Context, endpoints []*types.DiscoveredEndpoint) {
	for _, ep := range endpoints {
		if ep.Description != "" {
			continue
		}
		ep.Description = g.describer.Describe(ctx, describe.Request{
			Method:         ep.Method,
			Path:           ep.Path,
			RequestSchema:  ep.RequestSchema,
			ResponseSchema: successSchema(ep.ResponseSchemas),
		})
	}
}

// successSchema picks the lowest 2xx response schema.
func successSchema(m map[string]*types.Schema) *types.Schema {
	for _, status := range sortedStatuses(m) {
		if strings.HasPrefix(status, "2") {
			return m[status]
		}
	}
	return nil
}

// Render builds all three artifacts for one version.
func Render(proxy *types.Proxy, endpoints []*types.DiscoveredEndpoint, version int, at time.Time) (*types.Documentation, error) {
	md, err := Markdown(proxy, endpoints, version, at)
	if err != nil {
		return nil, err
	}
	oas, err := OpenAPI(proxy, endpoints, strconv.Itoa(version)).JSON()
	if err != nil {
		return nil, fmt.Errorf("render openapi: %w", err)
	}
	return &types.Documentation{
		ID:          uuid.NewString(),
		ProxyID:     proxy.ID,
		Version:     version,
		Markdown:    md,
		OpenAPI:     string(oas),
		TypeScript:  TypeScript(endpoints),
		Endpoints:   len(endpoints),
		GeneratedAt: at.UTC(),
	}, nil
}

// Files returns the exported artifacts of doc keyed by file name.
func Files(doc *types.Documentation) (map[string][]byte, error) {
	oas, err := ParseDocument([]byte(doc.OpenAPI))
	if err != nil {
		return nil, fmt.Errorf("decode stored openapi: %w", err)
	}
	yml, err := oas.YAML()
	if err != nil {
		return nil, fmt.Errorf("render openapi yaml: %w", err)
	}
	return map[string][]byte{
		FileMarkdown:    []byte(doc.Markdown),
		FileOpenAPIJSON: []byte(doc.OpenAPI),
		FileOpenAPIYAML: yml,
		FileTypeScript:  []byte(doc.TypeScript),
	}, nil
}

// Export writes doc's artifacts under <proxyID>/v<version>.
func Export(w *storage.ArtifactWriter, doc *types.Documentation) ([]string, error) {
	files, err := Files(doc)
	if err != nil {
		return nil, err
	}
	sub := storage.SanitizeSegment(doc.ProxyID) + "/v" + strconv.Itoa(doc.Version)
	return w.Write(sub, files)
}
