// Package analysis turns a proxy's captured calls into its discovered
// endpoint set.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgnsrekt/apiscope/internal/detect"
	"github.com/dgnsrekt/apiscope/internal/metrics"
	"github.com/dgnsrekt/apiscope/internal/pattern"
	"github.com/dgnsrekt/apiscope/internal/schema"
	"github.com/dgnsrekt/apiscope/internal/types"
)

// DefaultMaxCalls is how many recent calls a run loads when unset.
const DefaultMaxCalls = 1000

// Run outcomes, as reported to metrics.
const (
	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeConflict = "conflict"
)

// Store is the persistence an analysis run reads from and writes to.
type Store interface {
	GetProxy(ctx context.Context, id string) (*types.Proxy, error)
	ListCalls(ctx context.Context, proxyID string, limit int) ([]*types.CapturedCall, error)
	ReplaceEndpoints(ctx context.Context, proxyID string, endpoints []*types.DiscoveredEndpoint) error
}

// Result summarizes one run.
type Result struct {
	ProxyID       string                      `json:"proxy_id"`
	CallsAnalyzed int                         `json:"calls_analyzed"`
	GroupsSkipped int                         `json:"groups_skipped"`
	Endpoints     []*types.DiscoveredEndpoint `json:"endpoints"`
	DurationMS    int64                       `json:"duration_ms"`
}

// Orchestrator runs analyses. At most one run per proxy is in flight; a
// second concurrent request is rejected with a CONFLICT error.
type Orchestrator struct {
	store    Store
	metrics  *metrics.Metrics
	maxCalls int
	tracer   trace.Tracer
	now      func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

func New(store Store, m *metrics.Metrics, maxCalls int) *Orchestrator {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}
	return &Orchestrator{
		store:    store,
		metrics:  m,
		maxCalls: maxCalls,
		tracer:   otel.Tracer("github.com/dgnsrekt/apiscope/internal/analysis"),
		now:      time.Now,
		running:  make(map[string]struct{}),
	}
}

func (o *Orchestrator) acquire(proxyID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[proxyID]; busy {
		return false
	}
	o.running[proxyID] = struct{}{}
	return true
}

func (o *Orchestrator) release(proxyID string) {
	o.mu.Lock()
	delete(o.running, proxyID)
	o.mu.Unlock()
}

// Running reports whether a run for proxyID is in flight.
func (o *Orchestrator) Running(proxyID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, busy := o.running[proxyID]
	return busy
}

// Run loads the most recent calls of proxyID, rebuilds its endpoints and
// replaces the stored set.
func (o *Orchestrator) Run(ctx context.Context, proxyID string) (*Result, error) {
	if !o.acquire(proxyID) {
		o.metrics.AnalysisRun(outcomeConflict, 0)
		return nil, types.NewError(types.CodeConflict, "analysis already running for proxy "+proxyID, nil)
	}
	defer o.release(proxyID)

	started := o.now()
	ctx, span := o.tracer.Start(ctx, "analysis.run",
		trace.WithAttributes(attribute.String("proxy.id", proxyID)),
	)
	defer span.End()

	res, err := o.run(ctx, proxyID, started)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.metrics.AnalysisRun(outcomeFailed, time.Since(started))
		slog.Error("Analysis failed", "proxy_id", proxyID, "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("analysis.calls", res.CallsAnalyzed),
		attribute.Int("analysis.endpoints", len(res.Endpoints)),
	)
	o.metrics.AnalysisRun(outcomeOK, time.Since(started))
	slog.Info("Analysis complete", "proxy_id", proxyID, "calls", res.CallsAnalyzed,
		"endpoints", len(res.Endpoints), "skipped_groups", res.GroupsSkipped, "duration_ms", res.DurationMS)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, proxyID string, started time.Time) (*Result, error) {
	if _, err := o.store.GetProxy(ctx, proxyID); err != nil {
		return nil, err
	}
	calls, err := o.store.ListCalls(ctx, proxyID, o.maxCalls)
	if err != nil {
		return nil, fmt.Errorf("load calls: %w", err)
	}

	endpoints, skipped := Build(proxyID, calls, started)
	if err := o.store.ReplaceEndpoints(ctx, proxyID, endpoints); err != nil {
		return nil, fmt.Errorf("replace endpoints: %w", err)
	}
	return &Result{
		ProxyID:       proxyID,
		CallsAnalyzed: len(calls),
		GroupsSkipped: skipped,
		Endpoints:     endpoints,
		DurationMS:    time.Since(started).Milliseconds(),
	}, nil
}

// group collects the calls of one (protocol, pattern) pair.
type group struct {
	protocol string
	pattern  string
	method   string
	path     string
	calls    []*types.CapturedCall
}

// groupCalls buckets calls by protocol and "METHOD /path" pattern, in
// first-seen order.
func groupCalls(calls []*types.CapturedCall) []*group {
	index := make(map[string]*group)
	var out []*group
	for _, c := range calls {
		if c == nil {
			continue
		}
		protocol := c.Protocol
		if protocol == "" {
			protocol = types.ProtocolHTTP
		}
		verb := c.Method
		if strings.TrimSpace(verb) == "" {
			verb = http.MethodGet
		}
		key := pattern.Extract(c.URL, verb)
		method, path := pattern.Split(key)
		g, ok := index[protocol+" "+key]
		if !ok {
			g = &group{protocol: protocol, pattern: key, method: method, path: path}
			index[protocol+" "+key] = g
			out = append(out, g)
		}
		g.calls = append(g.calls, c)
	}
	return out
}

// Build derives one endpoint per group. A group whose derivation panics is
// logged and skipped. The result is sorted by path, method, then protocol.
func Build(proxyID string, calls []*types.CapturedCall, at time.Time) ([]*types.DiscoveredEndpoint, int) {
	var (
		out     []*types.DiscoveredEndpoint
		skipped int
	)
	for _, g := range groupCalls(calls) {
		ep, err := buildSafe(proxyID, g, at)
		if err != nil {
			skipped++
			slog.Warn("Skipping endpoint group", "proxy_id", proxyID, "pattern", g.pattern, "protocol", g.protocol, "error", err)
			continue
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		if out[i].Method != out[j].Method {
			return out[i].Method < out[j].Method
		}
		return out[i].Protocol < out[j].Protocol
	})
	return out, skipped
}

func buildSafe(proxyID string, g *group, at time.Time) (ep *types.DiscoveredEndpoint, err error) {
	defer func() {
		if r := recover(); r != nil {
			ep, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return build(proxyID, g, at), nil
}

func build(proxyID string, g *group, at time.Time) *types.DiscoveredEndpoint {
	det := detect.Detect(g.calls)
	return &types.DiscoveredEndpoint{
		ProxyID:         proxyID,
		Pattern:         g.pattern,
		Method:          g.method,
		Path:            g.path,
		Protocol:        g.protocol,
		RequestSchema:   RequestSchema(g.calls),
		ResponseSchemas: ResponseSchemas(g.calls),
		AuthRequired:    det.AuthRequired,
		AuthType:        det.AuthType,
		PaginationType:  det.PaginationType,
		APIType:         det.APIType,
		CORS:            det.CORS,
		CallCount:       len(g.calls),
		AnalyzedAt:      at.UTC(),
	}
}

// RequestSchema infers over the parsed JSON request bodies of calls.
func RequestSchema(calls []*types.CapturedCall) *types.Schema {
	var samples []any
	for _, c := range calls {
		if c.Request.JSON != nil {
			samples = append(samples, c.Request.JSON)
		}
	}
	return schema.Infer(samples)
}

// ResponseSchemas infers one schema per response status from the parsed
// JSON response bodies. Statuses without JSON bodies are left out.
func ResponseSchemas(calls []*types.CapturedCall) map[string]*types.Schema {
	byStatus := make(map[int][]any)
	for _, c := range calls {
		if c.Response == nil || c.Response.JSON == nil {
			continue
		}
		byStatus[c.Response.Status] = append(byStatus[c.Response.Status], c.Response.JSON)
	}
	if len(byStatus) == 0 {
		return nil
	}
	out := make(map[string]*types.Schema, len(byStatus))
	for status, samples := range byStatus {
		if s := schema.Infer(samples); s != nil {
			out[strconv.Itoa(status)] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
