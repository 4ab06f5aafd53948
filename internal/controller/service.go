package controller

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/apiscope/internal/analysis"
	"github.com/dgnsrekt/apiscope/internal/capture"
	"github.com/dgnsrekt/apiscope/internal/docs"
	"github.com/dgnsrekt/apiscope/internal/headers"
	"github.com/dgnsrekt/apiscope/internal/metrics"
	"github.com/dgnsrekt/apiscope/internal/pattern"
	"github.com/dgnsrekt/apiscope/internal/policy"
	"github.com/dgnsrekt/apiscope/internal/storage"
	"github.com/dgnsrekt/apiscope/internal/types"
	"github.com/dgnsrekt/apiscope/internal/variation"
)

const (
	defaultCallLimit = 100
	maxCallLimit     = 1000
)

// Store is the persistence the control service works against.
type Store interface {
	CreateProxy(ctx context.Context, p *types.Proxy) error
	GetProxy(ctx context.Context, id string) (*types.Proxy, error)
	ListProxies(ctx context.Context) ([]*types.Proxy, error)
	UpdateProxy(ctx context.Context, id string, fn func(p *types.Proxy) error) (*types.Proxy, error)
	DeleteProxy(ctx context.Context, id string) error
	ListCalls(ctx context.Context, proxyID string, limit int) ([]*types.CapturedCall, error)
	GetCall(ctx context.Context, proxyID, callID string) (*types.CapturedCall, error)
	ReplaceEndpoints(ctx context.Context, proxyID string, endpoints []*types.DiscoveredEndpoint) error
	ListEndpoints(ctx context.Context, proxyID string) ([]*types.DiscoveredEndpoint, error)
	AppendDocsFunc(ctx context.Context, proxyID string, retainHistory bool, build func(version int) (*types.Documentation, error)) (*types.Documentation, error)
	GetDocs(ctx context.Context, proxyID string, version int) (*types.Documentation, error)
	DocVersions(ctx context.Context, proxyID string) ([]int, error)
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Recorder  *capture.Recorder
	Guard     *capture.Guard
	Archive   *storage.CallArchive
	Describer docs.Describer
	Metrics   *metrics.Metrics
	// MaxCalls bounds how many recent calls analysis and variation
	// grouping load.
	MaxCalls int
}

// Service implements the control operations on proxies, their captured
// traffic, analysis and documentation.
type Service struct {
	store    Store
	policy   *policy.Policy
	analyzer *analysis.Orchestrator
	docs     *docs.Generator
	recorder *capture.Recorder
	guard    *capture.Guard
	archive  *storage.CallArchive
	metrics  *metrics.Metrics
	maxCalls int
	now      func() time.Time
}

func NewService(store Store, pol *policy.Policy, opts Options) *Service {
	maxCalls := opts.MaxCalls
	if maxCalls <= 0 {
		maxCalls = analysis.DefaultMaxCalls
	}
	return &Service{
		store:    store,
		policy:   pol,
		analyzer: analysis.New(store, opts.Metrics, maxCalls),
		docs:     docs.NewGenerator(store, opts.Describer, opts.Metrics),
		recorder: opts.Recorder,
		guard:    opts.Guard,
		archive:  opts.Archive,
		metrics:  opts.Metrics,
		maxCalls: maxCalls,
		now:      time.Now,
	}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return types.NewError(types.CodeValidation, fieldName+" is required", nil)
	}
	return nil
}

// Proxies

func (s *Service) CreateProxy(ctx context.Context, name, destinationURL string) (*types.Proxy, error) {
	destinationURL = strings.TrimSpace(destinationURL)
	if err := s.requireNonEmpty(destinationURL, "destination_url"); err != nil {
		return nil, err
	}
	if err := s.policy.Check(ctx, destinationURL); err != nil {
		return nil, err
	}
	u, err := url.Parse(destinationURL)
	if err != nil {
		return nil, types.NewError(types.CodeValidation, "destination_url is not a valid URL", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = u.Host
	}

	p := &types.Proxy{
		ID:             uuid.NewString(),
		Name:           name,
		DestinationURL: strings.TrimRight(destinationURL, "/"),
		Status:         types.ProxyActive,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateProxy(ctx, p); err != nil {
		return nil, err
	}
	slog.Info("Proxy created", "proxy_id", p.ID, "destination", p.DestinationURL)
	return p, nil
}

func (s *Service) ListProxies(ctx context.Context) ([]*types.Proxy, error) {
	return s.store.ListProxies(ctx)
}

func (s *Service) GetProxy(ctx context.Context, id string) (*types.Proxy, error) {
	if err := s.requireNonEmpty(id, "proxy_id"); err != nil {
		return nil, err
	}
	return s.store.GetProxy(ctx, strings.TrimSpace(id))
}

// SetProxyStatus switches a proxy between active and inactive.
func (s *Service) SetProxyStatus(ctx context.Context, id, status string) (*types.Proxy, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != types.ProxyActive && status != types.ProxyInactive {
		return nil, types.NewError(types.CodeValidation, "status must be active or inactive", nil)
	}
	p, err := s.store.UpdateProxy(ctx, strings.TrimSpace(id), func(p *types.Proxy) error {
		p.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Proxy status changed", "proxy_id", p.ID, "status", p.Status)
	return p, nil
}

// DeleteProxy removes the proxy with its calls, endpoints and docs.
func (s *Service) DeleteProxy(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.store.DeleteProxy(ctx, id); err != nil {
		return err
	}
	if s.guard != nil {
		s.guard.Forget(id)
	}
	if s.archive != nil {
		s.archive.CloseProxy(id)
	}
	slog.Info("Proxy deleted", "proxy_id", id)
	return nil
}

// Captured traffic

// ListCalls returns up to limit calls, most recent first.
func (s *Service) ListCalls(ctx context.Context, proxyID string, limit int) ([]*types.CapturedCall, error) {
	if _, err := s.GetProxy(ctx, proxyID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultCallLimit
	case limit > maxCallLimit:
		limit = maxCallLimit
	}
	return s.store.ListCalls(ctx, strings.TrimSpace(proxyID), limit)
}

// CallSecurity runs the header analyzer over one stored call.
func (s *Service) CallSecurity(ctx context.Context, proxyID, callID string) (headers.Summary, error) {
	if err := s.requireNonEmpty(callID, "call_id"); err != nil {
		return headers.Summary{}, err
	}
	call, err := s.store.GetCall(ctx, strings.TrimSpace(proxyID), strings.TrimSpace(callID))
	if err != nil {
		return headers.Summary{}, err
	}
	return headers.AnalyzeCall(call), nil
}

// IngestClientLog records a call reported by the injected script. It never
// fails: the verdict is returned for logging and metrics only.
func (s *Service) IngestClientLog(ctx context.Context, log capture.ClientLog) string {
	if strings.TrimSpace(log.ProxyID) == "" || strings.TrimSpace(log.URL) == "" {
		s.metrics.Ingress(metrics.IngressRejected)
		return metrics.IngressRejected
	}
	if log.Method == "" {
		log.Method = "GET"
	}
	proxy, err := s.store.GetProxy(ctx, log.ProxyID)
	if err != nil || !proxy.Active() {
		s.metrics.Ingress(metrics.IngressRejected)
		return metrics.IngressRejected
	}
	if _, keep, err := capture.ClientTarget(log, proxy); err == nil && !keep {
		s.metrics.Ingress(metrics.IngressSkipped)
		return metrics.IngressSkipped
	}
	if s.guard != nil {
		switch s.guard.Allow(proxy.ID, log.Method, log.URL) {
		case capture.Throttled:
			s.metrics.Ingress(metrics.IngressThrottled)
			return metrics.IngressThrottled
		case capture.Duplicate:
			s.metrics.Ingress(metrics.IngressDuplicate)
			return metrics.IngressDuplicate
		}
	}
	s.metrics.Ingress(metrics.IngressAccepted)
	if s.recorder != nil {
		s.recorder.RecordClient(log, proxy)
	}
	return metrics.IngressAccepted
}

// Analysis

func (s *Service) Analyze(ctx context.Context, proxyID string) (*analysis.Result, error) {
	if err := s.requireNonEmpty(proxyID, "proxy_id"); err != nil {
		return nil, err
	}
	return s.analyzer.Run(ctx, strings.TrimSpace(proxyID))
}

func (s *Service) ListEndpoints(ctx context.Context, proxyID string) ([]*types.DiscoveredEndpoint, error) {
	if _, err := s.GetProxy(ctx, proxyID); err != nil {
		return nil, err
	}
	return s.store.ListEndpoints(ctx, strings.TrimSpace(proxyID))
}

// Variations groups the recent calls matching key, either "METHOD path" or
// a bare normalized path covering every method.
func (s *Service) Variations(ctx context.Context, proxyID, key string) (variation.Report, error) {
	key = strings.TrimSpace(key)
	if err := s.requireNonEmpty(key, "pattern"); err != nil {
		return variation.Report{}, err
	}
	if _, err := s.GetProxy(ctx, proxyID); err != nil {
		return variation.Report{}, err
	}
	calls, err := s.store.ListCalls(ctx, strings.TrimSpace(proxyID), s.maxCalls)
	if err != nil {
		return variation.Report{}, err
	}
	method, path := pattern.Split(key)
	method = strings.ToUpper(method)

	var matched []*types.CapturedCall
	for _, c := range calls {
		if method != "" && !strings.EqualFold(c.Method, method) {
			continue
		}
		if pattern.Normalize(c.URL) == path {
			matched = append(matched, c)
		}
	}
	return variation.Group(key, matched), nil
}

// Documentation

func (s *Service) GenerateDocs(ctx context.Context, proxyID string, opts docs.Options) (*types.Documentation, error) {
	if err := s.requireNonEmpty(proxyID, "proxy_id"); err != nil {
		return nil, err
	}
	return s.docs.Generate(ctx, strings.TrimSpace(proxyID), opts)
}

// GetDocs returns one documentation version, the latest when version is 0.
func (s *Service) GetDocs(ctx context.Context, proxyID string, version int) (*types.Documentation, error) {
	if version < 0 {
		return nil, types.NewError(types.CodeValidation, "version must not be negative", nil)
	}
	if _, err := s.GetProxy(ctx, proxyID); err != nil {
		return nil, err
	}
	return s.store.GetDocs(ctx, strings.TrimSpace(proxyID), version)
}

func (s *Service) DocVersions(ctx context.Context, proxyID string) ([]int, error) {
	return s.store.DocVersions(ctx, strings.TrimSpace(proxyID))
}
