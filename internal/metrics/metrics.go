// Package metrics holds the Prometheus collectors exported on /metrics.
// All methods are safe on a nil *Metrics, which disables collection.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Capture outcomes.
const (
	OutcomeRecorded = "recorded"
	OutcomeSkipped  = "skipped"
	OutcomeDropped  = "dropped"
	OutcomeFailed   = "failed"
)

// Ingress outcomes.
const (
	IngressAccepted  = "accepted"
	IngressThrottled = "throttled"
	IngressDuplicate = "duplicate"
	IngressRejected  = "rejected"
	IngressSkipped   = "skipped"
)

// Metrics owns a private registry so it never collides with the default.
type Metrics struct {
	registry *prometheus.Registry

	gatewayRequests  *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	captures         *prometheus.CounterVec
	ingress          *prometheus.CounterVec
	tunnelOpen       prometheus.Gauge
	tunnelFrames     *prometheus.CounterVec
	analysisRuns     *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	docsGenerated    prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiscope_gateway_requests_total",
			Help: "Requests handled by the proxy gateway by response status class",
		},
		[]string{"method", "class"},
	)
	m.upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apiscope_gateway_upstream_seconds",
			Help:    "Upstream round trip duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	m.captures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiscope_captures_total",
			Help: "Captured calls by source and outcome",
		},
		[]string{"source", "outcome"},
	)
	m.ingress = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiscope_ingress_logs_total",
			Help: "Client capture log submissions by outcome",
		},
		[]string{"outcome"},
	)
	m.tunnelOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apiscope_tunnel_connections",
		Help: "Open websocket tunnel pairings",
	})
	m.tunnelFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiscope_tunnel_frames_total",
			Help: "Frames relayed by the websocket tunnel",
		},
		[]string{"direction"},
	)
	m.analysisRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiscope_analysis_runs_total",
			Help: "Analysis runs by outcome",
		},
		[]string{"outcome"},
	)
	m.analysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "apiscope_analysis_duration_seconds",
		Help:    "Analysis run duration",
		Buckets: prometheus.DefBuckets,
	})
	m.docsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apiscope_docs_generated_total",
		Help: "Documentation versions generated",
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.gatewayRequests,
		m.upstreamDuration,
		m.captures,
		m.ingress,
		m.tunnelOpen,
		m.tunnelFrames,
		m.analysisRuns,
		m.analysisDuration,
		m.docsGenerated,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) GatewayRequest(method string, status int, upstream time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(method, statusClass(status)).Inc()
	if upstream > 0 {
		m.upstreamDuration.WithLabelValues(method).Observe(upstream.Seconds())
	}
}

func (m *Metrics) Capture(source, outcome string) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Ingress(outcome string) {
	if m == nil {
		return
	}
	m.ingress.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TunnelOpened() {
	if m == nil {
		return
	}
	m.tunnelOpen.Inc()
}

func (m *Metrics) TunnelClosed() {
	if m == nil {
		return
	}
	m.tunnelOpen.Dec()
}

// TunnelFrame counts one relayed frame; direction is "inbound" or "outbound".
func (m *Metrics) TunnelFrame(direction string) {
	if m == nil {
		return
	}
	m.tunnelFrames.WithLabelValues(direction).Inc()
}

func (m *Metrics) AnalysisRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.analysisRuns.WithLabelValues(outcome).Inc()
	m.analysisDuration.Observe(d.Seconds())
}

func (m *Metrics) DocsGenerated() {
	if m == nil {
		return
	}
	m.docsGenerated.Inc()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
