package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry so
// several controllers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Render metrics
	RendersTotal     *prometheus.CounterVec
	RenderDuration   *prometheus.HistogramVec
	RendersStale     prometheus.Counter
	RendersCoalesced prometheus.Counter

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	ReadyTimeouts  prometheus.Counter

	// Boundary metrics
	BoundariesActive prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Generator metrics
	GeneratorCalls    *prometheus.CounterVec
	GeneratorDuration prometheus.Histogram

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON health endpoint
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ActiveSessions int64   `json:"active_sessions"`
	RendersOK      int64   `json:"renders_ok"`
	RendersFailed  int64   `json:"renders_failed"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "preview_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "preview_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "preview_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		RendersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_renders_total",
				Help: "Render outcomes by result and failing phase",
			},
			[]string{"result", "phase"},
		),
		RenderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "preview_render_duration_seconds",
				Help:    "Boundary render pipeline duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"stage"},
		),
		RendersStale: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "preview_renders_stale_total",
				Help: "Outcomes discarded because a newer render had resolved",
			},
		),
		RendersCoalesced: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "preview_renders_coalesced_total",
				Help: "Pending renders replaced before the boundary became ready",
			},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "preview_sessions_active",
				Help: "Number of live preview sessions",
			},
		),
		SessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "preview_sessions_total",
				Help: "Total number of preview sessions created",
			},
		),
		ReadyTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "preview_ready_timeouts_total",
				Help: "Sessions whose boundary missed the readiness deadline",
			},
		),

		BoundariesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "preview_boundaries_active",
				Help: "Number of running isolation boundaries",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "preview_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		GeneratorCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_generator_calls_total",
				Help: "Calls to the component generator",
			},
			[]string{"status"},
		),
		GeneratorDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "preview_generator_duration_seconds",
				Help:    "Component generator latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "preview_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordRender records a resolved render. phase is empty on success.
func (m *Metrics) RecordRender(ok bool, phase string) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.RendersTotal.WithLabelValues(result, phase).Inc()

	m.mu.Lock()
	if ok {
		m.snapshot.RendersOK++
	} else {
		m.snapshot.RendersFailed++
	}
	m.mu.Unlock()
}

// ObserveRenderStage records how long one pipeline stage took
func (m *Metrics) ObserveRenderStage(stage string, d time.Duration) {
	m.RenderDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncRendersStale counts an outcome dropped as stale
func (m *Metrics) IncRendersStale() {
	m.RendersStale.Inc()
}

// IncRendersCoalesced counts a pending render replaced before readiness
func (m *Metrics) IncRendersCoalesced() {
	m.RendersCoalesced.Inc()
}

// SessionCreated tracks a new session
func (m *Metrics) SessionCreated() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveSessions++
	m.mu.Unlock()
}

// SessionDestroyed tracks a destroyed session
func (m *Metrics) SessionDestroyed() {
	m.SessionsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveSessions--
	m.mu.Unlock()
}

// IncReadyTimeouts counts a missed readiness deadline
func (m *Metrics) IncReadyTimeouts() {
	m.ReadyTimeouts.Inc()
}

// IncBoundaries increments running boundaries
func (m *Metrics) IncBoundaries() {
	m.BoundariesActive.Inc()
}

// DecBoundaries decrements running boundaries
func (m *Metrics) DecBoundaries() {
	m.BoundariesActive.Dec()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// RecordGeneratorCall records one generator request
func (m *Metrics) RecordGeneratorCall(status string, d time.Duration) {
	m.GeneratorCalls.WithLabelValues(status).Inc()
	m.GeneratorDuration.Observe(d.Seconds())
}

// Snapshot returns current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	uptime := time.Since(m.startTime).Seconds()
	m.Uptime.Set(uptime)

	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = uptime
	return s
}
