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

const namespace = "chromelink"

// Metrics holds all Prometheus metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections *prometheus.GaugeVec
	WSMessages    *prometheus.CounterVec

	// Session metrics
	Sessions        *prometheus.GaugeVec
	SessionEvents   *prometheus.CounterVec
	Injections      prometheus.Gauge
	PendingRequests prometheus.Gauge

	// Command metrics
	Commands         *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	Timeouts         *prometheus.CounterVec
	DroppedResponses prometheus.Counter

	// Extension link metrics
	LinkUp          prometheus.Gauge
	LinkConnections prometheus.Counter

	startTime time.Time
	snapshot  MetricsSnapshot
	mu        sync.RWMutex
}

// MetricsSnapshot holds counters surfaced on the health endpoint
type MetricsSnapshot struct {
	CommandsTotal  int64   `json:"commandsTotal"`
	CommandErrors  int64   `json:"commandErrors"`
	Timeouts       int64   `json:"timeouts"`
	Dropped        int64   `json:"droppedResponses"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
	ActiveWSClient int64   `json:"controllerConnections"`
}

// NewMetrics creates the collector set on a fresh registry
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
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		WSConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Open WebSocket connections by peer role",
			},
			[]string{"role"},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "WebSocket messages by direction and type",
			},
			[]string{"direction", "type"},
		),

		Sessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions",
				Help:      "Live sessions by state",
			},
			[]string{"state"},
		),
		SessionEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_events_total",
				Help:      "Session lifecycle transitions",
			},
			[]string{"event"},
		),
		Injections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "injections",
				Help:      "Registered injections across all sessions",
			},
		),
		PendingRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_requests",
				Help:      "Commands awaiting an extension reply",
			},
		),

		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Commands by action and outcome code",
			},
			[]string{"action", "outcome"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Time from forward to resolution",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"action"},
		),
		Timeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_timeouts_total",
				Help:      "Commands that hit their deadline",
			},
			[]string{"action"},
		),
		DroppedResponses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_responses_total",
				Help:      "Responses discarded because the issuing connection was gone",
			},
		),

		LinkUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "extension_link_up",
				Help:      "1 when the extension is connected",
			},
		),
		LinkConnections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extension_connections_total",
				Help:      "Extension connections accepted",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Broker uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments open connections for a role
func (m *Metrics) IncWSConnections(role string) {
	m.WSConnections.WithLabelValues(role).Inc()
	if role == RoleController {
		m.mu.Lock()
		m.snapshot.ActiveWSClient++
		m.mu.Unlock()
	}
}

// DecWSConnections decrements open connections for a role
func (m *Metrics) DecWSConnections(role string) {
	m.WSConnections.WithLabelValues(role).Dec()
	if role == RoleController {
		m.mu.Lock()
		m.snapshot.ActiveWSClient--
		m.mu.Unlock()
	}
}

// Connection roles
const (
	RoleController = "controller"
	RoleExtension  = "extension"
)

// SetSessions publishes session counts by state
func (m *Metrics) SetSessions(active, suspended int) {
	m.Sessions.WithLabelValues("active").Set(float64(active))
	m.Sessions.WithLabelValues("suspended").Set(float64(suspended))
}

// IncSessionEvent counts a lifecycle transition
func (m *Metrics) IncSessionEvent(event string) {
	m.SessionEvents.WithLabelValues(event).Inc()
}

// SetInjections publishes the live injection count
func (m *Metrics) SetInjections(count int) {
	m.Injections.Set(float64(count))
}

// SetPending publishes the outstanding request count
func (m *Metrics) SetPending(count int) {
	m.PendingRequests.Set(float64(count))
}

// RecordCommand records a resolved command. An empty outcome means success.
func (m *Metrics) RecordCommand(action, outcome string, duration time.Duration) {
	label := outcome
	if label == "" {
		label = "ok"
	}
	m.Commands.WithLabelValues(action, label).Inc()
	if duration > 0 {
		m.CommandDuration.WithLabelValues(action).Observe(duration.Seconds())
	}

	m.mu.Lock()
	m.snapshot.CommandsTotal++
	if outcome != "" {
		m.snapshot.CommandErrors++
	}
	m.mu.Unlock()
}

// IncTimeout counts a command deadline expiry
func (m *Metrics) IncTimeout(action string) {
	m.Timeouts.WithLabelValues(action).Inc()
	m.mu.Lock()
	m.snapshot.Timeouts++
	m.mu.Unlock()
}

// IncDropped counts a response with nowhere to go
func (m *Metrics) IncDropped() {
	m.DroppedResponses.Inc()
	m.mu.Lock()
	m.snapshot.Dropped++
	m.mu.Unlock()
}

// SetLinkUp publishes extension link state
func (m *Metrics) SetLinkUp(up bool) {
	if up {
		m.LinkUp.Set(1)
		m.LinkConnections.Inc()
		return
	}
	m.LinkUp.Set(0)
}

// Snapshot returns current counter values
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snapshot
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
