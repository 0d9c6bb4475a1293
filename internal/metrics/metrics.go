package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pathproxy"

// Request outcomes.
const (
	OutcomeOK                 = "ok"
	OutcomeReadError          = "read_error"
	OutcomeDecodeError        = "decode_error"
	OutcomeRouteError         = "route_error"
	OutcomeInvariantViolation = "invariant_violation"
	OutcomeBackendError       = "backend_error"
	OutcomeWriteError         = "write_error"
)

// UnknownApp labels outcomes recorded before an application was resolved.
const UnknownApp = "-"

// Metrics holds the proxy's Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	connections     prometheus.Counter
	inFlight        prometheus.Gauge
	requests        *prometheus.CounterVec
	selections      *prometheus.CounterVec
	responses       *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	backendUp       *prometheus.GaugeVec
}

// Snapshot is a point-in-time summary, keyed by application.
type Snapshot struct {
	Connections int64                       `json:"connections"`
	InFlight    int64                       `json:"in_flight"`
	Requests    map[string]map[string]int64 `json:"requests"`
	Selections  map[string]map[string]int64 `json:"selections"`
}

// NewMetrics creates the instruments and registers them with registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Client connections accepted",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_in_flight",
			Help:      "Client connections currently being handled",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Handled requests by application and outcome",
		}, []string{"app", "outcome"}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_selections_total",
			Help:      "Backends chosen by the load balancer",
		}, []string{"app", "backend"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Backend responses relayed to clients by status code",
		}, []string{"app", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from decoded request to written response",
			Buckets:   prometheus.DefBuckets,
		}, []string{"app"}),
		backendUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "Whether the last reachability probe of a backend succeeded",
		}, []string{"app", "backend"}),
	}

	registry.MustRegister(
		m.connections,
		m.inFlight,
		m.requests,
		m.selections,
		m.responses,
		m.requestDuration,
		m.backendUp,
	)

	return m
}

func (m *Metrics) ConnectionOpened() {
	m.connections.Inc()
	m.inFlight.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.inFlight.Dec()
}

func (m *Metrics) RecordOutcome(app, outcome string) {
	m.requests.WithLabelValues(app, outcome).Inc()
}

func (m *Metrics) RecordBackendSelection(app, backend string) {
	m.selections.WithLabelValues(app, backend).Inc()
}

func (m *Metrics) RecordResponse(app string, duration time.Duration, statusCode int) {
	m.responses.WithLabelValues(app, statusLabel(statusCode)).Inc()
	m.requestDuration.WithLabelValues(app).Observe(duration.Seconds())
}

func (m *Metrics) UpdateHealthStatus(app, backend string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	m.backendUp.WithLabelValues(app, backend).Set(value)
}

// Snapshot summarizes connection, outcome and selection counters.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Requests:   make(map[string]map[string]int64),
		Selections: make(map[string]map[string]int64),
	}

	families, err := m.registry.Gather()
	if err != nil {
		return snap
	}

	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}

			switch mf.GetName() {
			case namespace + "_connections_total":
				snap.Connections = int64(metric.GetCounter().GetValue())
			case namespace + "_connections_in_flight":
				snap.InFlight = int64(metric.GetGauge().GetValue())
			case namespace + "_requests_total":
				addCount(snap.Requests, labels["app"], labels["outcome"], metric.GetCounter().GetValue())
			case namespace + "_backend_selections_total":
				addCount(snap.Selections, labels["app"], labels["backend"], metric.GetCounter().GetValue())
			}
		}
	}

	return snap
}

func addCount(into map[string]map[string]int64, outer, inner string, value float64) {
	if into[outer] == nil {
		into[outer] = make(map[string]int64)
	}
	into[outer][inner] += int64(value)
}

func statusLabel(code int) string {
	if code < 100 || code > 999 {
		return "invalid"
	}
	return strconv.Itoa(code)
}
