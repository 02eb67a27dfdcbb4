package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the workflow engine collectors on a private registry.
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// gRPC metrics
	GRPCRequestsTotal *prometheus.CounterVec

	// Business metrics
	RequestsSubmitted *prometheus.CounterVec
	StepDecisions     *prometheus.CounterVec
	RequestsFinalized *prometheus.CounterVec
	WriteConflicts    *prometheus.CounterVec
	UnitsPicked       prometheus.Counter
	OrderTransitions  *prometheus.CounterVec
	AuditFailures     *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "workflow",
	}
}

// New creates a new Metrics instance
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,
	}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	m.HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.GRPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC requests",
		},
		[]string{"service", "method", "code"},
	)

	m.RequestsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "approval_requests_submitted_total",
			Help:      "Approval requests submitted, by routing category and trail length",
		},
		[]string{"service", "category", "steps"},
	)

	m.StepDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "approval_step_decisions_total",
			Help:      "Approval step decisions by approver role and decision",
		},
		[]string{"service", "role", "decision"},
	)

	m.RequestsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "approval_requests_finalized_total",
			Help:      "Approval requests that reached a terminal status",
		},
		[]string{"service", "status"},
	)

	m.WriteConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "write_conflicts_total",
			Help:      "Writes rejected because the stored version moved on",
		},
		[]string{"service", "entity"},
	)

	m.UnitsPicked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "order_units_picked_total",
			Help:        "Units recorded as picked up across all order lines",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "order_status_transitions_total",
			Help:      "Order status changes",
		},
		[]string{"service", "from", "to"},
	)

	m.AuditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "audit_append_failures_total",
			Help:      "Audit entries that could not be written",
		},
		[]string{"service", "entity"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.GRPCRequestsTotal,
		m.RequestsSubmitted,
		m.StepDecisions,
		m.RequestsFinalized,
		m.WriteConflicts,
		m.UnitsPicked,
		m.OrderTransitions,
		m.AuditFailures,
	)

	return m
}

// Handler returns the HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

func (m *Metrics) IncrementHTTPRequestsInFlight() { m.HTTPRequestsInFlight.Inc() }
func (m *Metrics) DecrementHTTPRequestsInFlight() { m.HTTPRequestsInFlight.Dec() }

// RecordGRPCRequest records a unary gRPC call by method and status code name.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequestsTotal.WithLabelValues(m.serviceName, method, code).Inc()
}

// RecordSubmitted records a new approval request.
func (m *Metrics) RecordSubmitted(category string, steps int) {
	m.RequestsSubmitted.WithLabelValues(m.serviceName, category, strconv.Itoa(steps)).Inc()
}

// RecordDecision records one step decision and, when the request became
// terminal, its final status.
func (m *Metrics) RecordDecision(role, decision, requestStatus string, terminal bool) {
	m.StepDecisions.WithLabelValues(m.serviceName, role, decision).Inc()
	if terminal {
		m.RequestsFinalized.WithLabelValues(m.serviceName, requestStatus).Inc()
	}
}

// RecordConflict records a rejected optimistic write.
func (m *Metrics) RecordConflict(entity string) {
	m.WriteConflicts.WithLabelValues(m.serviceName, entity).Inc()
}

// RecordPicked adds picked units.
func (m *Metrics) RecordPicked(units int) {
	if units > 0 {
		m.UnitsPicked.Add(float64(units))
	}
}

// RecordOrderTransition records an order status change. Unchanged statuses
// are ignored.
func (m *Metrics) RecordOrderTransition(from, to string) {
	if from == to {
		return
	}
	m.OrderTransitions.WithLabelValues(m.serviceName, from, to).Inc()
}

// RecordAuditFailure records an audit entry that was dropped.
func (m *Metrics) RecordAuditFailure(entity string) {
	m.AuditFailures.WithLabelValues(m.serviceName, entity).Inc()
}
