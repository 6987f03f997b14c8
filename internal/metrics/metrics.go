// Package metrics exposes Prometheus counters for the ledger, the usage
// auditor, the access gateway and the HTTP layer.
//
// All recording methods are safe on a nil *Metrics so tests and tools can
// construct services without a registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK      = "ok"
	ResultRefused = "refused"
	ResultError   = "error"
	ResultDropped = "dropped"
	ResultPanic   = "panic"
	ResultAllow   = "allow"
)

type Metrics struct {
	registry      *prometheus.Registry
	ledgerOps     *prometheus.CounterVec
	auditEvents   *prometheus.CounterVec
	auditQueue    prometheus.Gauge
	gateDecisions *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates a private registry with the docmeter collectors plus the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docmeter_ledger_operations_total",
			Help: "Ledger operations by op and result.",
		}, []string{"op", "result"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docmeter_audit_events_total",
			Help: "Usage events by write outcome.",
		}, []string{"result"}),
		auditQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docmeter_audit_queue_depth",
			Help: "Usage events waiting to be written.",
		}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docmeter_gate_decisions_total",
			Help: "Access gateway decisions by gate and outcome.",
		}, []string{"gate", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docmeter_http_requests_total",
			Help: "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docmeter_http_request_duration_seconds",
			Help:    "HTTP request latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ledgerOps,
		m.auditEvents,
		m.auditQueue,
		m.gateDecisions,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) LedgerOp(op, result string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) AuditEvent(result string) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) AuditQueueDepth(n int) {
	if m == nil {
		return
	}
	m.auditQueue.Set(float64(n))
}

// GateDecision counts one gateway outcome. outcome is "allow" or the deny
// reason.
func (m *Metrics) GateDecision(gate, outcome string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(gate, outcome).Inc()
}

func (m *Metrics) HTTPRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
