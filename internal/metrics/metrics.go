// Package metrics exposes Prometheus instrumentation for the passport service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors behind a private registry
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	tokensIssued    prometheus.Counter
	tokenFailures   *prometheus.CounterVec
	tokensRevoked   prometheus.Counter
	verifications   *prometheus.CounterVec
	rateLimitDenied *prometheus.CounterVec
	riskScores      prometheus.Histogram
	auditDropped    prometheus.Counter

	registry *prometheus.Registry
}

// New creates a metrics instance with its own registry
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_milliseconds",
			Help:      "HTTP request latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"method", "route"}),

		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "issued_total",
			Help:      "Identity tokens issued",
		}),

		tokenFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "issue_failures_total",
			Help:      "Failed token issuance attempts by reason",
		}, []string{"reason"}),

		tokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "revoked_total",
			Help:      "Tokens added to the revocation blocklist",
		}),

		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "results_total",
			Help:      "Token verification results by outcome and reason",
		}, []string{"outcome", "reason"}),

		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "denials_total",
			Help:      "Rate limit denials by dimension",
		}, []string{"dimension"}),

		riskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "score",
			Help:      "Distribution of computed risk scores",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Audit events dropped due to buffer overflow",
		}),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.tokensIssued,
		m.tokenFailures,
		m.tokensRevoked,
		m.verifications,
		m.rateLimitDenied,
		m.riskScores,
		m.auditDropped,
	)
	return m
}

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(float64(duration.Milliseconds()))
}

// RecordTokenIssued records a successful token issuance
func (m *Metrics) RecordTokenIssued() {
	m.tokensIssued.Inc()
}

// RecordTokenIssueFailure records a failed issuance with its reason
func (m *Metrics) RecordTokenIssueFailure(reason string) {
	m.tokenFailures.WithLabelValues(reason).Inc()
}

// RecordTokenRevoked records a revocation
func (m *Metrics) RecordTokenRevoked() {
	m.tokensRevoked.Inc()
}

// RecordVerification records a verify outcome
func (m *Metrics) RecordVerification(outcome, reason string) {
	if reason == "" {
		reason = "none"
	}
	m.verifications.WithLabelValues(outcome, reason).Inc()
}

// RecordRateLimitDenial records a denial on one dimension
func (m *Metrics) RecordRateLimitDenial(dimension string) {
	m.rateLimitDenied.WithLabelValues(dimension).Inc()
}

// RecordRiskScore records a computed score
func (m *Metrics) RecordRiskScore(score int) {
	m.riskScores.Observe(float64(score))
}

// RecordAuditDropped records a dropped audit event
func (m *Metrics) RecordAuditDropped() {
	m.auditDropped.Inc()
}

// HTTPHandler serves the registry for the /metrics endpoint
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
