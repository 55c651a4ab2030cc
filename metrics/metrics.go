// Package metrics holds the Prometheus collectors for the engine.
//
// Every method is safe on a nil *Metrics so services can run uninstrumented
// in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "regengine"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	registrations    *prometheus.CounterVec
	payments         *prometheus.CounterVec
	duplicates       prometheus.Counter
	transitions      *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	resends          *prometheus.CounterVec
	failedDeliveries *prometheus.GaugeVec
	reportCache      *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_submitted_total",
			Help:      "Registrations submitted, by normalized region and outcome (created or duplicate).",
		}, []string{"region", "outcome"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_applied_total",
			Help:      "Registration payments applied, by normalized region.",
		}, []string{"region"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_transactions_total",
			Help:      "Records collapsed or rejected because their transaction ID was already known.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fund_request_transitions_total",
			Help:      "Fund request workflow transitions, by target status.",
		}, []string{"status"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notification deliveries that failed and were recorded.",
		}, []string{"region"}),
		resends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_resends_total",
			Help:      "Resend attempts, by result (sent or failed).",
		}, []string{"result"}),
		failedDeliveries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_failures_outstanding",
			Help:      "Failed deliveries currently recorded, by region. Updated by the digest job.",
		}, []string{"region"}),
		reportCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cache_lookups_total",
			Help:      "Aggregate report cache lookups, by result (hit or miss).",
		}, []string{"result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.registrations,
		m.payments,
		m.duplicates,
		m.transitions,
		m.deliveryFailures,
		m.resends,
		m.failedDeliveries,
		m.reportCache,
		m.requestDuration,
		m.requestTotal,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry is exposed for tests that gather values directly.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RegistrationSubmitted(region string, duplicate bool) {
	if m == nil {
		return
	}
	outcome := "created"
	if duplicate {
		outcome = "duplicate"
		m.duplicates.Inc()
	}
	m.registrations.WithLabelValues(region, outcome).Inc()
}

func (m *Metrics) PaymentApplied(region string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(region).Inc()
}

func (m *Metrics) DuplicateTransaction() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) DeliveryFailed(region string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(region).Inc()
}

func (m *Metrics) Resend(sent bool) {
	if m == nil {
		return
	}
	result := "failed"
	if sent {
		result = "sent"
	}
	m.resends.WithLabelValues(result).Inc()
}

// SetOutstandingFailures replaces the per-region gauge with counts.
func (m *Metrics) SetOutstandingFailures(counts map[string]int) {
	if m == nil {
		return
	}
	m.failedDeliveries.Reset()
	for region, n := range counts {
		m.failedDeliveries.WithLabelValues(region).Set(float64(n))
	}
}

func (m *Metrics) ReportCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.reportCache.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records request duration and count.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, route, code).Inc()
}
