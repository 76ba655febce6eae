package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type voucherMetrics struct {
	transitions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	relay       *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	voucherMetricsOnce sync.Once
	voucherRegistry    *voucherMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voucher",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total HTTP API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voucher",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total HTTP API errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "voucher",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voucher",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = normalizeLabel(route)
	method = normalizeLabel(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the route.
func (m *moduleMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(route)).Inc()
}

// Vouchers returns the registry for lifecycle and relay activity.
func Vouchers() *voucherMetrics {
	voucherMetricsOnce.Do(func() {
		voucherRegistry = &voucherMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voucher",
				Name:      "transitions_total",
				Help:      "Voucher operations segmented by operation and error kind.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "voucher",
				Name:      "operation_duration_seconds",
				Help:      "Time spent executing an operation including the state commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			relay: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voucher",
				Name:      "relay_requests_total",
				Help:      "Relayed calls segmented by method and error kind.",
			}, []string{"method", "outcome"}),
		}
		prometheus.MustRegister(
			voucherRegistry.transitions,
			voucherRegistry.latency,
			voucherRegistry.relay,
		)
	})
	return voucherRegistry
}

// RecordOperation counts one executed operation.
func (m *voucherMetrics) RecordOperation(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	op = normalizeLabel(op)
	m.transitions.WithLabelValues(op, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRelay counts one relayed call.
func (m *voucherMetrics) RecordRelay(method, outcome string) {
	if m == nil {
		return
	}
	m.relay.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
