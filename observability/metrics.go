package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coreerrors "bunnyriven/core/errors"
)

const namespace = "bunnyriven"

type httpMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// RedemptionMetrics tracks engine operations by module, operation and the
// stable error kind they finished with.
type RedemptionMetrics struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	redemptionOnce     sync.Once
	redemptionRegistry *RedemptionMetrics
)

// HTTP returns the lazily-initialised registry for the daemon's API surface.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by rate limiting.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of one request. status is the HTTP status
// that was ultimately written.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for route.
func (m *httpMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// Redemption returns the singleton registry for engine operations.
func Redemption() *RedemptionMetrics {
	redemptionOnce.Do(func() {
		redemptionRegistry = &RedemptionMetrics{
			ops: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "redemption",
				Name:      "operations_total",
				Help:      "Engine operations segmented by module, operation and outcome kind.",
			}, []string{"module", "op", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "redemption",
				Name:      "operation_duration_seconds",
				Help:      "Time spent executing and committing engine operations.",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			}, []string{"module", "op"}),
		}
		prometheus.MustRegister(redemptionRegistry.ops, redemptionRegistry.latency)
	})
	return redemptionRegistry
}

// Observe records a finished engine call. Successful calls are labelled "ok".
func (m *RedemptionMetrics) Observe(module, op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	kind := OutcomeKind(err)
	module = strings.ToLower(strings.TrimSpace(module))
	m.ops.WithLabelValues(module, op, kind).Inc()
	m.latency.WithLabelValues(module, op).Observe(d.Seconds())
}

// OutcomeKind is the label value recorded for err.
func OutcomeKind(err error) string {
	if err == nil {
		return "ok"
	}
	return coreerrors.Kind(err)
}
