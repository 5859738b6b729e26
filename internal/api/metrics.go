package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "printstudio"

type metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	rateLimited   *prometheus.CounterVec
	enqueued      *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	uploadBytes   prometheus.Histogram
	exports       *prometheus.CounterVec
	checkouts     *prometheus.CounterVec
	partnerErrors *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "requests_total",
			Help: "HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "api", Name: "request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "rate_limit_rejections_total",
			Help: "Requests refused by the token bucket.",
		}, []string{"route"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "stylizations_enqueued_total",
			Help: "Stylization poll tasks handed to the worker queue.",
		}, []string{"queue"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "stylization_submissions_total",
			Help: "Stylization submissions by outcome (accepted or an error kind).",
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "api", Name: "upload_stored_bytes",
			Help:    "Size of uploads after compression.",
			Buckets: prometheus.ExponentialBuckets(32<<10, 2, 10),
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "placement_exports_total",
			Help: "Print-area exports by delivery (stored or inline).",
		}, []string{"delivery"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "checkouts_total",
			Help: "Storefront products created for checkout.",
		}, []string{"outcome"}),
		partnerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "partner_errors_total",
			Help: "Failed calls to stylization, storefront, shipping and fulfillment partners.",
		}, []string{"partner"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.latency, m.rateLimited, m.enqueued,
		m.submissions, m.uploadBytes, m.exports, m.checkouts, m.partnerErrors,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		// The mux records the matched pattern on r once it has routed it.
		route := routeLabel(r.URL.Path)
		if _, pattern, ok := strings.Cut(r.Pattern, " "); ok {
			route = pattern
		}

		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

var knownRoutes = map[string]bool{
	"/healthz":               true,
	"/metrics":               true,
	"/v1/products":           true,
	"/v1/styles":             true,
	"/v1/uploads":            true,
	"/v1/stylizations":       true,
	"/v1/placements/initial": true,
	"/v1/placements/preview": true,
	"/v1/placements/export":  true,
	"/v1/checkout":           true,
	"/v1/shipping/quote":     true,
	"/v1/fulfillment/orders": true,
}

// routeLabel collapses ids out of paths and folds unknown paths into "other"
// to keep label cardinality bounded.
func routeLabel(path string) string {
	switch {
	case knownRoutes[path]:
		return path
	case strings.HasPrefix(path, "/v1/stylizations/"):
		return "/v1/stylizations/{id}"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
