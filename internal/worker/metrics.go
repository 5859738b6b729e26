package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	jobsTotal         *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	activeJobs        prometheus.Gauge
	pollsTotal        prometheus.Counter
	mirrorFailures    prometheus.Counter
	webhookDeliveries *prometheus.CounterVec
	uploadBytesTotal  prometheus.Counter
	interrupted       prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printstudio_worker_stylizations_total",
			Help: "Stylization jobs followed by the worker, by final status and error kind.",
		}, []string{"status", "error_kind"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "printstudio_worker_stylization_duration_seconds",
			Help:    "Time from task pickup to a terminal job state.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 90, 120, 180},
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "printstudio_worker_active_stylizations",
			Help: "Stylization jobs currently being polled.",
		}),
		pollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "printstudio_worker_status_polls_total",
			Help: "Status queries answered by the stylization service.",
		}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "printstudio_worker_result_mirror_failures_total",
			Help: "Finished results that could not be copied into object storage.",
		}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printstudio_worker_webhook_deliveries_total",
			Help: "Webhook deliveries by outcome.",
		}, []string{"outcome"}),
		uploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "printstudio_usage_upload_bytes_total",
			Help: "Compressed photo bytes sent for stylization.",
		}),
		interrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "printstudio_worker_interrupted_stylizations_total",
			Help: "Stylization jobs handed back to the queue by a worker shutdown.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.pollsTotal,
		m.mirrorFailures,
		m.webhookDeliveries,
		m.uploadBytesTotal,
		m.interrupted,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
