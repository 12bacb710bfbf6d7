package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry           *prometheus.Registry
	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	activeJobs         prometheus.Gauge
	publishedTotal     prometheus.Counter
	outputBytesTotal   prometheus.Counter
	notificationErrors *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageutils_worker_jobs_total",
			Help: "Total resize jobs by output format and final status.",
		}, []string{"format", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imageutils_worker_job_duration_seconds",
			Help:    "Total processing duration for each resize job attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imageutils_worker_active_jobs",
			Help: "Resize jobs currently holding a processing slot.",
		}),
		publishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imageutils_worker_published_outputs_total",
			Help: "Outputs uploaded to object storage.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imageutils_worker_output_bytes_total",
			Help: "Bytes written by successful resize jobs.",
		}),
		notificationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageutils_worker_notification_errors_total",
			Help: "Failed job event deliveries by sink.",
		}, []string{"sink"}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.publishedTotal,
		m.outputBytesTotal,
		m.notificationErrors,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
