package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the ingest services.
type Metrics struct {
	ScrapeSuccess  *prometheus.CounterVec
	ScrapeFailure  *prometheus.CounterVec
	ScrapeSkipped  *prometheus.CounterVec
	ScrapeDeferred *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	QueueDepth          prometheus.Gauge
}

// New registers every collector on reg. Pass a fresh prometheus.NewRegistry()
// in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScrapeSuccess: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_success_total",
			Help: "Tasks that ended in a persisted extraction.",
		}, []string{"site_type"}),
		ScrapeFailure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_failure_total",
			Help: "Failed scrape attempts, including ones that will be retried.",
		}, []string{"site_type", "error_kind"}),
		ScrapeSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_skipped_total",
			Help: "Tasks skipped because the URL was already ingested.",
		}, []string{"site_type"}),
		ScrapeDeferred: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_deferred_total",
			Help: "Tasks postponed by an open circuit breaker.",
		}, []string{"site_type"}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrape_task_duration_seconds",
			Help:    "Time spent processing one task attempt.",
			Buckets: []float64{0.5, 1, 5, 10, 15, 30, 60, 120},
		}, []string{"site_type"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "scrape_queue_depth",
			Help: "Current number of tasks waiting in the ready queue.",
		}),
	}
}
