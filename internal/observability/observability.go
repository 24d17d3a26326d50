package observability

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipcast_jobs_published_total",
		Help: "The total number of jobs published natively per platform",
	}, []string{"platform"})

	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipcast_jobs_failed_total",
		Help: "The total number of jobs that reached the failed state",
	}, []string{"platform", "reason"})

	JobsRequeued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipcast_jobs_requeued_total",
		Help: "The total number of retryable requeues",
	}, []string{"platform"})

	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipcast_downloads_total",
		Help: "The total number of source media downloads",
	}, []string{"outcome"}) // outcome: success, failure, cached

	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipcast_publish_duration_seconds",
		Help:    "Duration of a native upload, per platform.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"platform"})
)

// NewLogger creates a new structured logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
