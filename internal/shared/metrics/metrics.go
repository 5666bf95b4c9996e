package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	jobsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_jobs_submitted_total",
		Help: "Ingestion jobs accepted for processing",
	})
	jobsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_jobs_rejected_total",
		Help: "Uploads rejected before a job was created",
	}, []string{"reason"})
	jobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_jobs_completed_total",
		Help: "Ingestion jobs completed, by dedup decision",
	}, []string{"decision"})
	jobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_jobs_failed_total",
		Help: "Ingestion jobs failed, by reason",
	}, []string{"reason"})
	jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_jobs_inflight",
		Help: "Ingestion jobs admitted and not yet terminal",
	})
	jobsStuck = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_jobs_stuck",
		Help: "Processing jobs older than the stuck threshold at last check",
	})
	jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_job_duration_ms",
		Help:    "Ingestion job duration in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000},
	})
	httpPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_handler_panics_total",
		Help: "HTTP handler panics recovered by middleware",
	})
)

func init() {
	registry.MustRegister(jobsSubmitted, jobsRejected, jobsCompleted, jobsFailed, jobsInFlight, jobsStuck, jobDuration, httpPanics)
}

// IncSubmitted counts an accepted job.
func IncSubmitted() {
	jobsSubmitted.Inc()
	jobsInFlight.Inc()
}

// IncRejected counts an upload refused synchronously ("size", "saturated", "invalid").
func IncRejected(reason string) {
	jobsRejected.WithLabelValues(reason).Inc()
}

// IncCompleted counts a completed job by dedup decision.
func IncCompleted(decision string) {
	jobsCompleted.WithLabelValues(decision).Inc()
	jobsInFlight.Dec()
}

// IncFailed counts a failed job ("extension", "timeout", "panic", "error").
func IncFailed(reason string) {
	jobsFailed.WithLabelValues(reason).Inc()
	jobsInFlight.Dec()
}

// IncPanics counts a recovered HTTP handler panic.
func IncPanics() {
	httpPanics.Inc()
}

// SetStuck records the latest stuck-job count.
func SetStuck(n int) {
	jobsStuck.Set(float64(n))
}

// ObserveJobDurationMs records a job duration in milliseconds.
func ObserveJobDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	jobDuration.Observe(value)
}

// Registry exposes the collector registry, mainly for tests.
func Registry() *prometheus.Registry {
	return registry
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
