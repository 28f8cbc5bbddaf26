package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsProcessedTotal, jobsEnqueuedTotal, jobsEnqueueRejected, jobsStaleFailed, stageDurationSeconds)
}

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "extraction_jobs_processed_total",
		Help: "Total number of extraction jobs processed, labeled by terminal status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var jobsEnqueuedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "extraction_jobs_enqueued_total",
		Help: "Total number of jobs accepted at intake.",
	},
)

var jobsEnqueueRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "extraction_jobs_enqueue_rejected_total",
		Help: "Intake rejections, labeled by reason.",
	},
	[]string{"reason"}, // 'duplicate', 'rate_limited', 'invalid'
)

var jobsStaleFailed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "extraction_jobs_stale_failed_total",
		Help: "Jobs failed by the stale reconciler.",
	},
)

var stageDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "extraction_stage_duration_seconds",
		Help:    "Duration of each pipeline stage.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	},
	[]string{"stage"},
)

func IncJobProcessed(status string) { jobsProcessedTotal.WithLabelValues(norm(status)).Inc() }
func IncJobEnqueued()               { jobsEnqueuedTotal.Inc() }
func IncEnqueueRejected(reason string) {
	jobsEnqueueRejected.WithLabelValues(norm(reason)).Inc()
}
func AddStaleFailed(n int) { jobsStaleFailed.Add(float64(n)) }
func ObserveStage(stage string, d time.Duration) {
	stageDurationSeconds.WithLabelValues(norm(stage)).Observe(d.Seconds())
}
