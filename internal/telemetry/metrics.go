package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	FilesProcessed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_files_processed_total", Help: "Arrival files admitted as pending"})
	FilesQuarantined = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_files_quarantined_total", Help: "Arrival files rejected into quarantine"})
	ManifestsCreated = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_manifests_created_total", Help: "Manifests cut by the batch coordinator"})
	LeaseContention  = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_lease_contention_total", Help: "Partition passes skipped because the lease was held"})
	PartitionErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_partition_errors_total", Help: "Per-partition coordination failures"})

	RunsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_job_runs_total", Help: "Job runs reconciled by reported state"}, []string{"state"})
	RunDuration   = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_job_run_duration_seconds",
		Help:    "Reported execution time of reconciled job runs",
		Buckets: prometheus.ExponentialBuckets(30, 2, 8),
	})
	RunCost = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_job_run_cost_usd_total", Help: "Estimated accumulated run cost"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			FilesProcessed,
			FilesQuarantined,
			ManifestsCreated,
			LeaseContention,
			PartitionErrors,
			RunsCompleted,
			RunDuration,
			RunCost,
		)
	})
	return promhttp.Handler()
}
