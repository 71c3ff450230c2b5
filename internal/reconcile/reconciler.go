// Package reconcile consumes job-lifecycle notifications and settles the
// tracking status of every file a run processed.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"path"
	"regexp"
	"time"

	"ndjson-pipeline/internal/alert"
	"ndjson-pipeline/internal/manifest"
	"ndjson-pipeline/internal/metrics"
	"ndjson-pipeline/internal/models"
	"ndjson-pipeline/internal/runner"
	"ndjson-pipeline/internal/telemetry"
)

var datePrefixRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})-`)

// FileUpdater settles one file's terminal status.
type FileUpdater interface {
	UpdateTerminal(ctx context.Context, partition, name, status, jobRunID, errDetail string) error
}

// ManifestReader loads the manifest a run processed.
type ManifestReader interface {
	Read(ctx context.Context, uri string) (manifest.Manifest, error)
}

// RunRecorder persists the per-run metric record.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec metrics.RunRecord) error
}

// Config tunes anomaly detection and cost estimation.
type Config struct {
	ExpectedRunMin    time.Duration
	ExpectedRunMax    time.Duration
	CostPerWorkerHour float64
}

// Reconciler maps job state transitions onto file statuses, anomaly
// signals, alerts, and metric records. Runner, alert sink, and recorder are
// all optional: reconciliation degrades rather than fails without them.
type Reconciler struct {
	store     FileUpdater
	manifests ManifestReader
	runner    runner.Client
	alerts    alert.Sink
	recorder  RunRecorder
	cfg       Config
}

// New wires a reconciler.
func New(store FileUpdater, manifests ManifestReader, run runner.Client, alerts alert.Sink, recorder RunRecorder, cfg Config) *Reconciler {
	if cfg.ExpectedRunMin == 0 {
		cfg.ExpectedRunMin = 2 * time.Minute
	}
	if cfg.ExpectedRunMax == 0 {
		cfg.ExpectedRunMax = 5 * time.Minute
	}
	return &Reconciler{
		store:     store,
		manifests: manifests,
		runner:    run,
		alerts:    alerts,
		recorder:  recorder,
		cfg:       cfg,
	}
}

// HandleStateChange processes one job-state notification. Per-file update
// failures are counted, never fatal; a runner query failure degrades to the
// fields carried in the notification itself.
func (r *Reconciler) HandleStateChange(ctx context.Context, ev models.JobStateEvent) (models.ReconcileResult, error) {
	res := models.ReconcileResult{JobName: ev.JobName, RunID: ev.RunID, State: ev.State}

	details := r.runDetails(ctx, ev, &res)

	switch ev.State {
	case models.RunStateRunning:
		log.Printf("job %s run %s started (started_on=%s)", ev.JobName, ev.RunID, details.StartedOn)
		res.Action = "running_acknowledged"

	case models.RunStateSucceeded:
		r.settleFiles(ctx, details, models.StatusCompleted, "", &res)
		res.Anomalies = r.detectAnomalies(details)
		if len(res.Anomalies) > 0 {
			body := fmt.Sprintf("Job %s run %s completed with anomalies:\n", ev.JobName, ev.RunID)
			for _, a := range res.Anomalies {
				body += "  - " + a + "\n"
			}
			res.AlertSent = r.sendAlert(ctx, "Anomaly Detected", body, alert.SeverityWarning)
		}
		res.Action = "success_handled"

	case models.RunStateFailed:
		errMsg := details.ErrorMessage
		if errMsg == "" {
			errMsg = "unknown error"
		}
		r.settleFiles(ctx, details, models.StatusFailed, errMsg, &res)
		res.AlertSent = r.sendAlert(ctx, "Job Run Failed", fmt.Sprintf(
			"Job: %s\nRun ID: %s\nError: %s\nPartition: %s\nManifest: %s",
			ev.JobName, ev.RunID, errMsg, orUnknown(details.Partition), orUnknown(details.ManifestPath)),
			alert.SeverityError)
		res.Action = "failure_handled"

	case models.RunStateTimeout:
		r.settleFiles(ctx, details, models.StatusTimeout, "job execution timed out", &res)
		res.AlertSent = r.sendAlert(ctx, "Job Run Timeout", fmt.Sprintf(
			"Job: %s\nRun ID: %s\nExecution time: %ds\nPartition: %s\nManifest: %s",
			ev.JobName, ev.RunID, details.ExecutionSeconds, orUnknown(details.Partition), orUnknown(details.ManifestPath)),
			alert.SeverityError)
		res.Action = "timeout_handled"

	case models.RunStateStopped:
		r.settleFiles(ctx, details, models.StatusStopped, "", &res)
		res.Action = "stopped_handled"

	default:
		log.Printf("ignoring unknown job state %q for run %s", ev.State, ev.RunID)
		res.Action = "ignored"
		return res, nil
	}

	r.recordMetrics(ctx, details, ev.State, &res)
	return res, nil
}

// runDetails queries the runner, falling back to notification fields when
// the query fails or no runner is configured.
func (r *Reconciler) runDetails(ctx context.Context, ev models.JobStateEvent, res *models.ReconcileResult) models.JobRunDetails {
	fallback := models.JobRunDetails{JobName: ev.JobName, RunID: ev.RunID, State: ev.State}
	if r.runner == nil {
		return fallback
	}
	details, err := r.runner.GetRun(ctx, ev.JobName, ev.RunID)
	if err != nil {
		log.Printf("runner query for %s degraded to notification fields: %v", ev.RunID, err)
		res.Errors = append(res.Errors, fmt.Sprintf("runner query: %v", err))
		return fallback
	}
	return details
}

// settleFiles updates every manifest member to the run's terminal status.
func (r *Reconciler) settleFiles(ctx context.Context, details models.JobRunDetails, status, errDetail string, res *models.ReconcileResult) {
	if details.ManifestPath == "" {
		log.Printf("run %s carries no manifest reference, nothing to settle", details.RunID)
		return
	}
	m, err := r.manifests.Read(ctx, details.ManifestPath)
	if err != nil {
		log.Printf("read manifest for run %s: %v", details.RunID, err)
		res.Errors = append(res.Errors, fmt.Sprintf("read manifest: %v", err))
		return
	}

	uris := m.FileURIs()
	log.Printf("updating %d files to status %s for run %s", len(uris), status, details.RunID)
	for _, uri := range uris {
		name := path.Base(uri)
		prefix := datePrefixRe.FindStringSubmatch(name)
		if prefix == nil {
			log.Printf("cannot derive partition from file name %s, skipping", name)
			res.UpdateErrors++
			continue
		}
		if err := r.store.UpdateTerminal(ctx, prefix[1], name, status, details.RunID, errDetail); err != nil {
			log.Printf("update %s: %v", name, err)
			res.UpdateErrors++
			continue
		}
		res.FilesUpdated++
	}
}

// detectAnomalies flags runs whose execution profile deviates from the
// expected band. Anomalies warn; they never change the run's outcome.
func (r *Reconciler) detectAnomalies(details models.JobRunDetails) []string {
	var anomalies []string

	minSec := int64(r.cfg.ExpectedRunMin.Seconds())
	maxSec := int64(r.cfg.ExpectedRunMax.Seconds())
	execSec := details.ExecutionSeconds

	if execSec < minSec {
		anomalies = append(anomalies, fmt.Sprintf(
			"execution time too short: %ds (expected %d-%ds)", execSec, minSec, maxSec))
	} else if execSec > maxSec*3/2 {
		anomalies = append(anomalies, fmt.Sprintf(
			"execution time too long: %ds (expected %d-%ds)", execSec, minSec, maxSec))
	}

	if details.WorkerCount > 0 {
		avg := details.WorkerSeconds / int64(details.WorkerCount)
		if avg > maxSec*3/2 {
			anomalies = append(anomalies, fmt.Sprintf(
				"high per-worker usage: %d worker-seconds per worker", avg))
		}
	}
	return anomalies
}

// recordMetrics runs on every handled state transition, RUNNING included;
// the terminal transition overwrites the same (date, run) row later.
func (r *Reconciler) recordMetrics(ctx context.Context, details models.JobRunDetails, state string, res *models.ReconcileResult) {
	cost := float64(details.WorkerSeconds) / 3600 * r.cfg.CostPerWorkerHour

	telemetry.RunsCompleted.WithLabelValues(state).Inc()
	telemetry.RunDuration.Observe(float64(details.ExecutionSeconds))
	// Cost accrues only once a run has consumed its workers to the end.
	switch state {
	case models.RunStateSucceeded, models.RunStateFailed, models.RunStateTimeout:
		telemetry.RunCost.Add(cost)
	}

	if r.recorder == nil {
		return
	}
	rec := metrics.RunRecord{
		MetricDate:       time.Now().UTC().Format("2006-01-02"),
		JobName:          details.JobName,
		RunID:            details.RunID,
		State:            state,
		ExecutionSeconds: details.ExecutionSeconds,
		WorkerSeconds:    details.WorkerSeconds,
		WorkerCount:      details.WorkerCount,
		EstimatedCostUSD: cost,
		Partition:        details.Partition,
		ManifestPath:     details.ManifestPath,
	}
	if err := r.recorder.RecordRun(ctx, rec); err != nil {
		log.Printf("record metrics for run %s: %v", details.RunID, err)
		res.Errors = append(res.Errors, fmt.Sprintf("record metrics: %v", err))
	}
}

// sendAlert delivers to the sink when configured, logging otherwise.
func (r *Reconciler) sendAlert(ctx context.Context, subject, message, severity string) bool {
	if r.alerts == nil {
		log.Printf("no alert sink configured, alert: [%s] %s\n%s", severity, subject, message)
		return false
	}
	if err := r.alerts.Send(ctx, subject, message, severity); err != nil {
		log.Printf("send alert %q: %v", subject, err)
		return false
	}
	return true
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
