package models

import "time"

// ArrivalEvent is one object-arrival notification from the upstream
// transport. Delivery is at-least-once and unordered.
type ArrivalEvent struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

// Job run states as reported by the downstream runner.
const (
	RunStateRunning   = "RUNNING"
	RunStateSucceeded = "SUCCEEDED"
	RunStateFailed    = "FAILED"
	RunStateTimeout   = "TIMEOUT"
	RunStateStopped   = "STOPPED"
)

// JobStateEvent is one job-lifecycle notification.
type JobStateEvent struct {
	JobName string    `json:"job_name"`
	RunID   string    `json:"run_id"`
	State   string    `json:"state"`
	Time    time.Time `json:"time"`
}

// JobRunDetails is the runner's view of a single run, fetched on
// reconciliation. ManifestPath and Partition come from the run arguments.
type JobRunDetails struct {
	JobName          string `json:"job_name"`
	RunID            string `json:"run_id"`
	State            string `json:"state"`
	StartedOn        string `json:"started_on,omitempty"`
	CompletedOn      string `json:"completed_on,omitempty"`
	ExecutionSeconds int64  `json:"execution_seconds"`
	WorkerCount      int    `json:"worker_count"`
	WorkerSeconds    int64  `json:"worker_seconds"`
	ErrorMessage     string `json:"error_message,omitempty"`
	ManifestPath     string `json:"manifest_path,omitempty"`
	Partition        string `json:"partition,omitempty"`
}

// IngestStats summarizes one arrival-processing invocation. Per-file
// failures land in Errors rather than failing the invocation.
type IngestStats struct {
	TotalEvents      int      `json:"total_events"`
	FilesProcessed   int      `json:"files_processed"`
	FilesQuarantined int      `json:"files_quarantined"`
	ManifestsCreated int      `json:"manifests_created"`
	Errors           []string `json:"errors,omitempty"`
}

// ReconcileResult summarizes handling of one job-state notification.
type ReconcileResult struct {
	JobName      string   `json:"job_name"`
	RunID        string   `json:"run_id"`
	State        string   `json:"state"`
	Action       string   `json:"action"`
	FilesUpdated int      `json:"files_updated"`
	UpdateErrors int      `json:"update_errors"`
	Anomalies    []string `json:"anomalies,omitempty"`
	AlertSent    bool     `json:"alert_sent"`
	Errors       []string `json:"errors,omitempty"`
}
