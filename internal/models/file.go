package models

import (
	"time"
)

// Tracking statuses persisted per file. Transitions only move forward:
// pending -> manifested -> one of the terminal states. Quarantined is
// terminal and only ever set at admission time.
const (
	StatusPending     = "pending"
	StatusManifested  = "manifested"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusTimeout     = "timeout"
	StatusStopped     = "stopped"
	StatusQuarantined = "quarantined"
)

// TrackedFile is one admitted input file, keyed by (partition, name).
type TrackedFile struct {
	Partition    string    `json:"partition"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	SizeBytes    int64     `json:"size_bytes"`
	Status       string    `json:"status"`
	ManifestPath string    `json:"manifest_path,omitempty"`
	JobRunID     string    `json:"job_run_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
