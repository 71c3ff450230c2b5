// Package metrics persists one durable record per reconciled job run.
// Records are write-only from the pipeline's perspective; reporting reads
// them out of band.
package metrics

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Recorder writes job-run metric records to Postgres.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder creates a pooled connection to Postgres.
func NewRecorder(ctx context.Context, dsn string) (*Recorder, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse metrics dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Recorder{pool: pool}, nil
}

func (r *Recorder) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in order.
func (r *Recorder) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := r.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// RunRecord is one metric row, keyed by (metric date, run id).
type RunRecord struct {
	MetricDate       string
	JobName          string
	RunID            string
	State            string
	ExecutionSeconds int64
	WorkerSeconds    int64
	WorkerCount      int
	EstimatedCostUSD float64
	Partition        string
	ManifestPath     string
}

// RecordRun upserts the record for a run; later state transitions for the
// same run overwrite earlier ones.
func (r *Recorder) RecordRun(ctx context.Context, rec RunRecord) error {
	if rec.MetricDate == "" {
		rec.MetricDate = time.Now().UTC().Format("2006-01-02")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO job_run_metrics
			(metric_date, run_id, job_name, state, execution_seconds, worker_seconds, worker_count, estimated_cost_usd, date_prefix, manifest_path, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (metric_date, run_id) DO UPDATE SET
			state = EXCLUDED.state,
			execution_seconds = EXCLUDED.execution_seconds,
			worker_seconds = EXCLUDED.worker_seconds,
			worker_count = EXCLUDED.worker_count,
			estimated_cost_usd = EXCLUDED.estimated_cost_usd,
			recorded_at = NOW()
	`, rec.MetricDate, rec.RunID, rec.JobName, rec.State, rec.ExecutionSeconds,
		rec.WorkerSeconds, rec.WorkerCount, rec.EstimatedCostUSD, rec.Partition, rec.ManifestPath)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.RunID, err)
	}
	return nil
}
