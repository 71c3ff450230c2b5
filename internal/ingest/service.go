// Package ingest is the arrival-side entry point: it validates incoming
// files, routes rejects to quarantine, records admissions as pending, and
// hands the pass to the batch coordinator.
package ingest

import (
	"context"
	"fmt"
	"log"
	"path"
	"time"

	"ndjson-pipeline/internal/batch"
	"ndjson-pipeline/internal/models"
	"ndjson-pipeline/internal/storage"
	"ndjson-pipeline/internal/telemetry"
	"ndjson-pipeline/internal/track"
	"ndjson-pipeline/internal/validate"
)

// Admitter runs one batch-formation pass over admitted files.
type Admitter interface {
	Admit(ctx context.Context, files []models.TrackedFile) batch.Result
}

type objectCopier interface {
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, metadata map[string]string) error
}

// Service processes arrival notifications end to end.
type Service struct {
	validator        validate.Validator
	store            *track.Store
	coordinator      Admitter
	objects          objectCopier
	quarantineBucket string
}

// New wires the arrival pipeline. objects may be nil when no quarantine
// bucket is configured; rejected files are then only recorded, not copied.
func New(validator validate.Validator, store *track.Store, coordinator Admitter, objects objectCopier, quarantineBucket string) *Service {
	return &Service{
		validator:        validator,
		store:            store,
		coordinator:      coordinator,
		objects:          objects,
		quarantineBucket: quarantineBucket,
	}
}

// ProcessArrivals handles one batch of arrival events. Per-file failures are
// contained: they are counted and reported in the stats, never raised.
func (s *Service) ProcessArrivals(ctx context.Context, events []models.ArrivalEvent) models.IngestStats {
	stats := models.IngestStats{TotalEvents: len(events)}
	var admitted []models.TrackedFile

	for _, ev := range events {
		name := path.Base(ev.Key)
		res := s.validator.Validate(ev.Key, ev.SizeBytes)
		if !res.Admissible {
			s.quarantine(ctx, ev, name, res, &stats)
			continue
		}

		f := models.TrackedFile{
			Partition: res.Partition,
			Name:      name,
			Path:      storage.URI(ev.Bucket, ev.Key),
			SizeBytes: ev.SizeBytes,
			Status:    models.StatusPending,
		}
		if _, err := s.store.PutPending(ctx, f); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("track %s: %v", name, err))
			continue
		}
		stats.FilesProcessed++
		telemetry.FilesProcessed.Inc()
		admitted = append(admitted, f)
	}

	res := s.coordinator.Admit(ctx, admitted)
	stats.ManifestsCreated = res.ManifestsCreated
	stats.Errors = append(stats.Errors, res.Errors...)
	return stats
}

func (s *Service) quarantine(ctx context.Context, ev models.ArrivalEvent, name string, res validate.Result, stats *models.IngestStats) {
	log.Printf("quarantined %s: %s", name, res.Reason)
	stats.FilesQuarantined++
	telemetry.FilesQuarantined.Inc()

	if s.objects != nil && s.quarantineBucket != "" && ev.Bucket != "" && ev.Key != "" {
		partition := res.Partition
		if partition == "" {
			partition = "unknown"
		}
		reason := res.Reason
		if len(reason) > 256 {
			reason = reason[:256]
		}
		dstKey := fmt.Sprintf("quarantine/%s/%s", partition, name)
		meta := map[string]string{
			"quarantine-reason": reason,
			"quarantine-time":   nowISO(),
		}
		if err := s.objects.Copy(ctx, ev.Bucket, ev.Key, s.quarantineBucket, dstKey, meta); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("quarantine copy %s: %v", name, err))
		}
	}

	// Without a partition key there is nowhere to record the reject.
	if res.Partition == "" {
		return
	}
	f := models.TrackedFile{
		Partition: res.Partition,
		Name:      name,
		Path:      storage.URI(ev.Bucket, ev.Key),
		SizeBytes: ev.SizeBytes,
	}
	if err := s.store.PutQuarantined(ctx, f, res.Reason); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("quarantine record %s: %v", name, err))
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
