package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"ndjson-pipeline/internal/models"
)

// ErrCrossPartition marks a batch containing files from more than one
// partition. Such a batch would corrupt downstream partitioned processing,
// so nothing is written.
var ErrCrossPartition = errors.New("batch spans multiple partitions")

type objectPutter interface {
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) (string, error)
}

// Emitter serializes batches into manifest artifacts in durable storage.
type Emitter struct {
	store  objectPutter
	bucket string
	format string
}

// NewEmitter builds an emitter writing into the given bucket.
func NewEmitter(store objectPutter, bucket string) *Emitter {
	return &Emitter{store: store, bucket: bucket, format: "NDJSON"}
}

// Emit writes one manifest for a batch and returns its location. Every
// member must share the batch's partition key; a mismatch aborts the whole
// batch before anything is written.
func (e *Emitter) Emit(ctx context.Context, partition string, seq int, files []models.TrackedFile) (string, error) {
	if len(files) == 0 {
		return "", errors.New("empty batch")
	}
	var total int64
	locations := make([]FileLocation, 0, len(files))
	for _, f := range files {
		if f.Partition != partition {
			return "", fmt.Errorf("%w: %s in batch for %s", ErrCrossPartition, f.Partition, partition)
		}
		locations = append(locations, FileLocation{URIPrefixes: []string{f.Path}})
		total += f.SizeBytes
	}

	now := time.Now().UTC()
	m := Manifest{
		FileLocations:        locations,
		GlobalUploadSettings: UploadSettings{Format: e.format},
		Metadata: Metadata{
			Partition:      partition,
			BatchIndex:     seq,
			FileCount:      len(files),
			TotalSizeBytes: total,
			CreatedAt:      now.Format(time.RFC3339),
		},
	}

	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}

	key := fmt.Sprintf("manifests/%s/batch-%04d-%s.json", partition, seq, now.Format("20060102-150405"))
	location, err := e.store.Put(ctx, e.bucket, key, body, "application/json")
	if err != nil {
		return "", fmt.Errorf("write manifest %s: %w", key, err)
	}

	log.Printf("created manifest %s with %d files (%.2fGB)", location, len(files), float64(total)/(1<<30))
	return location, nil
}
