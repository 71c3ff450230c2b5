package manifest

import (
	"context"
	"fmt"

	"ndjson-pipeline/internal/storage"
)

type objectGetter interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Reader fetches stored manifests back for reconciliation.
type Reader struct {
	store objectGetter
}

// NewReader builds a reader over durable storage.
func NewReader(store objectGetter) *Reader {
	return &Reader{store: store}
}

// Read loads the manifest at an s3:// location.
func (r *Reader) Read(ctx context.Context, uri string) (Manifest, error) {
	bucket, key, err := storage.ParseURI(uri)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest location: %w", err)
	}
	body, err := r.store.Get(ctx, bucket, key)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", uri, err)
	}
	return Decode(body)
}
