package track

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"ndjson-pipeline/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, 7*24*time.Hour, 30*24*time.Hour)
}

func pendingFile(partition, name string, size int64) models.TrackedFile {
	return models.TrackedFile{
		Partition: partition,
		Name:      name,
		Path:      "s3://landing/incoming/" + name,
		SizeBytes: size,
		Status:    models.StatusPending,
	}
}

func TestPutPendingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := pendingFile("2025-01-01", "2025-01-01-f001.ndjson", 100)
	created, err := s.PutPending(ctx, f)
	if err != nil || !created {
		t.Fatalf("first put: created=%v err=%v", created, err)
	}

	created, err = s.PutPending(ctx, f)
	if err != nil {
		t.Fatalf("replayed put: %v", err)
	}
	if created {
		t.Fatal("replayed put must not create a second record")
	}

	files, next, err := s.PendingPage(ctx, "2025-01-01", "", 10)
	if err != nil {
		t.Fatalf("pending page: %v", err)
	}
	if len(files) != 1 || next != "" {
		t.Fatalf("expected exactly one pending file, got %d (next=%q)", len(files), next)
	}
}

func TestPutPendingNeverRegressesStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := pendingFile("2025-01-01", "2025-01-01-f001.ndjson", 100)
	if _, err := s.PutPending(ctx, f); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.MarkManifested(ctx, f.Partition, f.Name, "s3://manifests/m1.json"); err != nil {
		t.Fatalf("mark manifested: %v", err)
	}

	// A late duplicate arrival must not pull the file back to pending.
	if _, err := s.PutPending(ctx, f); err != nil {
		t.Fatalf("duplicate put: %v", err)
	}
	got, ok, err := s.Get(ctx, f.Partition, f.Name)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != models.StatusManifested {
		t.Fatalf("status regressed to %q", got.Status)
	}
	if got.ManifestPath != "s3://manifests/m1.json" {
		t.Fatalf("manifest reference lost: %q", got.ManifestPath)
	}

	files, _, err := s.PendingPage(ctx, f.Partition, "", 10)
	if err != nil {
		t.Fatalf("pending page: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("manifested file still pending: %d", len(files))
	}
}

func TestPendingPagePagination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const total = 25
	for i := 0; i < total; i++ {
		f := pendingFile("2025-01-01", fmt.Sprintf("2025-01-01-f%03d.ndjson", i), 10)
		if _, err := s.PutPending(ctx, f); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	var all []models.TrackedFile
	after := ""
	pages := 0
	for {
		page, next, err := s.PendingPage(ctx, "2025-01-01", after, 10)
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		all = append(all, page...)
		pages++
		if next == "" {
			break
		}
		after = next
	}

	if len(all) != total {
		t.Fatalf("paged %d files, want %d", len(all), total)
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Fatalf("pages out of order at %d: %s >= %s", i, all[i-1].Name, all[i].Name)
		}
	}
}

func TestUpdateTerminal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := pendingFile("2025-01-01", "2025-01-01-f001.ndjson", 100)
	if _, err := s.PutPending(ctx, f); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.MarkManifested(ctx, f.Partition, f.Name, "s3://manifests/m1.json"); err != nil {
		t.Fatalf("mark manifested: %v", err)
	}

	if err := s.UpdateTerminal(ctx, f.Partition, f.Name, models.StatusFailed, "jr-123", "boom"); err != nil {
		t.Fatalf("update terminal: %v", err)
	}
	got, ok, err := s.Get(ctx, f.Partition, f.Name)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != models.StatusFailed || got.JobRunID != "jr-123" || got.Error != "boom" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := s.UpdateTerminal(ctx, "2025-01-01", "2025-01-01-missing.ndjson", models.StatusFailed, "jr-123", ""); err == nil {
		t.Fatal("expected error for missing record")
	}
}

func TestPutQuarantined(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := models.TrackedFile{
		Partition: "2025-01-01",
		Name:      "2025-01-01-huge.ndjson",
		Path:      "s3://landing/incoming/2025-01-01-huge.ndjson",
		SizeBytes: 9999999,
	}
	if err := s.PutQuarantined(ctx, f, "unexpected file size: 9.54MB"); err != nil {
		t.Fatalf("quarantine: %v", err)
	}

	got, ok, err := s.Get(ctx, f.Partition, f.Name)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != models.StatusQuarantined {
		t.Fatalf("status = %q", got.Status)
	}
	if got.Error == "" {
		t.Fatal("quarantine reason missing")
	}

	files, _, err := s.PendingPage(ctx, f.Partition, "", 10)
	if err != nil {
		t.Fatalf("pending page: %v", err)
	}
	if len(files) != 0 {
		t.Fatal("quarantined file must not be pending")
	}
}
