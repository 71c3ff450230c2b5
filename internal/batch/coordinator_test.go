package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"ndjson-pipeline/internal/lease"
	"ndjson-pipeline/internal/models"
	"ndjson-pipeline/internal/track"
)

const (
	mb = int64(1024 * 1024)
	gb = int64(1024 * 1024 * 1024)
)

type fakeEmitter struct {
	batches map[string][][]models.TrackedFile
	fail    bool
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{batches: make(map[string][][]models.TrackedFile)}
}

func (f *fakeEmitter) Emit(_ context.Context, partition string, seq int, files []models.TrackedFile) (string, error) {
	if f.fail {
		return "", errors.New("storage unavailable")
	}
	f.batches[partition] = append(f.batches[partition], files)
	return fmt.Sprintf("s3://manifests/manifests/%s/batch-%04d.json", partition, seq), nil
}

func (f *fakeEmitter) total() int {
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type harness struct {
	store   *track.Store
	leases  *lease.Manager
	emitter *fakeEmitter
	coord   *Coordinator
}

func newHarness(t *testing.T, targetBytes int64) harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := track.New(client, 7*24*time.Hour, 30*24*time.Hour)
	leases := lease.NewManager(client, time.Minute)
	emitter := newFakeEmitter()
	return harness{
		store:   store,
		leases:  leases,
		emitter: emitter,
		coord:   New(store, leases, emitter, targetBytes, 100),
	}
}

func makeFiles(partition string, from, to int, size int64) []models.TrackedFile {
	var files []models.TrackedFile
	for i := from; i < to; i++ {
		name := fmt.Sprintf("%s-f%03d.ndjson", partition, i)
		files = append(files, models.TrackedFile{
			Partition: partition,
			Name:      name,
			Path:      "s3://landing/incoming/" + name,
			SizeBytes: size,
			Status:    models.StatusPending,
		})
	}
	return files
}

func (h harness) admitTracked(t *testing.T, ctx context.Context, files []models.TrackedFile) Result {
	t.Helper()
	for _, f := range files {
		if _, err := h.store.PutPending(ctx, f); err != nil {
			t.Fatalf("track %s: %v", f.Name, err)
		}
	}
	return h.coord.Admit(ctx, files)
}

func (h harness) pendingCount(t *testing.T, ctx context.Context, partition string) int {
	t.Helper()
	n := 0
	after := ""
	for {
		page, next, err := h.store.PendingPage(ctx, partition, after, 100)
		if err != nil {
			t.Fatalf("pending page: %v", err)
		}
		n += len(page)
		if next == "" {
			return n
		}
		after = next
	}
}

// 300 files of 3.5MB arriving across three invocations against a 1GB
// target: the third pass cuts exactly one batch, the remainder stays
// pending.
func TestAccumulateAcrossInvocations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, gb)
	size := 35 * mb / 10

	if res := h.admitTracked(t, ctx, makeFiles("2025-01-01", 0, 100, size)); res.ManifestsCreated != 0 {
		t.Fatalf("first pass created %d manifests", res.ManifestsCreated)
	}
	if res := h.admitTracked(t, ctx, makeFiles("2025-01-01", 100, 200, size)); res.ManifestsCreated != 0 {
		t.Fatalf("second pass created %d manifests", res.ManifestsCreated)
	}

	res := h.admitTracked(t, ctx, makeFiles("2025-01-01", 200, 300, size))
	if res.ManifestsCreated != 1 {
		t.Fatalf("third pass created %d manifests, want 1 (errors: %v)", res.ManifestsCreated, res.Errors)
	}

	batches := h.emitter.batches["2025-01-01"]
	if len(batches) != 1 {
		t.Fatalf("emitted %d batches", len(batches))
	}
	wantFiles := int(gb / size) // as many whole files as fit the target
	if len(batches[0]) != wantFiles {
		t.Fatalf("batch holds %d files, want %d", len(batches[0]), wantFiles)
	}

	remaining := 300 - wantFiles
	if got := h.pendingCount(t, ctx, "2025-01-01"); got != remaining {
		t.Fatalf("%d files pending, want %d", got, remaining)
	}
}

// Re-admitting already-tracked files must not double-count their size.
func TestAdmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, gb)
	files := makeFiles("2025-01-01", 0, 200, 35*mb/10)

	if res := h.admitTracked(t, ctx, files); res.ManifestsCreated != 0 {
		t.Fatal("200 files are under target; no manifest expected")
	}
	// Replay of the same notifications: still under target.
	if res := h.admitTracked(t, ctx, files); res.ManifestsCreated != 0 {
		t.Fatal("replayed input was double-counted into a manifest")
	}
	if got := h.pendingCount(t, ctx, "2025-01-01"); got != 200 {
		t.Fatalf("%d pending files after replay, want 200", got)
	}
}

func TestHeldLeaseSkipsPartition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, gb)
	files := makeFiles("2025-01-01", 0, 300, 35*mb/10)

	held, ok, err := h.leases.Acquire(ctx, "2025-01-01")
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}

	res := h.admitTracked(t, ctx, files)
	if res.ManifestsCreated != 0 || len(res.Errors) != 0 {
		t.Fatalf("contended pass should be a silent skip, got %+v", res)
	}
	if h.emitter.total() != 0 {
		t.Fatal("emitter ran under a held lease")
	}

	// The loser's files were still tracked; the next pass picks them up.
	if err := held.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	res = h.coord.Admit(ctx, files[:1])
	if res.ManifestsCreated != 1 {
		t.Fatalf("post-release pass created %d manifests, want 1", res.ManifestsCreated)
	}
}

func TestPartitionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)

	good := makeFiles("2025-01-01", 0, 4, 30)
	bad := makeFiles("2025-01-02", 0, 4, 30)

	// Hold 2025-01-02 so only one partition can proceed.
	if _, ok, err := h.leases.Acquire(ctx, "2025-01-02"); err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}

	res := h.admitTracked(t, ctx, append(good, bad...))
	if res.ManifestsCreated != 1 {
		t.Fatalf("created %d manifests, want 1 from the free partition", res.ManifestsCreated)
	}
	if len(h.emitter.batches["2025-01-01"]) != 1 || len(h.emitter.batches["2025-01-02"]) != 0 {
		t.Fatalf("unexpected batches: %v", h.emitter.batches)
	}
}

func TestEmitFailureLeavesFilesPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.emitter.fail = true

	files := makeFiles("2025-01-01", 0, 4, 30)
	res := h.admitTracked(t, ctx, files)
	if res.ManifestsCreated != 0 {
		t.Fatalf("created %d manifests despite emit failure", res.ManifestsCreated)
	}
	if len(res.Errors) == 0 {
		t.Fatal("emit failure should be reported in errors")
	}
	if got := h.pendingCount(t, ctx, "2025-01-01"); got != 4 {
		t.Fatalf("%d files pending, want all 4 retained for retry", got)
	}
}

func TestSplit(t *testing.T) {
	files := func(sizes ...int64) []models.TrackedFile {
		var out []models.TrackedFile
		for i, s := range sizes {
			out = append(out, models.TrackedFile{
				Partition: "2025-01-01",
				Name:      fmt.Sprintf("2025-01-01-f%03d.ndjson", i),
				SizeBytes: s,
			})
		}
		return out
	}

	t.Run("remainder below half target is held", func(t *testing.T) {
		batches := split(files(70, 70, 40), 100)
		if len(batches) != 2 {
			t.Fatalf("got %d batches, want 2 with the trailing 40 held back", len(batches))
		}
	})

	t.Run("sole undersized batch is emitted", func(t *testing.T) {
		batches := split(files(30), 100)
		if len(batches) != 1 {
			t.Fatalf("a lone batch must never be held forever, got %d", len(batches))
		}
	})

	t.Run("remainder at half target is emitted", func(t *testing.T) {
		batches := split(files(90, 90, 50), 100)
		if len(batches) != 3 {
			t.Fatalf("got %d batches, want 3", len(batches))
		}
	})

	t.Run("exact fill", func(t *testing.T) {
		batches := split(files(50, 50, 50, 50), 100)
		if len(batches) != 2 {
			t.Fatalf("got %d batches, want 2", len(batches))
		}
		for i, b := range batches {
			if len(b) != 2 {
				t.Fatalf("batch %d holds %d files, want 2", i, len(b))
			}
		}
	})

	t.Run("every batch keeps one partition", func(t *testing.T) {
		batches := split(files(60, 60, 60, 60), 100)
		for _, b := range batches {
			for _, f := range b {
				if f.Partition != "2025-01-01" {
					t.Fatalf("foreign partition %q in batch", f.Partition)
				}
			}
		}
	})
}
