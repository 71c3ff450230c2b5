package track

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ndjson-pipeline/internal/models"
)

// Store provides typed access to per-file tracking records in Redis.
// Records are keyed by (partition, file name); a per-partition sorted set
// indexes the files still pending so they can be enumerated in pages.
type Store struct {
	client              *redis.Client
	pendingRetention    time.Duration
	quarantineRetention time.Duration
}

// New builds a tracking store client over an existing Redis connection.
func New(client *redis.Client, pendingRetention, quarantineRetention time.Duration) *Store {
	if pendingRetention == 0 {
		pendingRetention = 7 * 24 * time.Hour
	}
	if quarantineRetention == 0 {
		quarantineRetention = 30 * 24 * time.Hour
	}
	return &Store{
		client:              client,
		pendingRetention:    pendingRetention,
		quarantineRetention: quarantineRetention,
	}
}

func fileKey(partition, name string) string {
	return fmt.Sprintf("track:file:%s:%s", partition, name)
}

func pendingKey(partition string) string {
	return fmt.Sprintf("track:pending:%s", partition)
}

// PutPending records a file as pending. The write is conditional: a file
// that is already tracked (in any status) is left untouched, so replayed
// arrival notifications can never regress a record or double-count it.
// Returns true if a new record was created.
func (s *Store) PutPending(ctx context.Context, f models.TrackedFile) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := createPendingScript.Run(ctx, s.client,
		[]string{fileKey(f.Partition, f.Name), pendingKey(f.Partition)},
		f.Path, f.SizeBytes, now, s.pendingRetention.Milliseconds(), f.Name,
	).Int()
	if err != nil {
		return false, fmt.Errorf("track pending %s/%s: %w", f.Partition, f.Name, err)
	}
	return res == 1, nil
}

// PendingPage returns one page of pending files for a partition in file-name
// order. An empty after token starts from the beginning; the returned token
// is empty once the set is exhausted.
func (s *Store) PendingPage(ctx context.Context, partition, after string, count int) ([]models.TrackedFile, string, error) {
	min := "-"
	if after != "" {
		min = "(" + after
	}
	names, err := s.client.ZRangeByLex(ctx, pendingKey(partition), &redis.ZRangeBy{
		Min:   min,
		Max:   "+",
		Count: int64(count),
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("scan pending %s: %w", partition, err)
	}

	files := make([]models.TrackedFile, 0, len(names))
	for _, name := range names {
		f, ok, err := s.get(ctx, partition, name)
		if err != nil {
			return nil, "", err
		}
		// Index entries can outlive expired records; skip them.
		if !ok || f.Status != models.StatusPending {
			continue
		}
		files = append(files, f)
	}

	next := ""
	if len(names) == count {
		next = names[len(names)-1]
	}
	return files, next, nil
}

// Get fetches a single tracking record.
func (s *Store) Get(ctx context.Context, partition, name string) (models.TrackedFile, bool, error) {
	return s.get(ctx, partition, name)
}

func (s *Store) get(ctx context.Context, partition, name string) (models.TrackedFile, bool, error) {
	vals, err := s.client.HGetAll(ctx, fileKey(partition, name)).Result()
	if err != nil {
		return models.TrackedFile{}, false, fmt.Errorf("get record %s/%s: %w", partition, name, err)
	}
	if len(vals) == 0 {
		return models.TrackedFile{}, false, nil
	}
	size, _ := strconv.ParseInt(vals["size_bytes"], 10, 64)
	f := models.TrackedFile{
		Partition:    partition,
		Name:         name,
		Path:         vals["path"],
		SizeBytes:    size,
		Status:       vals["status"],
		ManifestPath: vals["manifest_path"],
		JobRunID:     vals["job_run_id"],
		Error:        vals["error"],
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339, vals["created_at"])
	f.UpdatedAt, _ = time.Parse(time.RFC3339, vals["updated_at"])
	return f, true, nil
}

// MarkManifested flips a file to manifested, records the manifest location,
// and drops it from the pending index.
func (s *Store) MarkManifested(ctx context.Context, partition, name, manifestPath string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, fileKey(partition, name),
		"status", models.StatusManifested,
		"manifest_path", manifestPath,
		"updated_at", now,
	)
	pipe.ZRem(ctx, pendingKey(partition), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark manifested %s/%s: %w", partition, name, err)
	}
	return nil
}

// UpdateTerminal sets a file's terminal status with the job run that
// processed it. A missing record (expired or never tracked) is an error so
// the caller can count it.
func (s *Store) UpdateTerminal(ctx context.Context, partition, name, status, jobRunID, errDetail string) error {
	exists, err := s.client.Exists(ctx, fileKey(partition, name)).Result()
	if err != nil {
		return fmt.Errorf("check record %s/%s: %w", partition, name, err)
	}
	if exists == 0 {
		return fmt.Errorf("no tracking record for %s/%s", partition, name)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	fields := []any{"status", status, "job_run_id", jobRunID, "updated_at", now}
	if errDetail != "" {
		fields = append(fields, "error", errDetail)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, fileKey(partition, name), fields...)
	pipe.ZRem(ctx, pendingKey(partition), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update terminal %s/%s: %w", partition, name, err)
	}
	return nil
}

// PutQuarantined writes a quarantine record with the longer retention
// window. Quarantined files never enter the pending index.
func (s *Store) PutQuarantined(ctx context.Context, f models.TrackedFile, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	key := fileKey(f.Partition, f.Name)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"path", f.Path,
		"size_bytes", f.SizeBytes,
		"status", models.StatusQuarantined,
		"error", reason,
		"created_at", now,
		"updated_at", now,
	)
	pipe.PExpire(ctx, key, s.quarantineRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("quarantine record %s/%s: %w", f.Partition, f.Name, err)
	}
	return nil
}

var createPendingScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'path', ARGV[1],
  'size_bytes', ARGV[2],
  'status', 'pending',
  'created_at', ARGV[3],
  'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('ZADD', KEYS[2], 0, ARGV[5])
return 1
`)
