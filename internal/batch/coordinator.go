// Package batch forms size-bounded, partition-consistent batches from the
// stream of pending files. All serialization happens through the per
// partition lease; the coordinator itself holds no in-process state between
// invocations.
package batch

import (
	"context"
	"fmt"
	"log"
	"sort"

	"ndjson-pipeline/internal/lease"
	"ndjson-pipeline/internal/models"
	"ndjson-pipeline/internal/telemetry"
	"ndjson-pipeline/internal/track"
)

// Emitter writes one batch to durable storage and returns its location.
type Emitter interface {
	Emit(ctx context.Context, partition string, seq int, files []models.TrackedFile) (string, error)
}

// Coordinator merges newly admitted files with the pending backlog and cuts
// batches once a partition has accumulated enough volume.
type Coordinator struct {
	store       *track.Store
	leases      *lease.Manager
	emitter     Emitter
	targetBytes int64
	pageSize    int
}

// New builds a coordinator. pageSize bounds each tracking-store read.
func New(store *track.Store, leases *lease.Manager, emitter Emitter, targetBytes int64, pageSize int) *Coordinator {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Coordinator{
		store:       store,
		leases:      leases,
		emitter:     emitter,
		targetBytes: targetBytes,
		pageSize:    pageSize,
	}
}

// Result aggregates one Admit invocation across partitions.
type Result struct {
	ManifestsCreated int
	Errors           []string
}

// Admit runs one batch-formation pass over the partitions present in the
// input. Partitions are independent: a failure in one never aborts the
// others, and a held lease means another invocation is already forming
// batches there.
func (c *Coordinator) Admit(ctx context.Context, newFiles []models.TrackedFile) Result {
	groups := make(map[string][]models.TrackedFile)
	for _, f := range newFiles {
		groups[f.Partition] = append(groups[f.Partition], f)
	}
	partitions := make([]string, 0, len(groups))
	for p := range groups {
		partitions = append(partitions, p)
	}
	sort.Strings(partitions)

	var res Result
	for _, partition := range partitions {
		created, errs := c.processPartition(ctx, partition, groups[partition])
		res.ManifestsCreated += created
		res.Errors = append(res.Errors, errs...)
	}
	return res
}

func (c *Coordinator) processPartition(ctx context.Context, partition string, newFiles []models.TrackedFile) (int, []string) {
	held, ok, err := c.leases.Acquire(ctx, partition)
	if err != nil {
		telemetry.PartitionErrors.Inc()
		return 0, []string{fmt.Sprintf("acquire lease %s: %v", partition, err)}
	}
	if !ok {
		log.Printf("lease held for %s, skipping batch formation", partition)
		telemetry.LeaseContention.Inc()
		return 0, nil
	}
	defer func() {
		if err := held.Release(ctx); err != nil {
			log.Printf("release lease %s: %v", partition, err)
		}
	}()

	pending, err := c.readAllPending(ctx, partition)
	if err != nil {
		telemetry.PartitionErrors.Inc()
		return 0, []string{fmt.Sprintf("read pending %s: %v", partition, err)}
	}

	// The store is authoritative; invocation input only fills in files whose
	// tracking write raced this read. Dedupe by name either way.
	merged := make(map[string]models.TrackedFile, len(pending)+len(newFiles))
	for _, f := range pending {
		merged[f.Name] = f
	}
	for _, f := range newFiles {
		if _, seen := merged[f.Name]; !seen {
			merged[f.Name] = f
		}
	}

	files := make([]models.TrackedFile, 0, len(merged))
	var total int64
	for _, f := range merged {
		files = append(files, f)
		total += f.SizeBytes
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	if total < c.targetBytes {
		log.Printf("partition %s: %.2fGB pending, below %.2fGB target", partition,
			float64(total)/(1<<30), float64(c.targetBytes)/(1<<30))
		return 0, nil
	}

	batches := split(files, c.targetBytes)

	created := 0
	var errs []string
	for i, b := range batches {
		location, err := c.emitter.Emit(ctx, partition, i+1, b)
		if err != nil {
			telemetry.PartitionErrors.Inc()
			errs = append(errs, fmt.Sprintf("emit batch %d for %s: %v", i+1, partition, err))
			continue
		}
		created++
		telemetry.ManifestsCreated.Inc()
		for _, f := range b {
			if err := c.store.MarkManifested(ctx, partition, f.Name, location); err != nil {
				// The file stays pending and will be retried next pass.
				errs = append(errs, fmt.Sprintf("mark manifested %s/%s: %v", partition, f.Name, err))
			}
		}
	}
	return created, errs
}

// readAllPending pages through the pending set until the continuation token
// runs out. Hot partitions routinely exceed a single page.
func (c *Coordinator) readAllPending(ctx context.Context, partition string) ([]models.TrackedFile, error) {
	var files []models.TrackedFile
	after := ""
	for {
		page, next, err := c.store.PendingPage(ctx, partition, after, c.pageSize)
		if err != nil {
			return nil, err
		}
		files = append(files, page...)
		if next == "" {
			return files, nil
		}
		after = next
	}
}

// split packs sorted files into consecutive batches up to targetBytes. The
// trailing remainder is emitted only when it reaches half the target or is
// the sole batch of the pass; otherwise it stays pending for a later pass.
func split(files []models.TrackedFile, targetBytes int64) [][]models.TrackedFile {
	var batches [][]models.TrackedFile
	var current []models.TrackedFile
	var currentSize int64

	for _, f := range files {
		if currentSize+f.SizeBytes > targetBytes && len(current) > 0 {
			batches = append(batches, current)
			current = []models.TrackedFile{f}
			currentSize = f.SizeBytes
			continue
		}
		current = append(current, f)
		currentSize += f.SizeBytes
	}

	if len(current) > 0 {
		if currentSize >= targetBytes/2 || len(batches) == 0 {
			batches = append(batches, current)
		} else {
			log.Printf("holding %d files (%.2fGB) for a future batch", len(current), float64(currentSize)/(1<<30))
		}
	}
	return batches
}
