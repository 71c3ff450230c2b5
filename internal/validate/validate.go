package validate

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// datePrefixRe matches the partition-key prefix files must carry.
var datePrefixRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})-`)

// Validator classifies arriving files as admissible or quarantinable using
// only the object key and reported size. Validation is pure: no I/O, and
// identical inputs always produce identical results.
type Validator struct {
	suffix         string
	expectedSizeMB float64
	tolerancePct   float64
}

// New builds a validator for the given content-type suffix and size envelope.
func New(suffix string, expectedSizeMB, tolerancePct float64) Validator {
	if suffix == "" {
		suffix = ".ndjson"
	}
	return Validator{
		suffix:         suffix,
		expectedSizeMB: expectedSizeMB,
		tolerancePct:   tolerancePct,
	}
}

// Result is the outcome of validating one arrival.
type Result struct {
	Admissible bool
	Partition  string
	Reason     string
}

// Validate applies the admission checks in order; the first failure wins.
// The partition key is extracted whenever the name carries one, even for
// rejected files, so quarantine records can still be grouped by date.
func (v Validator) Validate(key string, sizeBytes int64) Result {
	name := path.Base(key)
	partition := ""
	if m := datePrefixRe.FindStringSubmatch(name); m != nil {
		partition = m[1]
	}

	if !strings.HasSuffix(name, v.suffix) {
		return Result{Partition: partition, Reason: fmt.Sprintf("invalid file extension: %s", name)}
	}
	if partition == "" {
		return Result{Reason: fmt.Sprintf("invalid filename format (expected yyyy-mm-dd-*): %s", name)}
	}

	sizeMB := float64(sizeBytes) / (1024 * 1024)
	lo := v.expectedSizeMB * (1 - v.tolerancePct/100)
	hi := v.expectedSizeMB * (1 + v.tolerancePct/100)
	if sizeMB < lo || sizeMB > hi {
		return Result{
			Partition: partition,
			Reason: fmt.Sprintf("unexpected file size: %.2fMB (expected ~%.1fMB ±%.0f%%)",
				sizeMB, v.expectedSizeMB, v.tolerancePct),
		}
	}

	return Result{Admissible: true, Partition: partition}
}
