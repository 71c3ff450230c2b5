package validate

import (
	"strings"
	"testing"
)

const mb = 1024 * 1024

var mbf = float64(mb)

func TestValidate(t *testing.T) {
	v := New(".ndjson", 3.5, 10)

	cases := []struct {
		name       string
		key        string
		size       int64
		admissible bool
		partition  string
		reason     string
	}{
		{
			name:       "valid file",
			key:        "incoming/2025-01-01-f001.ndjson",
			size:       int64(3.5 * mb),
			admissible: true,
			partition:  "2025-01-01",
		},
		{
			name:      "wrong extension",
			key:       "incoming/bad.csv",
			size:      int64(3.5 * mb),
			partition: "",
			reason:    "extension",
		},
		{
			name:   "missing date prefix",
			key:    "incoming/records-batch-7.ndjson",
			reason: "filename format",
		},
		{
			name:      "too small",
			key:       "2025-01-01-f002.ndjson",
			size:      2 * mb,
			partition: "2025-01-01",
			reason:    "unexpected file size",
		},
		{
			name:      "too large",
			key:       "2025-01-01-f003.ndjson",
			size:      5 * mb,
			partition: "2025-01-01",
			reason:    "unexpected file size",
		},
		{
			name:       "near lower tolerance bound",
			key:        "2025-01-01-f004.ndjson",
			size:       int64(3.2 * mbf),
			admissible: true,
			partition:  "2025-01-01",
		},
		{
			name:       "near upper tolerance bound",
			key:        "2025-01-01-f005.ndjson",
			size:       int64(3.8 * mbf),
			admissible: true,
			partition:  "2025-01-01",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate(tc.key, tc.size)
			if res.Admissible != tc.admissible {
				t.Fatalf("admissible = %v, want %v (reason=%q)", res.Admissible, tc.admissible, res.Reason)
			}
			if res.Partition != tc.partition {
				t.Fatalf("partition = %q, want %q", res.Partition, tc.partition)
			}
			if tc.reason != "" && !strings.Contains(res.Reason, tc.reason) {
				t.Fatalf("reason %q does not mention %q", res.Reason, tc.reason)
			}
			if tc.admissible && res.Reason != "" {
				t.Fatalf("unexpected reason for admissible file: %q", res.Reason)
			}
		})
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	v := New(".ndjson", 3.5, 10)
	first := v.Validate("2025-06-30-a.ndjson", 3*mb)
	for i := 0; i < 5; i++ {
		if got := v.Validate("2025-06-30-a.ndjson", 3*mb); got != first {
			t.Fatalf("result changed between identical calls: %+v vs %+v", got, first)
		}
	}
}

func TestValidateChecksExtensionBeforeSize(t *testing.T) {
	v := New(".ndjson", 3.5, 10)
	// A file failing multiple checks reports the first one.
	res := v.Validate("2025-01-01-bad.csv", 1)
	if !strings.Contains(res.Reason, "extension") {
		t.Fatalf("expected extension failure first, got %q", res.Reason)
	}
	if res.Partition != "2025-01-01" {
		t.Fatalf("partition should still be extracted, got %q", res.Partition)
	}
}
