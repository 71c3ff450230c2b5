package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Empty values read as unset, shielding the test from the ambient env.
	for _, key := range []string{"AWS_REGION", "LEASE_TTL", "BATCH_TARGET_GB", "EXPECTED_FILE_SIZE_MB", "SIZE_TOLERANCE_PERCENT"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.AWSRegion != "us-east-1" {
		t.Fatalf("region = %q", cfg.AWSRegion)
	}
	if cfg.LeaseTTL != 300*time.Second {
		t.Fatalf("lease ttl = %s", cfg.LeaseTTL)
	}
	if cfg.BatchTargetBytes() != 1<<30 {
		t.Fatalf("batch target = %d", cfg.BatchTargetBytes())
	}
	if cfg.ExpectedFileSizeMB != 3.5 || cfg.SizeTolerancePct != 10 {
		t.Fatalf("size envelope: %v ±%v%%", cfg.ExpectedFileSizeMB, cfg.SizeTolerancePct)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("BATCH_TARGET_GB", "2.5")
	t.Setenv("LEASE_TTL", "90s")
	t.Setenv("S3_PATH_STYLE", "true")

	cfg := Load()
	if cfg.AWSRegion != "eu-west-1" {
		t.Fatalf("region = %q", cfg.AWSRegion)
	}
	if cfg.BatchTargetBytes() != int64(2.5*(1<<30)) {
		t.Fatalf("batch target = %d", cfg.BatchTargetBytes())
	}
	if cfg.LeaseTTL != 90*time.Second {
		t.Fatalf("lease ttl = %s", cfg.LeaseTTL)
	}
	if !cfg.S3PathStyle {
		t.Fatal("path style not picked up")
	}
}
