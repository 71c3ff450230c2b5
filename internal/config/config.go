package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds shared runtime configuration for the coordinator service.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ManifestBucket   string
	QuarantineBucket string
	AWSRegion        string
	S3Endpoint       string
	S3PathStyle      bool

	BatchTargetGB       float64
	ExpectedFileSizeMB  float64
	SizeTolerancePct    float64
	LeaseTTL            time.Duration
	PendingPageSize     int
	PendingRetention    time.Duration
	QuarantineRetention time.Duration

	JobName           string
	RunnerBaseURL     string
	RunnerTimeout     time.Duration
	AlertTopicARN     string
	MetricsDSN        string
	ExpectedRunMin    time.Duration
	ExpectedRunMax    time.Duration
	CostPerWorkerHour float64
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ManifestBucket:   getEnv("MANIFEST_BUCKET", ""),
		QuarantineBucket: getEnv("QUARANTINE_BUCKET", ""),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3PathStyle:      getEnvBool("S3_PATH_STYLE", false),

		BatchTargetGB:       getEnvFloat("BATCH_TARGET_GB", 1.0),
		ExpectedFileSizeMB:  getEnvFloat("EXPECTED_FILE_SIZE_MB", 3.5),
		SizeTolerancePct:    getEnvFloat("SIZE_TOLERANCE_PERCENT", 10),
		LeaseTTL:            getEnvDuration("LEASE_TTL", 300*time.Second),
		PendingPageSize:     getEnvInt("PENDING_PAGE_SIZE", 500),
		PendingRetention:    getEnvDuration("PENDING_RETENTION", 7*24*time.Hour),
		QuarantineRetention: getEnvDuration("QUARANTINE_RETENTION", 30*24*time.Hour),

		JobName:           getEnv("JOB_NAME", "ndjson-batch-loader"),
		RunnerBaseURL:     getEnv("RUNNER_BASE_URL", ""),
		RunnerTimeout:     getEnvDuration("RUNNER_TIMEOUT", 10*time.Second),
		AlertTopicARN:     getEnv("ALERT_TOPIC_ARN", ""),
		MetricsDSN:        getEnv("METRICS_DSN", ""),
		ExpectedRunMin:    getEnvDuration("EXPECTED_RUN_MIN", 2*time.Minute),
		ExpectedRunMax:    getEnvDuration("EXPECTED_RUN_MAX", 5*time.Minute),
		CostPerWorkerHour: getEnvFloat("COST_PER_WORKER_HOUR", 0.44),
	}
}

// BatchTargetBytes converts the configured batch target into bytes.
func (c Config) BatchTargetBytes() int64 {
	return int64(c.BatchTargetGB * 1024 * 1024 * 1024)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
