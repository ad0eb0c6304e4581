// Package config loads runtime configuration from environment variables
// and per-tenant YAML profiles.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds service configuration. Per-tenant profile overlays are
// applied with ForTenant.
type Config struct {
	LogLevel string

	DatabaseDriver string
	DatabaseURL    string
	RedisURL       string

	// ProfilesDir is searched for profile_<tenant>.yaml overlays.
	ProfilesDir string

	HashAlgorithm  string
	RequireSchemas bool

	VerifyMaxEvents  int
	VerifyTimeBudget time.Duration
	VerifySweepSpec  string

	SnapshotMinEvents int
	SnapshotJobLimit  int

	// WorkflowMaxPerDay caps daily executions for workflows that set no cap
	// of their own. Zero leaves them unbounded.
	WorkflowMaxPerDay int

	MetricsAddr string

	TelemetryEnabled bool
	OTLPEndpoint     string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		LogLevel:          envOr("LOG_LEVEL", "INFO"),
		DatabaseDriver:    envOr("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:       envOr("DATABASE_URL", "file:evidentry.db?_pragma=journal_mode(WAL)"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ProfilesDir:       envOr("PROFILES_DIR", "profiles"),
		HashAlgorithm:     envOr("HASH_ALGORITHM", "sha256"),
		RequireSchemas:    envBool("REQUIRE_SCHEMAS", true),
		VerifyMaxEvents:   envInt("VERIFY_MAX_EVENTS", 10000),
		VerifyTimeBudget:  envDuration("VERIFY_TIME_BUDGET", 30*time.Second),
		VerifySweepSpec:   envOr("VERIFY_SWEEP_CRON", "@daily"),
		SnapshotMinEvents: envInt("SNAPSHOT_MIN_EVENTS", 20),
		SnapshotJobLimit:  envInt("SNAPSHOT_JOB_LIMIT", 500),
		WorkflowMaxPerDay: envInt("WORKFLOW_MAX_EXECUTIONS_PER_DAY", 0),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		TelemetryEnabled:  envBool("OTEL_ENABLED", false),
		OTLPEndpoint:      envOr("OTLP_ENDPOINT", "localhost:4317"),
	}
	if cfg.DatabaseDriver == "postgres" && os.Getenv("DATABASE_URL") == "" {
		cfg.DatabaseURL = "postgres://evidentry@localhost:5432/evidentry?sslmode=disable"
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
