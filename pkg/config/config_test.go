package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "file:evidentry.db?_pragma=journal_mode(WAL)", cfg.DatabaseURL)
	assert.Equal(t, "sha256", cfg.HashAlgorithm)
	assert.Equal(t, 10000, cfg.VerifyMaxEvents)
	assert.Equal(t, 30*time.Second, cfg.VerifyTimeBudget)
	assert.Equal(t, "@daily", cfg.VerifySweepSpec)
	assert.Equal(t, 20, cfg.SnapshotMinEvents)
	assert.Equal(t, 500, cfg.SnapshotJobLimit)
	assert.Equal(t, "profiles", cfg.ProfilesDir)
	assert.True(t, cfg.RequireSchemas)
	assert.Zero(t, cfg.WorkflowMaxPerDay)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://app@db:5432/ledger")
	t.Setenv("HASH_ALGORITHM", "sha3-256")
	t.Setenv("VERIFY_MAX_EVENTS", "250")
	t.Setenv("VERIFY_TIME_BUDGET", "5s")

	cfg := Load()

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "postgres://app@db:5432/ledger", cfg.DatabaseURL)
	assert.Equal(t, "sha3-256", cfg.HashAlgorithm)
	assert.Equal(t, 250, cfg.VerifyMaxEvents)
	assert.Equal(t, 5*time.Second, cfg.VerifyTimeBudget)
}

func TestPostgresDriverGetsPostgresDefaultURL(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")

	cfg := Load()
	assert.Equal(t, "postgres://evidentry@localhost:5432/evidentry?sslmode=disable", cfg.DatabaseURL)
}

func TestMalformedNumericEnvFallsBack(t *testing.T) {
	t.Setenv("VERIFY_MAX_EVENTS", "lots")
	t.Setenv("VERIFY_TIME_BUDGET", "soon")

	cfg := Load()
	assert.Equal(t, 10000, cfg.VerifyMaxEvents)
	assert.Equal(t, 30*time.Second, cfg.VerifyTimeBudget)
}
