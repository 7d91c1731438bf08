package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSQLiteDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("LOCK_TIMEOUT", "")
	t.Setenv("RETURN_REMINDER_OFFSETS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "hublend.db", cfg.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, []time.Duration{0, 72 * time.Hour}, cfg.Scheduler.ReturnReminderOffsets)
	assert.Equal(t, 3, cfg.Scheduler.RestrictionThreshold)
	assert.Equal(t, 2, cfg.Scheduler.WarningThreshold)
	assert.Equal(t, 720*time.Hour, cfg.Scheduler.RestrictionPeriod)
	assert.True(t, cfg.Telemetry.Development)
}

func TestLoadReportsEveryMissingVar(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_NAME", "")

	_, err := Load()
	require.Error(t, err)
	for _, key := range []string{"APP_ENV", "JWT_SECRET", "DB_USER", "DB_HOST", "DB_NAME"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("DB_DRIVER", "postgres")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
}

func TestParseOffsets(t *testing.T) {
	got, err := ParseOffsets(" 72h, 0s ,24h")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, 24 * time.Hour, 72 * time.Hour}, got)

	_, err = ParseOffsets("-1h")
	assert.Error(t, err)
	_, err = ParseOffsets("soon")
	assert.Error(t, err)
}

func TestEnvHelpersFallBack(t *testing.T) {
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_INT", "ten")
	t.Setenv("X_DUR", "3s")
	assert.True(t, envBool("X_BOOL", true))
	assert.Equal(t, 7, envInt("X_INT", 7))
	assert.Equal(t, 3*time.Second, envDur("X_DUR", time.Second))
}

func TestRateLimitTTLCoversRefill(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "1m")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	cfg := LoadRateLimitConfig()
	assert.GreaterOrEqual(t, cfg.TTL, 10*time.Minute)
}
