package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "distflow-backend", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "distflow", cfg.Database.DBName)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "0 * * * *", cfg.Sweeper.CronSchedule)
	assert.Equal(t, 10*time.Minute, cfg.Sweeper.LeaderLockTTL)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 1.0, cfg.Telemetry.SamplingRatio)
	assert.Equal(t, 200*time.Millisecond, cfg.Telemetry.DBSlowQueryThresh)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DISTFLOW_DATABASE_HOST", "db.internal")
	t.Setenv("DISTFLOW_DATABASE_PORT", "5433")
	t.Setenv("DISTFLOW_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ProductionValidation(t *testing.T) {
	t.Setenv("DISTFLOW_APP_ENV", "production")
	t.Setenv("DISTFLOW_DATABASE_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.password is required")
}

func TestLoad_SweeperScheduleValidation(t *testing.T) {
	t.Setenv("DISTFLOW_SWEEPER_ENABLED", "true")
	t.Setenv("DISTFLOW_SWEEPER_CRON_SCHEDULE", "not a cron")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cron_schedule")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "p@ss/word",
		DBName:   "distflow",
		SSLMode:  "disable",
	}

	dsn := d.DSN()
	assert.Contains(t, dsn, "postgres://")
	assert.Contains(t, dsn, "p%40ss%2Fword")
	assert.Contains(t, dsn, "sslmode=disable")
}

func TestRedisConfig_Addr(t *testing.T) {
	r := RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", r.Addr())
}
