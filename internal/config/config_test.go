package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_NAME", "realestate")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadProductionDefaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("NODE_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 10, cfg.DB.ConnectionLimit)
	assert.Equal(t, 60*time.Second, cfg.DB.AcquireTimeout)
	assert.Equal(t, 300*time.Second, cfg.DB.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.WorkflowTimeout)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, cfg.RetryBackoff)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadDevelopmentDefaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("NODE_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 5, cfg.DB.ConnectionLimit)
	assert.Equal(t, 30*time.Second, cfg.DB.AcquireTimeout)
	assert.Equal(t, 180*time.Second, cfg.DB.IdleTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMillisecondTimeouts(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DB_ACQUIRE_TIMEOUT", "1500")
	t.Setenv("DB_TIMEOUT", "2s")
	t.Setenv("DB_CONNECTION_LIMIT", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.DB.AcquireTimeout)
	assert.Equal(t, 2*time.Second, cfg.DB.Timeout)
	assert.Equal(t, 7, cfg.DB.ConnectionLimit)
}

func TestLoadAllowedOriginsAndTLS(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("DB_SSL_REJECT_UNAUTHORIZED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "skip-verify", cfg.DB.TLSMode)
}

func TestLoadRejectsMissingSettings(t *testing.T) {
	t.Setenv("DB_USER", "")
	t.Setenv("DB_NAME", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_USER")
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadSQLiteNeedsNoCredentials(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_NAME", "")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
}

func TestRateLimitConfigClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 10*time.Second, cfg.TTL)

	enq := LoadEnquiryRateLimitConfig()
	assert.Equal(t, "ip", enq.KeyStrategy)
	assert.Equal(t, 5, enq.Capacity)
}
