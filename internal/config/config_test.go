package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/queuectl/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/queuectl")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, int32(20), cfg.DBMaxConns)
	assert.Equal(t, 30*time.Second, cfg.DBMaxConnIdleTime)
	assert.Equal(t, 10*time.Second, cfg.DBConnectTimeout)
	assert.Equal(t, 14000, cfg.DBStatementTimeoutMS)
	assert.Equal(t, "extended_protocol", cfg.DBQueryExecMode)
	assert.Equal(t, 60*time.Second, cfg.ShutdownTimeout())
	assert.Empty(t, cfg.StatusAddr)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/queuectl")
	t.Setenv("DB_MAX_CONNS", "5")
	t.Setenv("DB_QUERY_EXEC_MODE", "simple_protocol")
	t.Setenv("STATUS_ADDR", ":9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "5")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, int32(5), cfg.DBMaxConns)
	assert.Equal(t, "simple_protocol", cfg.DBQueryExecMode)
	assert.Equal(t, ":9090", cfg.StatusAddr)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"DB_QUERY_EXEC_MODE":        "cache_everything",
		"DB_MAX_CONNS":              "0",
		"SHUTDOWN_TIMEOUT_SECONDS":  "0",
		"STATUS_RATE_LIMIT_PER_MIN": "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/queuectl")
			t.Setenv(key, value)
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
