package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 20, cfg.DBPoolSize)
	assert.Equal(t, 60, cfg.RateLimitNormal)
	assert.Equal(t, 120, cfg.RateLimitGlobal)
	assert.Equal(t, 10, cfg.MaxConnectionsPerIP)
	assert.Equal(t, 0.1, cfg.AnomalyContamination)
	assert.True(t, cfg.SchedulerEnabled)
	assert.True(t, cfg.WebSocketEnabled)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ENMS_PORT", "9100")
	t.Setenv("ENMS_DB_POOL_SIZE", "50")
	t.Setenv("ENMS_SCHEDULER_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.False(t, cfg.SchedulerEnabled)
	// Pool size is capped.
	assert.Equal(t, 30, cfg.DBPoolSize)
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		DBHost: "db.local", DBPort: 5433, DBName: "enms",
		DBUser: "svc", DBPassword: "secret", DBSSLMode: "require",
	}
	assert.Equal(t,
		"host=db.local port=5433 dbname=enms user=svc password=secret sslmode=require",
		cfg.DSN())
}

func TestBusAddr(t *testing.T) {
	cfg := &Config{BusHost: "redis.local", BusPort: 6380}
	assert.Equal(t, "redis.local:6380", cfg.BusAddr())
}
