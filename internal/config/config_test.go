package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "STORE_BACKEND", "CODE_TTL", "SEED_DEMO_DATA", "CORS_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 15*time.Minute, cfg.CodeTTL)
	assert.True(t, cfg.SeedDemoData)
	assert.Nil(t, cfg.CORSOrigins)
	assert.False(t, cfg.Production())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("CODE_TTL", "5m")
	t.Setenv("SWEEP_INTERVAL", "not-a-duration")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("SEED_DEMO_DATA", "0")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")

	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, 5*time.Minute, cfg.CodeTTL)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.False(t, cfg.SeedDemoData)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(file, []byte("HTTP_PORT=9999\nREDIS_ADDR=redis.test:6379\n"), 0o600))

	t.Setenv("HTTP_PORT", "7000")
	t.Setenv("REDIS_ADDR", "")
	require.NoError(t, os.Unsetenv("REDIS_ADDR"))

	LoadDotEnv(file, filepath.Join(dir, "missing.env"))
	cfg := Load()
	assert.Equal(t, "7000", cfg.HTTPPort)
	assert.Equal(t, "redis.test:6379", cfg.RedisAddr)
}

func TestSharedStore(t *testing.T) {
	for backend, shared := range map[string]bool{"": false, "memory": false, "redis": true, "postgres": true, "sqlite": true} {
		assert.Equal(t, shared, App{StoreBackend: backend}.SharedStore(), backend)
	}
}
