package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := fromEnv()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 8*time.Second, cfg.PlayerLoadTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.PlayerEmbedPollInterval)
	assert.Equal(t, float64(1), cfg.PlayerSnapshotRate)
	assert.Equal(t, "cadence", cfg.MinioBucket)
	assert.False(t, cfg.MinioUseSSL)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("PLAYER_LOAD_TIMEOUT", "3s")
	t.Setenv("PLAYER_EMBED_POLL_INTERVAL", "100ms")
	t.Setenv("IMPORT_USER_ID", "42")

	cfg := fromEnv()

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.MinioUseSSL)
	assert.Equal(t, 3*time.Second, cfg.PlayerLoadTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.PlayerEmbedPollInterval)
	assert.Equal(t, int64(42), cfg.ImportUserID)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("REDIS_DB", "three")
	t.Setenv("PLAYER_LOAD_TIMEOUT", "soon")
	t.Setenv("MINIO_USE_SSL", "maybe")

	cfg := fromEnv()

	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 8*time.Second, cfg.PlayerLoadTimeout)
	assert.False(t, cfg.MinioUseSSL)
}
