package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sciffer/beermqtt/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Run("load with defaults", func(t *testing.T) {
		// Auth requires a secret, so disable it for the defaults check
		t.Setenv("BEERMQTT_AUTH_ENABLED", "false")

		cfg, err := config.Load("")
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, "info", cfg.Server.LogLevel)
		assert.Equal(t, 1883, cfg.MQTT.Port)
		assert.Equal(t, "metrics", cfg.MQTT.Topic)
		assert.Equal(t, 5*time.Second, cfg.MQTT.IngestTimeoutDuration())
		assert.Equal(t, 64, cfg.MQTT.MaxConcurrentIngest)
		assert.Equal(t, "./beermqtt.db", cfg.Database.Path)
		assert.Empty(t, cfg.Database.DSN)
		assert.False(t, cfg.Auth.Enabled)
		assert.Equal(t, 10, cfg.Hives.MaxCreateAttempts)
		assert.Equal(t, uint32(64*1024), cfg.Hives.HashMemoryKiB)
		assert.True(t, cfg.Metrics.Enabled)
	})

	t.Run("override with environment variables", func(t *testing.T) {
		t.Setenv("BEERMQTT_PORT", "9090")
		t.Setenv("BEERMQTT_LOG_LEVEL", "debug")
		t.Setenv("BEERMQTT_MQTT_PORT", "2883")
		t.Setenv("BEERMQTT_MQTT_TOPIC", "readings")
		t.Setenv("BEERMQTT_DB_DSN", "postgres://localhost/beer")
		t.Setenv("BEERMQTT_AUTH_ENABLED", "true")
		t.Setenv("BEERMQTT_AUTH_SECRET", "s3cret")

		cfg, err := config.Load("")
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Server.LogLevel)
		assert.Equal(t, 2883, cfg.MQTT.Port)
		assert.Equal(t, "0.0.0.0:2883", cfg.MQTT.Address())
		assert.Equal(t, "readings", cfg.MQTT.Topic)
		assert.Equal(t, "postgres://localhost/beer", cfg.Database.DSN)
		assert.True(t, cfg.Auth.Enabled)
		assert.Equal(t, "s3cret", cfg.Auth.Secret)
	})

	t.Run("load from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := []byte(`
server:
  port: 8181
mqtt:
  topic: hive/metrics
  rate_limit: 2
  rate_burst: 4
auth:
  enabled: false
hives:
  max_create_attempts: 3
`)
		require.NoError(t, os.WriteFile(path, data, 0o600))

		cfg, err := config.Load(path)
		require.NoError(t, err)

		assert.Equal(t, 8181, cfg.Server.Port)
		assert.Equal(t, "hive/metrics", cfg.MQTT.Topic)
		assert.Equal(t, 2.0, cfg.MQTT.RateLimit)
		assert.Equal(t, 4, cfg.MQTT.RateBurst)
		assert.Equal(t, 3, cfg.Hives.MaxCreateAttempts)
		// untouched sections keep their defaults
		assert.Equal(t, 1883, cfg.MQTT.Port)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("validation error - invalid port", func(t *testing.T) {
		t.Setenv("BEERMQTT_AUTH_ENABLED", "false")
		t.Setenv("BEERMQTT_PORT", "99999")

		_, err := config.Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid port")
	})

	t.Run("validation error - auth enabled without secret", func(t *testing.T) {
		t.Setenv("BEERMQTT_AUTH_ENABLED", "true")
		t.Setenv("BEERMQTT_AUTH_SECRET", "")

		_, err := config.Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth secret is required")
	})

	t.Run("validation error - zero concurrency", func(t *testing.T) {
		t.Setenv("BEERMQTT_AUTH_ENABLED", "false")
		t.Setenv("BEERMQTT_MAX_CONCURRENT_INGEST", "0")

		_, err := config.Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max concurrent ingest")
	})
}
