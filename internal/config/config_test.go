package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "iot_platform", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, TransportPostgres, cfg.Feed.Transport)
	assert.Equal(t, "iot_changes", cfg.Feed.Channel)
	assert.Equal(t, 50, cfg.Realtime.ReadingsLimit)
	assert.Equal(t, 50, cfg.Realtime.NotificationsLimit)
	assert.Equal(t, 5, cfg.Realtime.SnapshotDeviceCap)
	assert.Equal(t, 5*time.Minute, cfg.Realtime.SummaryCacheTTL)
	assert.Equal(t, "HIGH", cfg.Webhook.MinSeverity)
	assert.Empty(t, cfg.Webhook.URL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("FEED_TRANSPORT", "redis")
	os.Setenv("FEED_STREAM", "changes:test")
	os.Setenv("READINGS_LIMIT", "2")
	os.Setenv("SUMMARY_CACHE_TTL", "30s")
	os.Setenv("ALERT_WEBHOOK_URL", "http://hooks.local/alerts")
	os.Setenv("LOG_LEVEL", "debug")
	defer os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, "test-db", cfg.Database.Database)
	assert.Equal(t, TransportRedis, cfg.Feed.Transport)
	assert.Equal(t, "changes:test", cfg.Feed.Stream)
	assert.Equal(t, 2, cfg.Realtime.ReadingsLimit)
	assert.Equal(t, 30*time.Second, cfg.Realtime.SummaryCacheTTL)
	assert.Equal(t, "http://hooks.local/alerts", cfg.Webhook.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	path := filepath.Join(t.TempDir(), "realtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
feed:
  transport: mqtt
  topic_prefix: plant/changes
realtime:
  readings_limit: 10
  summary_cache_ttl: 1m
webhook:
  min_severity: CRITICAL
`), 0o600))
	os.Setenv("CONFIG_FILE", path)
	// 环境变量优先于文件
	os.Setenv("READINGS_LIMIT", "20")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportMQTT, cfg.Feed.Transport)
	assert.Equal(t, "plant/changes", cfg.Feed.TopicPrefix)
	assert.Equal(t, 20, cfg.Realtime.ReadingsLimit)
	assert.Equal(t, time.Minute, cfg.Realtime.SummaryCacheTTL)
	assert.Equal(t, "CRITICAL", cfg.Webhook.MinSeverity)
	// 文件未设置的字段保持默认值
	assert.Equal(t, 5, cfg.Realtime.SnapshotDeviceCap)
}

func TestLoad_InvalidValues(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	os.Setenv("FEED_TRANSPORT", "kafka")
	_, err := Load()
	assert.Error(t, err)

	os.Setenv("FEED_TRANSPORT", "memory")
	os.Setenv("READINGS_LIMIT", "0")
	_, err = Load()
	assert.Error(t, err)

	_, err = func() (*Config, error) {
		os.Setenv("READINGS_LIMIT", "5")
		os.Setenv("CONFIG_FILE", "/nonexistent/realtime.yaml")
		return Load()
	}()
	assert.Error(t, err)
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_VAR", "test-value")
	defer os.Unsetenv("TEST_VAR")

	assert.Equal(t, "test-value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default-value", getEnv("NON_EXISTENT_VAR", "default-value"))
	assert.Equal(t, 7, getEnvInt("NON_EXISTENT_VAR", 7))
}
