package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/common/config"

	"gopkg.in/yaml.v3"
)

// 变更流传输方式
const (
	TransportPostgres = "postgres"
	TransportRedis    = "redis"
	TransportMQTT     = "mqtt"
	TransportMemory   = "memory"
)

// Config 实时对账服务配置
type Config struct {
	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	// 变更流（数据库行级变更的来源）
	Feed struct {
		Transport    string                `yaml:"transport"`      // postgres | redis | mqtt | memory
		Channel      string                `yaml:"channel"`        // Postgres NOTIFY 频道
		Stream       string                `yaml:"stream"`         // Redis Stream 名称
		StreamMaxLen int64                 `yaml:"stream_max_len"` // 发布时近似裁剪长度
		TopicPrefix  string                `yaml:"topic_prefix"`   // MQTT 主题前缀，主题为 {prefix}/{table}
		Listener     config.ListenerConfig `yaml:"listener"`
	} `yaml:"feed"`

	// 视图对账参数
	Realtime struct {
		ReadingsLimit      int           `yaml:"readings_limit"`      // 每个 (设备, 类型) 保留的读数条数
		NotificationsLimit int           `yaml:"notifications_limit"` // 0 表示不限
		SnapshotDeviceCap  int           `yaml:"snapshot_device_cap"` // 快照只为前 N 台设备加载读数
		InboxSize          int           `yaml:"inbox_size"`          // 每个视图事件队列容量
		SummaryCacheTTL    time.Duration `yaml:"summary_cache_ttl"`
	} `yaml:"realtime"`

	// 报警 webhook 推送（URL 为空则不启用）
	Webhook struct {
		URL         string        `yaml:"url"`
		MinSeverity string        `yaml:"min_severity"`
		Timeout     time.Duration `yaml:"timeout"`
		RetryCount  int           `yaml:"retry_count"`
	} `yaml:"webhook"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaults() *Config {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "iot_platform"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 20
	cfg.Database.MaxIdle = 5

	cfg.Redis.Addr = "localhost:6379"
	// 变更流 XREAD 长期占用一个连接，其余给摘要写入
	cfg.Redis.PoolSize = 10
	cfg.Redis.DialTimeout = 5 * time.Second

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "iot-realtime"
	cfg.MQTT.QoS = 1

	cfg.HTTP.Addr = ":8080"

	cfg.Feed.Transport = TransportPostgres
	cfg.Feed.Channel = "iot_changes"
	cfg.Feed.Stream = "iot:changes"
	cfg.Feed.StreamMaxLen = 10000
	cfg.Feed.TopicPrefix = "iot/changes"
	cfg.Feed.Listener.MinReconnect = 10 * time.Second
	cfg.Feed.Listener.MaxReconnect = time.Minute
	cfg.Feed.Listener.PingInterval = 90 * time.Second

	cfg.Realtime.ReadingsLimit = 50
	cfg.Realtime.NotificationsLimit = 50
	cfg.Realtime.SnapshotDeviceCap = 5
	cfg.Realtime.InboxSize = 256
	cfg.Realtime.SummaryCacheTTL = 5 * time.Minute

	cfg.Webhook.MinSeverity = "HIGH"
	cfg.Webhook.Timeout = 10 * time.Second
	cfg.Webhook.RetryCount = 3

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Load 加载配置
// 优先级：环境变量 > CONFIG_FILE 指定的 YAML 文件 > 默认值
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Database.LoadFromEnv("DB")
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.Feed.Listener.LoadFromEnv("FEED_LISTENER")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Feed.Transport = getEnv("FEED_TRANSPORT", cfg.Feed.Transport)
	cfg.Feed.Channel = getEnv("FEED_CHANNEL", cfg.Feed.Channel)
	cfg.Feed.Stream = getEnv("FEED_STREAM", cfg.Feed.Stream)
	cfg.Feed.TopicPrefix = getEnv("FEED_TOPIC_PREFIX", cfg.Feed.TopicPrefix)

	cfg.Realtime.ReadingsLimit = getEnvInt("READINGS_LIMIT", cfg.Realtime.ReadingsLimit)
	cfg.Realtime.NotificationsLimit = getEnvInt("NOTIFICATIONS_LIMIT", cfg.Realtime.NotificationsLimit)
	cfg.Realtime.SnapshotDeviceCap = getEnvInt("SNAPSHOT_DEVICE_CAP", cfg.Realtime.SnapshotDeviceCap)
	cfg.Realtime.InboxSize = getEnvInt("VIEW_INBOX_SIZE", cfg.Realtime.InboxSize)
	cfg.Realtime.SummaryCacheTTL = getEnvDuration("SUMMARY_CACHE_TTL", cfg.Realtime.SummaryCacheTTL)

	cfg.Webhook.URL = getEnv("ALERT_WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.MinSeverity = getEnv("ALERT_WEBHOOK_MIN_SEVERITY", cfg.Webhook.MinSeverity)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置取值范围
func (c *Config) Validate() error {
	switch c.Feed.Transport {
	case TransportPostgres, TransportRedis, TransportMQTT, TransportMemory:
	default:
		return fmt.Errorf("invalid FEED_TRANSPORT %q", c.Feed.Transport)
	}
	if c.Realtime.ReadingsLimit <= 0 {
		return fmt.Errorf("READINGS_LIMIT must be positive, got %d", c.Realtime.ReadingsLimit)
	}
	if c.Realtime.NotificationsLimit < 0 {
		return fmt.Errorf("NOTIFICATIONS_LIMIT must not be negative, got %d", c.Realtime.NotificationsLimit)
	}
	if c.Realtime.SnapshotDeviceCap < 0 {
		return fmt.Errorf("SNAPSHOT_DEVICE_CAP must not be negative, got %d", c.Realtime.SnapshotDeviceCap)
	}
	if c.Realtime.InboxSize <= 0 {
		return fmt.Errorf("VIEW_INBOX_SIZE must be positive, got %d", c.Realtime.InboxSize)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
