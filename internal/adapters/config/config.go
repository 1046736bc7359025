package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents application configuration
type Config struct {
	Index      IndexConfig
	Database   DatabaseConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	MarketCap  MarketCapConfig
	Feed       FeedConfig
	Telegram   TelegramConfig
	Health     HealthConfig
	Logging    LoggingConfig
}

// HealthConfig represents the health endpoint parameters
type HealthConfig struct {
	Addr string `envconfig:"HEALTH_ADDR" default:":8080"`
}

// IndexConfig represents index engine parameters
type IndexConfig struct {
	Name                 string        `envconfig:"INDEX_NAME" default:"LCI"`
	Source               string        `envconfig:"INDEX_SOURCE" default:"lci"`
	InitialValue         float64       `envconfig:"INDEX_INITIAL_VALUE" default:"1000"`
	CalcInterval         time.Duration `envconfig:"INDEX_CALC_INTERVAL" default:"1m"`
	RebuildCheckInterval time.Duration `envconfig:"INDEX_REBUILD_CHECK_INTERVAL" default:"10m"`
	FreezeEnabled        bool          `envconfig:"INDEX_FREEZE_ENABLED" default:"true"`
	ResetRecoveryEnabled bool          `envconfig:"INDEX_RESET_RECOVERY_ENABLED" default:"true"`
	ShutdownTimeout      time.Duration `envconfig:"INDEX_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig represents PostgreSQL connection parameters
type DatabaseConfig struct {
	Host           string `envconfig:"DB_HOST" default:"localhost"`
	Port           int    `envconfig:"DB_PORT" default:"5432"`
	Name           string `envconfig:"DB_NAME" default:"cryptoindex"`
	User           string `envconfig:"DB_USER" required:"true"`
	Password       string `envconfig:"DB_PASSWORD" required:"true"`
	SSLMode        string `envconfig:"DB_SSLMODE" default:"disable"`
	MigrationsPath string `envconfig:"DB_MIGRATIONS_PATH" default:"migrations"`
}

// ClickHouseConfig represents ClickHouse connection parameters (index history)
type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"cryptoindex"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD" required:"false"`
}

// RedisConfig represents Redis parameters (publication + engine ownership lock)
type RedisConfig struct {
	Host           string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port           int           `envconfig:"REDIS_PORT" default:"6379"`
	Password       string        `envconfig:"REDIS_PASSWORD" required:"false"`
	DB             int           `envconfig:"REDIS_DB" default:"0"`
	PublishChannel string        `envconfig:"REDIS_PUBLISH_CHANNEL" default:"index-ticks"`
	LockKey        string        `envconfig:"REDIS_LOCK_KEY" default:"crypto-index:engine"`
	LockTTL        time.Duration `envconfig:"REDIS_LOCK_TTL" default:"1m"`
}

// MarketCapConfig represents the market-capitalization provider parameters
type MarketCapConfig struct {
	BaseURL  string        `envconfig:"MARKETCAP_BASE_URL" default:"https://api.coingecko.com/api/v3"`
	Currency string        `envconfig:"MARKETCAP_CURRENCY" default:"usd"`
	PageSize int           `envconfig:"MARKETCAP_PAGE_SIZE" default:"250"`
	Timeout  time.Duration `envconfig:"MARKETCAP_TIMEOUT" default:"10s"`
}

// FeedConfig represents the inbound tick price feed parameters
type FeedConfig struct {
	URL            string        `envconfig:"FEED_URL" default:"wss://api-pub.bitfinex.com/ws/2"`
	Source         string        `envconfig:"FEED_SOURCE" default:"bitfinex"`
	Pairs          []string      `envconfig:"FEED_PAIRS" default:"BTCUSD,ETHUSD,XRPUSD,LTCUSD"`
	ReconnectDelay time.Duration `envconfig:"FEED_RECONNECT_DELAY" default:"5s"`
}

// TelegramConfig represents the optional warning notifier
type TelegramConfig struct {
	Enabled  bool   `envconfig:"TELEGRAM_ENABLED" default:"false"`
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"false"`
	ChatID   int64  `envconfig:"TELEGRAM_CHAT_ID" required:"false"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	File  string `envconfig:"LOG_FILE" default:""`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Index.InitialValue <= 0 {
		return fmt.Errorf("index initial value must be positive")
	}
	if c.Index.CalcInterval <= 0 {
		return fmt.Errorf("index calc interval must be positive")
	}
	if c.Index.RebuildCheckInterval <= 0 {
		return fmt.Errorf("index rebuild check interval must be positive")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required when telegram is enabled")
	}
	if c.Telegram.Enabled && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram chat_id is required when telegram is enabled")
	}
	return nil
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetDSN returns ClickHouse connection string
func (c *ClickHouseConfig) GetDSN() string {
	return fmt.Sprintf(
		"clickhouse://%s:%s@%s:%d/%s",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}
