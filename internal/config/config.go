// Package config defines the lotwise configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are decoded from a TOML file over
// Defaults and then overridden by LOTWISE_* environment variables.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Kafka      KafkaConfig      `toml:"kafka"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	// Driver is "postgres" or "memory". The memory driver loses the ledger on
	// restart and suits local runs only.
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// KafkaConfig holds the event stream settings.
type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	TradesTopic     string   `toml:"trades_topic"`
	GroupID         string   `toml:"group_id"`
	DeadLetterTopic string   `toml:"dead_letter_topic"`
	MinBytes        int      `toml:"min_bytes"`
	MaxBytes        int      `toml:"max_bytes"`
	MaxWait         duration `toml:"max_wait"`
	StartOffset     string   `toml:"start_offset"`
}

// DispatcherConfig tunes the sequential dispatcher.
type DispatcherConfig struct {
	Workers        int      `toml:"workers"`
	MaxInFlight    int      `toml:"max_in_flight"`
	RetryInitial   duration `toml:"retry_initial"`
	RetryMax       duration `toml:"retry_max"`
	CommitInterval duration `toml:"commit_interval"`
	// SymbolLock takes a Redis lock around every apply unit.
	SymbolLock    bool     `toml:"symbol_lock"`
	SymbolLockTTL duration `toml:"symbol_lock_ttl"`
}

// RedisConfig holds Redis connection parameters. Redis carries ledger
// events, symbol locks and submit rate limits; it is optional.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds object storage parameters for ledger snapshots. Exports
// are enabled when Bucket is set.
type S3Config struct {
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	ExportPrefix   string   `toml:"export_prefix"`
	ExportInterval duration `toml:"export_interval"`
}

// Enabled reports whether snapshot export is configured.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// duration wraps time.Duration so TOML strings like "250ms" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// SubmitRateLimit is trade submissions per client IP per minute. It needs
	// Redis; zero disables it.
	SubmitRateLimit int `toml:"submit_rate_limit"`
}

// NotifyConfig holds notification channel credentials and the ledger event
// kinds worth a message.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config with production-sensible defaults.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "lotwise",
			User:            "lotwise",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: duration{30 * time.Minute},
			RunMigrations:   true,
		},
		Kafka: KafkaConfig{
			Brokers:         []string{"localhost:9092"},
			TradesTopic:     "trades-topic",
			GroupID:         "lotwise-group",
			DeadLetterTopic: "trades-dlq",
			MinBytes:        1,
			MaxBytes:        10 << 20,
			MaxWait:         duration{500 * time.Millisecond},
			StartOffset:     "earliest",
		},
		Dispatcher: DispatcherConfig{
			Workers:        8,
			MaxInFlight:    4096,
			RetryInitial:   duration{100 * time.Millisecond},
			RetryMax:       duration{5 * time.Second},
			CommitInterval: duration{time.Second},
			SymbolLockTTL:  duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ExportPrefix:   "snapshots",
			ExportInterval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"unmatched_sell", "dead_lettered"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Mode values.
const (
	ModeFull    = "full"
	ModeWorker  = "worker"
	ModeAPI     = "api"
	ModeExport  = "export"
	ModeMigrate = "migrate"
)

var validModes = map[string]bool{
	ModeFull:    true,
	ModeWorker:  true,
	ModeAPI:     true,
	ModeExport:  true,
	ModeMigrate: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsDispatcher reports whether the mode consumes the event stream.
func (c *Config) RunsDispatcher() bool {
	return c.Mode == ModeFull || c.Mode == ModeWorker
}

// RunsServer reports whether the mode serves HTTP.
func (c *Config) RunsServer() bool {
	return (c.Mode == ModeFull || c.Mode == ModeAPI) && c.Server.Enabled
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if !validModes[c.Mode] {
		add("unknown mode %q (valid: full, worker, api, export, migrate)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
		if c.Mode == ModeAPI || c.Mode == ModeExport || c.Mode == ModeMigrate {
			add("storage: driver \"memory\" cannot be shared with another process; mode %s needs postgres", c.Mode)
		}
	default:
		add("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver)
	}

	if c.Mode == ModeFull || c.Mode == ModeWorker || c.Mode == ModeAPI {
		if len(c.Kafka.Brokers) == 0 {
			add("kafka: brokers must not be empty")
		}
		if c.Kafka.TradesTopic == "" {
			add("kafka: trades_topic must not be empty")
		}
	}
	if c.RunsDispatcher() {
		if c.Kafka.GroupID == "" {
			add("kafka: group_id must not be empty")
		}
		if so := strings.ToLower(c.Kafka.StartOffset); so != "earliest" && so != "latest" {
			add("kafka: start_offset must be earliest or latest, got %q", c.Kafka.StartOffset)
		}
		if c.Dispatcher.Workers < 1 {
			add("dispatcher: workers must be >= 1")
		}
		if c.Dispatcher.MaxInFlight < 1 {
			add("dispatcher: max_in_flight must be >= 1")
		}
		if c.Dispatcher.RetryInitial.Duration <= 0 || c.Dispatcher.RetryMax.Duration < c.Dispatcher.RetryInitial.Duration {
			add("dispatcher: retry_initial must be > 0 and <= retry_max")
		}
		if c.Dispatcher.SymbolLock && !c.Redis.Enabled {
			add("dispatcher: symbol_lock requires redis.enabled")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Mode == ModeExport && !c.S3.Enabled() {
		add("s3: bucket must be set for mode export")
	}
	if c.S3.Enabled() && c.Mode == ModeFull && c.S3.ExportInterval.Duration < 0 {
		add("s3: export_interval must not be negative")
	}

	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.SubmitRateLimit < 0 {
			add("server: submit_rate_limit must be >= 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config validation failed:\n%w", err)
	}
	return nil
}
