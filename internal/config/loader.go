package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, loads .env when present
// and applies LOTWISE_* overrides. A missing file is not an error when path
// is empty. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deploy settings
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Storage.Driver, "LOTWISE_STORAGE_DRIVER")

	setStr(&cfg.Postgres.DSN, "LOTWISE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "LOTWISE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LOTWISE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LOTWISE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LOTWISE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LOTWISE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LOTWISE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LOTWISE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LOTWISE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LOTWISE_POSTGRES_RUN_MIGRATIONS")

	setStringSlice(&cfg.Kafka.Brokers, "LOTWISE_KAFKA_BROKERS")
	setStr(&cfg.Kafka.TradesTopic, "LOTWISE_KAFKA_TRADES_TOPIC")
	setStr(&cfg.Kafka.GroupID, "LOTWISE_KAFKA_GROUP_ID")
	setStr(&cfg.Kafka.DeadLetterTopic, "LOTWISE_KAFKA_DEAD_LETTER_TOPIC")
	setStr(&cfg.Kafka.StartOffset, "LOTWISE_KAFKA_START_OFFSET")

	setInt(&cfg.Dispatcher.Workers, "LOTWISE_DISPATCHER_WORKERS")
	setInt(&cfg.Dispatcher.MaxInFlight, "LOTWISE_DISPATCHER_MAX_IN_FLIGHT")
	setDuration(&cfg.Dispatcher.RetryInitial, "LOTWISE_DISPATCHER_RETRY_INITIAL")
	setDuration(&cfg.Dispatcher.RetryMax, "LOTWISE_DISPATCHER_RETRY_MAX")
	setBool(&cfg.Dispatcher.SymbolLock, "LOTWISE_DISPATCHER_SYMBOL_LOCK")

	setBool(&cfg.Redis.Enabled, "LOTWISE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LOTWISE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LOTWISE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LOTWISE_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "LOTWISE_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "LOTWISE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LOTWISE_S3_REGION")
	setStr(&cfg.S3.Bucket, "LOTWISE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LOTWISE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LOTWISE_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "LOTWISE_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ExportPrefix, "LOTWISE_S3_EXPORT_PREFIX")
	setDuration(&cfg.S3.ExportInterval, "LOTWISE_S3_EXPORT_INTERVAL")

	setBool(&cfg.Server.Enabled, "LOTWISE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LOTWISE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LOTWISE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LOTWISE_SERVER_API_KEY")
	setInt(&cfg.Server.SubmitRateLimit, "LOTWISE_SERVER_SUBMIT_RATE_LIMIT")

	setStr(&cfg.Notify.TelegramToken, "LOTWISE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LOTWISE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LOTWISE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LOTWISE_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "LOTWISE_MODE")
	setStr(&cfg.LogLevel, "LOTWISE_LOG_LEVEL")
}

// Typed env helpers. Each mutates the target only when the variable is set,
// non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
