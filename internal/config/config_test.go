package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lotwise.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsDispatcher())
	assert.True(t, cfg.RunsServer())
	assert.Equal(t, "trades-topic", cfg.Kafka.TradesTopic)
	assert.Equal(t, "lotwise-group", cfg.Kafka.GroupID)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := writeTOML(t, `
mode = "worker"

[kafka]
brokers = ["k1:9092", "k2:9092"]
max_wait = "250ms"

[dispatcher]
workers = 4
max_in_flight = 512
retry_initial = "50ms"
retry_max = "2s"

[s3]
bucket = "ledger-snapshots"
export_interval = "15m"
`)
	t.Setenv("LOTWISE_DISPATCHER_WORKERS", "16")
	t.Setenv("LOTWISE_POSTGRES_PASSWORD", "pw")
	t.Setenv("LOTWISE_SERVER_CORS_ORIGINS", " https://a.example.com , ,https://b.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeWorker, cfg.Mode)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Kafka.MaxWait.Duration)
	assert.Equal(t, 16, cfg.Dispatcher.Workers)
	assert.Equal(t, 512, cfg.Dispatcher.MaxInFlight)
	assert.Equal(t, 50*time.Millisecond, cfg.Dispatcher.RetryInitial.Duration)
	assert.Equal(t, "pw", cfg.Postgres.Password)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.S3.Enabled())
	assert.Equal(t, 15*time.Minute, cfg.S3.ExportInterval.Duration)
	assert.False(t, cfg.RunsServer())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTOML(t, "[kafka]\nbrokrs = [\"k1\"]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.brokrs")
}

func TestLoadBadDuration(t *testing.T) {
	path := writeTOML(t, "[dispatcher]\nretry_max = \"soon\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Storage.Driver = "sqlite"
	cfg.Dispatcher.SymbolLock = true
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		`unknown driver "sqlite"`,
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateModeRequirements(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"symbol lock needs redis", func(c *Config) { c.Dispatcher.SymbolLock = true }, "symbol_lock requires redis.enabled"},
		{"export needs bucket", func(c *Config) { c.Mode = ModeExport }, "bucket must be set"},
		{"memory is single process", func(c *Config) { c.Mode = ModeAPI; c.Storage.Driver = "memory" }, "needs postgres"},
		{"retry bounds", func(c *Config) { c.Dispatcher.RetryMax.Duration = time.Millisecond }, "retry_initial"},
		{"in-flight budget", func(c *Config) { c.Dispatcher.MaxInFlight = 0 }, "max_in_flight"},
		{"start offset", func(c *Config) { c.Kafka.StartOffset = "middle" }, "start_offset"},
		{"server port", func(c *Config) { c.Server.Port = 70000 }, "port must be 1-65535"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://lotwise:hunter2@db:5432/lotwise"
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "aws-secret"
	cfg.Server.APIKey = "api-key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example.com/hook/abc"

	out := RedactedConfig(&cfg)
	assert.NotContains(t, out.Postgres.DSN, "hunter2")
	assert.Contains(t, out.Postgres.DSN, "db:5432")
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.S3.SecretKey)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password)

	out.Kafka.Brokers[0] = "mutated"
	assert.Equal(t, "localhost:9092", cfg.Kafka.Brokers[0])
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
