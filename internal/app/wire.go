package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/lotwise/internal/blob/s3"
	"github.com/alanyoungcy/lotwise/internal/cache/redis"
	"github.com/alanyoungcy/lotwise/internal/config"
	"github.com/alanyoungcy/lotwise/internal/domain"
	"github.com/alanyoungcy/lotwise/internal/notify"
	"github.com/alanyoungcy/lotwise/internal/server/handler"
	"github.com/alanyoungcy/lotwise/internal/store/memory"
	"github.com/alanyoungcy/lotwise/internal/store/postgres"
	"github.com/alanyoungcy/lotwise/internal/stream/kafka"
)

// Dependencies bundles every concrete implementation the modes need. Optional
// collaborators are nil when their backend is not configured or the mode does
// not use them.
type Dependencies struct {
	// Storage
	Ledger     domain.Ledger
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Event stream
	Source     domain.EventSource
	Publisher  domain.TradePublisher
	DeadLetter domain.DeadLetterPublisher

	// Redis
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Object storage
	Exporter domain.Exporter

	Notifier *notify.Notifier

	// HealthChecks probes every connected backend for GET /api/health.
	HealthChecks map[string]handler.HealthCheck
}

// needsPublisher returns true for modes that accept trade submissions.
func needsPublisher(mode string) bool {
	return mode == config.ModeFull || mode == config.ModeAPI
}

// needsSource returns true for modes that consume the trade stream.
func needsSource(mode string) bool {
	return mode == config.ModeFull || mode == config.ModeWorker
}

// needsS3 returns true for modes that export snapshots when a bucket is set.
func needsS3(mode string) bool {
	return mode == config.ModeFull || mode == config.ModeExport
}

// needsRedis returns true for modes that use the bus, locks or rate limits.
func needsRedis(mode string) bool {
	switch mode {
	case config.ModeFull, config.ModeWorker, config.ModeAPI:
		return true
	default:
		return false
	}
}

func kafkaConfig(cfg *config.Config) kafka.Config {
	return kafka.Config{
		Brokers:         cfg.Kafka.Brokers,
		TradesTopic:     cfg.Kafka.TradesTopic,
		GroupID:         cfg.Kafka.GroupID,
		DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		MinBytes:        cfg.Kafka.MinBytes,
		MaxBytes:        cfg.Kafka.MaxBytes,
		MaxWait:         cfg.Kafka.MaxWait.Duration,
		StartOffset:     cfg.Kafka.StartOffset,
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	closeLogged := func(name string, close func() error) func() {
		return func() {
			if err := close(); err != nil {
				logger.Warn("close failed", slog.String("resource", name), slog.String("error", err.Error()))
			}
		}
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Storage ---
	switch cfg.Storage.Driver {
	case "memory":
		ledger := memory.NewLedger()
		deps.Ledger = ledger
		deps.TradeStore = memory.NewTradeStore()
		deps.AuditStore = memory.NewAuditStore()
		logger.Warn("using in-memory ledger; state is lost on exit")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations || cfg.Mode == config.ModeMigrate {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Ledger = postgres.NewLedgerStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Kafka ---
	kcfg := kafkaConfig(cfg)
	if needsSource(cfg.Mode) {
		consumer, err := kafka.NewConsumer(kcfg, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kafka consumer: %w", err)
		}
		closers = append(closers, closeLogged("kafka consumer", consumer.Close))
		deps.Source = consumer

		if kcfg.DeadLetterTopic != "" {
			dlq, err := kafka.NewDeadLetterPublisher(kcfg)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: kafka dead letter: %w", err)
			}
			closers = append(closers, closeLogged("kafka dead letter", dlq.Close))
			deps.DeadLetter = dlq
		}
	}
	if needsPublisher(cfg.Mode) {
		producer, err := kafka.NewProducer(kcfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kafka producer: %w", err)
		}
		closers = append(closers, closeLogged("kafka producer", producer.Close))
		deps.Publisher = producer
	}

	// --- Redis ---
	if cfg.Redis.Enabled && needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, closeLogged("redis", redisClient.Close))

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 snapshot export ---
	if cfg.S3.Enabled() && needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Exporter = s3blob.NewExporter(
			s3blob.NewWriter(s3Client),
			deps.Ledger,
			deps.AuditStore,
			cfg.S3.ExportPrefix,
			logger,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
