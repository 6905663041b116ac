package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/wallwatch/internal/blob/s3"
	"github.com/alanyoungcy/wallwatch/internal/bus"
	"github.com/alanyoungcy/wallwatch/internal/bus/kafka"
	"github.com/alanyoungcy/wallwatch/internal/cache/redis"
	"github.com/alanyoungcy/wallwatch/internal/config"
	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/notify"
	"github.com/alanyoungcy/wallwatch/internal/pipeline"
	"github.com/alanyoungcy/wallwatch/internal/service"
	"github.com/alanyoungcy/wallwatch/internal/store/postgres"
)

// redisKeyPrefix namespaces every key the process writes.
const redisKeyPrefix = "wallwatch:"

// eventTopics are the publisher topics relayed to websocket clients.
var eventTopics = []string{
	service.TopicWalls,
	service.TopicTrades,
	service.TopicLiquidations,
	alertEventTopic,
}

const alertEventTopic = "alerts"

// Dependencies bundles the infrastructure the modes run on. Optional
// members stay nil when their backend is disabled.
type Dependencies struct {
	// Stores
	DB             *postgres.Client
	WallStore      domain.WallStore
	TradeStore     domain.TradeStore
	AggregateStore domain.AggregateStore
	SettingsStore  domain.SettingsStore
	AlertLogStore  domain.AlertLogStore
	RetentionStore domain.RetentionStore

	// Redis
	MetricsCache  domain.MetricsCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus
	EventStream   string
	EventChannels map[string]string // publisher topic -> pub/sub channel

	// Publisher fans events out to Redis and Kafka. Nil when neither is on.
	Publisher domain.EventPublisher

	// Blob storage
	Archiver pipeline.TableArchiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs the concrete backends from cfg and returns them with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}

	pool := pgClient.Pool()
	deps.DB = pgClient
	deps.WallStore = postgres.NewWallStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.AggregateStore = postgres.NewAggregateStore(pool)
	deps.SettingsStore = postgres.NewSettingsStore(pool)
	deps.AlertLogStore = postgres.NewAlertLogStore(pool)
	retention := postgres.NewRetentionStore(pool)
	deps.RetentionStore = retention

	var sinks []domain.EventPublisher

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  redisKeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		signalBus := redis.NewSignalBus(redisClient, 0)
		publisher := redis.NewEventPublisher(signalBus, cfg.Redis.EventChannel, cfg.Redis.EventStream)

		deps.MetricsCache = redis.NewMetricsCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = signalBus
		deps.EventStream = cfg.Redis.EventStream
		deps.EventChannels = make(map[string]string, len(eventTopics))
		for _, topic := range eventTopics {
			deps.EventChannels[topic] = publisher.Channel(topic)
		}
		sinks = append(sinks, publisher)
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		kp, err := kafka.NewPublisher(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: kafka: %w", err))
		}
		closers = append(closers, func() { _ = kp.Close() })
		sinks = append(sinks, kp)
	}

	if len(sinks) > 0 {
		deps.Publisher = bus.NewFanout(sinks...)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "wire: s3 bucket not reachable, archives may fail",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), retention, cfg.S3.Prefix)
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(buildSenders(cfg.Notify), logger)

	return deps, cleanup, nil
}

// buildSenders returns a sender for every configured channel.
func buildSenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && (cfg.TelegramChatID != "" || cfg.TelegramForumID != "") {
		topics := make(map[domain.Topic]int64, len(cfg.TelegramTopics))
		for k, v := range cfg.TelegramTopics {
			topics[domain.Topic(k)] = v
		}
		senders = append(senders, notify.NewTelegramSender(notify.TelegramConfig{
			Token:      cfg.TelegramToken,
			ChatID:     cfg.TelegramChatID,
			ForumID:    cfg.TelegramForumID,
			Topics:     topics,
			ChunkDelay: cfg.ChunkDelay.Duration,
		}))
	}
	if cfg.DiscordWebhookURL != "" || len(cfg.DiscordWebhooks) > 0 {
		hooks := make(map[domain.Topic]string, len(cfg.DiscordWebhooks))
		for k, v := range cfg.DiscordWebhooks {
			hooks[domain.Topic(k)] = v
		}
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL, hooks, cfg.ChunkDelay.Duration))
	}
	return senders
}
