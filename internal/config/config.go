// Package config defines the top-level configuration for the wall watcher
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WALLWATCH_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Book     BookConfig     `toml:"book"`
	Confirm  ConfirmConfig  `toml:"confirm"`
	Trades   TradesConfig   `toml:"trades"`
	Feed     FeedConfig     `toml:"feed"`
	Alerts   AlertsConfig   `toml:"alerts"`
	Schedule ScheduleConfig `toml:"schedule"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Kafka    KafkaConfig    `toml:"kafka"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds venue endpoints.
type ExchangeConfig struct {
	Symbol            string   `toml:"symbol"`
	Venues            []string `toml:"venues"`
	FuturesStreamURL  string   `toml:"futures_stream_url"`
	FuturesRestURL    string   `toml:"futures_rest_url"`
	SpotStreamURL     string   `toml:"spot_stream_url"`
	SpotRestURL       string   `toml:"spot_rest_url"`
	FuturesDepthLimit int      `toml:"futures_depth_limit"`
	SpotDepthLimit    int      `toml:"spot_depth_limit"`
	ProxyURL          string   `toml:"proxy_url"`
	SnapshotAttempts  int      `toml:"snapshot_attempts"`
	SnapshotBackoff   duration `toml:"snapshot_backoff"`
	RequestTimeout    duration `toml:"request_timeout"`
}

// BookConfig holds replica and wall tracking parameters.
type BookConfig struct {
	WallThresholdQuote float64 `toml:"wall_threshold_quote"`
	PruneDistance      float64 `toml:"prune_distance"`
	FallbackMid        float64 `toml:"fallback_mid"`
	MaxPending         int     `toml:"max_pending"`
	MinHealthyLevels   int     `toml:"min_healthy_levels"`
}

// ConfirmConfig holds confirmed-wall parameters.
type ConfirmConfig struct {
	ThresholdQuote float64  `toml:"threshold_quote"`
	MaxDistancePct float64  `toml:"max_distance_pct"`
	Delay          duration `toml:"delay"`
}

// TradesConfig holds trade and liquidation thresholds.
type TradesConfig struct {
	LargeTradeQuote    float64 `toml:"large_trade_quote"`
	CVDResetHourUTC    int     `toml:"cvd_reset_hour_utc"`
	LiquidationSymbol  string  `toml:"liquidation_symbol"`
	CVDSpikeQuote      float64 `toml:"cvd_spike_quote"`
	ImbalanceThreshold float64 `toml:"imbalance_threshold"`
	ImbalanceBand      float64 `toml:"imbalance_band"`
}

// FeedConfig holds connection manager parameters.
type FeedConfig struct {
	ReconnectMin   duration `toml:"reconnect_min"`
	ReconnectMax   duration `toml:"reconnect_max"`
	SilenceTimeout duration `toml:"silence_timeout"`
	WatchdogTick   duration `toml:"watchdog_tick"`
}

// AlertsConfig holds dispatcher policy.
type AlertsConfig struct {
	Cooldown           duration `toml:"cooldown"`
	BatchWindow        duration `toml:"batch_window"`
	BatchThreshold     int      `toml:"batch_threshold"`
	BatchMaxItems      int      `toml:"batch_max_items"`
	SendDelay          duration `toml:"send_delay"`
	WallNewQuote       float64  `toml:"wall_new_quote"`
	WallGoneQuote      float64  `toml:"wall_gone_quote"`
	LargeTradeQuote    float64  `toml:"large_trade_quote"`
	MegaTradeQuote     float64  `toml:"mega_trade_quote"`
	LiquidationQuote   float64  `toml:"liquidation_quote"`
	CooldownCleanupAge duration `toml:"cooldown_cleanup_age"`
}

// ScheduleConfig holds periodic driver intervals.
type ScheduleConfig struct {
	MetricsInterval     duration `toml:"metrics_interval"`
	ConfirmInterval     duration `toml:"confirm_interval"`
	RefreshInterval     duration `toml:"refresh_interval"`
	ResyncInterval      duration `toml:"resync_interval"`
	HealthcheckInterval duration `toml:"healthcheck_interval"`
	HealthcheckFailures int      `toml:"healthcheck_failures"`
	RetentionDays       int      `toml:"retention_days"`
	RetentionCron       string   `toml:"retention_cron"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	EventChannel string `toml:"event_channel"`
	EventStream  string `toml:"event_stream"`
}

// KafkaConfig holds the optional Kafka event sink.
type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

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

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	APIKey       string   `toml:"api_key"`
	CORSOrigins  []string `toml:"cors_origins"`
	RateLimit    int      `toml:"rate_limit"`
	RateInterval duration `toml:"rate_interval"`
}

// NotifyConfig holds chat transport credentials and topic routing.
type NotifyConfig struct {
	TelegramToken     string            `toml:"telegram_token"`
	TelegramChatID    string            `toml:"telegram_chat_id"`
	TelegramForumID   string            `toml:"telegram_forum_id"`
	TelegramTopics    map[string]int64  `toml:"telegram_topics"`
	DiscordWebhookURL string            `toml:"discord_webhook_url"`
	DiscordWebhooks   map[string]string `toml:"discord_webhooks"`
	ChunkDelay        duration          `toml:"chunk_delay"`
}

// Defaults returns a Config populated with production defaults.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Symbol:            "BTCUSDT",
			Venues:            []string{"futures", "spot"},
			FuturesStreamURL:  "wss://fstream.binance.com/stream",
			FuturesRestURL:    "https://fapi.binance.com/fapi/v1/depth",
			SpotStreamURL:     "wss://stream.binance.com:9443/stream",
			SpotRestURL:       "https://api.binance.com/api/v3/depth",
			FuturesDepthLimit: 1000,
			SpotDepthLimit:    5000,
			SnapshotAttempts:  3,
			SnapshotBackoff:   duration{2 * time.Second},
			RequestTimeout:    duration{15 * time.Second},
		},
		Book: BookConfig{
			WallThresholdQuote: 500_000,
			PruneDistance:      0.5,
			FallbackMid:        97_000,
			MaxPending:         10_000,
			MinHealthyLevels:   100,
		},
		Confirm: ConfirmConfig{
			ThresholdQuote: 5_000_000,
			MaxDistancePct: 2.0,
			Delay:          duration{60 * time.Second},
		},
		Trades: TradesConfig{
			LargeTradeQuote:    100_000,
			CVDResetHourUTC:    0,
			LiquidationSymbol:  "BTCUSDT",
			CVDSpikeQuote:      5_000_000,
			ImbalanceThreshold: 0.4,
			ImbalanceBand:      0.01,
		},
		Feed: FeedConfig{
			ReconnectMin:   duration{5 * time.Second},
			ReconnectMax:   duration{300 * time.Second},
			SilenceTimeout: duration{30 * time.Second},
			WatchdogTick:   duration{10 * time.Second},
		},
		Alerts: AlertsConfig{
			Cooldown:           duration{300 * time.Second},
			BatchWindow:        duration{300 * time.Millisecond},
			BatchThreshold:     3,
			BatchMaxItems:      10,
			SendDelay:          duration{500 * time.Millisecond},
			WallNewQuote:       2_000_000,
			WallGoneQuote:      1_000_000,
			LargeTradeQuote:    500_000,
			MegaTradeQuote:     2_000_000,
			LiquidationQuote:   1_000_000,
			CooldownCleanupAge: duration{time.Hour},
		},
		Schedule: ScheduleConfig{
			MetricsInterval:     duration{60 * time.Second},
			ConfirmInterval:     duration{10 * time.Second},
			RefreshInterval:     duration{time.Hour},
			ResyncInterval:      duration{5 * time.Second},
			HealthcheckInterval: duration{5 * time.Minute},
			HealthcheckFailures: 3,
			RetentionDays:       90,
			RetentionCron:       "0 4 * * *",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wallwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			EventChannel: "wallwatch:events",
			EventStream:  "wallwatch:events:stream",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "wallwatch.events",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wallwatch-archive",
			Prefix:         "archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000"},
			RateLimit:    120,
			RateInterval: duration{time.Minute},
		},
		Notify: NotifyConfig{
			TelegramTopics:  map[string]int64{},
			DiscordWebhooks: map[string]string{},
			ChunkDelay:      duration{300 * time.Millisecond},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"collect": true,
	"server":  true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenues = map[string]bool{
	"futures": true,
	"spot":    true,
}

var validTopics = map[string]bool{
	"walls":        true,
	"trades":       true,
	"liquidations": true,
	"flow":         true,
	"system":       true,
}

// Validate checks the configuration for logical errors and returns a combined
// error describing every problem found, or nil.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: collect, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.Symbol == "" {
		errs = append(errs, "exchange: symbol must not be empty")
	}
	if len(c.Exchange.Venues) == 0 {
		errs = append(errs, "exchange: at least one venue is required")
	}
	for _, v := range c.Exchange.Venues {
		if !validVenues[v] {
			errs = append(errs, fmt.Sprintf("exchange: unknown venue %q (valid: futures, spot)", v))
		}
	}
	if c.Exchange.SnapshotAttempts < 1 {
		errs = append(errs, "exchange: snapshot_attempts must be >= 1")
	}

	// Book
	if c.Book.WallThresholdQuote <= 0 {
		errs = append(errs, "book: wall_threshold_quote must be > 0")
	}
	if c.Book.PruneDistance <= 0 || c.Book.PruneDistance >= 1 {
		errs = append(errs, fmt.Sprintf("book: prune_distance must be in (0, 1), got %g", c.Book.PruneDistance))
	}
	if c.Book.MaxPending < 0 {
		errs = append(errs, "book: max_pending must be >= 0")
	}

	// Confirm
	if c.Confirm.ThresholdQuote < c.Book.WallThresholdQuote {
		errs = append(errs, "confirm: threshold_quote must not be below book.wall_threshold_quote")
	}
	if c.Confirm.MaxDistancePct <= 0 {
		errs = append(errs, "confirm: max_distance_pct must be > 0")
	}

	// Trades
	if c.Trades.CVDResetHourUTC < 0 || c.Trades.CVDResetHourUTC > 23 {
		errs = append(errs, fmt.Sprintf("trades: cvd_reset_hour_utc must be 0-23, got %d", c.Trades.CVDResetHourUTC))
	}

	// Feed
	if c.Feed.ReconnectMin.Duration <= 0 {
		errs = append(errs, "feed: reconnect_min must be > 0")
	}
	if c.Feed.ReconnectMax.Duration < c.Feed.ReconnectMin.Duration {
		errs = append(errs, "feed: reconnect_max must not be below reconnect_min")
	}
	if c.Feed.SilenceTimeout.Duration <= 0 || c.Feed.WatchdogTick.Duration <= 0 {
		errs = append(errs, "feed: silence_timeout and watchdog_tick must be > 0")
	}

	// Alerts
	if c.Alerts.BatchThreshold < 1 {
		errs = append(errs, "alerts: batch_threshold must be >= 1")
	}
	if c.Alerts.BatchMaxItems < 1 {
		errs = append(errs, "alerts: batch_max_items must be >= 1")
	}

	// Schedule
	if c.Schedule.RetentionDays < 1 {
		errs = append(errs, "schedule: retention_days must be >= 1")
	}
	if len(strings.Fields(c.Schedule.RetentionCron)) != 5 {
		errs = append(errs, "schedule: retention_cron must have 5 fields")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty when enabled")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty when enabled")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	for topic := range c.Notify.TelegramTopics {
		if !validTopics[topic] {
			errs = append(errs, fmt.Sprintf("notify: unknown telegram topic %q", topic))
		}
	}
	for topic := range c.Notify.DiscordWebhooks {
		if !validTopics[topic] {
			errs = append(errs, fmt.Sprintf("notify: unknown discord topic %q", topic))
		}
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" && c.Notify.TelegramForumID == "" {
		errs = append(errs, "notify: telegram_chat_id or telegram_forum_id is required with telegram_token")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
