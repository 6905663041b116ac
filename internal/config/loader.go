package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WALLWATCH_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WALLWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Symbol, "WALLWATCH_EXCHANGE_SYMBOL")
	setStringSlice(&cfg.Exchange.Venues, "WALLWATCH_EXCHANGE_VENUES")
	setStr(&cfg.Exchange.FuturesStreamURL, "WALLWATCH_EXCHANGE_FUTURES_STREAM_URL")
	setStr(&cfg.Exchange.FuturesRestURL, "WALLWATCH_EXCHANGE_FUTURES_REST_URL")
	setStr(&cfg.Exchange.SpotStreamURL, "WALLWATCH_EXCHANGE_SPOT_STREAM_URL")
	setStr(&cfg.Exchange.SpotRestURL, "WALLWATCH_EXCHANGE_SPOT_REST_URL")
	setStr(&cfg.Exchange.ProxyURL, "WALLWATCH_EXCHANGE_PROXY_URL")

	// ── Book ──
	setFloat64(&cfg.Book.WallThresholdQuote, "WALLWATCH_BOOK_WALL_THRESHOLD_QUOTE")
	setFloat64(&cfg.Book.PruneDistance, "WALLWATCH_BOOK_PRUNE_DISTANCE")
	setInt(&cfg.Book.MaxPending, "WALLWATCH_BOOK_MAX_PENDING")

	// ── Confirm ──
	setFloat64(&cfg.Confirm.ThresholdQuote, "WALLWATCH_CONFIRM_THRESHOLD_QUOTE")
	setFloat64(&cfg.Confirm.MaxDistancePct, "WALLWATCH_CONFIRM_MAX_DISTANCE_PCT")
	setDuration(&cfg.Confirm.Delay, "WALLWATCH_CONFIRM_DELAY")

	// ── Trades ──
	setFloat64(&cfg.Trades.LargeTradeQuote, "WALLWATCH_TRADES_LARGE_TRADE_QUOTE")
	setInt(&cfg.Trades.CVDResetHourUTC, "WALLWATCH_TRADES_CVD_RESET_HOUR_UTC")

	// ── Feed ──
	setDuration(&cfg.Feed.ReconnectMin, "WALLWATCH_FEED_RECONNECT_MIN")
	setDuration(&cfg.Feed.ReconnectMax, "WALLWATCH_FEED_RECONNECT_MAX")
	setDuration(&cfg.Feed.SilenceTimeout, "WALLWATCH_FEED_SILENCE_TIMEOUT")

	// ── Alerts ──
	setDuration(&cfg.Alerts.Cooldown, "WALLWATCH_ALERTS_COOLDOWN")
	setFloat64(&cfg.Alerts.WallNewQuote, "WALLWATCH_ALERTS_WALL_NEW_QUOTE")
	setFloat64(&cfg.Alerts.WallGoneQuote, "WALLWATCH_ALERTS_WALL_GONE_QUOTE")
	setFloat64(&cfg.Alerts.LargeTradeQuote, "WALLWATCH_ALERTS_LARGE_TRADE_QUOTE")
	setFloat64(&cfg.Alerts.MegaTradeQuote, "WALLWATCH_ALERTS_MEGA_TRADE_QUOTE")
	setFloat64(&cfg.Alerts.LiquidationQuote, "WALLWATCH_ALERTS_LIQUIDATION_QUOTE")

	// ── Schedule ──
	setInt(&cfg.Schedule.RetentionDays, "WALLWATCH_SCHEDULE_RETENTION_DAYS")
	setStr(&cfg.Schedule.RetentionCron, "WALLWATCH_SCHEDULE_RETENTION_CRON")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WALLWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WALLWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WALLWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WALLWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WALLWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WALLWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WALLWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WALLWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WALLWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WALLWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WALLWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WALLWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WALLWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WALLWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WALLWATCH_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "WALLWATCH_REDIS_TLS_ENABLED")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "WALLWATCH_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "WALLWATCH_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "WALLWATCH_KAFKA_TOPIC")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WALLWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WALLWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WALLWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "WALLWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WALLWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WALLWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WALLWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WALLWATCH_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WALLWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WALLWATCH_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "WALLWATCH_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "WALLWATCH_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WALLWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WALLWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramForumID, "WALLWATCH_NOTIFY_TELEGRAM_FORUM_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WALLWATCH_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "WALLWATCH_MODE")
	setStr(&cfg.LogLevel, "WALLWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
