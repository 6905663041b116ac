package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	out.Server = cfg.Server
	redact(&out.Server.APIKey)

	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Webhook URLs embed their token, so every per-topic hook is masked too.
	if cfg.Notify.DiscordWebhooks != nil {
		out.Notify.DiscordWebhooks = make(map[string]string, len(cfg.Notify.DiscordWebhooks))
		for k, v := range cfg.Notify.DiscordWebhooks {
			redact(&v)
			out.Notify.DiscordWebhooks[k] = v
		}
	}
	if cfg.Notify.TelegramTopics != nil {
		out.Notify.TelegramTopics = make(map[string]int64, len(cfg.Notify.TelegramTopics))
		for k, v := range cfg.Notify.TelegramTopics {
			out.Notify.TelegramTopics[k] = v
		}
	}
	if cfg.Exchange.Venues != nil {
		out.Exchange.Venues = append([]string(nil), cfg.Exchange.Venues...)
	}
	if cfg.Kafka.Brokers != nil {
		out.Kafka.Brokers = append([]string(nil), cfg.Kafka.Brokers...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
