package domain

import (
	"context"
	"time"
)

// MetricsCache keeps the latest book metrics for the HTTP API.
type MetricsCache interface {
	SetMetrics(ctx context.Context, m BookMetrics) error
	GetMetrics(ctx context.Context, venue Venue) (BookMetrics, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// EventPublisher fans domain events out to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}
