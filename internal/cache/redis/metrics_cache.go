package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// metricsTTL bounds how long a sample survives if the collector stops.
const metricsTTL = 5 * time.Minute

// MetricsCache implements domain.MetricsCache, one JSON value per venue.
type MetricsCache struct {
	c *Client
}

// NewMetricsCache creates a MetricsCache backed by the given Client.
func NewMetricsCache(c *Client) *MetricsCache {
	return &MetricsCache{c: c}
}

func (mc *MetricsCache) key(venue domain.Venue) string {
	return mc.c.Key("metrics:" + string(venue))
}

// SetMetrics stores the latest sample of m.Venue.
func (mc *MetricsCache) SetMetrics(ctx context.Context, m domain.BookMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal metrics: %w", err)
	}
	if err := mc.c.Underlying().Set(ctx, mc.key(m.Venue), data, metricsTTL).Err(); err != nil {
		return fmt.Errorf("redis: set metrics %s: %w", m.Venue, err)
	}
	return nil
}

// GetMetrics returns the latest sample of venue, or domain.ErrNotFound.
func (mc *MetricsCache) GetMetrics(ctx context.Context, venue domain.Venue) (domain.BookMetrics, error) {
	data, err := mc.c.Underlying().Get(ctx, mc.key(venue)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BookMetrics{}, domain.ErrNotFound
		}
		return domain.BookMetrics{}, fmt.Errorf("redis: get metrics %s: %w", venue, err)
	}
	var m domain.BookMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.BookMetrics{}, fmt.Errorf("redis: unmarshal metrics %s: %w", venue, err)
	}
	return m, nil
}

var _ domain.MetricsCache = (*MetricsCache)(nil)
