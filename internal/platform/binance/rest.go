package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// SnapshotClient fetches REST depth snapshots with bounded retries.
type SnapshotClient struct {
	endpoints  map[domain.Venue]string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	logger     *slog.Logger
}

// SnapshotConfig configures a SnapshotClient.
type SnapshotConfig struct {
	// Endpoints holds the full snapshot URL per venue (see SnapshotURL).
	Endpoints map[domain.Venue]string
	Attempts  int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff  time.Duration
	Timeout  time.Duration
	ProxyURL string
}

// NewSnapshotClient creates a SnapshotClient.
func NewSnapshotClient(cfg SnapshotConfig, logger *slog.Logger) (*SnapshotClient, error) {
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("binance: parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &SnapshotClient{
		endpoints:  cfg.Endpoints,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		attempts:   cfg.Attempts,
		backoff:    cfg.Backoff,
		logger:     logger.With(slog.String("component", "binance_rest")),
	}, nil
}

// FetchSnapshot returns a depth snapshot for venue. After the last failed
// attempt it returns an error wrapping ErrSnapshotUnavailable.
func (c *SnapshotClient) FetchSnapshot(ctx context.Context, venue domain.Venue) (domain.DepthSnapshot, error) {
	endpoint, ok := c.endpoints[venue]
	if !ok {
		return domain.DepthSnapshot{}, fmt.Errorf("binance: %w: %s", domain.ErrUnknownVenue, venue)
	}

	delay := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		snap, err := c.fetch(ctx, endpoint)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.logger.WarnContext(ctx, "snapshot fetch failed",
			slog.String("venue", string(venue)),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return domain.DepthSnapshot{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return domain.DepthSnapshot{}, fmt.Errorf("binance: %s: %w: %v", venue, domain.ErrSnapshotUnavailable, lastErr)
}

func (c *SnapshotClient) fetch(ctx context.Context, endpoint string) (domain.DepthSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.DepthSnapshot{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var api APIDepthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if api.LastUpdateID == 0 {
		return domain.DepthSnapshot{}, errors.New("snapshot without lastUpdateId")
	}
	return api.ToDomain()
}
