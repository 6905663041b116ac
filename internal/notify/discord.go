package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

const discordLimit = 2000

// DiscordSender delivers notifications via Discord webhooks, one per topic
// with a default fallback.
type DiscordSender struct {
	defaultURL string
	hooks      map[domain.Topic]string
	chunkDelay time.Duration
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender. It uses a default HTTP client
// with a 10-second timeout.
func NewDiscordSender(defaultURL string, hooks map[domain.Topic]string, chunkDelay time.Duration) *DiscordSender {
	return &DiscordSender{
		defaultURL: defaultURL,
		hooks:      hooks,
		chunkDelay: chunkDelay,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordSender) webhook(topic domain.Topic) string {
	if u, ok := d.hooks[topic]; ok && u != "" {
		return u
	}
	return d.defaultURL
}

// Send posts text to the topic's webhook, chunked to the content limit.
func (d *DiscordSender) Send(ctx context.Context, topic domain.Topic, text string) error {
	url := d.webhook(topic)
	if url == "" {
		return nil
	}
	for i, chunk := range Chunk(text, discordLimit) {
		if i > 0 {
			if err := sleep(ctx, d.chunkDelay); err != nil {
				return err
			}
		}
		if err := d.post(ctx, url, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordSender) post(ctx context.Context, url, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
