package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

const telegramLimit = 4096

// TelegramConfig configures a TelegramSender.
type TelegramConfig struct {
	Token      string
	ChatID     string                 // default chat
	ForumID    string                 // supergroup with topics enabled
	Topics     map[domain.Topic]int64 // topic -> message_thread_id
	ChunkDelay time.Duration
	BaseURL    string // defaults to https://api.telegram.org
	Client     *http.Client
}

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramSender creates a TelegramSender. Without a client it uses a
// default HTTP client with a 10-second timeout.
func NewTelegramSender(cfg TelegramConfig) *TelegramSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TelegramSender{cfg: cfg, client: client}
}

type telegramMessage struct {
	ChatID          string `json:"chat_id"`
	Text            string `json:"text"`
	MessageThreadID int64  `json:"message_thread_id,omitempty"`
}

// destination resolves the chat and thread for a topic.
func (t *TelegramSender) destination(topic domain.Topic) (string, int64) {
	if id, ok := t.cfg.Topics[topic]; ok && id > 0 && t.cfg.ForumID != "" {
		return t.cfg.ForumID, id
	}
	if t.cfg.ChatID != "" {
		return t.cfg.ChatID, 0
	}
	return t.cfg.ForumID, 0
}

// Send posts text, chunked to the Bot API limit, to the topic's thread or the
// default chat. Messages are sent as plain text.
func (t *TelegramSender) Send(ctx context.Context, topic domain.Topic, text string) error {
	chatID, thread := t.destination(topic)
	for i, chunk := range Chunk(text, telegramLimit) {
		if i > 0 {
			if err := sleep(ctx, t.cfg.ChunkDelay); err != nil {
				return err
			}
		}
		if err := t.post(ctx, telegramMessage{ChatID: chatID, Text: chunk, MessageThreadID: thread}); err != nil {
			return err
		}
	}
	return nil
}

func (t *TelegramSender) post(ctx context.Context, msg telegramMessage) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.Token)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("telegram: %w (retry after %s)", domain.ErrRateLimited, retryAfter(resp))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

func retryAfter(resp *http.Response) string {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return (time.Duration(n) * time.Second).String()
		}
	}
	return "unknown"
}
