package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// Envelope is the stream entry written for every published event.
type Envelope struct {
	Topic string          `json:"topic"`
	Key   string          `json:"key"`
	Time  time.Time       `json:"time"`
	Data  json.RawMessage `json:"data"`
}

// EventPublisher implements domain.EventPublisher on the signal bus. Each
// topic gets its own pub/sub channel, "<channel>:<topic>", and every event is
// also appended to one capped stream.
type EventPublisher struct {
	bus     domain.SignalBus
	channel string
	stream  string
	now     func() time.Time
}

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(bus domain.SignalBus, channel, stream string) *EventPublisher {
	return &EventPublisher{bus: bus, channel: channel, stream: stream, now: time.Now}
}

// Channel returns the pub/sub channel of topic.
func (p *EventPublisher) Channel(topic string) string {
	return p.channel + ":" + topic
}

// Pattern matches every topic channel.
func (p *EventPublisher) Pattern() string {
	return p.channel + ":*"
}

// Publish sends payload on the topic channel and appends it to the stream.
func (p *EventPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := p.bus.Publish(ctx, p.Channel(topic), payload); err != nil {
		return err
	}
	if p.stream == "" {
		return nil
	}
	env, err := json.Marshal(Envelope{Topic: topic, Key: key, Time: p.now().UTC(), Data: payload})
	if err != nil {
		return fmt.Errorf("redis: marshal envelope: %w", err)
	}
	return p.bus.StreamAppend(ctx, p.stream, env)
}

var _ domain.EventPublisher = (*EventPublisher)(nil)
