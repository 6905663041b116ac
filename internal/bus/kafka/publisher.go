// Package kafka publishes wall and alert events to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// TopicHeader carries the event topic on each message.
const TopicHeader = "event-topic"

// Config configures a Publisher.
type Config struct {
	Brokers []string
	Topic   string
}

// Publisher implements domain.EventPublisher. Messages are keyed by the
// event key (the venue) so one venue's events stay ordered in a partition.
type Publisher struct {
	writer *kafka.Writer
	now    func() time.Time
}

// NewPublisher creates a Publisher. The writer connects lazily.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: no topic configured")
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		now: time.Now,
	}, nil
}

func (p *Publisher) message(topic, key string, payload []byte) kafka.Message {
	return kafka.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: []kafka.Header{{Key: TopicHeader, Value: []byte(topic)}},
		Time:    p.now(),
	}
}

// Publish writes one message and waits for the broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := p.writer.WriteMessages(ctx, p.message(topic, key, payload)); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka: close writer: %w", err)
	}
	return nil
}

var _ domain.EventPublisher = (*Publisher)(nil)
