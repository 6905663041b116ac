// Package service glues the venue streams to the replicas, the trade
// aggregators, persistence and alerting.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// Event topics published on the event bus.
const (
	TopicWalls        = "walls"
	TopicTrades       = "trades"
	TopicLiquidations = "liquidations"
)

// AlertSink is the part of the alert dispatcher the services feed.
type AlertSink interface {
	ProcessWallEvent(ctx context.Context, ev domain.WallEvent)
	ProcessConfirmedWallGone(ctx context.Context, cw domain.ConfirmedWall, ev domain.WallEvent)
	ProcessLargeTrade(ctx context.Context, t domain.LargeTrade)
	ProcessLiquidation(ctx context.Context, l domain.Liquidation)
}

// publish marshals v and hands it to the publisher. Failures are logged.
func publish(ctx context.Context, pub domain.EventPublisher, logger *slog.Logger, topic string, key string, v any) {
	if pub == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		logger.WarnContext(ctx, "marshal event failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := pub.Publish(ctx, topic, key, payload); err != nil {
		logger.WarnContext(ctx, "publish event failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}
