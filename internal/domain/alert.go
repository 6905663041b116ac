package domain

import "time"

// AlertKind names a class of notification.
type AlertKind string

const (
	AlertWallNew           AlertKind = "wall_new"
	AlertWallGone          AlertKind = "wall_gone"
	AlertConfirmedWall     AlertKind = "confirmed_wall"
	AlertConfirmedWallGone AlertKind = "confirmed_wall_gone"
	AlertLargeTrade        AlertKind = "large_trade"
	AlertMegaTrade         AlertKind = "mega_trade"
	AlertLiquidation       AlertKind = "liquidation"
	AlertCVDSpike          AlertKind = "cvd_spike"
	AlertImbalance         AlertKind = "imbalance"
	AlertSystem            AlertKind = "system"
)

// AlertKinds lists the kinds that can be toggled in notification settings.
var AlertKinds = []AlertKind{
	AlertWallNew, AlertWallGone, AlertConfirmedWall, AlertConfirmedWallGone,
	AlertLargeTrade, AlertMegaTrade, AlertLiquidation, AlertCVDSpike, AlertImbalance,
}

// Topic is a logical delivery channel.
type Topic string

const (
	TopicWalls        Topic = "walls"
	TopicTrades       Topic = "trades"
	TopicLiquidations Topic = "liquidations"
	TopicFlow         Topic = "flow"
	TopicSystem       Topic = "system"
)

// TopicFor returns the routing topic of an alert kind.
func TopicFor(kind AlertKind) Topic {
	switch kind {
	case AlertWallNew, AlertWallGone, AlertConfirmedWall, AlertConfirmedWallGone:
		return TopicWalls
	case AlertLargeTrade, AlertMegaTrade:
		return TopicTrades
	case AlertLiquidation:
		return TopicLiquidations
	case AlertCVDSpike, AlertImbalance:
		return TopicFlow
	}
	return TopicSystem
}

// AlertEvent is a rendered alert waiting for delivery.
type AlertEvent struct {
	ID    string    `json:"id"`
	Kind  AlertKind `json:"kind"`
	Topic Topic     `json:"topic"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// NotificationSetting is the per-kind enable flag with an optional
// minimum notional override.
type NotificationSetting struct {
	Kind           AlertKind `json:"kind"`
	Enabled        bool      `json:"enabled"`
	ThresholdQuote *float64  `json:"threshold_quote"`
	UpdatedAt      time.Time `json:"updated_at"`
}
