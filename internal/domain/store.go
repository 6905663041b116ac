package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Venue  Venue // empty means all venues
}

// WallStore persists wall lifecycle records.
type WallStore interface {
	Insert(ctx context.Context, w WallRecord) (int64, error)
	Close(ctx context.Context, id int64, status WallStatus, priceAtEnd, peakQuote float64, endedAt time.Time) error
	ListActive(ctx context.Context, venue Venue) ([]WallRecord, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]WallRecord, error)
	MarkActiveUnknown(ctx context.Context, endedAt time.Time) (int64, error)
}

// TradeStore persists large trades and liquidations.
type TradeStore interface {
	InsertLarge(ctx context.Context, t LargeTrade) error
	ListLarge(ctx context.Context, opts ListOpts) ([]LargeTrade, error)
	InsertLiquidation(ctx context.Context, l Liquidation) error
	ListLiquidations(ctx context.Context, opts ListOpts) ([]Liquidation, error)
}

// AggregateStore persists per-minute aggregates.
type AggregateStore interface {
	UpsertTradeAggregate(ctx context.Context, a TradeAggregate) error
	SumDelta(ctx context.Context, venue Venue, since time.Time) (float64, error)
	InsertBookMetrics(ctx context.Context, m BookMetrics) error
}

// SettingsStore persists per-kind notification settings.
type SettingsStore interface {
	Get(ctx context.Context, kind AlertKind) (NotificationSetting, error)
	List(ctx context.Context) ([]NotificationSetting, error)
	Toggle(ctx context.Context, kind AlertKind) (NotificationSetting, error)
	Upsert(ctx context.Context, s NotificationSetting) error
}

// AlertLogStore records every alert that passed the filters.
type AlertLogStore interface {
	Insert(ctx context.Context, a AlertEvent) error
	List(ctx context.Context, opts ListOpts) ([]AlertEvent, error)
}

// RetentionStore exports and purges old rows.
type RetentionStore interface {
	// Export writes rows of table older than before as JSON lines and
	// returns the row count.
	Export(ctx context.Context, table string, before time.Time, w io.Writer) (int64, error)
	Purge(ctx context.Context, table string, before time.Time) (int64, error)
}
