package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// AggregateStore implements domain.AggregateStore using PostgreSQL.
type AggregateStore struct {
	pool *pgxpool.Pool
}

// NewAggregateStore creates a new AggregateStore backed by the given connection pool.
func NewAggregateStore(pool *pgxpool.Pool) *AggregateStore {
	return &AggregateStore{pool: pool}
}

// UpsertTradeAggregate stores a one-minute trade bucket, replacing an
// existing row for the same venue and minute.
func (s *AggregateStore) UpsertTradeAggregate(ctx context.Context, a domain.TradeAggregate) error {
	const query = `
		INSERT INTO trade_aggregates (
			ts, venue, buy_volume_quote, sell_volume_quote, buy_count, sell_count,
			delta_quote, cvd_quote, max_trade_quote, vwap
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (venue, ts) DO UPDATE SET
			buy_volume_quote  = EXCLUDED.buy_volume_quote,
			sell_volume_quote = EXCLUDED.sell_volume_quote,
			buy_count         = EXCLUDED.buy_count,
			sell_count        = EXCLUDED.sell_count,
			delta_quote       = EXCLUDED.delta_quote,
			cvd_quote         = EXCLUDED.cvd_quote,
			max_trade_quote   = EXCLUDED.max_trade_quote,
			vwap              = EXCLUDED.vwap`

	_, err := s.pool.Exec(ctx, query,
		a.Minute, string(a.Venue), a.BuyVolumeQuote, a.SellVolumeQuote, a.BuyCount, a.SellCount,
		a.DeltaQuote, a.CVDQuote, a.MaxTradeQuote, a.VWAP,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert trade aggregate: %w", err)
	}
	return nil
}

// SumDelta returns the summed delta of venue's buckets starting at or after
// since. It is zero when no rows match.
func (s *AggregateStore) SumDelta(ctx context.Context, venue domain.Venue, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta_quote), 0) FROM trade_aggregates WHERE venue = $1 AND ts >= $2`,
		string(venue), since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum delta: %w", err)
	}
	return sum, nil
}

// InsertBookMetrics stores one metrics sample. A second sample for the same
// venue and timestamp is ignored.
func (s *AggregateStore) InsertBookMetrics(ctx context.Context, m domain.BookMetrics) error {
	const query = `
		INSERT INTO book_metrics (
			ts, venue, mid_price, spread_pct, bid_depth, ask_depth, imbalance,
			wall_count_bid, wall_count_ask
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (venue, ts) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		m.Timestamp, string(m.Venue), m.MidPrice, m.SpreadPct, m.BidDepth, m.AskDepth, m.Imbalance,
		m.WallCountBid, m.WallCountAsk,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert book metrics: %w", err)
	}
	return nil
}
