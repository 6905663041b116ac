package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// InsertLarge stores a trade above the large-trade threshold.
func (s *TradeStore) InsertLarge(ctx context.Context, t domain.LargeTrade) error {
	const query = `
		INSERT INTO large_trades (ts, venue, side, price, qty_base, qty_quote, buyer_is_maker)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		t.Timestamp, string(t.Venue), string(t.Side), t.Price, t.QtyBase, t.QtyQuote, t.BuyerIsMaker,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert large trade: %w", err)
	}
	return nil
}

// ListLarge returns large trades, newest first.
func (s *TradeStore) ListLarge(ctx context.Context, opts domain.ListOpts) ([]domain.LargeTrade, error) {
	query, args := listQuery(
		`SELECT ts, venue, side, price, qty_base, qty_quote, buyer_is_maker FROM large_trades WHERE TRUE`,
		nil, "ts", "venue", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list large trades: %w", err)
	}
	defer rows.Close()

	var out []domain.LargeTrade
	for rows.Next() {
		var t domain.LargeTrade
		if err := rows.Scan(&t.Timestamp, &t.Venue, &t.Side, &t.Price, &t.QtyBase, &t.QtyQuote, &t.BuyerIsMaker); err != nil {
			return nil, fmt.Errorf("postgres: scan large trade: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list large trades rows: %w", err)
	}
	return out, nil
}

// InsertLiquidation stores a classified liquidation.
func (s *TradeStore) InsertLiquidation(ctx context.Context, l domain.Liquidation) error {
	const query = `
		INSERT INTO liquidations (ts, side, price, qty_base, qty_quote, order_type)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		l.Timestamp, string(l.Side), l.Price, l.QtyBase, l.QtyQuote, l.OrderType,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert liquidation: %w", err)
	}
	return nil
}

// ListLiquidations returns liquidations, newest first. The venue filter does
// not apply; liquidations only come from the derivatives venue.
func (s *TradeStore) ListLiquidations(ctx context.Context, opts domain.ListOpts) ([]domain.Liquidation, error) {
	query, args := listQuery(
		`SELECT ts, side, price, qty_base, qty_quote, order_type FROM liquidations WHERE TRUE`,
		nil, "ts", "", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations: %w", err)
	}
	defer rows.Close()

	var out []domain.Liquidation
	for rows.Next() {
		var l domain.Liquidation
		if err := rows.Scan(&l.Timestamp, &l.Side, &l.Price, &l.QtyBase, &l.QtyQuote, &l.OrderType); err != nil {
			return nil, fmt.Errorf("postgres: scan liquidation: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list liquidations rows: %w", err)
	}
	return out, nil
}
