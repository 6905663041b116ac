package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/platform/binance"
	"github.com/alanyoungcy/wallwatch/internal/trades"
)

// TradeTape receives every trade price of a venue.
type TradeTape interface {
	RecordTradePrice(p float64)
}

// TradeService folds the trade and liquidation streams into aggregates,
// persists them and forwards alert candidates.
type TradeService struct {
	aggs       map[domain.Venue]*trades.Aggregator
	tapes      map[domain.Venue]TradeTape
	classifier *trades.Classifier
	trades     domain.TradeStore
	aggregates domain.AggregateStore
	alerts     AlertSink
	publisher  domain.EventPublisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewTradeService creates a TradeService. tapes may omit venues.
func NewTradeService(
	aggs []*trades.Aggregator,
	tapes map[domain.Venue]TradeTape,
	classifier *trades.Classifier,
	tradeStore domain.TradeStore,
	aggregates domain.AggregateStore,
	alerts AlertSink,
	publisher domain.EventPublisher,
	logger *slog.Logger,
) *TradeService {
	m := make(map[domain.Venue]*trades.Aggregator, len(aggs))
	for _, a := range aggs {
		m[a.Venue()] = a
	}
	return &TradeService{
		aggs:       m,
		tapes:      tapes,
		classifier: classifier,
		trades:     tradeStore,
		aggregates: aggregates,
		alerts:     alerts,
		publisher:  publisher,
		logger:     logger.With(slog.String("component", "trade_service")),
		now:        time.Now,
	}
}

// HandleTrade processes one aggTrade payload of venue.
func (s *TradeService) HandleTrade(ctx context.Context, venue domain.Venue, data []byte) error {
	agg, ok := s.aggs[venue]
	if !ok {
		return fmt.Errorf("trade_service: %w: %s", domain.ErrUnknownVenue, venue)
	}
	t, err := binance.DecodeAggTrade(data)
	if err != nil {
		return fmt.Errorf("trade_service: %w", err)
	}
	if tape, ok := s.tapes[venue]; ok && tape != nil {
		tape.RecordTradePrice(t.Price)
	}

	res := agg.Add(t)
	if res.Flushed != nil {
		s.persistAggregate(ctx, *res.Flushed)
	}
	if res.Large != nil {
		s.handleLarge(ctx, *res.Large)
	}
	return nil
}

func (s *TradeService) handleLarge(ctx context.Context, lt domain.LargeTrade) {
	if s.trades != nil {
		if err := s.trades.InsertLarge(ctx, lt); err != nil {
			s.logger.WarnContext(ctx, "persist large trade failed",
				slog.String("venue", string(lt.Venue)),
				slog.String("error", err.Error()),
			)
		}
	}
	publish(ctx, s.publisher, s.logger, TopicTrades, string(lt.Venue), map[string]any{
		"event":     "large_trade",
		"venue":     lt.Venue,
		"side":      lt.Side,
		"price":     lt.Price,
		"qty":       lt.QtyBase,
		"notional":  lt.QtyQuote,
		"timestamp": lt.Timestamp.Format(time.RFC3339Nano),
	})
	if s.alerts != nil {
		s.alerts.ProcessLargeTrade(ctx, lt)
	}
}

// HandleLiquidation processes one forceOrder payload. Orders for other
// symbols are ignored.
func (s *TradeService) HandleLiquidation(ctx context.Context, data []byte) error {
	o, err := binance.DecodeForceOrder(data)
	if err != nil {
		return fmt.Errorf("trade_service: %w", err)
	}
	l, ok := s.classifier.Classify(o)
	if !ok {
		return nil
	}
	if s.trades != nil {
		if err := s.trades.InsertLiquidation(ctx, l); err != nil {
			s.logger.WarnContext(ctx, "persist liquidation failed", slog.String("error", err.Error()))
		}
	}
	publish(ctx, s.publisher, s.logger, TopicLiquidations, string(domain.VenueFutures), map[string]any{
		"event":     "liquidation",
		"side":      l.Side,
		"price":     l.Price,
		"qty":       l.QtyBase,
		"notional":  l.QtyQuote,
		"timestamp": l.Timestamp.Format(time.RFC3339Nano),
	})
	if s.alerts != nil {
		s.alerts.ProcessLiquidation(ctx, l)
	}
	return nil
}

func (s *TradeService) persistAggregate(ctx context.Context, a domain.TradeAggregate) {
	if s.aggregates == nil {
		return
	}
	if err := s.aggregates.UpsertTradeAggregate(ctx, a); err != nil {
		s.logger.WarnContext(ctx, "persist trade aggregate failed",
			slog.String("venue", string(a.Venue)),
			slog.Time("minute", a.Minute),
			slog.String("error", err.Error()),
		)
	}
}

// RecoverCVD seeds each aggregator's CVD from deltas persisted since the
// start of its current period.
func (s *TradeService) RecoverCVD(ctx context.Context) error {
	if s.aggregates == nil {
		return nil
	}
	for v, agg := range s.aggs {
		sum, err := s.aggregates.SumDelta(ctx, v, agg.CVDSince())
		if err != nil {
			return fmt.Errorf("trade_service: recover cvd %s: %w", v, err)
		}
		agg.RestoreCVD(sum)
		s.logger.InfoContext(ctx, "cvd recovered",
			slog.String("venue", string(v)),
			slog.Float64("cvd", sum),
		)
	}
	return nil
}

// CheckCVDReset zeroes CVDs whose period has rolled over.
func (s *TradeService) CheckCVDReset(ctx context.Context) {
	now := s.now()
	for v, agg := range s.aggs {
		if agg.CheckReset(now) {
			s.logger.InfoContext(ctx, "cvd reset", slog.String("venue", string(v)))
		}
	}
}

// Flush persists every open bucket.
func (s *TradeService) Flush(ctx context.Context) {
	for _, agg := range s.aggs {
		if a, ok := agg.Flush(); ok {
			s.persistAggregate(ctx, a)
		}
	}
}

// Delta returns the persisted delta of venue over the trailing window.
func (s *TradeService) Delta(ctx context.Context, venue domain.Venue, window time.Duration) (float64, error) {
	if s.aggregates == nil {
		return 0, nil
	}
	d, err := s.aggregates.SumDelta(ctx, venue, s.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("trade_service: sum delta: %w", err)
	}
	return d, nil
}

// CVDStats returns today's running CVD plus the persisted one-hour and
// five-minute deltas of venue.
func (s *TradeService) CVDStats(ctx context.Context, venue domain.Venue) (domain.CVDStats, error) {
	agg, ok := s.aggs[venue]
	if !ok {
		return domain.CVDStats{}, fmt.Errorf("trade_service: %w: %s", domain.ErrUnknownVenue, venue)
	}
	st := domain.CVDStats{Venue: venue, Today: agg.CVD()}
	var err error
	if st.Hour, err = s.Delta(ctx, venue, time.Hour); err != nil {
		return domain.CVDStats{}, err
	}
	if st.Five, err = s.Delta(ctx, venue, 5*time.Minute); err != nil {
		return domain.CVDStats{}, err
	}
	return st, nil
}

// Venues returns the venues with an aggregator.
func (s *TradeService) Venues() []domain.Venue {
	out := make([]domain.Venue, 0, len(s.aggs))
	for _, v := range domain.Venues {
		if _, ok := s.aggs[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
