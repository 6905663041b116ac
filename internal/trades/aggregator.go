// Package trades turns the aggTrade and forceOrder streams into one-minute
// aggregates, cumulative volume delta, large-trade records and classified
// liquidations.
package trades

import (
	"sync"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// Config configures an Aggregator.
type Config struct {
	Venue           domain.Venue
	LargeTradeQuote float64
	// CVDResetHourUTC is the hour at which the running CVD returns to zero.
	CVDResetHourUTC int
}

type bucket struct {
	buyQuote    float64
	sellQuote   float64
	buys        int
	sells       int
	maxQuote    float64
	priceVolume float64
	volume      float64
}

func (b *bucket) add(t domain.AggTrade) {
	q := t.Notional()
	if t.Side() == domain.TradeBuy {
		b.buyQuote += q
		b.buys++
	} else {
		b.sellQuote += q
		b.sells++
	}
	if q > b.maxQuote {
		b.maxQuote = q
	}
	b.priceVolume += t.Price * t.Qty
	b.volume += t.Qty
}

func (b *bucket) empty() bool { return b.buys == 0 && b.sells == 0 }

func (b *bucket) delta() float64 { return b.buyQuote - b.sellQuote }

func (b *bucket) vwap() float64 {
	if b.volume == 0 {
		return 0
	}
	return b.priceVolume / b.volume
}

// Result is what a single trade produced.
type Result struct {
	// Large is set when the trade notional reached the large-trade threshold.
	Large *domain.LargeTrade
	// Flushed is set when the trade rolled the minute over a non-empty bucket.
	Flushed *domain.TradeAggregate
}

// Aggregator accumulates trades of one venue into minute buckets.
type Aggregator struct {
	cfg Config

	mu       sync.Mutex
	minute   time.Time
	cur      bucket
	cvd      float64
	cvdSince time.Time
}

// NewAggregator creates an Aggregator whose CVD period starts at the last
// reset boundary before now.
func NewAggregator(cfg Config, now time.Time) *Aggregator {
	return &Aggregator{
		cfg:      cfg,
		minute:   now.UTC().Truncate(time.Minute),
		cvdSince: PeriodStart(now, cfg.CVDResetHourUTC),
	}
}

// Venue returns the aggregator's venue.
func (a *Aggregator) Venue() domain.Venue { return a.cfg.Venue }

// Add folds a trade into the current bucket. Buckets are keyed by trade time;
// a trade in a later minute flushes the current one first.
func (a *Aggregator) Add(t domain.AggTrade) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	var res Result
	minute := t.TradeTime.UTC().Truncate(time.Minute)
	if minute.After(a.minute) {
		if agg, ok := a.flushLocked(); ok {
			res.Flushed = &agg
		}
		a.minute = minute
	}
	a.resetIfDueLocked(t.TradeTime)
	a.cur.add(t)

	if q := t.Notional(); a.cfg.LargeTradeQuote > 0 && q >= a.cfg.LargeTradeQuote {
		res.Large = &domain.LargeTrade{
			Venue:        a.cfg.Venue,
			Side:         t.Side(),
			Price:        t.Price,
			QtyBase:      t.Qty,
			QtyQuote:     q,
			BuyerIsMaker: t.BuyerIsMaker,
			Timestamp:    t.TradeTime,
		}
	}
	return res
}

// Flush closes the current bucket. ok is false when it held no trades.
func (a *Aggregator) Flush() (domain.TradeAggregate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

func (a *Aggregator) flushLocked() (domain.TradeAggregate, bool) {
	if a.cur.empty() {
		return domain.TradeAggregate{}, false
	}
	delta := a.cur.delta()
	a.cvd += delta
	agg := domain.TradeAggregate{
		Minute:          a.minute,
		Venue:           a.cfg.Venue,
		BuyVolumeQuote:  a.cur.buyQuote,
		SellVolumeQuote: a.cur.sellQuote,
		BuyCount:        a.cur.buys,
		SellCount:       a.cur.sells,
		DeltaQuote:      delta,
		CVDQuote:        a.cvd,
		MaxTradeQuote:   a.cur.maxQuote,
		VWAP:            a.cur.vwap(),
	}
	a.cur = bucket{}
	return agg, true
}

// CheckReset zeroes the CVD when now has crossed into a new period. It
// reports whether a reset happened.
func (a *Aggregator) CheckReset(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resetIfDueLocked(now)
}

func (a *Aggregator) resetIfDueLocked(now time.Time) bool {
	start := PeriodStart(now, a.cfg.CVDResetHourUTC)
	if !start.After(a.cvdSince) {
		return false
	}
	a.cvdSince = start
	a.cvd = 0
	return true
}

// RestoreCVD seeds the running CVD, typically from the sum of persisted
// deltas since CVDSince.
func (a *Aggregator) RestoreCVD(v float64) {
	a.mu.Lock()
	a.cvd = v
	a.mu.Unlock()
}

// CVD returns the running CVD including the open bucket.
func (a *Aggregator) CVD() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cvd + a.cur.delta()
}

// CVDSince returns the start of the current CVD period.
func (a *Aggregator) CVDSince() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cvdSince
}

// PeriodStart returns the most recent instant at or before now whose UTC
// hour is hour and whose minutes and seconds are zero.
func PeriodStart(now time.Time, hour int) time.Time {
	u := now.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), hour, 0, 0, 0, time.UTC)
	if start.After(u) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}
