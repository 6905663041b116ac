package trades

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func trade(price, qty float64, buyerIsMaker bool, at time.Time) domain.AggTrade {
	return domain.AggTrade{Price: price, Qty: qty, BuyerIsMaker: buyerIsMaker, TradeTime: at}
}

func TestAggregator_MinuteRollover(t *testing.T) {
	a := NewAggregator(Config{Venue: domain.VenueFutures, LargeTradeQuote: 100_000}, base)

	r := a.Add(trade(100, 2, false, base.Add(5*time.Second)))
	assert.Nil(t, r.Flushed)
	r = a.Add(trade(102, 1, true, base.Add(40*time.Second)))
	assert.Nil(t, r.Flushed)

	r = a.Add(trade(101, 1, false, base.Add(61*time.Second)))
	require.NotNil(t, r.Flushed)
	agg := *r.Flushed
	assert.Equal(t, base, agg.Minute)
	assert.Equal(t, domain.VenueFutures, agg.Venue)
	assert.InDelta(t, 200, agg.BuyVolumeQuote, 1e-9)
	assert.InDelta(t, 102, agg.SellVolumeQuote, 1e-9)
	assert.Equal(t, 1, agg.BuyCount)
	assert.Equal(t, 1, agg.SellCount)
	assert.InDelta(t, 98, agg.DeltaQuote, 1e-9)
	assert.InDelta(t, 98, agg.CVDQuote, 1e-9)
	assert.InDelta(t, 200, agg.MaxTradeQuote, 1e-9)
	assert.InDelta(t, (200.0+102.0)/3.0, agg.VWAP, 1e-9)

	assert.InDelta(t, 98+101, a.CVD(), 1e-9)

	last, ok := a.Flush()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Minute), last.Minute)
	assert.InDelta(t, 199, last.CVDQuote, 1e-9)

	_, ok = a.Flush()
	assert.False(t, ok)
}

func TestAggregator_LargeTrades(t *testing.T) {
	a := NewAggregator(Config{Venue: domain.VenueSpot, LargeTradeQuote: 100_000}, base)

	r := a.Add(trade(50_000, 1.99, false, base))
	assert.Nil(t, r.Large)

	r = a.Add(trade(50_000, 2, true, base.Add(time.Second)))
	require.NotNil(t, r.Large)
	assert.Equal(t, domain.TradeSell, r.Large.Side)
	assert.Equal(t, domain.VenueSpot, r.Large.Venue)
	assert.InDelta(t, 100_000, r.Large.QtyQuote, 1e-9)
	assert.True(t, r.Large.BuyerIsMaker)
}

func TestAggregator_CVDReset(t *testing.T) {
	start := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	a := NewAggregator(Config{Venue: domain.VenueFutures}, start)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), a.CVDSince())

	a.Add(trade(100, 10, false, start))
	a.RestoreCVD(5_000)
	assert.InDelta(t, 6_000, a.CVD(), 1e-9)

	// The first trade of the new day flushes yesterday's bucket, then resets.
	r := a.Add(trade(100, 1, true, start.Add(90*time.Second)))
	require.NotNil(t, r.Flushed)
	assert.InDelta(t, 6_000, r.Flushed.CVDQuote, 1e-9)
	assert.InDelta(t, -100, a.CVD(), 1e-9)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), a.CVDSince())

	assert.False(t, a.CheckReset(start.Add(2*time.Hour)))
	assert.True(t, a.CheckReset(start.Add(25*time.Hour)))
	assert.InDelta(t, -100, a.CVD(), 1e-9, "open bucket survives a reset")
}

func TestPeriodStart(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{"after reset hour", time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC), 8, time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)},
		{"before reset hour", time.Date(2025, 1, 2, 7, 59, 0, 0, time.UTC), 8, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)},
		{"exactly on boundary", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), 0, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"non-utc input", time.Date(2025, 1, 2, 3, 0, 0, 0, time.FixedZone("x", 5*3600)), 0, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(PeriodStart(tt.now, tt.hour)))
		})
	}
}

func TestClassifier(t *testing.T) {
	c := NewClassifier("BTCUSDT")
	at := base

	_, ok := c.Classify(domain.ForceOrder{Symbol: "ETHUSDT", Side: "SELL", Price: 1, Qty: 1})
	assert.False(t, ok)

	l, ok := c.Classify(domain.ForceOrder{Symbol: "BTCUSDT", Side: "SELL", OrderType: "LIMIT", Price: 60_000, Qty: 2, TradeTime: at})
	require.True(t, ok)
	assert.Equal(t, domain.LiquidationLong, l.Side)
	assert.InDelta(t, 120_000, l.QtyQuote, 1e-9)
	assert.Equal(t, "LIMIT", l.OrderType)
	assert.Equal(t, at, l.Timestamp)

	l, ok = c.Classify(domain.ForceOrder{Symbol: "btcusdt", Side: "BUY", Price: 60_000, Qty: 1})
	require.True(t, ok)
	assert.Equal(t, domain.LiquidationShort, l.Side)
	assert.Equal(t, "MARKET", l.OrderType)
}
