package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallwatch/internal/confirm"
	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/orderbook"
	"github.com/alanyoungcy/wallwatch/internal/trades"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type closeCall struct {
	id     int64
	status domain.WallStatus
}

type fakeWalls struct {
	mu       sync.Mutex
	nextID   int64
	inserted []domain.WallRecord
	closed   []closeCall
	active   map[domain.Venue][]domain.WallRecord
	unknown  int
	failIns  bool
}

func (f *fakeWalls) Insert(_ context.Context, w domain.WallRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIns {
		return 0, errors.New("db down")
	}
	f.nextID++
	f.inserted = append(f.inserted, w)
	return f.nextID, nil
}

func (f *fakeWalls) Close(_ context.Context, id int64, status domain.WallStatus, _, _ float64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, closeCall{id: id, status: status})
	return nil
}

func (f *fakeWalls) ListActive(_ context.Context, venue domain.Venue) ([]domain.WallRecord, error) {
	return f.active[venue], nil
}

func (f *fakeWalls) ListHistory(context.Context, domain.ListOpts) ([]domain.WallRecord, error) {
	return nil, nil
}

func (f *fakeWalls) MarkActiveUnknown(context.Context, time.Time) (int64, error) {
	f.unknown++
	return 2, nil
}

type fakeFetcher struct {
	calls atomic.Int32
	snap  domain.DepthSnapshot
	err   error
}

func (f *fakeFetcher) FetchSnapshot(context.Context, domain.Venue) (domain.DepthSnapshot, error) {
	f.calls.Add(1)
	return f.snap, f.err
}

type fakeAlerts struct {
	mu            sync.Mutex
	walls         []domain.WallEvent
	confirmedGone int
	large         []domain.LargeTrade
	liqs          []domain.Liquidation
}

func (f *fakeAlerts) ProcessWallEvent(_ context.Context, ev domain.WallEvent) {
	f.mu.Lock()
	f.walls = append(f.walls, ev)
	f.mu.Unlock()
}

func (f *fakeAlerts) ProcessConfirmedWallGone(context.Context, domain.ConfirmedWall, domain.WallEvent) {
	f.mu.Lock()
	f.confirmedGone++
	f.mu.Unlock()
}

func (f *fakeAlerts) ProcessLargeTrade(_ context.Context, t domain.LargeTrade) {
	f.mu.Lock()
	f.large = append(f.large, t)
	f.mu.Unlock()
}

func (f *fakeAlerts) ProcessLiquidation(_ context.Context, l domain.Liquidation) {
	f.mu.Lock()
	f.liqs = append(f.liqs, l)
	f.mu.Unlock()
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePublisher) Publish(_ context.Context, topic, _ string, _ []byte) error {
	f.mu.Lock()
	f.topics = append(f.topics, topic)
	f.mu.Unlock()
	return nil
}

func snapshot(id uint64) domain.DepthSnapshot {
	return domain.DepthSnapshot{
		LastUpdateID: id,
		Bids:         []domain.Level{{Price: "49990.00", Qty: 1}},
		Asks:         []domain.Level{{Price: "50010.00", Qty: 1}},
	}
}

func futuresDiff(first, final, prev uint64, bidPrice, bidQty string) []byte {
	return []byte(fmt.Sprintf(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":%d,"u":%d,"pu":%d,"b":[[%q,%q]],"a":[]}`,
		first, final, prev, bidPrice, bidQty))
}

func spotDiff(first, final uint64, bidPrice, bidQty string) []byte {
	return []byte(fmt.Sprintf(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":%d,"u":%d,"b":[[%q,%q]],"a":[]}`,
		first, final, bidPrice, bidQty))
}

type bookFixture struct {
	svc     *BookService
	replica *orderbook.Replica
	walls   *fakeWalls
	fetcher *fakeFetcher
	alerts  *fakeAlerts
	pub     *fakePublisher
}

func newBookFixture(venue domain.Venue) bookFixture {
	r := orderbook.New(orderbook.Config{Venue: venue, WallThresholdQuote: 500_000}, discardLogger())
	f := bookFixture{
		replica: r,
		walls:   &fakeWalls{active: map[domain.Venue][]domain.WallRecord{}},
		fetcher: &fakeFetcher{snap: snapshot(100)},
		alerts:  &fakeAlerts{},
		pub:     &fakePublisher{},
	}
	checker := confirm.New(confirm.Config{ThresholdQuote: 5_000_000, MaxDistancePct: 2, Delay: time.Minute}, discardLogger())
	f.svc = NewBookService([]*orderbook.Replica{r}, f.fetcher, f.walls, checker, f.alerts, f.pub, discardLogger())
	return f
}

func TestBookService_WallLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newBookFixture(domain.VenueFutures)
	require.NoError(t, f.svc.Resync(ctx, domain.VenueFutures))
	require.True(t, f.replica.Ready())

	// 20 BTC at 49,900 is a wall; the first diff straddles the snapshot id.
	require.NoError(t, f.svc.HandleDepth(ctx, domain.VenueFutures, futuresDiff(99, 101, 98, "49900.00", "20")))
	require.Len(t, f.walls.inserted, 1)
	assert.Equal(t, domain.WallStatusActive, f.walls.inserted[0].Status)
	assert.Equal(t, "49900.00", f.walls.inserted[0].Price)

	views := f.replica.Walls()
	require.Len(t, views, 1)
	assert.Equal(t, int64(1), views[0].ID)

	// Removed 0.2% below mid with no trades nearby: cancelled.
	require.NoError(t, f.svc.HandleDepth(ctx, domain.VenueFutures, futuresDiff(102, 102, 101, "49900.00", "0")))
	require.Len(t, f.walls.closed, 1)
	assert.Equal(t, closeCall{id: 1, status: domain.WallStatusCancelled}, f.walls.closed[0])

	require.Len(t, f.alerts.walls, 2)
	assert.Equal(t, domain.WallNew, f.alerts.walls[0].Kind)
	assert.Equal(t, int64(1), f.alerts.walls[0].WallID)
	assert.Equal(t, domain.WallCancelled, f.alerts.walls[1].Kind)
	assert.Equal(t, []string{TopicWalls, TopicWalls}, f.pub.topics)
}

func TestBookService_PersistFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	f := newBookFixture(domain.VenueFutures)
	f.walls.failIns = true
	require.NoError(t, f.svc.Resync(ctx, domain.VenueFutures))

	require.NoError(t, f.svc.HandleDepth(ctx, domain.VenueFutures, futuresDiff(99, 101, 98, "49900.00", "20")))
	require.NoError(t, f.svc.HandleDepth(ctx, domain.VenueFutures, futuresDiff(102, 102, 101, "49900.00", "0")))

	assert.Empty(t, f.walls.closed, "walls without an id are not closed")
	assert.Len(t, f.alerts.walls, 2)
}

func TestBookService_GapTriggersResync(t *testing.T) {
	ctx := context.Background()
	f := newBookFixture(domain.VenueSpot)
	require.NoError(t, f.svc.Resync(ctx, domain.VenueSpot))
	require.Equal(t, int32(1), f.fetcher.calls.Load())

	require.NoError(t, f.svc.HandleDepth(ctx, domain.VenueSpot, spotDiff(101, 101, "49995.00", "1")))
	assert.Equal(t, uint64(101), f.replica.LastSeq())

	// Stale diffs are ignored without a resync.
	require.NoError(t, f.svc.HandleDepth(ctx, domain.VenueSpot, spotDiff(90, 95, "49995.00", "2")))
	assert.Equal(t, int32(1), f.fetcher.calls.Load())

	require.NoError(t, f.svc.HandleDepth(ctx, domain.VenueSpot, spotDiff(105, 106, "49995.00", "1")))
	assert.Eventually(t, func() bool { return f.fetcher.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBookService_ResyncStale(t *testing.T) {
	ctx := context.Background()
	f := newBookFixture(domain.VenueSpot)

	assert.Empty(t, f.svc.ResyncStale(ctx), "never-synced replicas wait for the connection hook")

	require.NoError(t, f.svc.Resync(ctx, domain.VenueSpot))
	f.replica.Invalidate()
	assert.Equal(t, []domain.Venue{domain.VenueSpot}, f.svc.ResyncStale(ctx))
	assert.True(t, f.replica.Ready())
}

func TestBookService_ResyncFailure(t *testing.T) {
	f := newBookFixture(domain.VenueSpot)
	f.fetcher.err = domain.ErrSnapshotUnavailable
	err := f.svc.Resync(context.Background(), domain.VenueSpot)
	require.ErrorIs(t, err, domain.ErrSnapshotUnavailable)
	assert.False(t, f.replica.Ready())
}

func TestBookService_UnknownVenueAndMalformed(t *testing.T) {
	ctx := context.Background()
	f := newBookFixture(domain.VenueSpot)
	require.ErrorIs(t, f.svc.HandleDepth(ctx, domain.VenueFutures, nil), domain.ErrUnknownVenue)
	require.ErrorIs(t, f.svc.HandleDepth(ctx, domain.VenueSpot, []byte("{")), domain.ErrMalformedMessage)
}

func TestBookService_RestoreAndShutdown(t *testing.T) {
	ctx := context.Background()
	f := newBookFixture(domain.VenueFutures)
	f.walls.active[domain.VenueFutures] = []domain.WallRecord{{
		ID: 7, Venue: domain.VenueFutures, Side: domain.SideBid, Price: "49900.00",
		SizeBase: 20, SizeQuote: 998_000, PeakSizeQuote: 998_000,
	}}
	f.fetcher.snap.Bids = append(f.fetcher.snap.Bids, domain.Level{Price: "49900.00", Qty: 20})
	require.NoError(t, f.svc.RestoreWalls(ctx))
	require.NoError(t, f.svc.Resync(ctx, domain.VenueFutures))
	assert.Empty(t, f.alerts.walls, "a restored wall still in the book is not new")

	// The restored wall shrinks away: it closes under its stored id.
	require.NoError(t, f.svc.HandleDepth(ctx, domain.VenueFutures, futuresDiff(99, 101, 98, "49900.00", "0")))
	require.Len(t, f.walls.closed, 1)
	assert.Equal(t, int64(7), f.walls.closed[0].id)
	assert.NotEqual(t, domain.WallStatusUnknown, f.walls.closed[0].status)
	assert.Empty(t, f.walls.inserted)

	require.NoError(t, f.svc.Shutdown(ctx))
	assert.Equal(t, 1, f.walls.unknown)
}

func TestBookService_ResyncClosesVanishedWalls(t *testing.T) {
	ctx := context.Background()
	f := newBookFixture(domain.VenueFutures)
	f.walls.active[domain.VenueFutures] = []domain.WallRecord{{
		ID: 7, Venue: domain.VenueFutures, Side: domain.SideBid, Price: "49900.00",
		SizeBase: 20, SizeQuote: 998_000, PeakSizeQuote: 998_000,
	}}
	f.fetcher.snap.Asks = append(f.fetcher.snap.Asks, domain.Level{Price: "50100.00", Qty: 15})
	require.NoError(t, f.svc.RestoreWalls(ctx))

	require.NoError(t, f.svc.Resync(ctx, domain.VenueFutures))

	// The restored bid is gone from the snapshot; the ask wall is new.
	require.Len(t, f.walls.closed, 1)
	assert.Equal(t, closeCall{id: 7, status: domain.WallStatusUnknown}, f.walls.closed[0])
	require.Len(t, f.walls.inserted, 1)
	assert.Equal(t, "50100.00", f.walls.inserted[0].Price)
	assert.Equal(t, domain.SideAsk, f.walls.inserted[0].Side)

	views := f.replica.Walls()
	require.Len(t, views, 1)
	assert.Equal(t, "50100.00", views[0].Price)
	assert.Equal(t, int64(1), views[0].ID)

	require.Len(t, f.alerts.walls, 2)
	assert.Equal(t, domain.WallUnknown, f.alerts.walls[0].Kind)
	assert.Equal(t, domain.WallNew, f.alerts.walls[1].Kind)
}

func TestBookService_PruneClosesWalls(t *testing.T) {
	ctx := context.Background()
	f := newBookFixture(domain.VenueSpot)
	f.fetcher.snap.Bids = append(f.fetcher.snap.Bids, domain.Level{Price: "20000.00", Qty: 30})
	require.NoError(t, f.svc.Resync(ctx, domain.VenueSpot))
	require.Len(t, f.walls.inserted, 1)

	assert.Equal(t, 1, f.svc.Prune(ctx, domain.VenueSpot))
	require.Len(t, f.walls.closed, 1)
	assert.Equal(t, closeCall{id: 1, status: domain.WallStatusUnknown}, f.walls.closed[0])
	assert.Empty(t, f.replica.Walls())
	assert.Zero(t, f.svc.Prune(ctx, domain.VenueFutures))
}

type fakeAggregates struct {
	mu       sync.Mutex
	upserted []domain.TradeAggregate
	sum      float64
}

func (f *fakeAggregates) UpsertTradeAggregate(_ context.Context, a domain.TradeAggregate) error {
	f.mu.Lock()
	f.upserted = append(f.upserted, a)
	f.mu.Unlock()
	return nil
}

func (f *fakeAggregates) SumDelta(context.Context, domain.Venue, time.Time) (float64, error) {
	return f.sum, nil
}

func (f *fakeAggregates) InsertBookMetrics(context.Context, domain.BookMetrics) error { return nil }

type fakeTrades struct {
	large []domain.LargeTrade
	liqs  []domain.Liquidation
}

func (f *fakeTrades) InsertLarge(_ context.Context, t domain.LargeTrade) error {
	f.large = append(f.large, t)
	return nil
}

func (f *fakeTrades) ListLarge(context.Context, domain.ListOpts) ([]domain.LargeTrade, error) {
	return f.large, nil
}

func (f *fakeTrades) InsertLiquidation(_ context.Context, l domain.Liquidation) error {
	f.liqs = append(f.liqs, l)
	return nil
}

func (f *fakeTrades) ListLiquidations(context.Context, domain.ListOpts) ([]domain.Liquidation, error) {
	return f.liqs, nil
}

type tape struct{ prices []float64 }

func (t *tape) RecordTradePrice(p float64) { t.prices = append(t.prices, p) }

func TestTradeService_Trades(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	agg := trades.NewAggregator(trades.Config{Venue: domain.VenueFutures, LargeTradeQuote: 100_000}, start)
	tp := &tape{}
	store := &fakeTrades{}
	aggStore := &fakeAggregates{sum: 1_000}
	alerts := &fakeAlerts{}
	svc := NewTradeService([]*trades.Aggregator{agg}, map[domain.Venue]TradeTape{domain.VenueFutures: tp},
		trades.NewClassifier("BTCUSDT"), store, aggStore, alerts, &fakePublisher{}, discardLogger())

	ms := start.UnixMilli()
	require.NoError(t, svc.HandleTrade(ctx, domain.VenueFutures,
		[]byte(fmt.Sprintf(`{"e":"aggTrade","p":"50000.0","q":"0.5","m":false,"T":%d}`, ms))))
	require.NoError(t, svc.HandleTrade(ctx, domain.VenueFutures,
		[]byte(fmt.Sprintf(`{"e":"aggTrade","p":"50000.0","q":"3","m":true,"T":%d}`, ms+1000))))
	require.NoError(t, svc.HandleTrade(ctx, domain.VenueFutures,
		[]byte(fmt.Sprintf(`{"e":"aggTrade","p":"50010.0","q":"0.1","m":false,"T":%d}`, ms+61_000))))

	assert.Equal(t, []float64{50000, 50000, 50010}, tp.prices)
	require.Len(t, store.large, 1)
	assert.Equal(t, domain.TradeSell, store.large[0].Side)
	require.Len(t, alerts.large, 1)
	require.Len(t, aggStore.upserted, 1)
	assert.InDelta(t, 25_000-150_000, aggStore.upserted[0].DeltaQuote, 1e-6)

	svc.Flush(ctx)
	assert.Len(t, aggStore.upserted, 2)

	require.NoError(t, svc.RecoverCVD(ctx))
	assert.InDelta(t, 1_000, agg.CVD(), 1e-9)

	st, err := svc.CVDStats(ctx, domain.VenueFutures)
	require.NoError(t, err)
	assert.Equal(t, domain.CVDStats{Venue: domain.VenueFutures, Today: 1_000, Hour: 1_000, Five: 1_000}, st)

	_, err = svc.CVDStats(ctx, domain.VenueSpot)
	assert.ErrorIs(t, err, domain.ErrUnknownVenue)
	assert.Equal(t, []domain.Venue{domain.VenueFutures}, svc.Venues())
}

func TestTradeService_Liquidations(t *testing.T) {
	ctx := context.Background()
	store := &fakeTrades{}
	alerts := &fakeAlerts{}
	svc := NewTradeService(nil, nil, trades.NewClassifier("BTCUSDT"), store, nil, alerts, nil, discardLogger())

	require.NoError(t, svc.HandleLiquidation(ctx,
		[]byte(`{"e":"forceOrder","o":{"s":"ETHUSDT","S":"SELL","o":"LIMIT","p":"3000","q":"1","T":1}}`)))
	assert.Empty(t, store.liqs)

	require.NoError(t, svc.HandleLiquidation(ctx,
		[]byte(`{"e":"forceOrder","o":{"s":"BTCUSDT","S":"SELL","o":"LIMIT","p":"60000","q":"2","T":1}}`)))
	require.Len(t, store.liqs, 1)
	assert.Equal(t, domain.LiquidationLong, store.liqs[0].Side)
	require.Len(t, alerts.liqs, 1)

	require.Error(t, svc.HandleLiquidation(ctx, []byte(`nope`)))
}
