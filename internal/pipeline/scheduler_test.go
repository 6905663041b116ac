package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallwatch/internal/confirm"
	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/orderbook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBooks struct {
	replicas map[domain.Venue]*orderbook.Replica
	resynced []domain.Venue
	pruned   []domain.WallEvent
}

func newFakeBooks(rs ...*orderbook.Replica) *fakeBooks {
	b := &fakeBooks{replicas: make(map[domain.Venue]*orderbook.Replica)}
	for _, r := range rs {
		b.replicas[r.Venue()] = r
	}
	return b
}

func (b *fakeBooks) Venues() []domain.Venue {
	var out []domain.Venue
	for _, v := range domain.Venues {
		if _, ok := b.replicas[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (b *fakeBooks) Replica(v domain.Venue) (*orderbook.Replica, bool) {
	r, ok := b.replicas[v]
	return r, ok
}

func (b *fakeBooks) Readers() map[domain.Venue]confirm.LevelReader {
	out := make(map[domain.Venue]confirm.LevelReader)
	for v, r := range b.replicas {
		out[v] = r
	}
	return out
}

func (b *fakeBooks) Resync(_ context.Context, v domain.Venue) error {
	b.resynced = append(b.resynced, v)
	return nil
}

func (b *fakeBooks) ResyncStale(context.Context) []domain.Venue { return nil }

func (b *fakeBooks) Prune(_ context.Context, v domain.Venue) int {
	r, ok := b.replicas[v]
	if !ok {
		return 0
	}
	n, events := r.Prune()
	b.pruned = append(b.pruned, events...)
	return n
}

type fakeFlow struct {
	delta  float64
	resets int
}

func (f *fakeFlow) Delta(context.Context, domain.Venue, time.Duration) (float64, error) {
	return f.delta, nil
}

func (f *fakeFlow) CheckCVDReset(context.Context) { f.resets++ }

type fakeAlerts struct {
	mu         sync.Mutex
	confirmed  []domain.ConfirmedWall
	spikes     []float64
	imbalances []float64
	system     []string
}

func (a *fakeAlerts) ProcessConfirmedWall(_ context.Context, cw domain.ConfirmedWall) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirmed = append(a.confirmed, cw)
}

func (a *fakeAlerts) ProcessCVDSpike(_ context.Context, _ domain.Venue, d float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spikes = append(a.spikes, d)
}

func (a *fakeAlerts) ProcessImbalance(_ context.Context, _ domain.Venue, imb float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.imbalances = append(a.imbalances, imb)
}

func (a *fakeAlerts) System(_ context.Context, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.system = append(a.system, text)
}

func (a *fakeAlerts) CleanupCooldowns(time.Duration) int { return 0 }

type fakeAggregates struct {
	metrics []domain.BookMetrics
}

func (f *fakeAggregates) UpsertTradeAggregate(context.Context, domain.TradeAggregate) error {
	return nil
}

func (f *fakeAggregates) SumDelta(context.Context, domain.Venue, time.Time) (float64, error) {
	return 0, nil
}

func (f *fakeAggregates) InsertBookMetrics(_ context.Context, m domain.BookMetrics) error {
	f.metrics = append(f.metrics, m)
	return nil
}

type fakeCache struct {
	set map[domain.Venue]domain.BookMetrics
}

func (f *fakeCache) SetMetrics(_ context.Context, m domain.BookMetrics) error {
	f.set[m.Venue] = m
	return nil
}

func (f *fakeCache) GetMetrics(_ context.Context, v domain.Venue) (domain.BookMetrics, error) {
	m, ok := f.set[v]
	if !ok {
		return domain.BookMetrics{}, domain.ErrNotFound
	}
	return m, nil
}

type fakeFeed struct {
	venue domain.Venue
	up    bool
}

func (f fakeFeed) Venue() domain.Venue { return f.venue }
func (f fakeFeed) Connected() bool     { return f.up }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newReplica(venue domain.Venue) *orderbook.Replica {
	return orderbook.New(orderbook.Config{
		Venue:              venue,
		WallThresholdQuote: 500_000,
		PruneDistance:      0.5,
		FallbackMid:        97_000,
	}, discardLogger())
}

// bidHeavy returns a snapshot with $10M bid and $50k ask near the mid.
func bidHeavy(bidLevels int) domain.DepthSnapshot {
	snap := domain.DepthSnapshot{
		LastUpdateID: 100,
		Bids:         []domain.Level{{Price: "49990.00", Qty: 200}},
		Asks:         []domain.Level{{Price: "50002.00", Qty: 1}},
	}
	for i := 1; i < bidLevels; i++ {
		snap.Bids = append(snap.Bids, domain.Level{Price: strconv.Itoa(40000+i) + ".00", Qty: 0.001})
	}
	return snap
}

func newTestScheduler(cfg Config, deps Deps) *Scheduler {
	s := NewScheduler(cfg, deps, discardLogger())
	s.now = func() time.Time { return time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC) }
	return s
}

func TestRunMetricsPersistsAndAlerts(t *testing.T) {
	ready := newReplica(domain.VenueFutures)
	ready.ApplySnapshot(bidHeavy(1))
	cold := newReplica(domain.VenueSpot)

	aggs := &fakeAggregates{}
	cache := &fakeCache{set: map[domain.Venue]domain.BookMetrics{}}
	flow := &fakeFlow{delta: -6_000_000}
	alerts := &fakeAlerts{}
	s := newTestScheduler(Config{
		ImbalanceThreshold: 0.4,
		ImbalanceBand:      0.01,
		CVDSpikeQuote:      5_000_000,
	}, Deps{
		Books:      newFakeBooks(ready, cold),
		Flow:       flow,
		Alerts:     alerts,
		Aggregates: aggs,
		Metrics:    cache,
	})

	s.RunMetrics(context.Background())

	require.Len(t, aggs.metrics, 1)
	assert.Equal(t, domain.VenueFutures, aggs.metrics[0].Venue)
	assert.Contains(t, cache.set, domain.VenueFutures)
	assert.NotContains(t, cache.set, domain.VenueSpot)

	require.Len(t, alerts.imbalances, 1)
	assert.Greater(t, alerts.imbalances[0], 0.4)
	assert.Equal(t, []float64{-6_000_000, -6_000_000}, alerts.spikes)
	assert.Equal(t, 1, flow.resets)
}

func TestRunMetricsQuietBelowThresholds(t *testing.T) {
	r := newReplica(domain.VenueSpot)
	r.ApplySnapshot(domain.DepthSnapshot{
		LastUpdateID: 1,
		Bids:         []domain.Level{{Price: "49990.00", Qty: 10}},
		Asks:         []domain.Level{{Price: "50002.00", Qty: 10}},
	})
	alerts := &fakeAlerts{}
	s := newTestScheduler(Config{ImbalanceThreshold: 0.4, CVDSpikeQuote: 5_000_000}, Deps{
		Books:  newFakeBooks(r),
		Flow:   &fakeFlow{delta: 4_999_999},
		Alerts: alerts,
	})

	s.RunMetrics(context.Background())
	assert.Empty(t, alerts.imbalances)
	assert.Empty(t, alerts.spikes)
}

func TestRunMetricsPrunesThroughBooks(t *testing.T) {
	r := newReplica(domain.VenueSpot)
	snap := bidHeavy(1)
	snap.Bids = append(snap.Bids, domain.Level{Price: "20000.00", Qty: 30})
	r.ApplySnapshot(snap)
	require.Len(t, r.Walls(), 2)

	books := newFakeBooks(r)
	s := newTestScheduler(Config{}, Deps{Books: books, Alerts: &fakeAlerts{}})
	s.RunMetrics(context.Background())

	require.Len(t, books.pruned, 1)
	assert.Equal(t, domain.WallUnknown, books.pruned[0].Kind)
	assert.Equal(t, "20000.00", books.pruned[0].Price)
	require.Len(t, r.Walls(), 1)
	assert.Equal(t, "49990.00", r.Walls()[0].Price)
}

func TestRunConfirmPromotesPendingWall(t *testing.T) {
	r := newReplica(domain.VenueFutures)
	r.ApplySnapshot(bidHeavy(1))
	checker := confirm.New(confirm.Config{ThresholdQuote: 5_000_000, MaxDistancePct: 2}, discardLogger())
	require.True(t, checker.OnWallDetected(domain.WallEvent{
		Kind:         domain.WallNew,
		Venue:        domain.VenueFutures,
		Side:         domain.SideBid,
		Price:        "49990.00",
		PriceValue:   49990,
		NewSizeQuote: 9_998_000,
		MidPrice:     49996,
	}))

	alerts := &fakeAlerts{}
	s := newTestScheduler(Config{}, Deps{Books: newFakeBooks(r), Checker: checker, Alerts: alerts})
	s.RunConfirm(context.Background())

	require.Len(t, alerts.confirmed, 1)
	assert.Equal(t, "49990.00", alerts.confirmed[0].Price)
	_, confirmed := checker.Counts()
	assert.Equal(t, 1, confirmed)
}

func TestRunRefreshResyncsEveryVenue(t *testing.T) {
	books := newFakeBooks(newReplica(domain.VenueFutures), newReplica(domain.VenueSpot))
	s := newTestScheduler(Config{}, Deps{Books: books, Alerts: &fakeAlerts{}})
	s.RunRefresh(context.Background())
	assert.Equal(t, []domain.Venue{domain.VenueFutures, domain.VenueSpot}, books.resynced)
}

func TestHealthcheckAlertsOnceAfterConsecutiveFailures(t *testing.T) {
	r := newReplica(domain.VenueFutures)
	r.ApplySnapshot(bidHeavy(150))
	alerts := &fakeAlerts{}
	feed := &fakeFeed{venue: domain.VenueFutures}
	s := newTestScheduler(Config{HealthcheckFailures: 3, MinHealthyLevels: 100}, Deps{
		Books:  newFakeBooks(r),
		Alerts: alerts,
		Feeds:  []FeedProbe{feed},
		DB:     fakePinger{},
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.False(t, s.RunHealthcheck(ctx))
	}
	require.Len(t, alerts.system, 1)
	assert.Contains(t, alerts.system[0], "Futures feed disconnected")

	feed.up = true
	assert.True(t, s.RunHealthcheck(ctx))

	feed.up = false
	s.RunHealthcheck(ctx)
	s.RunHealthcheck(ctx)
	assert.Len(t, alerts.system, 1)
	s.RunHealthcheck(ctx)
	assert.Len(t, alerts.system, 2)
}

func TestProblems(t *testing.T) {
	thin := newReplica(domain.VenueSpot)
	thin.ApplySnapshot(bidHeavy(5))
	cold := newReplica(domain.VenueFutures)

	s := newTestScheduler(Config{MinHealthyLevels: 100}, Deps{
		Books:  newFakeBooks(thin, cold),
		Alerts: &fakeAlerts{},
		Feeds:  []FeedProbe{fakeFeed{venue: domain.VenueSpot, up: true}},
		DB:     fakePinger{err: errors.New("connection refused")},
	})

	assert.Equal(t, []string{
		"Futures book not synchronised",
		"Spot book has 5 bid levels",
		"database: connection refused",
	}, s.Problems(context.Background()))
}

type fakeLock struct {
	held     bool
	released int
}

func (l *fakeLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() { l.released++ }, nil
}

type fakeArchiver struct {
	fail   map[string]bool
	before time.Time
}

func (a *fakeArchiver) Archive(_ context.Context, table string, before time.Time) (int64, string, error) {
	a.before = before
	if a.fail[table] {
		return 0, "", errors.New("upload refused")
	}
	return 3, "archive/" + table + ".jsonl", nil
}

type fakeRetention struct {
	purged []string
}

func (r *fakeRetention) Export(context.Context, string, time.Time, io.Writer) (int64, error) {
	return 0, nil
}

func (r *fakeRetention) Purge(_ context.Context, table string, _ time.Time) (int64, error) {
	r.purged = append(r.purged, table)
	return 7, nil
}

func TestRetentionSkipsPurgeWhenArchiveFails(t *testing.T) {
	arch := &fakeArchiver{fail: map[string]bool{"large_trades": true}}
	ret := &fakeRetention{}
	lock := &fakeLock{}
	s := newTestScheduler(Config{RetentionDays: 90}, Deps{
		Books:     newFakeBooks(),
		Alerts:    &fakeAlerts{},
		Lock:      lock,
		Archiver:  arch,
		Retention: ret,
		Tables:    []string{"walls", "large_trades", "alert_log"},
	})

	reports, err := s.Retain(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive large_trades")
	assert.Equal(t, []string{"walls", "alert_log"}, ret.purged)
	require.Len(t, reports, 3)
	assert.Equal(t, int64(3), reports[0].Archived)
	assert.Equal(t, int64(7), reports[0].Purged)
	assert.Equal(t, time.Date(2025, 3, 3, 4, 0, 0, 0, time.UTC), arch.before)
	assert.Equal(t, 1, lock.released)
}

func TestRetentionWithoutArchiverPurges(t *testing.T) {
	ret := &fakeRetention{}
	s := newTestScheduler(Config{RetentionDays: 30}, Deps{
		Books:     newFakeBooks(),
		Alerts:    &fakeAlerts{},
		Retention: ret,
		Tables:    []string{"book_metrics"},
	})
	require.NoError(t, s.RunRetention(context.Background()))
	assert.Equal(t, []string{"book_metrics"}, ret.purged)
}

func TestRetentionSkippedWhileLockHeld(t *testing.T) {
	ret := &fakeRetention{}
	s := newTestScheduler(Config{RetentionDays: 90}, Deps{
		Books:     newFakeBooks(),
		Alerts:    &fakeAlerts{},
		Lock:      &fakeLock{held: true},
		Retention: ret,
		Tables:    []string{"walls"},
	})
	require.NoError(t, s.RunRetention(context.Background()))
	assert.Empty(t, ret.purged)
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	s := NewScheduler(Config{}, Deps{Books: newFakeBooks(), Alerts: &fakeAlerts{}}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunRejectsBadCron(t *testing.T) {
	s := NewScheduler(Config{RetentionCron: "0 25 * * *"}, Deps{Books: newFakeBooks(), Alerts: &fakeAlerts{}}, discardLogger())
	assert.Error(t, s.Run(context.Background()))
}
