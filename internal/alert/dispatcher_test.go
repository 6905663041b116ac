package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

type sentMsg struct {
	topic domain.Topic
	text  string
}

type fakeTransport struct {
	mu   sync.Mutex
	msgs []sentMsg
}

func (f *fakeTransport) Send(_ context.Context, topic domain.Topic, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{topic: topic, text: text})
	return nil
}

func (f *fakeTransport) snapshot() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.msgs...)
}

type fakeSettings struct {
	byKind map[domain.AlertKind]domain.NotificationSetting
	err    error
}

func (f *fakeSettings) Get(_ context.Context, kind domain.AlertKind) (domain.NotificationSetting, error) {
	if f.err != nil {
		return domain.NotificationSetting{}, f.err
	}
	s, ok := f.byKind[kind]
	if !ok {
		return domain.NotificationSetting{}, domain.ErrNotFound
	}
	return s, nil
}

type fakeLog struct {
	mu   sync.Mutex
	rows []domain.AlertEvent
}

func (f *fakeLog) Insert(_ context.Context, a domain.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, a)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePublisher) Publish(_ context.Context, topic, _ string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(settings SettingsReader) (*Dispatcher, *fakeTransport, *time.Time) {
	tr := &fakeTransport{}
	now := t0
	d := NewDispatcher(Config{
		Cooldown:       300 * time.Second,
		BatchWindow:    10 * time.Millisecond,
		BatchThreshold: 3,
		BatchMaxItems:  10,
		MinQuote:       DefaultMinQuote(2_000_000, 1_000_000, 500_000, 2_000_000, 1_000_000),
		MegaTradeQuote: 2_000_000,
	}, settings, nil, tr, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.now = func() time.Time { return now }
	return d, tr, &now
}

func TestShouldSendCooldown(t *testing.T) {
	ctx := context.Background()

	d, _, now := newTestDispatcher(nil)
	assert.True(t, d.ShouldSend(ctx, domain.AlertWallNew, "futures:bid"))
	*now = t0.Add(200 * time.Second)
	assert.False(t, d.ShouldSend(ctx, domain.AlertWallNew, "futures:bid"))

	d, _, now = newTestDispatcher(nil)
	assert.True(t, d.ShouldSend(ctx, domain.AlertWallNew, "futures:bid"))
	*now = t0.Add(301 * time.Second)
	assert.True(t, d.ShouldSend(ctx, domain.AlertWallNew, "futures:bid"))
}

func TestCooldownKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(nil)
	assert.True(t, d.ShouldSend(ctx, domain.AlertWallNew, "futures:bid"))
	assert.True(t, d.ShouldSend(ctx, domain.AlertWallNew, "futures:ask"))
	assert.True(t, d.ShouldSend(ctx, domain.AlertWallNew, "spot:bid"))
	assert.True(t, d.ShouldSend(ctx, domain.AlertWallGone, "futures:bid"))
}

func TestShouldSendRespectsSettings(t *testing.T) {
	ctx := context.Background()
	settings := &fakeSettings{byKind: map[domain.AlertKind]domain.NotificationSetting{
		domain.AlertImbalance: {Kind: domain.AlertImbalance, Enabled: false},
	}}
	d, _, _ := newTestDispatcher(settings)
	assert.False(t, d.ShouldSend(ctx, domain.AlertImbalance, "spot:bid"))
	assert.True(t, d.ShouldSend(ctx, domain.AlertCVDSpike, "spot:buy"))

	// An unreadable store does not silence alerts.
	d, _, _ = newTestDispatcher(&fakeSettings{err: errors.New("db down")})
	assert.True(t, d.ShouldSend(ctx, domain.AlertImbalance, "spot:bid"))
}

func TestThresholdOverride(t *testing.T) {
	ctx := context.Background()
	ev := domain.WallEvent{Kind: domain.WallNew, Venue: domain.VenueSpot, Side: domain.SideBid, Price: "50000.00", PriceValue: 50_000, NewSizeQuote: 1_500_000}

	d, _, _ := newTestDispatcher(nil)
	d.ProcessWallEvent(ctx, ev)
	assert.Equal(t, int64(0), d.Stats().Queued)

	lower := 1_000_000.0
	d, _, _ = newTestDispatcher(&fakeSettings{byKind: map[domain.AlertKind]domain.NotificationSetting{
		domain.AlertWallNew: {Kind: domain.AlertWallNew, Enabled: true, ThresholdQuote: &lower},
	}})
	d.ProcessWallEvent(ctx, ev)
	assert.Equal(t, int64(1), d.Stats().Queued)
}

func TestUnobservedWallEndIsNotAnnounced(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(nil)
	ev := domain.WallEvent{Kind: domain.WallUnknown, Venue: domain.VenueSpot, Side: domain.SideBid, Price: "50000.00", PriceValue: 50_000, OldSizeQuote: 5_000_000}
	d.ProcessWallEvent(ctx, ev)
	assert.Equal(t, int64(0), d.Stats().Queued)

	ev.Kind = domain.WallCancelled
	d.ProcessWallEvent(ctx, ev)
	assert.Equal(t, int64(1), d.Stats().Queued)
}

func TestConfirmedWallRendersCarriedPrice(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(nil)
	log := &fakeLog{}
	d.log = log
	d.ProcessConfirmedWall(ctx, domain.ConfirmedWall{
		Venue: domain.VenueFutures, Side: domain.SideAsk, Price: "101500.50", PriceValue: 101_500.5,
		SizeQuote: 7_000_000, DistancePct: 1.5, DetectedAt: t0, ConfirmedAt: t0.Add(time.Minute),
	})
	require.Len(t, log.rows, 1)
	assert.Contains(t, log.rows[0].Text, "@ $101,500.50")
}

func TestMegaTradeKind(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(nil)
	log := &fakeLog{}
	d.log = log

	d.ProcessLargeTrade(ctx, domain.LargeTrade{Venue: domain.VenueFutures, Side: domain.TradeBuy, Price: 50_000, QtyQuote: 2_500_000})
	d.ProcessLargeTrade(ctx, domain.LargeTrade{Venue: domain.VenueFutures, Side: domain.TradeSell, Price: 50_000, QtyQuote: 600_000})
	d.ProcessLargeTrade(ctx, domain.LargeTrade{Venue: domain.VenueFutures, Side: domain.TradeSell, Price: 50_000, QtyQuote: 200_000})

	require.Len(t, log.rows, 2)
	assert.Equal(t, domain.AlertMegaTrade, log.rows[0].Kind)
	assert.Equal(t, domain.AlertLargeTrade, log.rows[1].Kind)
	assert.Equal(t, domain.TopicTrades, log.rows[1].Topic)
	assert.NotEmpty(t, log.rows[0].ID)
}

func TestSystemBypassesGate(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(&fakeSettings{err: errors.New("unused")})
	pub := &fakePublisher{}
	d.publisher = pub

	d.System(ctx, "feed down")
	d.System(ctx, "feed down")
	assert.Equal(t, int64(2), d.Stats().Queued)
	assert.Equal(t, []string{"alerts", "alerts"}, pub.topics)
}

func runDispatcher(t *testing.T, d *Dispatcher, tr *fakeTransport, want int) []sentMsg {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	require.Eventually(t, func() bool { return len(tr.snapshot()) >= want }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	return tr.snapshot()
}

func TestBurstIsBatched(t *testing.T) {
	ctx := context.Background()
	d, tr, _ := newTestDispatcher(nil)

	for i := 0; i < 5; i++ {
		d.enqueue(ctx, domain.AlertLargeTrade, "trade")
	}
	d.enqueue(ctx, domain.AlertWallNew, "wall one")
	d.enqueue(ctx, domain.AlertWallNew, "wall two")

	msgs := runDispatcher(t, d, tr, 3)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.TopicTrades, msgs[0].topic)
	assert.True(t, strings.HasPrefix(msgs[0].text, "⚡️ 5 events (large_trade):"))
	assert.Equal(t, 4, strings.Count(msgs[0].text, "\n---\n"))
	assert.Equal(t, sentMsg{topic: domain.TopicWalls, text: "wall one"}, msgs[1])
	assert.Equal(t, sentMsg{topic: domain.TopicWalls, text: "wall two"}, msgs[2])

	st := d.Stats()
	assert.Equal(t, int64(7), st.Sent)
	assert.Equal(t, 0, st.Pending)
}

func TestBatchCapsInlinedItems(t *testing.T) {
	ctx := context.Background()
	d, tr, _ := newTestDispatcher(nil)
	for i := 0; i < 12; i++ {
		d.enqueue(ctx, domain.AlertLiquidation, "liq")
	}

	msgs := runDispatcher(t, d, tr, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, 9, strings.Count(msgs[0].text, "\n---\n"))
	assert.True(t, strings.HasSuffix(msgs[0].text, "+2 more"))
}

func TestThresholdSizedGroupSentIndividually(t *testing.T) {
	ctx := context.Background()
	d, tr, _ := newTestDispatcher(nil)
	for i := 0; i < 3; i++ {
		d.enqueue(ctx, domain.AlertImbalance, "imb")
	}
	msgs := runDispatcher(t, d, tr, 3)
	assert.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, sentMsg{topic: domain.TopicFlow, text: "imb"}, m)
	}
}
