// Package alert turns domain events into rendered notifications, gates them
// by per-kind settings and a cooldown, and delivers them through a queue
// that batches bursts.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// Transport delivers rendered text to a topic.
type Transport interface {
	Send(ctx context.Context, topic domain.Topic, text string) error
}

// SettingsReader looks up per-kind notification settings.
type SettingsReader interface {
	Get(ctx context.Context, kind domain.AlertKind) (domain.NotificationSetting, error)
}

// AlertLog records every alert that passed the gate.
type AlertLog interface {
	Insert(ctx context.Context, a domain.AlertEvent) error
}

// Config holds dispatcher policy.
type Config struct {
	Cooldown       time.Duration
	BatchWindow    time.Duration
	BatchThreshold int
	BatchMaxItems  int
	SendDelay      time.Duration
	// MinQuote is the default minimum notional per kind. A threshold in the
	// settings store overrides it.
	MinQuote map[domain.AlertKind]float64
	// MegaTradeQuote separates mega trades from large trades.
	MegaTradeQuote float64
	// EventTopic is the publisher topic for dispatched alerts.
	EventTopic string
}

// Stats are dispatcher counters.
type Stats struct {
	Queued     int64 `json:"queued"`
	Sent       int64 `json:"sent"`
	Suppressed int64 `json:"suppressed"`
	Failed     int64 `json:"failed"`
	Pending    int   `json:"pending"`
}

// Dispatcher gates, queues and delivers alerts. The queue has a single
// consumer, Run.
type Dispatcher struct {
	cfg       Config
	settings  SettingsReader
	log       AlertLog
	transport Transport
	publisher domain.EventPublisher
	cooldown  *Cooldown
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	queue  deque.Deque[domain.AlertEvent]
	signal chan struct{}

	queued, sent, suppressed, failed atomic.Int64
}

// NewDispatcher creates a Dispatcher. settings, log and publisher may be nil.
func NewDispatcher(cfg Config, settings SettingsReader, log AlertLog, transport Transport, publisher domain.EventPublisher, logger *slog.Logger) *Dispatcher {
	if cfg.BatchThreshold < 1 {
		cfg.BatchThreshold = 3
	}
	if cfg.BatchMaxItems < 1 {
		cfg.BatchMaxItems = 10
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = "alerts"
	}
	d := &Dispatcher{
		cfg:       cfg,
		settings:  settings,
		log:       log,
		transport: transport,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "alerts")),
		now:       time.Now,
		signal:    make(chan struct{}, 1),
	}
	d.cooldown = NewCooldown(cfg.Cooldown, func() time.Time { return d.now() })
	return d
}

// ShouldSend reports whether an alert of kind with the given cooldown key may
// be sent now. A missing or unreadable setting counts as enabled. A true
// result starts the cooldown for key.
func (d *Dispatcher) ShouldSend(ctx context.Context, kind domain.AlertKind, key string) bool {
	return d.gate(ctx, kind, key, -1)
}

// gate applies the enabled flag, the notional threshold (skipped when
// notional is negative) and the cooldown, in that order.
func (d *Dispatcher) gate(ctx context.Context, kind domain.AlertKind, key string, notional float64) bool {
	setting, err := d.setting(ctx, kind)
	if err == nil && !setting.Enabled {
		d.suppressed.Add(1)
		return false
	}
	if notional >= 0 {
		floor := d.cfg.MinQuote[kind]
		if err == nil && setting.ThresholdQuote != nil {
			floor = *setting.ThresholdQuote
		}
		if notional < floor {
			d.suppressed.Add(1)
			return false
		}
	}
	if !d.cooldown.Allow(string(kind) + ":" + key) {
		d.suppressed.Add(1)
		return false
	}
	return true
}

func (d *Dispatcher) setting(ctx context.Context, kind domain.AlertKind) (domain.NotificationSetting, error) {
	if d.settings == nil {
		return domain.NotificationSetting{}, domain.ErrNotFound
	}
	s, err := d.settings.Get(ctx, kind)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		d.logger.WarnContext(ctx, "settings lookup failed, treating as enabled",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
	return s, err
}

// ProcessWallEvent alerts on new and removed walls. Walls that ended
// unobserved are not announced.
func (d *Dispatcher) ProcessWallEvent(ctx context.Context, ev domain.WallEvent) {
	key := string(ev.Venue) + ":" + string(ev.Side)
	now := d.now()
	switch {
	case ev.Kind == domain.WallUnknown:
		return
	case ev.Kind == domain.WallNew:
		if d.gate(ctx, domain.AlertWallNew, key, ev.NewSizeQuote) {
			d.enqueue(ctx, domain.AlertWallNew, renderWallNew(ev, now))
		}
	case ev.Kind.Gone():
		if d.gate(ctx, domain.AlertWallGone, key, ev.OldSizeQuote) {
			d.enqueue(ctx, domain.AlertWallGone, renderWallGone(ev, now))
		}
	}
}

// ProcessConfirmedWall alerts on a newly confirmed wall.
func (d *Dispatcher) ProcessConfirmedWall(ctx context.Context, cw domain.ConfirmedWall) {
	key := string(cw.Venue) + ":" + string(cw.Side)
	if !d.gate(ctx, domain.AlertConfirmedWall, key, -1) {
		return
	}
	d.enqueue(ctx, domain.AlertConfirmedWall, renderConfirmed(cw))
}

// ProcessConfirmedWallGone alerts when a confirmed wall leaves the book.
func (d *Dispatcher) ProcessConfirmedWallGone(ctx context.Context, cw domain.ConfirmedWall, ev domain.WallEvent) {
	key := string(cw.Venue) + ":" + string(cw.Side)
	if !d.gate(ctx, domain.AlertConfirmedWallGone, key, -1) {
		return
	}
	d.enqueue(ctx, domain.AlertConfirmedWallGone, renderConfirmedGone(cw, ev, d.now()))
}

// ProcessLargeTrade alerts on large and mega trades.
func (d *Dispatcher) ProcessLargeTrade(ctx context.Context, t domain.LargeTrade) {
	kind := domain.AlertLargeTrade
	if d.cfg.MegaTradeQuote > 0 && t.QtyQuote >= d.cfg.MegaTradeQuote {
		kind = domain.AlertMegaTrade
	}
	key := string(t.Venue) + ":" + string(t.Side)
	if d.gate(ctx, kind, key, t.QtyQuote) {
		d.enqueue(ctx, kind, renderTrade(kind, t))
	}
}

// ProcessLiquidation alerts on forced liquidations.
func (d *Dispatcher) ProcessLiquidation(ctx context.Context, l domain.Liquidation) {
	key := string(domain.VenueFutures) + ":" + string(l.Side)
	if d.gate(ctx, domain.AlertLiquidation, key, l.QtyQuote) {
		d.enqueue(ctx, domain.AlertLiquidation, renderLiquidation(l))
	}
}

// ProcessCVDSpike alerts on a large five-minute volume delta.
func (d *Dispatcher) ProcessCVDSpike(ctx context.Context, venue domain.Venue, delta float64) {
	dir := "sell"
	if delta > 0 {
		dir = "buy"
	}
	if d.gate(ctx, domain.AlertCVDSpike, string(venue)+":"+dir, -1) {
		d.enqueue(ctx, domain.AlertCVDSpike, renderCVDSpike(venue, delta, d.now()))
	}
}

// ProcessImbalance alerts on a strongly one-sided book near the mid.
func (d *Dispatcher) ProcessImbalance(ctx context.Context, venue domain.Venue, imbalance float64) {
	dir := "ask"
	if imbalance > 0 {
		dir = "bid"
	}
	if d.gate(ctx, domain.AlertImbalance, string(venue)+":"+dir, -1) {
		d.enqueue(ctx, domain.AlertImbalance, renderImbalance(venue, imbalance, d.now()))
	}
}

// System queues an operational message. It bypasses settings and cooldown.
func (d *Dispatcher) System(ctx context.Context, text string) {
	d.enqueue(ctx, domain.AlertSystem, text)
}

// enqueue persists the alert, publishes it and pushes it onto the queue.
// Persistence and publishing failures are logged only.
func (d *Dispatcher) enqueue(ctx context.Context, kind domain.AlertKind, text string) {
	ev := domain.AlertEvent{
		ID:    uuid.NewString(),
		Kind:  kind,
		Topic: domain.TopicFor(kind),
		Text:  text,
		Time:  d.now(),
	}

	if d.log != nil {
		if err := d.log.Insert(ctx, ev); err != nil {
			d.logger.WarnContext(ctx, "alert log insert failed",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
		}
	}
	if d.publisher != nil {
		if payload, err := json.Marshal(ev); err == nil {
			if err := d.publisher.Publish(ctx, d.cfg.EventTopic, string(kind), payload); err != nil {
				d.logger.WarnContext(ctx, "alert publish failed", slog.String("error", err.Error()))
			}
		}
	}

	d.mu.Lock()
	d.queue.PushBack(ev)
	d.mu.Unlock()
	d.queued.Add(1)

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) pop() (domain.AlertEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue.Len() == 0 {
		return domain.AlertEvent{}, false
	}
	return d.queue.PopFront(), true
}

func (d *Dispatcher) drain() []domain.AlertEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.AlertEvent, 0, d.queue.Len())
	for d.queue.Len() > 0 {
		out = append(out, d.queue.PopFront())
	}
	return out
}

// Run consumes the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "alert dispatcher started")
	for {
		first, ok := d.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-d.signal:
				continue
			}
		}

		if err := sleep(ctx, d.cfg.BatchWindow); err != nil {
			return nil
		}
		batch := append([]domain.AlertEvent{first}, d.drain()...)
		if err := d.deliver(ctx, batch); err != nil {
			return nil
		}
	}
}

type groupKey struct {
	kind  domain.AlertKind
	topic domain.Topic
}

// deliver groups a drained batch by kind and topic in first-seen order.
// Groups larger than the threshold collapse into one message. It only
// returns an error when ctx is done.
func (d *Dispatcher) deliver(ctx context.Context, batch []domain.AlertEvent) error {
	var order []groupKey
	groups := make(map[groupKey][]domain.AlertEvent)
	for _, ev := range batch {
		k := groupKey{kind: ev.Kind, topic: ev.Topic}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ev)
	}

	first := true
	send := func(topic domain.Topic, text string, n int) error {
		if !first {
			if err := sleep(ctx, d.cfg.SendDelay); err != nil {
				return err
			}
		}
		first = false
		if err := d.transport.Send(ctx, topic, text); err != nil {
			d.failed.Add(int64(n))
			d.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("topic", string(topic)),
				slog.String("error", err.Error()),
			)
			return ctx.Err()
		}
		d.sent.Add(int64(n))
		return nil
	}

	for _, k := range order {
		evs := groups[k]
		if len(evs) > d.cfg.BatchThreshold {
			if err := send(k.topic, renderBatch(k.kind, evs, d.cfg.BatchMaxItems), len(evs)); err != nil {
				return err
			}
			continue
		}
		for _, ev := range evs {
			if err := send(ev.Topic, ev.Text, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// CleanupCooldowns drops stale cooldown entries.
func (d *Dispatcher) CleanupCooldowns(maxAge time.Duration) int {
	return d.cooldown.Cleanup(maxAge)
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	pending := d.queue.Len()
	d.mu.Unlock()
	return Stats{
		Queued:     d.queued.Load(),
		Sent:       d.sent.Load(),
		Suppressed: d.suppressed.Load(),
		Failed:     d.failed.Load(),
		Pending:    pending,
	}
}

func sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DefaultMinQuote builds the per-kind notional floor map.
func DefaultMinQuote(wallNew, wallGone, largeTrade, megaTrade, liquidation float64) map[domain.AlertKind]float64 {
	return map[domain.AlertKind]float64{
		domain.AlertWallNew:     wallNew,
		domain.AlertWallGone:    wallGone,
		domain.AlertLargeTrade:  largeTrade,
		domain.AlertMegaTrade:   megaTrade,
		domain.AlertLiquidation: liquidation,
	}
}
