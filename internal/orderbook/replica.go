// Package orderbook maintains a local replica of a venue's price-level book
// from a REST snapshot plus the sequenced diff stream, and tracks walls
// (levels whose notional crosses a threshold) through their lifecycle.
package orderbook

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// Config holds replica tuning.
type Config struct {
	Venue              domain.Venue
	WallThresholdQuote float64
	PruneDistance      float64 // fraction of mid, levels beyond it are pruned
	FallbackMid        float64 // mid used while the book is one-sided
	MaxPending         int     // 0 means unbounded
}

type level struct {
	price float64
	qty   float64
}

type wallKey struct {
	side  domain.Side
	price string
}

const (
	tapeMax    = 200
	tapeKeep   = 100
	tapeLookup = 50
)

// Replica is the in-memory book of one venue. All mutation and multi-field
// reads happen under mu.
type Replica struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	bids       map[string]level
	asks       map[string]level
	lastSeq    uint64
	ready      bool
	synced     bool // at least one snapshot applied
	firstDiff  bool // next diff is the first after a snapshot
	pending    deque.Deque[domain.DepthDiff]
	walls      map[wallKey]*domain.WallInfo
	lastUpdate time.Time
	snapshots  int
	gaps       int
	dropped    int

	tapeMu sync.Mutex
	tape   []float64
}

// New creates an empty, not-ready replica.
func New(cfg Config, logger *slog.Logger) *Replica {
	if cfg.PruneDistance <= 0 {
		cfg.PruneDistance = 0.5
	}
	if cfg.FallbackMid <= 0 {
		cfg.FallbackMid = 97_000
	}
	return &Replica{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "orderbook"), slog.String("venue", string(cfg.Venue))),
		now:    time.Now,
		bids:   make(map[string]level),
		asks:   make(map[string]level),
		walls:  make(map[wallKey]*domain.WallInfo),
	}
}

// Venue returns the venue this replica mirrors.
func (r *Replica) Venue() domain.Venue { return r.cfg.Venue }

// ApplySnapshot replaces the book wholesale, reconciles the tracked walls
// against it, marks the replica ready and replays buffered diffs that chain
// from the snapshot. Wall events from the reconciliation come first,
// followed by those of the replay.
func (r *Replica) ApplySnapshot(snap domain.DepthSnapshot) []domain.WallEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bids = buildSide(snap.Bids)
	r.asks = buildSide(snap.Asks)
	r.lastSeq = snap.LastUpdateID
	r.ready = true
	r.synced = true
	r.firstDiff = true
	r.snapshots++
	r.lastUpdate = r.now()

	events := r.reconcileLocked()
	replayed, skipped := 0, 0
	for i := 0; i < r.pending.Len(); i++ {
		d := r.pending.At(i)
		if d.FinalUpdateID <= r.lastSeq || !r.chainsLocked(d) {
			skipped++
			continue
		}
		events = append(events, r.applyLocked(d)...)
		replayed++
	}
	r.pending.Clear()

	r.logger.Info("snapshot applied",
		slog.Uint64("last_update_id", snap.LastUpdateID),
		slog.Int("bids", len(r.bids)),
		slog.Int("asks", len(r.asks)),
		slog.Int("replayed", replayed),
		slog.Int("skipped", skipped),
	)
	return events
}

// ApplyDiff merges one depth update. While the replica is not ready the diff
// is buffered and nothing is returned. A diff that does not chain from the
// last applied sequence invalidates the replica and returns ErrSequenceGap;
// a diff already covered by the book returns ErrStaleDiff and changes
// nothing.
func (r *Replica) ApplyDiff(d domain.DepthDiff) ([]domain.WallEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		if r.cfg.MaxPending > 0 && r.pending.Len() >= r.cfg.MaxPending {
			r.pending.PopFront()
			r.dropped++
		}
		r.pending.PushBack(d)
		return nil, nil
	}

	if d.FinalUpdateID <= r.lastSeq {
		return nil, fmt.Errorf("%w: u=%d last=%d", domain.ErrStaleDiff, d.FinalUpdateID, r.lastSeq)
	}

	if !r.chainsLocked(d) {
		last := r.lastSeq
		r.invalidateLocked()
		r.gaps++
		return nil, fmt.Errorf("%w: venue=%s last=%d U=%d u=%d pu=%d",
			domain.ErrSequenceGap, r.cfg.Venue, last, d.FirstUpdateID, d.FinalUpdateID, d.PrevFinalUpdateID)
	}

	return r.applyLocked(d), nil
}

// chainsLocked reports whether d continues the sequence at lastSeq.
func (r *Replica) chainsLocked(d domain.DepthDiff) bool {
	if r.cfg.Venue.Derivatives() {
		if d.HasPrev && d.PrevFinalUpdateID == r.lastSeq {
			return true
		}
		return r.firstDiff && d.FirstUpdateID <= r.lastSeq && r.lastSeq <= d.FinalUpdateID
	}
	next := r.lastSeq + 1
	if d.FirstUpdateID == next {
		return true
	}
	return r.firstDiff && d.FirstUpdateID <= next && next <= d.FinalUpdateID
}

// applyLocked advances the cursor and merges both sides. The mid used for
// wall classification is taken before any level of the batch is touched.
func (r *Replica) applyLocked(d domain.DepthDiff) []domain.WallEvent {
	mid := r.midLocked()
	r.lastSeq = d.FinalUpdateID
	r.firstDiff = false
	r.lastUpdate = r.now()

	events := r.mergeLocked(domain.SideBid, r.bids, d.Bids, mid)
	return append(events, r.mergeLocked(domain.SideAsk, r.asks, d.Asks, mid)...)
}

func (r *Replica) mergeLocked(side domain.Side, book map[string]level, updates []domain.Level, mid float64) []domain.WallEvent {
	if len(updates) == 0 {
		return nil
	}
	touched := make([]string, 0, len(updates))
	seen := make(map[string]float64, len(updates))
	for _, u := range updates {
		lv, ok := book[u.Price]
		if !ok {
			p, err := parsePrice(u.Price)
			if err != nil {
				r.logger.Debug("skip level", slog.String("price", u.Price), slog.String("error", err.Error()))
				continue
			}
			lv.price = p
		}
		if _, dup := seen[u.Price]; !dup {
			touched = append(touched, u.Price)
		}
		seen[u.Price] = lv.price
		if u.Qty == 0 {
			delete(book, u.Price)
			continue
		}
		lv.qty = u.Qty
		book[u.Price] = lv
	}

	var events []domain.WallEvent
	for _, key := range touched {
		qty := book[key].qty
		if ev, ok := r.transitionLocked(side, key, seen[key], qty, mid); ok {
			events = append(events, ev)
		}
	}
	return events
}

// reconcileLocked brings the tracked walls in line with a freshly replaced
// book. Walls whose level is gone end as unknown, walls whose level shrank
// below the threshold end as partial, and wall-sized levels not yet tracked
// are reported as new. Levels are visited in price order.
func (r *Replica) reconcileLocked() []domain.WallEvent {
	mid := r.midLocked()
	var events []domain.WallEvent

	keys := make([]wallKey, 0, len(r.walls))
	for k := range r.walls {
		keys = append(keys, k)
	}
	sortWallKeys(keys)
	for _, k := range keys {
		if _, ok := r.sideLocked(k.side)[k.price]; ok {
			continue
		}
		events = append(events, r.dropWallLocked(k, mid))
	}

	for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
		book := r.sideLocked(side)
		prices := make([]string, 0, len(book))
		for p := range book {
			prices = append(prices, p)
		}
		sort.Slice(prices, func(i, j int) bool { return book[prices[i]].price < book[prices[j]].price })
		for _, p := range prices {
			lv := book[p]
			if _, tracked := r.walls[wallKey{side: side, price: p}]; !tracked && lv.qty*lv.price < r.cfg.WallThresholdQuote {
				continue
			}
			if ev, ok := r.transitionLocked(side, p, lv.price, lv.qty, mid); ok {
				events = append(events, ev)
			}
		}
	}
	return events
}

// dropWallLocked stops tracking a wall whose level left the book without an
// observed diff and returns the unknown event ending it.
func (r *Replica) dropWallLocked(k wallKey, mid float64) domain.WallEvent {
	w := r.walls[k]
	delete(r.walls, k)
	return domain.WallEvent{
		Kind:         domain.WallUnknown,
		Venue:        r.cfg.Venue,
		Side:         k.side,
		Price:        k.price,
		PriceValue:   priceOf(w),
		OldSizeQuote: w.SizeQuote,
		PeakQuote:    w.PeakSizeQuote,
		MidPrice:     mid,
		WallID:       w.ID,
		DetectedAt:   w.DetectedAt,
	}
}

func (r *Replica) sideLocked(side domain.Side) map[string]level {
	if side == domain.SideAsk {
		return r.asks
	}
	return r.bids
}

func sortWallKeys(keys []wallKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].side != keys[j].side {
			return keys[i].side < keys[j].side
		}
		return keys[i].price < keys[j].price
	})
}

// Invalidate drops the synchronised state; diffs buffer until the next
// snapshot.
func (r *Replica) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidateLocked()
}

func (r *Replica) invalidateLocked() {
	r.ready = false
	r.firstDiff = false
	r.pending.Clear()
}

// Ready reports whether diffs are being applied.
func (r *Replica) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// NeedsResync reports whether the replica was synchronised once and has
// since lost sync.
func (r *Replica) NeedsResync() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.synced && !r.ready
}

// LastSeq returns the last applied update id.
func (r *Replica) LastSeq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSeq
}

func buildSide(levels []domain.Level) map[string]level {
	out := make(map[string]level, len(levels))
	for _, l := range levels {
		if l.Qty == 0 {
			continue
		}
		p, err := parsePrice(l.Price)
		if err != nil {
			continue
		}
		out[l.Price] = level{price: p, qty: l.Qty}
	}
	return out
}

func parsePrice(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("non-positive price %q", s)
	}
	return d.InexactFloat64(), nil
}
