package orderbook

import (
	"math"
	"sort"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// Distance bands used to classify why a wall left the book. The feed never
// says whether a resting order was filled or pulled, so this is an
// approximation.
const (
	filledMaxDistance    = 0.001
	cancelledMinDistance = 0.005
	tradeMatchTolerance  = 0.001
)

// transitionLocked evaluates the wall state of one touched level once its
// final quantity for the batch is known.
func (r *Replica) transitionLocked(side domain.Side, price string, priceValue, qty, mid float64) (domain.WallEvent, bool) {
	key := wallKey{side: side, price: price}
	quote := qty * priceValue
	isWall := quote >= r.cfg.WallThresholdQuote
	w, tracked := r.walls[key]

	switch {
	case !tracked && isWall:
		now := r.now()
		r.walls[key] = &domain.WallInfo{
			Side:          side,
			Price:         price,
			SizeBase:      qty,
			SizeQuote:     quote,
			PeakSizeQuote: quote,
			DetectedAt:    now,
		}
		return domain.WallEvent{
			Kind:         domain.WallNew,
			Venue:        r.cfg.Venue,
			Side:         side,
			Price:        price,
			PriceValue:   priceValue,
			NewSizeQuote: quote,
			NewSizeBase:  qty,
			PeakQuote:    quote,
			MidPrice:     mid,
			DetectedAt:   now,
		}, true

	case tracked && !isWall:
		delete(r.walls, key)
		return domain.WallEvent{
			Kind:         r.classifyGone(qty, priceValue, mid),
			Venue:        r.cfg.Venue,
			Side:         side,
			Price:        price,
			PriceValue:   priceValue,
			OldSizeQuote: w.SizeQuote,
			NewSizeQuote: quote,
			NewSizeBase:  qty,
			PeakQuote:    w.PeakSizeQuote,
			MidPrice:     mid,
			WallID:       w.ID,
			DetectedAt:   w.DetectedAt,
		}, true

	case tracked && isWall:
		w.SizeBase = qty
		w.SizeQuote = quote
		if quote > w.PeakSizeQuote {
			w.PeakSizeQuote = quote
		}
	}
	return domain.WallEvent{}, false
}

func (r *Replica) classifyGone(qty, price, mid float64) domain.WallEventKind {
	if qty > 0 {
		return domain.WallPartial
	}
	dist := math.Abs(price-mid) / mid
	switch {
	case dist > cancelledMinDistance:
		return domain.WallCancelled
	case dist <= filledMaxDistance:
		return domain.WallFilled
	}
	if r.tradedNear(price) {
		return domain.WallFilled
	}
	return domain.WallCancelled
}

// RecordTradePrice appends a trade price to the tape used for fill
// detection.
func (r *Replica) RecordTradePrice(p float64) {
	r.tapeMu.Lock()
	r.tape = append(r.tape, p)
	if len(r.tape) > tapeMax {
		r.tape = append(r.tape[:0], r.tape[len(r.tape)-tapeKeep:]...)
	}
	r.tapeMu.Unlock()
}

func (r *Replica) tradedNear(price float64) bool {
	r.tapeMu.Lock()
	defer r.tapeMu.Unlock()
	start := len(r.tape) - tapeLookup
	if start < 0 {
		start = 0
	}
	for _, tp := range r.tape[start:] {
		if math.Abs(tp-price)/price < tradeMatchTolerance {
			return true
		}
	}
	return false
}

// SetWallID attaches the persistence id to a tracked wall. It reports false
// if the wall is no longer tracked.
func (r *Replica) SetWallID(side domain.Side, price string, id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.walls[wallKey{side: side, price: price}]
	if !ok {
		return false
	}
	w.ID = id
	return true
}

// RestoreWall registers a wall loaded from storage so it is not reported as
// new again.
func (r *Replica) RestoreWall(info domain.WallInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info.PeakSizeQuote < info.SizeQuote {
		info.PeakSizeQuote = info.SizeQuote
	}
	r.walls[wallKey{side: info.Side, price: info.Price}] = &info
}

// WallView is a tracked wall with its live distance from mid.
type WallView struct {
	domain.WallInfo
	DistancePct float64 `json:"distance_pct"`
}

// Walls returns the tracked walls, largest first.
func (r *Replica) Walls() []WallView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mid := r.midLocked()
	out := make([]WallView, 0, len(r.walls))
	for _, w := range r.walls {
		out = append(out, WallView{WallInfo: *w, DistancePct: distancePct(priceOf(w), mid)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SizeQuote > out[j].SizeQuote })
	return out
}

// CheckWall returns the live notional and signed distance from mid (in
// percent) of a level. ok is false when the level is absent.
func (r *Replica) CheckWall(side domain.Side, price string) (sizeQuote, distance float64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	book := r.bids
	if side == domain.SideAsk {
		book = r.asks
	}
	lv, ok := book[price]
	if !ok {
		return 0, 0, false
	}
	mid := r.midLocked()
	return lv.qty * lv.price, (lv.price - mid) / mid * 100, true
}

func priceOf(w *domain.WallInfo) float64 {
	p, err := parsePrice(w.Price)
	if err != nil && w.SizeBase > 0 {
		return w.SizeQuote / w.SizeBase
	}
	return p
}

func distancePct(price, mid float64) float64 {
	if mid == 0 {
		return 0
	}
	return (price - mid) / mid * 100
}
