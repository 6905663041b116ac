package orderbook

import (
	"math"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// bestLocked returns the best bid and ask, zero when a side is empty.
func (r *Replica) bestLocked() (bid, ask float64) {
	for _, lv := range r.bids {
		if lv.price > bid {
			bid = lv.price
		}
	}
	for _, lv := range r.asks {
		if ask == 0 || lv.price < ask {
			ask = lv.price
		}
	}
	return bid, ask
}

// midLocked returns the mid price, or the configured fallback while either
// side is empty.
func (r *Replica) midLocked() float64 {
	bid, ask := r.bestLocked()
	if bid == 0 || ask == 0 {
		return r.cfg.FallbackMid
	}
	return (bid + ask) / 2
}

// Mid returns the current mid price and whether it comes from a two-sided
// book.
func (r *Replica) Mid() (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bid, ask := r.bestLocked()
	if bid == 0 || ask == 0 {
		return r.cfg.FallbackMid, false
	}
	return (bid + ask) / 2, true
}

// Status is a point-in-time view of the replica for presentation.
type Status struct {
	Venue      domain.Venue `json:"venue"`
	Ready      bool         `json:"ready"`
	LastSeq    uint64       `json:"last_seq"`
	BidLevels  int          `json:"bid_levels"`
	AskLevels  int          `json:"ask_levels"`
	BestBid    float64      `json:"best_bid"`
	BestAsk    float64      `json:"best_ask"`
	MidPrice   float64      `json:"mid_price"`
	SpreadPct  float64      `json:"spread_pct"`
	Walls      int          `json:"walls"`
	Pending    int          `json:"pending"`
	Snapshots  int          `json:"snapshots"`
	Gaps       int          `json:"gaps"`
	Dropped    int          `json:"dropped"`
	LastUpdate time.Time    `json:"last_update"`
}

// Status returns counters and top-of-book.
func (r *Replica) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bid, ask := r.bestLocked()
	st := Status{
		Venue:      r.cfg.Venue,
		Ready:      r.ready,
		LastSeq:    r.lastSeq,
		BidLevels:  len(r.bids),
		AskLevels:  len(r.asks),
		BestBid:    bid,
		BestAsk:    ask,
		Walls:      len(r.walls),
		Pending:    r.pending.Len(),
		Snapshots:  r.snapshots,
		Gaps:       r.gaps,
		Dropped:    r.dropped,
		LastUpdate: r.lastUpdate,
	}
	if bid > 0 && ask > 0 {
		st.MidPrice = (bid + ask) / 2
		st.SpreadPct = (ask - bid) / st.MidPrice * 100
	}
	return st
}

// BandDepth is the notional resting within one distance band of mid.
type BandDepth struct {
	Label     string  `json:"label"`
	Band      float64 `json:"band"`
	BidQuote  float64 `json:"bid_quote"`
	AskQuote  float64 `json:"ask_quote"`
	Imbalance float64 `json:"imbalance"`
}

// Depth is the cumulative depth display of a venue.
type Depth struct {
	Venue    domain.Venue `json:"venue"`
	MidPrice float64      `json:"mid_price"`
	Bands    []BandDepth  `json:"bands"`
}

// Depth returns cumulative notional per band. It returns ErrNotReady when
// the replica is not synchronised or one side is empty.
func (r *Replica) Depth() (Depth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bid, ask := r.bestLocked()
	if !r.ready || bid == 0 || ask == 0 {
		return Depth{}, domain.ErrNotReady
	}
	mid := (bid + ask) / 2
	return Depth{Venue: r.cfg.Venue, MidPrice: mid, Bands: r.bandsLocked(mid)}, nil
}

func (r *Replica) bandsLocked(mid float64) []BandDepth {
	out := make([]BandDepth, len(domain.DepthBands))
	for i, band := range domain.DepthBands {
		out[i] = BandDepth{Label: domain.DepthBandLabels[i], Band: band}
	}
	for _, lv := range r.bids {
		d := (mid - lv.price) / mid
		for i, band := range domain.DepthBands {
			if d <= band {
				out[i].BidQuote += lv.qty * lv.price
			}
		}
	}
	for _, lv := range r.asks {
		d := (lv.price - mid) / mid
		for i, band := range domain.DepthBands {
			if d <= band {
				out[i].AskQuote += lv.qty * lv.price
			}
		}
	}
	for i := range out {
		if total := out[i].BidQuote + out[i].AskQuote; total > 0 {
			out[i].Imbalance = (out[i].BidQuote - out[i].AskQuote) / total
		}
	}
	return out
}

// Metrics computes the per-minute aggregate persisted for the venue.
func (r *Replica) Metrics() (domain.BookMetrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bid, ask := r.bestLocked()
	if !r.ready || bid == 0 || ask == 0 {
		return domain.BookMetrics{}, domain.ErrNotReady
	}
	mid := (bid + ask) / 2
	m := domain.BookMetrics{
		Timestamp: r.now().UTC().Truncate(time.Minute),
		Venue:     r.cfg.Venue,
		MidPrice:  mid,
		SpreadPct: (ask - bid) / mid * 100,
	}
	for _, b := range r.bandsLocked(mid) {
		m.BidDepth = append(m.BidDepth, b.BidQuote)
		m.AskDepth = append(m.AskDepth, b.AskQuote)
		m.Imbalance = append(m.Imbalance, b.Imbalance)
	}
	for k := range r.walls {
		if k.side == domain.SideBid {
			m.WallCountBid++
		} else {
			m.WallCountAsk++
		}
	}
	return m, nil
}

// Prune drops levels farther from mid than the configured distance and
// returns how many were removed, plus an unknown event for every tracked
// wall that sat on a dropped level. Nothing is pruned while the book is
// one-sided.
func (r *Replica) Prune() (int, []domain.WallEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bid, ask := r.bestLocked()
	if bid == 0 || ask == 0 {
		return 0, nil
	}
	mid := (bid + ask) / 2
	removed := 0
	var gone []wallKey
	for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
		book := r.sideLocked(side)
		for k, lv := range book {
			if math.Abs(lv.price-mid)/mid <= r.cfg.PruneDistance {
				continue
			}
			delete(book, k)
			removed++
			if _, ok := r.walls[wallKey{side: side, price: k}]; ok {
				gone = append(gone, wallKey{side: side, price: k})
			}
		}
	}
	sortWallKeys(gone)
	events := make([]domain.WallEvent, 0, len(gone))
	for _, k := range gone {
		events = append(events, r.dropWallLocked(k, mid))
	}
	return removed, events
}
