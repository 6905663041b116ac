package domain

import "time"

// Level is one price level as received from the exchange. Price keeps its
// original text so snapshot and diff keys match byte-for-byte.
type Level struct {
	Price string
	Qty   float64
}

// DepthSnapshot is a full point-in-time book returned by the REST endpoint.
type DepthSnapshot struct {
	LastUpdateID uint64
	Bids         []Level
	Asks         []Level
}

// DepthDiff is one incremental depth update.
//
// FirstUpdateID and FinalUpdateID are the U and u fields. PrevFinalUpdateID
// (pu) is only sent by the derivatives venue; HasPrev tells whether it was
// present.
type DepthDiff struct {
	FirstUpdateID     uint64
	FinalUpdateID     uint64
	PrevFinalUpdateID uint64
	HasPrev           bool
	EventTime         time.Time
	Bids              []Level
	Asks              []Level
}

// DepthBands are the distance bands (fractions of mid) used for depth and
// imbalance metrics.
var DepthBands = []float64{0.001, 0.005, 0.01, 0.02, 0.05}

// DepthBandLabels are the display labels matching DepthBands.
var DepthBandLabels = []string{"±0.1%", "±0.5%", "±1.0%", "±2.0%", "±5.0%"}

// BookMetrics is the one-minute aggregate persisted for a venue.
type BookMetrics struct {
	Timestamp    time.Time `json:"ts"`
	Venue        Venue     `json:"venue"`
	MidPrice     float64   `json:"mid_price"`
	SpreadPct    float64   `json:"spread_pct"`
	BidDepth     []float64 `json:"bid_depth"` // quote notional per DepthBands entry
	AskDepth     []float64 `json:"ask_depth"`
	Imbalance    []float64 `json:"imbalance"` // (bid-ask)/(bid+ask) per band, 0 when empty
	WallCountBid int       `json:"wall_count_bid"`
	WallCountAsk int       `json:"wall_count_ask"`
}

// ImbalanceAt returns the imbalance for the band with the given fraction,
// or 0 if the band is unknown.
func (m BookMetrics) ImbalanceAt(band float64) float64 {
	for i, b := range DepthBands {
		if b == band && i < len(m.Imbalance) {
			return m.Imbalance[i]
		}
	}
	return 0
}
