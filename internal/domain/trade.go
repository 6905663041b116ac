package domain

import "time"

// TradeSide is the aggressor side of a trade.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// AggTrade is one aggregated trade from the stream.
type AggTrade struct {
	Price        float64
	Qty          float64
	BuyerIsMaker bool
	TradeTime    time.Time
}

// Side returns the aggressor side: a maker buyer means a selling taker.
func (t AggTrade) Side() TradeSide {
	if t.BuyerIsMaker {
		return TradeSell
	}
	return TradeBuy
}

// Notional returns price * quantity.
func (t AggTrade) Notional() float64 { return t.Price * t.Qty }

// LargeTrade is a single trade above the persistence threshold.
type LargeTrade struct {
	Venue        Venue     `json:"venue"`
	Side         TradeSide `json:"side"`
	Price        float64   `json:"price"`
	QtyBase      float64   `json:"qty_base"`
	QtyQuote     float64   `json:"qty_quote"`
	BuyerIsMaker bool      `json:"buyer_is_maker"`
	Timestamp    time.Time `json:"ts"`
}

// TradeAggregate is a one-minute trade bucket.
type TradeAggregate struct {
	Minute          time.Time `json:"minute"`
	Venue           Venue     `json:"venue"`
	BuyVolumeQuote  float64   `json:"buy_volume_quote"`
	SellVolumeQuote float64   `json:"sell_volume_quote"`
	BuyCount        int       `json:"buy_count"`
	SellCount       int       `json:"sell_count"`
	DeltaQuote      float64   `json:"delta_quote"`
	CVDQuote        float64   `json:"cvd_quote"`
	MaxTradeQuote   float64   `json:"max_trade_quote"`
	VWAP            float64   `json:"vwap"`
}

// LiquidationSide is the side of the position that was liquidated.
type LiquidationSide string

const (
	LiquidationLong  LiquidationSide = "long"
	LiquidationShort LiquidationSide = "short"
)

// ForceOrder is a raw forced liquidation order.
type ForceOrder struct {
	Symbol    string
	Side      string // SELL or BUY
	OrderType string
	Price     float64
	Qty       float64
	TradeTime time.Time
}

// Liquidation is a classified forced liquidation.
type Liquidation struct {
	Side      LiquidationSide `json:"side"`
	Price     float64         `json:"price"`
	QtyBase   float64         `json:"qty_base"`
	QtyQuote  float64         `json:"qty_quote"`
	OrderType string          `json:"order_type"`
	Timestamp time.Time       `json:"ts"`
}

// CVDStats summarises cumulative volume delta for a venue.
type CVDStats struct {
	Venue Venue   `json:"venue"`
	Today float64 `json:"today"`
	Hour  float64 `json:"last_hour"`
	Five  float64 `json:"last_5m"`
}
