// Package binance holds the Binance wire formats for combined streams and the
// REST depth snapshot, plus the snapshot client.
package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// StreamEnvelope is the combined-stream frame {"stream": ..., "data": ...}.
type StreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// APILevel is a [price, quantity] pair of strings.
type APILevel [2]string

// APIDepthSnapshot is the REST /depth response.
type APIDepthSnapshot struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         []APILevel `json:"bids"`
	Asks         []APILevel `json:"asks"`
}

// APIDepthUpdate is a depthUpdate stream event. pu is only sent by the
// futures stream.
type APIDepthUpdate struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID uint64     `json:"U"`
	FinalUpdateID uint64     `json:"u"`
	PrevFinalID   *uint64    `json:"pu,omitempty"`
	Bids          []APILevel `json:"b"`
	Asks          []APILevel `json:"a"`
}

// APIAggTrade is an aggTrade stream event.
type APIAggTrade struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

// APIForceOrder is a forceOrder stream event.
type APIForceOrder struct {
	EventType string `json:"e"`
	Order     struct {
		Symbol    string `json:"s"`
		Side      string `json:"S"`
		OrderType string `json:"o"`
		Price     string `json:"p"`
		Qty       string `json:"q"`
		TradeTime int64  `json:"T"`
	} `json:"o"`
}

func toLevels(in []APILevel) ([]domain.Level, error) {
	out := make([]domain.Level, 0, len(in))
	for _, l := range in {
		q, err := strconv.ParseFloat(l[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: quantity %q", domain.ErrMalformedMessage, l[1])
		}
		out = append(out, domain.Level{Price: l[0], Qty: q})
	}
	return out, nil
}

// ToDomain converts the REST response.
func (s *APIDepthSnapshot) ToDomain() (domain.DepthSnapshot, error) {
	bids, err := toLevels(s.Bids)
	if err != nil {
		return domain.DepthSnapshot{}, err
	}
	asks, err := toLevels(s.Asks)
	if err != nil {
		return domain.DepthSnapshot{}, err
	}
	return domain.DepthSnapshot{LastUpdateID: s.LastUpdateID, Bids: bids, Asks: asks}, nil
}

// ToDomain converts a depth update.
func (u *APIDepthUpdate) ToDomain() (domain.DepthDiff, error) {
	bids, err := toLevels(u.Bids)
	if err != nil {
		return domain.DepthDiff{}, err
	}
	asks, err := toLevels(u.Asks)
	if err != nil {
		return domain.DepthDiff{}, err
	}
	d := domain.DepthDiff{
		FirstUpdateID: u.FirstUpdateID,
		FinalUpdateID: u.FinalUpdateID,
		EventTime:     time.UnixMilli(u.EventTime).UTC(),
		Bids:          bids,
		Asks:          asks,
	}
	if u.PrevFinalID != nil {
		d.PrevFinalUpdateID = *u.PrevFinalID
		d.HasPrev = true
	}
	return d, nil
}

// ToDomain converts an aggregated trade.
func (t *APIAggTrade) ToDomain() (domain.AggTrade, error) {
	p, err := strconv.ParseFloat(t.Price, 64)
	if err != nil {
		return domain.AggTrade{}, fmt.Errorf("%w: price %q", domain.ErrMalformedMessage, t.Price)
	}
	q, err := strconv.ParseFloat(t.Qty, 64)
	if err != nil {
		return domain.AggTrade{}, fmt.Errorf("%w: quantity %q", domain.ErrMalformedMessage, t.Qty)
	}
	return domain.AggTrade{
		Price:        p,
		Qty:          q,
		BuyerIsMaker: t.BuyerIsMaker,
		TradeTime:    time.UnixMilli(t.TradeTime).UTC(),
	}, nil
}

// ToDomain converts a forced liquidation order.
func (f *APIForceOrder) ToDomain() (domain.ForceOrder, error) {
	p, err := strconv.ParseFloat(f.Order.Price, 64)
	if err != nil {
		return domain.ForceOrder{}, fmt.Errorf("%w: price %q", domain.ErrMalformedMessage, f.Order.Price)
	}
	q, err := strconv.ParseFloat(f.Order.Qty, 64)
	if err != nil {
		return domain.ForceOrder{}, fmt.Errorf("%w: quantity %q", domain.ErrMalformedMessage, f.Order.Qty)
	}
	return domain.ForceOrder{
		Symbol:    f.Order.Symbol,
		Side:      f.Order.Side,
		OrderType: f.Order.OrderType,
		Price:     p,
		Qty:       q,
		TradeTime: time.UnixMilli(f.Order.TradeTime).UTC(),
	}, nil
}

// DecodeDepthUpdate parses a depth update payload.
func DecodeDepthUpdate(data []byte) (domain.DepthDiff, error) {
	var u APIDepthUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return domain.DepthDiff{}, fmt.Errorf("binance: decode depth update: %w: %w", domain.ErrMalformedMessage, err)
	}
	return u.ToDomain()
}

// DecodeAggTrade parses an aggTrade payload.
func DecodeAggTrade(data []byte) (domain.AggTrade, error) {
	var t APIAggTrade
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.AggTrade{}, fmt.Errorf("binance: decode agg trade: %w: %w", domain.ErrMalformedMessage, err)
	}
	return t.ToDomain()
}

// DecodeForceOrder parses a forceOrder payload.
func DecodeForceOrder(data []byte) (domain.ForceOrder, error) {
	var f APIForceOrder
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.ForceOrder{}, fmt.Errorf("binance: decode force order: %w: %w", domain.ErrMalformedMessage, err)
	}
	return f.ToDomain()
}
