package trades

import (
	"strings"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// Classifier filters forced orders to one symbol and names the liquidated
// side. A SELL force order closes a long, a BUY closes a short.
type Classifier struct {
	symbol string
}

// NewClassifier returns a Classifier for symbol.
func NewClassifier(symbol string) *Classifier {
	return &Classifier{symbol: strings.ToUpper(symbol)}
}

// Classify returns the liquidation, or false when the order is for another
// symbol.
func (c *Classifier) Classify(o domain.ForceOrder) (domain.Liquidation, bool) {
	if !strings.EqualFold(o.Symbol, c.symbol) {
		return domain.Liquidation{}, false
	}
	side := domain.LiquidationShort
	if strings.EqualFold(o.Side, "SELL") {
		side = domain.LiquidationLong
	}
	orderType := o.OrderType
	if orderType == "" {
		orderType = "MARKET"
	}
	return domain.Liquidation{
		Side:      side,
		Price:     o.Price,
		QtyBase:   o.Qty,
		QtyQuote:  o.Price * o.Qty,
		OrderType: orderType,
		Timestamp: o.TradeTime,
	}, true
}
