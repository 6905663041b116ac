package alert

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// FormatQuote renders a notional compactly: $1.2M, $600K, $950.
func FormatQuote(v float64) string {
	a := math.Abs(v)
	switch {
	case a >= 1_000_000:
		return fmt.Sprintf("$%.1fM", a/1_000_000)
	case a >= 1_000:
		return fmt.Sprintf("$%.0fK", a/1_000)
	}
	return fmt.Sprintf("$%.0f", a)
}

// FormatPrice renders a price with thousands separators and two decimals.
func FormatPrice(p float64) string {
	s := decimal.NewFromFloat(p).StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// FormatDuration renders an age like "45s", "12m", "3h 5m" or "2d 1h 0m".
func FormatDuration(d time.Duration) string {
	s := int(d.Seconds())
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm", s/60)
	}
	h, m := s/3600, (s%3600)/60
	if h >= 24 {
		return fmt.Sprintf("%dd %dh %dm", h/24, h%24, m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

func clock(t time.Time) string { return t.UTC().Format("15:04:05") + " UTC" }

func arrow(v float64) string {
	switch {
	case v > 0:
		return "🟢"
	case v < 0:
		return "🔴"
	}
	return "⚪"
}

func sideLabel(s domain.Side) string { return strings.ToUpper(string(s)) }

var goneReasons = map[domain.WallEventKind]string{
	domain.WallCancelled: "cancelled",
	domain.WallFilled:    "filled (price touched)",
	domain.WallPartial:   "partially filled",
	domain.WallUnknown:   "left the book unobserved",
}

func renderWallNew(ev domain.WallEvent, now time.Time) string {
	return fmt.Sprintf("🧱 NEW WALL | %s %s\n💰 %s @ %s\n🕒 %s",
		ev.Venue.Title(), sideLabel(ev.Side), FormatQuote(ev.NewSizeQuote), FormatPrice(ev.PriceValue), clock(now))
}

func renderWallGone(ev domain.WallEvent, now time.Time) string {
	return fmt.Sprintf("💥 WALL REMOVED | %s %s\n💰 %s @ %s\n📊 Reason: %s\n🕒 %s",
		ev.Venue.Title(), sideLabel(ev.Side), FormatQuote(ev.OldSizeQuote), FormatPrice(ev.PriceValue),
		goneReasons[ev.Kind], clock(now))
}

func confirmedSide(s domain.Side) string {
	if s == domain.SideBid {
		return "BID (support)"
	}
	return "ASK (resistance)"
}

func direction(dist float64) string {
	if dist < 0 {
		return "below"
	}
	return "above"
}

func renderConfirmed(cw domain.ConfirmedWall) string {
	return fmt.Sprintf("🏰 CONFIRMED WALL | %s %s\n💰 %s @ %s\n📏 Distance: %.1f%% %s\n⏱ Standing: %s\n🕒 %s",
		cw.Venue.Title(), confirmedSide(cw.Side), FormatQuote(cw.SizeQuote), FormatPrice(cw.PriceValue),
		math.Abs(cw.DistancePct), direction(cw.DistancePct),
		FormatDuration(cw.ConfirmedAt.Sub(cw.DetectedAt)), clock(cw.DetectedAt))
}

func renderConfirmedGone(cw domain.ConfirmedWall, ev domain.WallEvent, now time.Time) string {
	return fmt.Sprintf("🏚 CONFIRMED WALL REMOVED | %s %s\n💰 %s @ %s\n📊 Reason: %s\n⏱ Stood: %s (since %s)",
		cw.Venue.Title(), confirmedSide(cw.Side), FormatQuote(ev.OldSizeQuote), FormatPrice(ev.PriceValue),
		goneReasons[ev.Kind], FormatDuration(now.Sub(cw.DetectedAt)), clock(cw.DetectedAt))
}

func renderTrade(kind domain.AlertKind, t domain.LargeTrade) string {
	title := "🐋 LARGE TRADE"
	if kind == domain.AlertMegaTrade {
		title = "🚨 MEGA TRADE"
	}
	sign := 1.0
	if t.Side == domain.TradeSell {
		sign = -1
	}
	return fmt.Sprintf("%s | %s\n%s %s %s @ %s\n🕒 %s",
		title, t.Venue.Title(), arrow(sign), strings.ToUpper(string(t.Side)), FormatQuote(t.QtyQuote),
		FormatPrice(t.Price), clock(t.Timestamp))
}

func renderLiquidation(l domain.Liquidation) string {
	sign := -1.0
	if l.Side == domain.LiquidationShort {
		sign = 1
	}
	return fmt.Sprintf("💀 LIQUIDATION | Futures\n%s %s %s @ %s\n🕒 %s",
		arrow(sign), strings.ToUpper(string(l.Side)), FormatQuote(l.QtyQuote), FormatPrice(l.Price), clock(l.Timestamp))
}

func renderCVDSpike(venue domain.Venue, delta float64, now time.Time) string {
	sign, who := "", "sellers"
	if delta > 0 {
		sign, who = "+", "buyers"
	} else if delta < 0 {
		sign = "-"
	}
	return fmt.Sprintf("📊 CVD SPIKE | %s\n%s %s%s in 5m (%s)\n🕒 %s",
		venue.Title(), arrow(delta), sign, FormatQuote(delta), who, clock(now))
}

func renderImbalance(venue domain.Venue, imb float64, now time.Time) string {
	bidPct := int((1 + imb) / 2 * 100)
	dominant := "ASK heavy"
	if imb > 0 {
		dominant = "BID heavy"
	}
	return fmt.Sprintf("⚖️ IMBALANCE | %s\n%s %s %d%% / %d%% (±1%%)\n🕒 %s",
		venue.Title(), arrow(imb), dominant, bidPct, 100-bidPct, clock(now))
}

// RenderFeedDown is the system message for a venue outage.
func RenderFeedDown(venue domain.Venue, cause error) string {
	return fmt.Sprintf("🔌 FEED DOWN | %s\n%v", venue.Title(), cause)
}

// RenderFeedRestored is the system message for a recovered venue.
func RenderFeedRestored(venue domain.Venue, downtime time.Duration) string {
	return fmt.Sprintf("✅ FEED RESTORED | %s\nDowntime: %s", venue.Title(), FormatDuration(downtime))
}

// RenderStartup is the system message sent when collection starts.
func RenderStartup(symbol string, venues []domain.Venue) string {
	names := make([]string, len(venues))
	for i, v := range venues {
		names[i] = v.Title()
	}
	return fmt.Sprintf("🚀 WALLWATCH STARTED | %s\nVenues: %s", symbol, strings.Join(names, ", "))
}

func renderBatch(kind domain.AlertKind, events []domain.AlertEvent, maxItems int) string {
	n := len(events)
	shown := events
	if n > maxItems {
		shown = events[:maxItems]
	}
	texts := make([]string, len(shown))
	for i, e := range shown {
		texts[i] = e.Text
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⚡️ %d events (%s):\n\n", n, kind)
	b.WriteString(strings.Join(texts, "\n---\n"))
	if n > maxItems {
		fmt.Fprintf(&b, "\n\n+%d more", n-maxItems)
	}
	return b.String()
}
