package binance

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// StreamKind classifies a combined-stream frame by its stream name.
type StreamKind int

const (
	StreamUnknown StreamKind = iota
	StreamDepth
	StreamTrade
	StreamLiquidation
)

// Classify maps a stream name such as "btcusdt@depth@100ms" to its kind.
func Classify(stream string) StreamKind {
	switch {
	case strings.Contains(stream, "depth"):
		return StreamDepth
	case strings.Contains(stream, "aggTrade"):
		return StreamTrade
	case strings.Contains(stream, "forceOrder"):
		return StreamLiquidation
	}
	return StreamUnknown
}

// Streams returns the stream names subscribed for a venue.
func Streams(venue domain.Venue, symbol string) []string {
	s := strings.ToLower(symbol)
	streams := []string{s + "@depth@100ms", s + "@aggTrade"}
	if venue.Derivatives() {
		streams = append(streams, "!forceOrder@arr")
	}
	return streams
}

// StreamURL builds the combined-stream URL for base, e.g.
// wss://fstream.binance.com/stream?streams=btcusdt@depth@100ms/btcusdt@aggTrade.
func StreamURL(base string, venue domain.Venue, symbol string) string {
	return base + "?streams=" + strings.Join(Streams(venue, symbol), "/")
}

// SnapshotURL builds the REST depth URL.
func SnapshotURL(base, symbol string, limit int) string {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	if limit <= 0 {
		limit = 1000
	}
	q.Set("limit", strconv.Itoa(limit))
	return base + "?" + q.Encode()
}
