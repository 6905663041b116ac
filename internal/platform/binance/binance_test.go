package binance

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

func TestDecodeFuturesDepthUpdate(t *testing.T) {
	raw := `{"e":"depthUpdate","E":1700000000123,"s":"BTCUSDT","U":101,"u":105,"pu":100,
		"b":[["50000.00","12.5"],["49999.90","0"]],"a":[["50002.00","1.000"]]}`
	d, err := DecodeDepthUpdate([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, uint64(101), d.FirstUpdateID)
	assert.Equal(t, uint64(105), d.FinalUpdateID)
	assert.True(t, d.HasPrev)
	assert.Equal(t, uint64(100), d.PrevFinalUpdateID)
	assert.Equal(t, []domain.Level{{Price: "50000.00", Qty: 12.5}, {Price: "49999.90", Qty: 0}}, d.Bids)
	assert.Equal(t, "50002.00", d.Asks[0].Price)
	assert.Equal(t, int64(1700000000123), d.EventTime.UnixMilli())
}

func TestDecodeSpotDepthUpdateHasNoPrev(t *testing.T) {
	d, err := DecodeDepthUpdate([]byte(`{"e":"depthUpdate","U":1,"u":2,"b":[],"a":[]}`))
	require.NoError(t, err)
	assert.False(t, d.HasPrev)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := DecodeDepthUpdate([]byte(`{"U":1,"u":2,"b":[["1.0","abc"]]}`))
	assert.ErrorIs(t, err, domain.ErrMalformedMessage)

	_, err = DecodeAggTrade([]byte(`{"p":"x","q":"1"}`))
	assert.ErrorIs(t, err, domain.ErrMalformedMessage)

	_, err = DecodeForceOrder([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeAggTradeAndForceOrder(t *testing.T) {
	tr, err := DecodeAggTrade([]byte(`{"e":"aggTrade","p":"50000.5","q":"2","T":1700000000000,"m":true}`))
	require.NoError(t, err)
	assert.Equal(t, domain.TradeSell, tr.Side())
	assert.Equal(t, 100_001.0, tr.Notional())

	fo, err := DecodeForceOrder([]byte(`{"e":"forceOrder","o":{"s":"BTCUSDT","S":"SELL","o":"LIMIT","p":"49000","q":"30","T":1700000000000}}`))
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", fo.Symbol)
	assert.Equal(t, "SELL", fo.Side)
	assert.Equal(t, 30.0, fo.Qty)
}

func TestClassifyAndURLs(t *testing.T) {
	assert.Equal(t, StreamDepth, Classify("btcusdt@depth@100ms"))
	assert.Equal(t, StreamTrade, Classify("btcusdt@aggTrade"))
	assert.Equal(t, StreamLiquidation, Classify("!forceOrder@arr"))
	assert.Equal(t, StreamUnknown, Classify("btcusdt@kline_1m"))

	assert.Equal(t,
		"wss://fstream.binance.com/stream?streams=btcusdt@depth@100ms/btcusdt@aggTrade/!forceOrder@arr",
		StreamURL("wss://fstream.binance.com/stream", domain.VenueFutures, "BTCUSDT"))
	assert.Equal(t,
		"wss://stream.binance.com:9443/stream?streams=btcusdt@depth@100ms/btcusdt@aggTrade",
		StreamURL("wss://stream.binance.com:9443/stream", domain.VenueSpot, "BTCUSDT"))
	assert.Equal(t,
		"https://api.binance.com/api/v3/depth?limit=5000&symbol=BTCUSDT",
		SnapshotURL("https://api.binance.com/api/v3/depth", "btcusdt", 5000))
}

func newClient(t *testing.T, url string) *SnapshotClient {
	t.Helper()
	c, err := NewSnapshotClient(SnapshotConfig{
		Endpoints: map[domain.Venue]string{domain.VenueSpot: url},
		Attempts:  3,
		Backoff:   time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestFetchSnapshotRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"lastUpdateId":100,"bids":[["50000.00","1"]],"asks":[["50002.00","2"]]}`)
	}))
	defer srv.Close()

	snap, err := newClient(t, srv.URL).FetchSnapshot(context.Background(), domain.VenueSpot)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(100), snap.LastUpdateID)
	assert.Equal(t, []domain.Level{{Price: "50002.00", Qty: 2}}, snap.Asks)
}

func TestFetchSnapshotGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).FetchSnapshot(context.Background(), domain.VenueSpot)
	require.ErrorIs(t, err, domain.ErrSnapshotUnavailable)
	assert.Equal(t, int32(3), calls.Load())

	_, err = newClient(t, srv.URL).FetchSnapshot(context.Background(), domain.VenueFutures)
	assert.ErrorIs(t, err, domain.ErrUnknownVenue)
}
