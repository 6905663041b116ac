package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

type fakeBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.subs[channel] = ch
	return ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) push(t *testing.T, channel, payload string) {
	t.Helper()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.subs[channel] != nil
	}, time.Second, 10*time.Millisecond)
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	ch <- []byte(payload)
}

func startHub(t *testing.T) (*Hub, *fakeBus, *websocket.Conn) {
	t.Helper()
	bus := &fakeBus{subs: make(map[string]chan []byte)}
	hub := NewHub(bus, map[string]string{
		"walls":  "ww:walls",
		"trades": "ww:trades",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
		srv.Close()
	})
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	return hub, bus, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestHubRelaysTopics(t *testing.T) {
	_, bus, conn := startHub(t)

	bus.push(t, "ww:walls", `{"kind":"new","price":"50000.00"}`)
	f := readFrame(t, conn)
	assert.Equal(t, "walls", f.Topic)
	assert.JSONEq(t, `{"kind":"new","price":"50000.00"}`, string(f.Data))
}

func TestHubUnsubscribe(t *testing.T) {
	hub, bus, conn := startHub(t)

	require.NoError(t, conn.WriteJSON(controlMsg{Action: "unsubscribe", Topics: []string{"walls"}}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return !c.subscribed("walls")
		}
		return false
	}, time.Second, 10*time.Millisecond)

	bus.push(t, "ww:walls", `{"skip":true}`)
	bus.push(t, "ww:trades", `{"side":"buy"}`)
	f := readFrame(t, conn)
	assert.Equal(t, "trades", f.Topic)
}
