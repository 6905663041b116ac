// Package feed owns the long-lived venue stream connections: reconnect with
// exponential backoff, a silence watchdog, and routing of combined-stream
// frames to depth, trade and liquidation handlers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/platform/binance"
)

const (
	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second

	// readGrace is added to the silence timeout for the socket read deadline
	// so the watchdog, not the transport, normally detects silence.
	readGrace = 10 * time.Second
)

// MessageHandler processes the data payload of one stream frame.
type MessageHandler func(ctx context.Context, data []byte) error

// Handlers are the callbacks of a Manager. Any of them may be nil.
type Handlers struct {
	Depth       MessageHandler
	Trade       MessageHandler
	Liquidation MessageHandler
	// Connected runs in its own goroutine after every successful dial. Its
	// context is cancelled when that connection ends.
	Connected func(ctx context.Context)
	// Down is called once per outage.
	Down func(ctx context.Context, cause error)
	// Restored is called on the first message after an outage.
	Restored func(ctx context.Context, downtime time.Duration)
}

// Config configures a Manager.
type Config struct {
	Venue          domain.Venue
	URL            string
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	SilenceTimeout time.Duration
	WatchdogTick   time.Duration
	ProxyURL       string
}

// State is the connection state of a venue.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Status is a point-in-time view of a Manager.
type Status struct {
	Venue       domain.Venue  `json:"venue"`
	State       State         `json:"state"`
	ConnectedAt time.Time     `json:"connected_at,omitempty"`
	Uptime      time.Duration `json:"uptime"`
	LastMessage time.Time     `json:"last_message,omitempty"`
	Connects    int           `json:"connects"`
	Messages    int64         `json:"messages"`
	DownSince   *time.Time    `json:"down_since,omitempty"`
}

// Manager keeps one venue stream connected.
type Manager struct {
	cfg    Config
	h      Handlers
	dialer *websocket.Dialer
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	connectedAt time.Time
	lastMessage time.Time
	awaitFirst  bool
	delay       time.Duration
	inOutage    bool
	downSince   time.Time
	connects    int
	messages    int64
	cancelConn  context.CancelCauseFunc
}

// NewManager creates a Manager.
func NewManager(cfg Config, h Handlers, logger *slog.Logger) (*Manager, error) {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 5 * time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 30 * time.Second
	}
	if cfg.WatchdogTick <= 0 {
		cfg.WatchdogTick = 10 * time.Second
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("feed: parse proxy url: %w", err)
		}
		dialer.Proxy = http.ProxyURL(u)
	}

	return &Manager{
		cfg:    cfg,
		h:      h,
		dialer: dialer,
		logger: logger.With(slog.String("component", "feed"), slog.String("venue", string(cfg.Venue))),
		now:    time.Now,
		state:  StateDisconnected,
		delay:  cfg.ReconnectMin,
	}, nil
}

// Venue returns the venue served by this manager.
func (m *Manager) Venue() domain.Venue { return m.cfg.Venue }

// Run keeps the stream connected until ctx is cancelled. It always returns
// nil on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.connectLoop(ctx) })
	g.Go(func() error { return m.watchdog(ctx) })
	return g.Wait()
}

func (m *Manager) connectLoop(ctx context.Context) error {
	for {
		err := m.runConnection(ctx)
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return nil
		}
		m.markDown(ctx, err)

		delay := m.nextDelay()
		m.logger.WarnContext(ctx, "stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			m.setState(StateDisconnected)
			return nil
		case <-t.C:
		}
	}
}

// runConnection dials and reads until the connection fails or is cancelled.
// The returned error is never nil.
func (m *Manager) runConnection(ctx context.Context) error {
	m.setState(StateConnecting)

	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	conn, _, err := m.dialer.DialContext(connCtx, m.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(connCtx, func() { _ = conn.Close() })
	defer stop()

	m.mu.Lock()
	now := m.now()
	m.state = StateConnected
	m.connectedAt = now
	m.lastMessage = now
	m.awaitFirst = true
	m.connects++
	m.cancelConn = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelConn = nil
		m.mu.Unlock()
	}()

	m.logger.InfoContext(ctx, "stream connected")
	if m.h.Connected != nil {
		go m.h.Connected(connCtx)
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(m.cfg.SilenceTimeout + readGrace))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if connCtx.Err() != nil {
				return context.Cause(connCtx)
			}
			return fmt.Errorf("feed: %w: %w", domain.ErrWSDisconnect, err)
		}
		m.touch(ctx)
		m.route(connCtx, data)
	}
}

// touch records activity. The first message of a connection resets the
// backoff and ends any outage.
func (m *Manager) touch(ctx context.Context) {
	m.mu.Lock()
	now := m.now()
	m.lastMessage = now
	m.messages++
	first := m.awaitFirst
	m.awaitFirst = false
	var downtime time.Duration
	restored := false
	if first {
		m.delay = m.cfg.ReconnectMin
		if m.inOutage {
			m.inOutage = false
			downtime = now.Sub(m.downSince)
			restored = true
		}
	}
	m.mu.Unlock()

	if restored {
		m.logger.InfoContext(ctx, "stream restored", slog.Duration("downtime", downtime))
		if m.h.Restored != nil {
			m.h.Restored(ctx, downtime)
		}
	}
}

func (m *Manager) route(ctx context.Context, data []byte) {
	var env binance.StreamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.WarnContext(ctx, "malformed frame", slog.String("error", err.Error()))
		return
	}

	var h MessageHandler
	switch binance.Classify(env.Stream) {
	case binance.StreamDepth:
		h = m.h.Depth
	case binance.StreamTrade:
		h = m.h.Trade
	case binance.StreamLiquidation:
		h = m.h.Liquidation
	default:
		m.logger.DebugContext(ctx, "unrouted stream", slog.String("stream", env.Stream))
		return
	}
	if h == nil {
		return
	}
	if err := h(ctx, env.Data); err != nil {
		m.logger.WarnContext(ctx, "handler failed",
			slog.String("stream", env.Stream),
			slog.String("error", err.Error()),
		)
	}
}

// markDown moves to disconnected and reports the first failure of an outage.
func (m *Manager) markDown(ctx context.Context, cause error) {
	m.mu.Lock()
	m.state = StateDisconnected
	first := !m.inOutage
	if first {
		m.inOutage = true
		m.downSince = m.now()
	}
	m.mu.Unlock()

	if first && m.h.Down != nil {
		m.h.Down(ctx, cause)
	}
}

// nextDelay returns the current backoff and doubles it up to the ceiling.
func (m *Manager) nextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.delay
	m.delay *= 2
	if m.delay > m.cfg.ReconnectMax {
		m.delay = m.cfg.ReconnectMax
	}
	return d
}

func (m *Manager) watchdog(ctx context.Context) error {
	t := time.NewTicker(m.cfg.WatchdogTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if m.cancelIfSilent() {
				m.logger.WarnContext(ctx, "stream silent, forcing reconnect",
					slog.Duration("timeout", m.cfg.SilenceTimeout),
				)
			}
		}
	}
}

// silentLocked reports whether a connected stream has been quiet longer than
// the silence timeout.
func (m *Manager) silentLocked(now time.Time) bool {
	return m.state == StateConnected && now.Sub(m.lastMessage) > m.cfg.SilenceTimeout
}

func (m *Manager) cancelIfSilent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.silentLocked(m.now()) || m.cancelConn == nil {
		return false
	}
	m.cancelConn(fmt.Errorf("feed: %w after %s", domain.ErrFeedSilent, m.cfg.SilenceTimeout))
	m.cancelConn = nil
	return true
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Connected reports whether the stream is currently connected.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Status returns connection counters.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Venue:       m.cfg.Venue,
		State:       m.state,
		LastMessage: m.lastMessage,
		Connects:    m.connects,
		Messages:    m.messages,
	}
	if m.state == StateConnected {
		st.ConnectedAt = m.connectedAt
		st.Uptime = m.now().Sub(m.connectedAt)
	}
	if m.inOutage {
		since := m.downSince
		st.DownSince = &since
	}
	return st
}

// IsSilence reports whether err ended a connection because of the watchdog.
func IsSilence(err error) bool { return errors.Is(err, domain.ErrFeedSilent) }
