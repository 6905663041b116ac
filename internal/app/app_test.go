package app

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallwatch/internal/config"
	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/notify"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBuildCoreTracksConfiguredVenues(t *testing.T) {
	a := testApp(t)
	c, err := a.buildCore(&Dependencies{Notifier: notify.NewNotifier(nil, a.logger)})
	require.NoError(t, err)

	assert.Equal(t, []domain.Venue{domain.VenueFutures, domain.VenueSpot}, c.books.Venues())
	assert.Equal(t, []domain.Venue{domain.VenueFutures, domain.VenueSpot}, c.trades.Venues())
	require.Len(t, c.feeds, 2)
	assert.Equal(t, domain.VenueFutures, c.feeds[0].Venue())
	assert.Equal(t, domain.VenueSpot, c.feeds[1].Venue())
}

func TestBuildCoreRejectsUnknownVenue(t *testing.T) {
	a := testApp(t)
	a.cfg.Exchange.Venues = []string{"futures", "options"}
	_, err := a.buildCore(&Dependencies{Notifier: notify.NewNotifier(nil, a.logger)})
	assert.ErrorIs(t, err, domain.ErrUnknownVenue)
}

func TestStreamURL(t *testing.T) {
	a := testApp(t)

	futures := a.streamURL(domain.VenueFutures)
	assert.True(t, strings.HasPrefix(futures, a.cfg.Exchange.FuturesStreamURL+"?streams="))
	assert.Contains(t, futures, "!forceOrder@arr")

	spot := a.streamURL(domain.VenueSpot)
	assert.True(t, strings.HasPrefix(spot, a.cfg.Exchange.SpotStreamURL+"?streams="))
	assert.NotContains(t, spot, "forceOrder")
}

func TestFeedHandlersRouteLiquidationsFromDerivativesOnly(t *testing.T) {
	a := testApp(t)
	c, err := a.buildCore(&Dependencies{Notifier: notify.NewNotifier(nil, a.logger)})
	require.NoError(t, err)

	fut := feedHandlers(domain.VenueFutures, c.books, c.trades, c.dispatcher)
	assert.NotNil(t, fut.Depth)
	assert.NotNil(t, fut.Trade)
	assert.NotNil(t, fut.Liquidation)
	assert.NotNil(t, fut.Connected)

	spot := feedHandlers(domain.VenueSpot, c.books, c.trades, c.dispatcher)
	assert.Nil(t, spot.Liquidation)
}

func TestBuildSenders(t *testing.T) {
	assert.Empty(t, buildSenders(config.NotifyConfig{}))

	senders := buildSenders(config.NotifyConfig{
		TelegramToken:   "token",
		TelegramForumID: "-100123",
		TelegramTopics:  map[string]int64{"walls": 7},
		DiscordWebhooks: map[string]string{"trades": "https://discord.example/hook"},
	})
	require.Len(t, senders, 2)
	assert.Equal(t, "telegram", senders[0].Name())
	assert.Equal(t, "discord", senders[1].Name())

	// A token without any chat is not enough.
	assert.Empty(t, buildSenders(config.NotifyConfig{TelegramToken: "token"}))
}
