package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wallwatch/internal/alert"
	"github.com/alanyoungcy/wallwatch/internal/confirm"
	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/feed"
	"github.com/alanyoungcy/wallwatch/internal/orderbook"
	"github.com/alanyoungcy/wallwatch/internal/pipeline"
	"github.com/alanyoungcy/wallwatch/internal/platform/binance"
	"github.com/alanyoungcy/wallwatch/internal/server"
	"github.com/alanyoungcy/wallwatch/internal/server/handler"
	"github.com/alanyoungcy/wallwatch/internal/server/ws"
	"github.com/alanyoungcy/wallwatch/internal/service"
	"github.com/alanyoungcy/wallwatch/internal/store/postgres"
	"github.com/alanyoungcy/wallwatch/internal/trades"
)

const shutdownTimeout = 10 * time.Second

// core is the market pipeline: replicas and aggregators behind their
// services, the alert dispatcher, one feed per venue and the scheduler.
type core struct {
	books      *service.BookService
	trades     *service.TradeService
	checker    *confirm.Checker
	dispatcher *alert.Dispatcher
	feeds      []*feed.Manager
	scheduler  *pipeline.Scheduler
}

// buildCore constructs the pipeline. Nothing connects until a mode runs it.
func (a *App) buildCore(deps *Dependencies) (*core, error) {
	cfg := a.cfg
	venues := make([]domain.Venue, 0, len(cfg.Exchange.Venues))
	for _, name := range cfg.Exchange.Venues {
		v, err := domain.ParseVenue(name)
		if err != nil {
			return nil, err
		}
		venues = append(venues, v)
	}

	endpoints := make(map[domain.Venue]string, len(venues))
	for _, v := range venues {
		if v.Derivatives() {
			endpoints[v] = binance.SnapshotURL(cfg.Exchange.FuturesRestURL, cfg.Exchange.Symbol, cfg.Exchange.FuturesDepthLimit)
		} else {
			endpoints[v] = binance.SnapshotURL(cfg.Exchange.SpotRestURL, cfg.Exchange.Symbol, cfg.Exchange.SpotDepthLimit)
		}
	}
	snapshots, err := binance.NewSnapshotClient(binance.SnapshotConfig{
		Endpoints: endpoints,
		Attempts:  cfg.Exchange.SnapshotAttempts,
		Backoff:   cfg.Exchange.SnapshotBackoff.Duration,
		Timeout:   cfg.Exchange.RequestTimeout.Duration,
		ProxyURL:  cfg.Exchange.ProxyURL,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	dispatcher := alert.NewDispatcher(alert.Config{
		Cooldown:       cfg.Alerts.Cooldown.Duration,
		BatchWindow:    cfg.Alerts.BatchWindow.Duration,
		BatchThreshold: cfg.Alerts.BatchThreshold,
		BatchMaxItems:  cfg.Alerts.BatchMaxItems,
		SendDelay:      cfg.Alerts.SendDelay.Duration,
		MinQuote: alert.DefaultMinQuote(
			cfg.Alerts.WallNewQuote,
			cfg.Alerts.WallGoneQuote,
			cfg.Alerts.LargeTradeQuote,
			cfg.Alerts.MegaTradeQuote,
			cfg.Alerts.LiquidationQuote,
		),
		MegaTradeQuote: cfg.Alerts.MegaTradeQuote,
		EventTopic:     alertEventTopic,
	}, deps.SettingsStore, deps.AlertLogStore, deps.Notifier, deps.Publisher, a.logger)

	checker := confirm.New(confirm.Config{
		ThresholdQuote: cfg.Confirm.ThresholdQuote,
		MaxDistancePct: cfg.Confirm.MaxDistancePct,
		Delay:          cfg.Confirm.Delay.Duration,
	}, a.logger)

	replicas := make([]*orderbook.Replica, 0, len(venues))
	aggs := make([]*trades.Aggregator, 0, len(venues))
	tapes := make(map[domain.Venue]service.TradeTape, len(venues))
	now := time.Now()
	for _, v := range venues {
		r := orderbook.New(orderbook.Config{
			Venue:              v,
			WallThresholdQuote: cfg.Book.WallThresholdQuote,
			PruneDistance:      cfg.Book.PruneDistance,
			FallbackMid:        cfg.Book.FallbackMid,
			MaxPending:         cfg.Book.MaxPending,
		}, a.logger)
		replicas = append(replicas, r)
		tapes[v] = r
		aggs = append(aggs, trades.NewAggregator(trades.Config{
			Venue:           v,
			LargeTradeQuote: cfg.Trades.LargeTradeQuote,
			CVDResetHourUTC: cfg.Trades.CVDResetHourUTC,
		}, now))
	}

	liqSymbol := cfg.Trades.LiquidationSymbol
	if liqSymbol == "" {
		liqSymbol = cfg.Exchange.Symbol
	}
	books := service.NewBookService(replicas, snapshots, deps.WallStore, checker, dispatcher, deps.Publisher, a.logger)
	flow := service.NewTradeService(
		aggs, tapes,
		trades.NewClassifier(liqSymbol),
		deps.TradeStore, deps.AggregateStore,
		dispatcher, deps.Publisher, a.logger,
	)

	feeds := make([]*feed.Manager, 0, len(venues))
	probes := make([]pipeline.FeedProbe, 0, len(venues))
	for _, v := range venues {
		m, err := feed.NewManager(feed.Config{
			Venue:          v,
			URL:            a.streamURL(v),
			ReconnectMin:   cfg.Feed.ReconnectMin.Duration,
			ReconnectMax:   cfg.Feed.ReconnectMax.Duration,
			SilenceTimeout: cfg.Feed.SilenceTimeout.Duration,
			WatchdogTick:   cfg.Feed.WatchdogTick.Duration,
			ProxyURL:       cfg.Exchange.ProxyURL,
		}, feedHandlers(v, books, flow, dispatcher), a.logger)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, m)
		probes = append(probes, m)
	}

	schedDeps := pipeline.Deps{
		Books:      books,
		Checker:    checker,
		Flow:       flow,
		Alerts:     dispatcher,
		Aggregates: deps.AggregateStore,
		Metrics:    deps.MetricsCache,
		Feeds:      probes,
		Lock:       deps.LockManager,
		Archiver:   deps.Archiver,
		Retention:  deps.RetentionStore,
		Tables:     postgres.RetentionTables,
	}
	if deps.DB != nil {
		schedDeps.DB = deps.DB
	}
	scheduler := pipeline.NewScheduler(pipeline.Config{
		MetricsInterval:     cfg.Schedule.MetricsInterval.Duration,
		ConfirmInterval:     cfg.Schedule.ConfirmInterval.Duration,
		RefreshInterval:     cfg.Schedule.RefreshInterval.Duration,
		ResyncInterval:      cfg.Schedule.ResyncInterval.Duration,
		HealthcheckInterval: cfg.Schedule.HealthcheckInterval.Duration,
		HealthcheckFailures: cfg.Schedule.HealthcheckFailures,
		MinHealthyLevels:    cfg.Book.MinHealthyLevels,
		ImbalanceThreshold:  cfg.Trades.ImbalanceThreshold,
		ImbalanceBand:       cfg.Trades.ImbalanceBand,
		CVDSpikeQuote:       cfg.Trades.CVDSpikeQuote,
		CooldownCleanupAge:  cfg.Alerts.CooldownCleanupAge.Duration,
		RetentionDays:       cfg.Schedule.RetentionDays,
		RetentionCron:       cfg.Schedule.RetentionCron,
	}, schedDeps, a.logger)

	return &core{
		books:      books,
		trades:     flow,
		checker:    checker,
		dispatcher: dispatcher,
		feeds:      feeds,
		scheduler:  scheduler,
	}, nil
}

func (a *App) streamURL(v domain.Venue) string {
	base := a.cfg.Exchange.SpotStreamURL
	if v.Derivatives() {
		base = a.cfg.Exchange.FuturesStreamURL
	}
	return binance.StreamURL(base, v, a.cfg.Exchange.Symbol)
}

// feedHandlers routes one venue's stream into the services. Only the
// derivatives stream carries liquidations.
func feedHandlers(v domain.Venue, books *service.BookService, flow *service.TradeService, d *alert.Dispatcher) feed.Handlers {
	h := feed.Handlers{
		Depth: func(ctx context.Context, data []byte) error {
			return books.HandleDepth(ctx, v, data)
		},
		Trade: func(ctx context.Context, data []byte) error {
			return flow.HandleTrade(ctx, v, data)
		},
		Connected: books.OnConnected(v),
		Down: func(ctx context.Context, cause error) {
			d.System(ctx, alert.RenderFeedDown(v, cause))
		},
		Restored: func(ctx context.Context, downtime time.Duration) {
			d.System(ctx, alert.RenderFeedRestored(v, downtime))
		},
	}
	if v.Derivatives() {
		h.Liquidation = flow.HandleLiquidation
	}
	return h
}

// CollectMode runs the feeds, the alert dispatcher and the scheduler.
func (a *App) CollectMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "starting collect mode")

	g, gctx := errgroup.WithContext(ctx)
	a.startCollector(gctx, g, c)
	err := g.Wait()
	a.stopCollector(c)
	return err
}

// ServerMode serves the HTTP API and websocket only. Live book endpoints
// report the local replicas as not ready; history comes from the stores.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, gctx := errgroup.WithContext(ctx)
	a.startHTTPServer(gctx, g, deps, c, false)
	return g.Wait()
}

// FullMode runs the collector and the API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, gctx := errgroup.WithContext(ctx)
	a.startCollector(gctx, g, c)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, c, true)
	}
	err := g.Wait()
	a.stopCollector(c)
	return err
}

// startCollector restores persisted state and starts every collector
// goroutine on g.
func (a *App) startCollector(ctx context.Context, g *errgroup.Group, c *core) {
	if err := c.books.RestoreWalls(ctx); err != nil {
		a.logger.WarnContext(ctx, "restore walls failed, starting with empty trackers",
			slog.String("error", err.Error()),
		)
	}
	if err := c.trades.RecoverCVD(ctx); err != nil {
		a.logger.WarnContext(ctx, "recover cvd failed, starting from zero",
			slog.String("error", err.Error()),
		)
	}

	g.Go(func() error {
		return c.dispatcher.Run(ctx)
	})
	for _, m := range c.feeds {
		g.Go(func() error {
			return m.Run(ctx)
		})
	}
	g.Go(func() error {
		return c.scheduler.Run(ctx)
	})
	c.dispatcher.System(ctx, alert.RenderStartup(a.cfg.Exchange.Symbol, c.books.Venues()))
}

// stopCollector persists open buckets and closes walls that were still
// active. It runs after ctx is gone, so it gets its own deadline.
func (a *App) stopCollector(c *core) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	c.trades.Flush(ctx)
	if err := c.books.Shutdown(ctx); err != nil {
		a.logger.ErrorContext(ctx, "close active walls failed", slog.String("error", err.Error()))
	}
}

// startHTTPServer builds the API over deps and c and serves it on g. The
// collector-backed status sources are attached only when withCollector is
// set.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core, withCollector bool) {
	src := handler.StatusSources{Books: c.books}
	if withCollector {
		feeds := make([]handler.FeedStatuser, 0, len(c.feeds))
		for _, m := range c.feeds {
			feeds = append(feeds, m)
		}
		src.Feeds = feeds
		src.Confirm = c.checker
		src.Alerts = c.dispatcher
		src.Scheduler = c.scheduler
	}

	var db handler.Pinger
	if deps.DB != nil {
		db = deps.DB
	}
	h := server.Handlers{
		Health:        handler.NewHealthHandler(db, a.logger),
		Status:        handler.NewStatusHandler(a.cfg.Mode, src),
		Walls:         handler.NewWallHandler(c.books, deps.WallStore, deps.MetricsCache, a.logger),
		Trades:        handler.NewTradeHandler(deps.TradeStore, c.trades, a.logger),
		Alerts:        handler.NewAlertHandler(deps.AlertLogStore, a.logger),
		Notifications: handler.NewNotificationHandler(deps.SettingsStore, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		h.Events = handler.NewEventHandler(deps.SignalBus, deps.EventStream, a.logger)
		hub = ws.NewHub(deps.SignalBus, deps.EventChannels, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimit:    a.cfg.Server.RateLimit,
		RateInterval: a.cfg.Server.RateInterval.Duration,
	}, h, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
