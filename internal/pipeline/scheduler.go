// Package pipeline runs the periodic drivers that sit beside the live feeds:
// book metrics, wall confirmation, REST refresh, resync recovery, retention
// and the healthcheck.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wallwatch/internal/confirm"
	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/orderbook"
)

// Books is the replica side the drivers operate on.
type Books interface {
	Venues() []domain.Venue
	Replica(venue domain.Venue) (*orderbook.Replica, bool)
	Readers() map[domain.Venue]confirm.LevelReader
	Resync(ctx context.Context, venue domain.Venue) error
	ResyncStale(ctx context.Context) []domain.Venue
	Prune(ctx context.Context, venue domain.Venue) int
}

// Flow exposes the persisted trade deltas.
type Flow interface {
	Delta(ctx context.Context, venue domain.Venue, window time.Duration) (float64, error)
	CheckCVDReset(ctx context.Context)
}

// Alerts is the dispatcher surface the drivers raise alerts through.
type Alerts interface {
	ProcessConfirmedWall(ctx context.Context, cw domain.ConfirmedWall)
	ProcessCVDSpike(ctx context.Context, venue domain.Venue, delta float64)
	ProcessImbalance(ctx context.Context, venue domain.Venue, imbalance float64)
	System(ctx context.Context, text string)
	CleanupCooldowns(maxAge time.Duration) int
}

// Config holds the driver intervals and thresholds.
type Config struct {
	MetricsInterval     time.Duration
	ConfirmInterval     time.Duration
	RefreshInterval     time.Duration
	ResyncInterval      time.Duration
	HealthcheckInterval time.Duration
	HealthcheckFailures int
	MinHealthyLevels    int
	ImbalanceThreshold  float64
	ImbalanceBand       float64
	CVDSpikeQuote       float64
	CVDSpikeWindow      time.Duration
	CooldownCleanupAge  time.Duration
	RetentionDays       int
	RetentionCron       string
}

// Deps are the collaborators of a Scheduler. Metrics, Aggregates, Feeds,
// DB, Lock, Archiver and Retention may be nil; the drivers that need them
// then skip that step.
type Deps struct {
	Books      Books
	Checker    *confirm.Checker
	Flow       Flow
	Alerts     Alerts
	Aggregates domain.AggregateStore
	Metrics    domain.MetricsCache
	Feeds      []FeedProbe
	DB         Pinger
	Lock       domain.LockManager
	Archiver   TableArchiver
	Retention  domain.RetentionStore
	Tables     []string
}

// Scheduler owns the periodic drivers.
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	failures int
	lastRun  map[string]time.Time
}

// NewScheduler creates a Scheduler. Zero intervals fall back to the
// production defaults.
func NewScheduler(cfg Config, deps Deps, logger *slog.Logger) *Scheduler {
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = time.Minute
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = 10 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = 5 * time.Second
	}
	if cfg.HealthcheckInterval <= 0 {
		cfg.HealthcheckInterval = 5 * time.Minute
	}
	if cfg.HealthcheckFailures < 1 {
		cfg.HealthcheckFailures = 3
	}
	if cfg.CVDSpikeWindow <= 0 {
		cfg.CVDSpikeWindow = 5 * time.Minute
	}
	if cfg.ImbalanceBand == 0 {
		cfg.ImbalanceBand = 0.01
	}
	if cfg.CooldownCleanupAge <= 0 {
		cfg.CooldownCleanupAge = time.Hour
	}
	if cfg.RetentionCron == "" {
		cfg.RetentionCron = "0 4 * * *"
	}
	return &Scheduler{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With(slog.String("component", "scheduler")),
		now:     time.Now,
		lastRun: make(map[string]time.Time),
	}
}

// Run starts every driver and blocks until ctx is cancelled or one fails.
func (s *Scheduler) Run(ctx context.Context) error {
	sched, err := ParseSchedule(s.cfg.RetentionCron)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	s.logger.Info("scheduler starting",
		slog.Duration("metrics_interval", s.cfg.MetricsInterval),
		slog.Duration("confirm_interval", s.cfg.ConfirmInterval),
		slog.String("retention_cron", s.cfg.RetentionCron),
	)

	g, ctx := errgroup.WithContext(ctx)
	s.every(g, ctx, "metrics", s.cfg.MetricsInterval, s.RunMetrics)
	s.every(g, ctx, "confirm", s.cfg.ConfirmInterval, s.RunConfirm)
	s.every(g, ctx, "refresh", s.cfg.RefreshInterval, s.RunRefresh)
	s.every(g, ctx, "resync", s.cfg.ResyncInterval, func(ctx context.Context) {
		s.deps.Books.ResyncStale(ctx)
	})
	s.every(g, ctx, "healthcheck", s.cfg.HealthcheckInterval, func(ctx context.Context) {
		s.RunHealthcheck(ctx)
	})
	s.every(g, ctx, "cooldown_cleanup", s.cfg.CooldownCleanupAge, func(context.Context) {
		if n := s.deps.Alerts.CleanupCooldowns(s.cfg.CooldownCleanupAge); n > 0 {
			s.logger.Debug("cooldowns cleaned", slog.Int("removed", n))
		}
	})
	g.Go(func() error {
		err := s.runCron(ctx, sched)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("retention: %w", err)
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// every runs fn on a ticker until ctx is done.
func (s *Scheduler) every(g *errgroup.Group, ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	g.Go(func() error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				fn(ctx)
				s.markRun(name)
			}
		}
	})
}

func (s *Scheduler) runCron(ctx context.Context, sched Schedule) error {
	for {
		next := sched.Next(s.now())
		if next.IsZero() {
			return fmt.Errorf("cron %q never fires", s.cfg.RetentionCron)
		}
		s.logger.Info("retention scheduled", slog.Time("next_run", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := s.RunRetention(ctx); err != nil {
				s.logger.Error("retention run failed", slog.String("error", err.Error()))
			}
			s.markRun("retention")
		}
	}
}

func (s *Scheduler) markRun(name string) {
	s.mu.Lock()
	s.lastRun[name] = s.now()
	s.mu.Unlock()
}

// LastRuns returns when each driver last completed.
func (s *Scheduler) LastRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.lastRun))
	for k, v := range s.lastRun {
		out[k] = v
	}
	return out
}

// RunMetrics prunes each replica, records its one-minute metrics and raises
// imbalance and CVD spike alerts. It also rolls CVD periods over.
func (s *Scheduler) RunMetrics(ctx context.Context) {
	for _, v := range s.deps.Books.Venues() {
		r, ok := s.deps.Books.Replica(v)
		if !ok {
			continue
		}
		if n := s.deps.Books.Prune(ctx, v); n > 0 {
			s.logger.Debug("levels pruned", slog.String("venue", string(v)), slog.Int("removed", n))
		}

		m, err := r.Metrics()
		if err != nil {
			if !errors.Is(err, domain.ErrNotReady) {
				s.logger.Warn("metrics failed", slog.String("venue", string(v)), slog.String("error", err.Error()))
			}
			continue
		}
		s.recordMetrics(ctx, m)

		if imb := m.ImbalanceAt(s.cfg.ImbalanceBand); s.cfg.ImbalanceThreshold > 0 && math.Abs(imb) > s.cfg.ImbalanceThreshold {
			s.deps.Alerts.ProcessImbalance(ctx, v, imb)
		}
	}

	if s.deps.Flow == nil {
		return
	}
	for _, v := range s.deps.Books.Venues() {
		delta, err := s.deps.Flow.Delta(ctx, v, s.cfg.CVDSpikeWindow)
		if err != nil {
			s.logger.Warn("cvd delta failed", slog.String("venue", string(v)), slog.String("error", err.Error()))
			continue
		}
		if s.cfg.CVDSpikeQuote > 0 && math.Abs(delta) > s.cfg.CVDSpikeQuote {
			s.deps.Alerts.ProcessCVDSpike(ctx, v, delta)
		}
	}
	s.deps.Flow.CheckCVDReset(ctx)
}

func (s *Scheduler) recordMetrics(ctx context.Context, m domain.BookMetrics) {
	if s.deps.Aggregates != nil {
		if err := s.deps.Aggregates.InsertBookMetrics(ctx, m); err != nil {
			s.logger.Warn("persist metrics failed", slog.String("venue", string(m.Venue)), slog.String("error", err.Error()))
		}
	}
	if s.deps.Metrics != nil {
		if err := s.deps.Metrics.SetMetrics(ctx, m); err != nil {
			s.logger.Warn("cache metrics failed", slog.String("venue", string(m.Venue)), slog.String("error", err.Error()))
		}
	}
}

// RunConfirm promotes pending walls that survived the dwell time.
func (s *Scheduler) RunConfirm(ctx context.Context) {
	if s.deps.Checker == nil {
		return
	}
	for _, cw := range s.deps.Checker.CheckConfirmations(s.deps.Books.Readers()) {
		s.logger.Info("wall confirmed",
			slog.String("venue", string(cw.Venue)),
			slog.String("side", string(cw.Side)),
			slog.String("price", cw.Price),
			slog.Float64("size_quote", cw.SizeQuote),
		)
		s.deps.Alerts.ProcessConfirmedWall(ctx, cw)
	}
}

// RunRefresh re-snapshots every venue from REST.
func (s *Scheduler) RunRefresh(ctx context.Context) {
	for _, v := range s.deps.Books.Venues() {
		if err := s.deps.Books.Resync(ctx, v); err != nil && ctx.Err() == nil {
			s.logger.Warn("snapshot refresh failed", slog.String("venue", string(v)), slog.String("error", err.Error()))
		}
	}
}
