// Package confirm promotes very large walls near the mid to "confirmed" once
// they have stood for a dwell time.
package confirm

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// Config holds confirmation policy.
type Config struct {
	ThresholdQuote float64
	MaxDistancePct float64
	Delay          time.Duration
}

// LevelReader is the read-only view of a replica the checker needs.
type LevelReader interface {
	CheckWall(side domain.Side, price string) (sizeQuote, distancePct float64, ok bool)
}

type key struct {
	venue domain.Venue
	side  domain.Side
	price string
}

// Checker tracks pending and confirmed walls.
type Checker struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	pending   map[key]domain.ConfirmedWall
	confirmed map[key]domain.ConfirmedWall
}

// New creates a Checker.
func New(cfg Config, logger *slog.Logger) *Checker {
	return &Checker{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "confirm")),
		now:       time.Now,
		pending:   make(map[key]domain.ConfirmedWall),
		confirmed: make(map[key]domain.ConfirmedWall),
	}
}

// OnWallDetected registers a new wall as pending if it is large and close
// enough. It reports whether the wall was queued.
func (c *Checker) OnWallDetected(ev domain.WallEvent) bool {
	if ev.NewSizeQuote < c.cfg.ThresholdQuote || ev.MidPrice <= 0 {
		return false
	}
	dist := (ev.PriceValue - ev.MidPrice) / ev.MidPrice * 100
	if math.Abs(dist) > c.cfg.MaxDistancePct {
		return false
	}

	k := key{venue: ev.Venue, side: ev.Side, price: ev.Price}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.confirmed[k]; ok {
		return false
	}
	c.pending[k] = domain.ConfirmedWall{
		Venue:       ev.Venue,
		Side:        ev.Side,
		Price:       ev.Price,
		PriceValue:  ev.PriceValue,
		SizeQuote:   ev.NewSizeQuote,
		DistancePct: dist,
		DetectedAt:  c.now(),
	}
	return true
}

// CheckConfirmations rechecks every pending wall older than the dwell time
// against the live books and returns the newly confirmed ones.
func (c *Checker) CheckConfirmations(books map[domain.Venue]LevelReader) []domain.ConfirmedWall {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var out []domain.ConfirmedWall
	for k, p := range c.pending {
		if now.Sub(p.DetectedAt) < c.cfg.Delay {
			continue
		}
		book, ok := books[k.venue]
		if !ok {
			delete(c.pending, k)
			continue
		}
		size, dist, ok := book.CheckWall(k.side, k.price)
		if !ok || size < c.cfg.ThresholdQuote || math.Abs(dist) > c.cfg.MaxDistancePct {
			c.logger.Debug("pending wall dropped",
				slog.String("venue", string(k.venue)),
				slog.String("price", k.price),
				slog.Bool("present", ok),
				slog.Float64("size_quote", size),
			)
			delete(c.pending, k)
			continue
		}
		delete(c.pending, k)
		p.SizeQuote = size
		p.DistancePct = dist
		p.ConfirmedAt = now
		c.confirmed[k] = p
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SizeQuote > out[j].SizeQuote })
	return out
}

// OnWallGone forgets the wall. If it had been confirmed, the confirmed
// record is returned.
func (c *Checker) OnWallGone(ev domain.WallEvent) (domain.ConfirmedWall, bool) {
	k := key{venue: ev.Venue, side: ev.Side, price: ev.Price}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, k)
	cw, ok := c.confirmed[k]
	if ok {
		delete(c.confirmed, k)
	}
	return cw, ok
}

// Counts returns the number of pending and confirmed walls.
func (c *Checker) Counts() (pending, confirmed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending), len(c.confirmed)
}
