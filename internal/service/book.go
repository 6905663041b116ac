package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/confirm"
	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/orderbook"
	"github.com/alanyoungcy/wallwatch/internal/platform/binance"
)

// SnapshotFetcher acquires a REST depth snapshot for a venue.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, venue domain.Venue) (domain.DepthSnapshot, error)
}

type venueBook struct {
	replica *orderbook.Replica
	// apply serialises replica mutation with the wall bookkeeping that
	// follows it, so ids are attached before the next batch is evaluated.
	apply     sync.Mutex
	resyncing atomic.Bool
}

// BookService feeds depth diffs and snapshots into the replicas and carries
// wall events to storage, the confirmation checker, the event bus and the
// alert dispatcher.
type BookService struct {
	books     map[domain.Venue]*venueBook
	fetcher   SnapshotFetcher
	walls     domain.WallStore
	checker   *confirm.Checker
	alerts    AlertSink
	publisher domain.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewBookService creates a BookService over the given replicas.
func NewBookService(
	replicas []*orderbook.Replica,
	fetcher SnapshotFetcher,
	walls domain.WallStore,
	checker *confirm.Checker,
	alerts AlertSink,
	publisher domain.EventPublisher,
	logger *slog.Logger,
) *BookService {
	books := make(map[domain.Venue]*venueBook, len(replicas))
	for _, r := range replicas {
		books[r.Venue()] = &venueBook{replica: r}
	}
	return &BookService{
		books:     books,
		fetcher:   fetcher,
		walls:     walls,
		checker:   checker,
		alerts:    alerts,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "book_service")),
		now:       time.Now,
	}
}

// Replica returns the replica of venue.
func (s *BookService) Replica(venue domain.Venue) (*orderbook.Replica, bool) {
	b, ok := s.books[venue]
	if !ok {
		return nil, false
	}
	return b.replica, true
}

// Venues returns the tracked venues in canonical order.
func (s *BookService) Venues() []domain.Venue {
	out := make([]domain.Venue, 0, len(s.books))
	for _, v := range domain.Venues {
		if _, ok := s.books[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Readers returns every replica as a confirmation LevelReader.
func (s *BookService) Readers() map[domain.Venue]confirm.LevelReader {
	out := make(map[domain.Venue]confirm.LevelReader, len(s.books))
	for v, b := range s.books {
		out[v] = b.replica
	}
	return out
}

// HandleDepth decodes and applies one depth diff. A sequence gap starts a
// resync in the background.
func (s *BookService) HandleDepth(ctx context.Context, venue domain.Venue, data []byte) error {
	b, ok := s.books[venue]
	if !ok {
		return fmt.Errorf("book_service: %w: %s", domain.ErrUnknownVenue, venue)
	}
	diff, err := binance.DecodeDepthUpdate(data)
	if err != nil {
		return fmt.Errorf("book_service: %w", err)
	}

	b.apply.Lock()
	events, err := b.replica.ApplyDiff(diff)
	if err == nil {
		s.handleWallEvents(ctx, b, events)
	}
	b.apply.Unlock()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrStaleDiff):
		s.logger.DebugContext(ctx, "stale diff ignored",
			slog.String("venue", string(venue)),
			slog.String("detail", err.Error()),
		)
		return nil
	case errors.Is(err, domain.ErrSequenceGap):
		s.logger.WarnContext(ctx, "sequence gap, resyncing",
			slog.String("venue", string(venue)),
			slog.String("detail", err.Error()),
		)
		go func() {
			if err := s.Resync(ctx, venue); err != nil {
				s.logger.ErrorContext(ctx, "resync failed",
					slog.String("venue", string(venue)),
					slog.String("error", err.Error()),
				)
			}
		}()
		return nil
	default:
		return fmt.Errorf("book_service: apply diff: %w", err)
	}
}

// Resync invalidates the replica, fetches a fresh snapshot and applies it.
// Overlapping calls for one venue collapse into the one already running.
func (s *BookService) Resync(ctx context.Context, venue domain.Venue) error {
	b, ok := s.books[venue]
	if !ok {
		return fmt.Errorf("book_service: %w: %s", domain.ErrUnknownVenue, venue)
	}
	if !b.resyncing.CompareAndSwap(false, true) {
		return nil
	}
	defer b.resyncing.Store(false)

	b.replica.Invalidate()
	snap, err := s.fetcher.FetchSnapshot(ctx, venue)
	if err != nil {
		return fmt.Errorf("book_service: resync %s: %w", venue, err)
	}

	b.apply.Lock()
	defer b.apply.Unlock()
	events := b.replica.ApplySnapshot(snap)
	s.handleWallEvents(ctx, b, events)
	return nil
}

// OnConnected is the feed hook for a fresh connection of venue.
func (s *BookService) OnConnected(venue domain.Venue) func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := s.Resync(ctx, venue); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "initial snapshot failed",
				slog.String("venue", string(venue)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ResyncStale re-snapshots every replica that lost sync and is not already
// being recovered. It returns the venues attempted.
func (s *BookService) ResyncStale(ctx context.Context) []domain.Venue {
	var out []domain.Venue
	for v, b := range s.books {
		if !b.replica.NeedsResync() || b.resyncing.Load() {
			continue
		}
		out = append(out, v)
		if err := s.Resync(ctx, v); err != nil {
			s.logger.WarnContext(ctx, "resync recovery failed",
				slog.String("venue", string(v)),
				slog.String("error", err.Error()),
			)
		}
	}
	return out
}

// Prune drops distant levels of venue and closes the walls that sat on them.
func (s *BookService) Prune(ctx context.Context, venue domain.Venue) int {
	b, ok := s.books[venue]
	if !ok {
		return 0
	}
	b.apply.Lock()
	defer b.apply.Unlock()
	n, events := b.replica.Prune()
	s.handleWallEvents(ctx, b, events)
	return n
}

func (s *BookService) handleWallEvents(ctx context.Context, b *venueBook, events []domain.WallEvent) {
	for i := range events {
		ev := &events[i]
		if ev.Kind == domain.WallNew {
			s.recordNew(ctx, b, ev)
		} else {
			s.recordGone(ctx, ev)
		}
		publish(ctx, s.publisher, s.logger, TopicWalls, string(ev.Venue), wallEventPayload(*ev))
		if s.alerts != nil {
			s.alerts.ProcessWallEvent(ctx, *ev)
		}
	}
}

func (s *BookService) recordNew(ctx context.Context, b *venueBook, ev *domain.WallEvent) {
	if s.walls != nil {
		id, err := s.walls.Insert(ctx, domain.WallRecord{
			Venue:            ev.Venue,
			Side:             ev.Side,
			Price:            ev.Price,
			SizeBase:         ev.NewSizeBase,
			SizeQuote:        ev.NewSizeQuote,
			PeakSizeQuote:    ev.PeakQuote,
			Status:           domain.WallStatusActive,
			DetectedAt:       ev.DetectedAt,
			PriceAtDetection: ev.MidPrice,
			DistancePct:      distancePct(ev.PriceValue, ev.MidPrice),
		})
		if err != nil {
			s.logger.WarnContext(ctx, "persist wall failed",
				slog.String("venue", string(ev.Venue)),
				slog.String("price", ev.Price),
				slog.String("error", err.Error()),
			)
		} else {
			ev.WallID = id
			b.replica.SetWallID(ev.Side, ev.Price, id)
		}
	}
	if s.checker != nil {
		s.checker.OnWallDetected(*ev)
	}
}

func (s *BookService) recordGone(ctx context.Context, ev *domain.WallEvent) {
	if s.walls != nil && ev.WallID != 0 {
		err := s.walls.Close(ctx, ev.WallID, domain.StatusFor(ev.Kind), ev.MidPrice, ev.PeakQuote, s.now())
		if err != nil {
			s.logger.WarnContext(ctx, "close wall failed",
				slog.Int64("wall_id", ev.WallID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.checker == nil {
		return
	}
	if cw, ok := s.checker.OnWallGone(*ev); ok && s.alerts != nil {
		s.alerts.ProcessConfirmedWallGone(ctx, cw, *ev)
	}
}

// RestoreWalls reloads walls still marked active so they are tracked
// without being reported as new.
func (s *BookService) RestoreWalls(ctx context.Context) error {
	if s.walls == nil {
		return nil
	}
	for v, b := range s.books {
		recs, err := s.walls.ListActive(ctx, v)
		if err != nil {
			return fmt.Errorf("book_service: list active walls: %w", err)
		}
		for _, rec := range recs {
			b.replica.RestoreWall(domain.WallInfo{
				ID:            rec.ID,
				Side:          rec.Side,
				Price:         rec.Price,
				SizeBase:      rec.SizeBase,
				SizeQuote:     rec.SizeQuote,
				PeakSizeQuote: rec.PeakSizeQuote,
				DetectedAt:    rec.DetectedAt,
			})
		}
		if len(recs) > 0 {
			s.logger.InfoContext(ctx, "restored active walls",
				slog.String("venue", string(v)),
				slog.Int("count", len(recs)),
			)
		}
	}
	return nil
}

// Shutdown marks walls that are still active as unknown.
func (s *BookService) Shutdown(ctx context.Context) error {
	if s.walls == nil {
		return nil
	}
	n, err := s.walls.MarkActiveUnknown(ctx, s.now())
	if err != nil {
		return fmt.Errorf("book_service: mark active walls unknown: %w", err)
	}
	s.logger.InfoContext(ctx, "active walls closed as unknown", slog.Int64("count", n))
	return nil
}

func wallEventPayload(ev domain.WallEvent) map[string]any {
	return map[string]any{
		"event":          "wall_" + string(ev.Kind),
		"venue":          ev.Venue,
		"side":           ev.Side,
		"price":          ev.Price,
		"size_quote":     ev.NewSizeQuote,
		"old_size_quote": ev.OldSizeQuote,
		"peak_quote":     ev.PeakQuote,
		"mid_price":      ev.MidPrice,
		"wall_id":        ev.WallID,
		"detected_at":    ev.DetectedAt.Format(time.RFC3339Nano),
	}
}

func distancePct(price, mid float64) float64 {
	if mid == 0 {
		return 0
	}
	return (price - mid) / mid * 100
}
