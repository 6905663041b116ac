package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/orderbook"
)

// WallHandler serves live walls, wall history and book depth.
type WallHandler struct {
	books   Books
	walls   domain.WallStore
	metrics domain.MetricsCache
	logger  *slog.Logger
}

// NewWallHandler creates a WallHandler. walls and metrics may be nil.
func NewWallHandler(books Books, walls domain.WallStore, metrics domain.MetricsCache, logger *slog.Logger) *WallHandler {
	return &WallHandler{books: books, walls: walls, metrics: metrics, logger: logger}
}

type liveWalls struct {
	Venue    domain.Venue         `json:"venue"`
	Ready    bool                 `json:"ready"`
	MidPrice float64              `json:"mid_price"`
	Walls    []orderbook.WallView `json:"walls"`
}

// venues resolves the venue filter against the tracked books.
func (h *WallHandler) venues(w http.ResponseWriter, r *http.Request) ([]domain.Venue, bool) {
	venue, err := queryVenue(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if venue == "" {
		return h.books.Venues(), true
	}
	if _, ok := h.books.Replica(venue); !ok {
		writeError(w, http.StatusNotFound, "venue not tracked")
		return nil, false
	}
	return []domain.Venue{venue}, true
}

// Live returns the walls currently tracked, largest first.
// GET /api/walls?venue=futures
func (h *WallHandler) Live(w http.ResponseWriter, r *http.Request) {
	venues, ok := h.venues(w, r)
	if !ok {
		return
	}
	out := make([]liveWalls, 0, len(venues))
	for _, v := range venues {
		rep, _ := h.books.Replica(v)
		mid, _ := rep.Mid()
		out = append(out, liveWalls{Venue: v, Ready: rep.Ready(), MidPrice: mid, Walls: rep.Walls()})
	}
	writeJSON(w, http.StatusOK, out)
}

// History lists persisted walls, newest first.
// GET /api/walls/history?venue=spot&since=2025-01-01T00:00:00Z&limit=50
func (h *WallHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.walls == nil {
		writeError(w, http.StatusServiceUnavailable, "wall history unavailable")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.walls.ListHistory(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list walls failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list walls")
		return
	}
	if records == nil {
		records = []domain.WallRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"walls":  records,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

type depthView struct {
	orderbook.Depth
	Ready   bool                `json:"ready"`
	Metrics *domain.BookMetrics `json:"last_metrics,omitempty"`
}

// Depth returns cumulative notional per distance band. Venues that are not
// synchronised are listed with ready=false.
// GET /api/depth?venue=futures
func (h *WallHandler) Depth(w http.ResponseWriter, r *http.Request) {
	venues, ok := h.venues(w, r)
	if !ok {
		return
	}
	out := make([]depthView, 0, len(venues))
	for _, v := range venues {
		rep, _ := h.books.Replica(v)
		d, err := rep.Depth()
		if err != nil {
			d = orderbook.Depth{Venue: v, Bands: []orderbook.BandDepth{}}
		}
		view := depthView{Depth: d, Ready: err == nil}
		if h.metrics != nil {
			if m, err := h.metrics.GetMetrics(r.Context(), v); err == nil {
				view.Metrics = &m
			}
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}
