package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// CVDSource reports cumulative volume delta per venue.
type CVDSource interface {
	Venues() []domain.Venue
	CVDStats(ctx context.Context, venue domain.Venue) (domain.CVDStats, error)
}

// TradeHandler serves large trades, liquidations and CVD.
type TradeHandler struct {
	trades domain.TradeStore
	cvd    CVDSource
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler. trades may be nil.
func NewTradeHandler(trades domain.TradeStore, cvd CVDSource, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, cvd: cvd, logger: logger}
}

// Large lists persisted large trades, newest first.
// GET /api/trades/large?venue=spot&limit=20
func (h *TradeHandler) Large(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeError(w, http.StatusServiceUnavailable, "trade history unavailable")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.trades.ListLarge(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list large trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if out == nil {
		out = []domain.LargeTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out, "limit": opts.Limit, "offset": opts.Offset})
}

// Liquidations lists persisted liquidations, newest first.
// GET /api/liquidations?since=2025-01-01T00:00:00Z
func (h *TradeHandler) Liquidations(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeError(w, http.StatusServiceUnavailable, "liquidation history unavailable")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.trades.ListLiquidations(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list liquidations failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list liquidations")
		return
	}
	if out == nil {
		out = []domain.Liquidation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"liquidations": out, "limit": opts.Limit, "offset": opts.Offset})
}

// CVD returns today's CVD and the trailing one-hour and five-minute deltas.
// GET /api/cvd?venue=futures
func (h *TradeHandler) CVD(w http.ResponseWriter, r *http.Request) {
	venue, err := queryVenue(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	venues := h.cvd.Venues()
	if venue != "" {
		venues = []domain.Venue{venue}
	}

	out := make([]domain.CVDStats, 0, len(venues))
	for _, v := range venues {
		st, err := h.cvd.CVDStats(r.Context(), v)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: cvd failed",
				slog.String("venue", string(v)),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to compute cvd")
			return
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}
