package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// AlertHandler serves the alert log.
type AlertHandler struct {
	log    domain.AlertLogStore
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(log domain.AlertLogStore, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{log: log, logger: logger}
}

// List returns dispatched alerts, newest first.
// GET /api/alerts?limit=50
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.log.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list alerts failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if out == nil {
		out = []domain.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out, "limit": opts.Limit, "offset": opts.Offset})
}
