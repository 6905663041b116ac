package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// NotificationHandler serves per-kind alert settings.
type NotificationHandler struct {
	settings domain.SettingsStore
	logger   *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(settings domain.SettingsStore, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{settings: settings, logger: logger}
}

// effective lists every toggleable kind, enabled unless stored otherwise.
func (h *NotificationHandler) effective(r *http.Request) ([]domain.NotificationSetting, error) {
	stored, err := h.settings.List(r.Context())
	if err != nil {
		return nil, err
	}
	byKind := make(map[domain.AlertKind]domain.NotificationSetting, len(stored))
	for _, s := range stored {
		byKind[s.Kind] = s
	}
	out := make([]domain.NotificationSetting, 0, len(domain.AlertKinds))
	for _, k := range domain.AlertKinds {
		s, ok := byKind[k]
		if !ok {
			s = domain.NotificationSetting{Kind: k, Enabled: true}
		}
		out = append(out, s)
	}
	return out, nil
}

// List returns the setting of every alert kind.
// GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	out, err := h.effective(r)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list settings failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list settings")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Toggle flips one alert kind on or off.
// POST /api/notifications/{kind}/toggle
func (h *NotificationHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	kind := domain.AlertKind(r.PathValue("kind"))
	if !slices.Contains(domain.AlertKinds, kind) {
		writeError(w, http.StatusNotFound, "unknown alert kind")
		return
	}
	s, err := h.settings.Toggle(r.Context(), kind)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: toggle setting failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to toggle setting")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type setAllRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetAll enables or disables every alert kind, keeping thresholds.
// PUT /api/notifications {"enabled": false}
func (h *NotificationHandler) SetAll(w http.ResponseWriter, r *http.Request) {
	var req setAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	current, err := h.effective(r)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list settings failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list settings")
		return
	}
	for i := range current {
		current[i].Enabled = *req.Enabled
		if err := h.settings.Upsert(r.Context(), current[i]); err != nil {
			h.logger.ErrorContext(r.Context(), "handler: upsert setting failed",
				slog.String("kind", string(current[i].Kind)),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to update settings")
			return
		}
	}
	writeJSON(w, http.StatusOK, current)
}
