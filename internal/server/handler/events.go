package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// EventHandler replays the capped event stream.
type EventHandler struct {
	bus    domain.SignalBus
	stream string
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler reading stream.
func NewEventHandler(bus domain.SignalBus, stream string, logger *slog.Logger) *EventHandler {
	return &EventHandler{bus: bus, stream: stream, logger: logger}
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// List returns up to count events after the given stream id. Clients page
// forward by passing the last id back as after.
// GET /api/events?after=0&count=100
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	out := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, streamEvent{ID: m.ID, Event: m.Payload})
	}
	next := after
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "next": next})
}
