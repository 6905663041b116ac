package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	db        Pinger
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. db may be nil.
func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, startedAt: time.Now(), logger: logger}
}

// HealthCheck reports ok, or 503 when the database does not answer.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "handler: health ping failed", slog.String("error", err.Error()))
			body["status"] = "degraded"
			body["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}
