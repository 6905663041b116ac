package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/alert"
	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/feed"
	"github.com/alanyoungcy/wallwatch/internal/orderbook"
)

// Books exposes the live replicas.
type Books interface {
	Venues() []domain.Venue
	Replica(venue domain.Venue) (*orderbook.Replica, bool)
}

// FeedStatuser reports the state of one venue connection.
type FeedStatuser interface {
	Status() feed.Status
}

// StatusSources are the optional collaborators of the status endpoint.
type StatusSources struct {
	Books     Books
	Feeds     []FeedStatuser
	Confirm   interface{ Counts() (pending, confirmed int) }
	Alerts    interface{ Stats() alert.Stats }
	Scheduler interface{ LastRuns() map[string]time.Time }
}

// StatusHandler serves the runtime status of feeds, replicas and drivers.
type StatusHandler struct {
	mode string
	src  StatusSources
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, src StatusSources) *StatusHandler {
	return &StatusHandler{mode: mode, src: src}
}

type statusResponse struct {
	Mode      string               `json:"mode"`
	Feeds     []feed.Status        `json:"feeds"`
	Books     []orderbook.Status   `json:"books"`
	Pending   int                  `json:"confirm_pending"`
	Confirmed int                  `json:"confirmed_walls"`
	Alerts    *alert.Stats         `json:"alerts,omitempty"`
	LastRuns  map[string]time.Time `json:"last_runs,omitempty"`
}

// GetStatus returns feed, replica, confirmation and alert counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:  h.mode,
		Feeds: make([]feed.Status, 0, len(h.src.Feeds)),
		Books: []orderbook.Status{},
	}
	for _, f := range h.src.Feeds {
		resp.Feeds = append(resp.Feeds, f.Status())
	}
	if h.src.Books != nil {
		for _, v := range h.src.Books.Venues() {
			if rep, ok := h.src.Books.Replica(v); ok {
				resp.Books = append(resp.Books, rep.Status())
			}
		}
	}
	if h.src.Confirm != nil {
		resp.Pending, resp.Confirmed = h.src.Confirm.Counts()
	}
	if h.src.Alerts != nil {
		st := h.src.Alerts.Stats()
		resp.Alerts = &st
	}
	if h.src.Scheduler != nil {
		resp.LastRuns = h.src.Scheduler.LastRuns()
	}
	writeJSON(w, http.StatusOK, resp)
}
