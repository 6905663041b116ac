// Package server exposes the read-mostly HTTP API and the live event
// websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wallwatch/internal/domain"
	"github.com/alanyoungcy/wallwatch/internal/server/handler"
	"github.com/alanyoungcy/wallwatch/internal/server/middleware"
	"github.com/alanyoungcy/wallwatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // empty disables authentication
	RateLimit    int    // requests per RateInterval per client, 0 disables
	RateInterval time.Duration
}

// Handlers aggregates the HTTP handlers. Events may be nil.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Walls         *handler.WallHandler
	Trades        *handler.TradeHandler
	Alerts        *handler.AlertHandler
	Notifications *handler.NotificationHandler
	Events        *handler.EventHandler
}

// Server is the HTTP + websocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging, CORS,
// rate limiting and auth. hub and limiter may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, h, hub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and wrapped handler.
func NewHandler(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	mux.HandleFunc("GET /api/walls", h.Walls.Live)
	mux.HandleFunc("GET /api/walls/history", h.Walls.History)
	mux.HandleFunc("GET /api/depth", h.Walls.Depth)

	mux.HandleFunc("GET /api/trades/large", h.Trades.Large)
	mux.HandleFunc("GET /api/liquidations", h.Trades.Liquidations)
	mux.HandleFunc("GET /api/cvd", h.Trades.CVD)

	mux.HandleFunc("GET /api/alerts", h.Alerts.List)
	mux.HandleFunc("GET /api/notifications", h.Notifications.List)
	mux.HandleFunc("PUT /api/notifications", h.Notifications.SetAll)
	mux.HandleFunc("POST /api/notifications/{kind}/toggle", h.Notifications.Toggle)

	if h.Events != nil {
		mux.HandleFunc("GET /api/events", h.Events.List)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var handler http.Handler = mux
	handler = middleware.Auth(cfg.APIKey, "/api/health")(handler)
	if limiter != nil && cfg.RateLimit > 0 {
		handler = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateInterval, logger)(handler)
	}
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	handler = middleware.Logging(logger)(handler)
	return handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
