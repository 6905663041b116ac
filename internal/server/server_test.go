package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/wallwatch/internal/server/handler"
)

func TestRoutesAndAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(Config{APIKey: "k"}, Handlers{
		Health: handler.NewHealthHandler(nil, logger),
		Status: handler.NewStatusHandler("server", handler.StatusSources{}),
	}, nil, nil, logger)

	get := func(path, key string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/api/health", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/api/status", ""))
	assert.Equal(t, http.StatusOK, get("/api/status", "k"))
	assert.Equal(t, http.StatusNotFound, get("/api/markets", "k"))
	assert.Equal(t, http.StatusNotFound, get("/ws", "k"))
}
