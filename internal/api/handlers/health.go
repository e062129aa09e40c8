// Package handlers provides HTTP request handlers for the scanner API.
// This file implements the health check and engine status endpoints.
package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

// Status constants.
const (
	StatusHealthy = "healthy"
)

// HealthHandler handles health check and status endpoints.
type HealthHandler struct {
	service   *services.ScannerService
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(service *services.ScannerService, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		service:   service,
		logger:    logger.WithFields("handler", "health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// StatusResponse represents the engine status.
type StatusResponse struct {
	services.Status
	Hosts      int       `json:"hosts"`
	Alive      int       `json:"alive"`
	WithPorts  int       `json:"with_ports"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Pinger     string    `json:"pinger"`
	Fetchers   []string  `json:"fetchers"`
	Goroutines int       `json:"goroutines"`
	Timestamp  time.Time `json:"timestamp"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks: map[string]string{
			"engine": h.service.State().String(),
			"pinger": h.service.Pinger(),
		},
	})
}

// Status handles GET /status: state, session and progress of the engine.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	info := h.service.Info()
	ids := h.service.SelectedFetchers()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}

	writeJSON(w, r, http.StatusOK, StatusResponse{
		Status:     h.service.Status(),
		Hosts:      info.Hosts,
		Alive:      info.Alive,
		WithPorts:  info.WithPorts,
		FinishedAt: info.FinishedAt,
		Pinger:     h.service.Pinger(),
		Fetchers:   names,
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now().UTC(),
	})
}
