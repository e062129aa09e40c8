// Package handlers provides HTTP request handlers for the scanner API.
// This package implements the REST endpoints for scan control, results,
// fetcher selection and the websocket event stream.
package handlers

import (
	"net/http"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

// HandlerManager manages all API handlers and their dependencies.
type HandlerManager struct {
	health    *HealthHandler
	scan      *ScanHandler
	fetchers  *FetcherHandler
	websocket *WebSocketHandler
}

// New creates a new handler manager with all handler groups initialized.
func New(service *services.ScannerService, logger *logging.Logger, apiCfg config.APIConfig) *HandlerManager {
	var origins []string
	if apiCfg.CORS.Enabled {
		origins = apiCfg.CORS.AllowedOrigins
	}
	return &HandlerManager{
		health:    NewHealthHandler(service, logger),
		scan:      NewScanHandler(service, logger, apiCfg.MaxRequestSize),
		fetchers:  NewFetcherHandler(service, logger, apiCfg.MaxRequestSize),
		websocket: NewWebSocketHandler(service, logger, origins),
	}
}

// Health handles GET /health.
func (hm *HandlerManager) Health(w http.ResponseWriter, r *http.Request) {
	hm.health.Health(w, r)
}

// Status handles GET /status.
func (hm *HandlerManager) Status(w http.ResponseWriter, r *http.Request) {
	hm.health.Status(w, r)
}

// StartScan handles POST /scans.
func (hm *HandlerManager) StartScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.StartScan(w, r)
}

// StopScan handles POST /scans/stop.
func (hm *HandlerManager) StopScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.StopScan(w, r)
}

// KillScan handles POST /scans/kill.
func (hm *HandlerManager) KillScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.KillScan(w, r)
}

// Results handles GET /results.
func (hm *HandlerManager) Results(w http.ResponseWriter, r *http.Request) {
	hm.scan.Results(w, r)
}

// ListFetchers handles GET /fetchers.
func (hm *HandlerManager) ListFetchers(w http.ResponseWriter, r *http.Request) {
	hm.fetchers.List(w, r)
}

// UpdateFetchers handles PUT /fetchers.
func (hm *HandlerManager) UpdateFetchers(w http.ResponseWriter, r *http.Request) {
	hm.fetchers.Update(w, r)
}

// WebSocket handles GET /ws.
func (hm *HandlerManager) WebSocket(w http.ResponseWriter, r *http.Request) {
	hm.websocket.ServeWS(w, r)
}

// WebSocketClients returns the number of connected websocket clients.
func (hm *HandlerManager) WebSocketClients() int {
	return hm.websocket.ClientCount()
}

// Close releases handler resources.
func (hm *HandlerManager) Close() error {
	return hm.websocket.Close()
}
