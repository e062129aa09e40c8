// Package handlers provides HTTP request handlers for the scanner API.
// This file implements scan control and result retrieval.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

// Scan start modes.
const (
	ModeStart    = "start"
	ModeRescan   = "rescan"
	ModeContinue = "continue"
)

// ScanHandler handles scan-related API endpoints.
type ScanHandler struct {
	service        *services.ScannerService
	logger         *logging.Logger
	maxRequestSize int64
}

// NewScanHandler creates a new scan handler. maxRequestSize limits request
// bodies; zero selects the default.
func NewScanHandler(service *services.ScannerService, logger *logging.Logger, maxRequestSize int64) *ScanHandler {
	return &ScanHandler{
		service:        service,
		logger:         logger.WithFields("handler", "scan"),
		maxRequestSize: maxRequestSize,
	}
}

// ScanRequest starts a scan of the range Start..End.
type ScanRequest struct {
	Start string `json:"start" validate:"required,ip"`
	End   string `json:"end" validate:"required,ip"`
	// Ports replaces the configured port specification when set.
	Ports string `json:"ports,omitempty" validate:"max=4096"`
	Mode  string `json:"mode,omitempty" validate:"omitempty,oneof=start rescan continue"`
}

// ScanStartedResponse is returned once a scan was accepted.
type ScanStartedResponse struct {
	ScanID    string    `json:"scan_id"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanControlResponse reports the state after a stop or kill request.
type ScanControlResponse struct {
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultsResponse holds the rows of the current or last scan.
type ResultsResponse struct {
	ScanID  string                 `json:"scan_id,omitempty"`
	State   string                 `json:"state"`
	Columns []string               `json:"columns"`
	Results []services.ResultValue `json:"results"`
	Total   int                    `json:"total"`
}

// StartScan handles POST /scans.
func (h *ScanHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := parseJSON(w, r, h.maxRequestSize, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if req.Mode == "" {
		req.Mode = ModeStart
	}

	start := h.service.StartScan
	switch req.Mode {
	case ModeRescan:
		start = h.service.Rescan
	case ModeContinue:
		start = h.service.Continue
	}

	scanID, err := start(r.Context(), req.Start, req.End, req.Ports, nil)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info("Scan accepted", "scan_id", scanID, "mode", req.Mode,
		"start", req.Start, "end", req.End)
	writeJSON(w, r, http.StatusAccepted, ScanStartedResponse{
		ScanID:    scanID,
		Mode:      req.Mode,
		State:     h.service.State().String(),
		Timestamp: time.Now().UTC(),
	})
}

// StopScan handles POST /scans/stop.
func (h *ScanHandler) StopScan(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "stop", h.service.Stop)
}

// KillScan handles POST /scans/kill.
func (h *ScanHandler) KillScan(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "kill", h.service.Kill)
}

func (h *ScanHandler) control(w http.ResponseWriter, r *http.Request, action string, fn func() bool) {
	if !fn() {
		writeError(w, r, http.StatusConflict,
			fmt.Errorf("no scan to %s (state %s)", action, h.service.State()))
		return
	}
	h.logger.Info("Scan "+action+" requested", "state", h.service.State().String())
	writeJSON(w, r, http.StatusAccepted, ScanControlResponse{
		State:     h.service.State().String(),
		Timestamp: time.Now().UTC(),
	})
}

// Results handles GET /results. DEAD rows are only listed with ?dead=true.
func (h *ScanHandler) Results(w http.ResponseWriter, r *http.Request) {
	includeDead, err := getQueryParamBool(r, "dead", false)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	columns := h.service.Columns()
	names := make([]string, len(columns))
	for i, f := range columns {
		names[i] = f.FullName()
	}
	rows := h.service.Results(includeDead)

	writeJSON(w, r, http.StatusOK, ResultsResponse{
		ScanID:  h.service.Status().ScanID,
		State:   h.service.State().String(),
		Columns: names,
		Results: rows,
		Total:   len(rows),
	})
}
