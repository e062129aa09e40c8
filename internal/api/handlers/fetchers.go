package handlers

import (
	"net/http"
	"slices"

	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

// FetcherHandler lists fetchers and changes the selection.
type FetcherHandler struct {
	service        *services.ScannerService
	logger         *logging.Logger
	maxRequestSize int64
}

// NewFetcherHandler creates a new fetcher handler.
func NewFetcherHandler(service *services.ScannerService, logger *logging.Logger, maxRequestSize int64) *FetcherHandler {
	return &FetcherHandler{
		service:        service,
		logger:         logger.WithFields("handler", "fetchers"),
		maxRequestSize: maxRequestSize,
	}
}

// FetcherInfo describes one available fetcher.
type FetcherInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
}

// FetchersResponse lists every fetcher and the selection in column order.
type FetchersResponse struct {
	Available []FetcherInfo `json:"available"`
	Selected  []string      `json:"selected"`
	// Applied is false when the change waits for the running scan.
	Applied *bool `json:"applied,omitempty"`
}

// FetcherSelectionRequest replaces the fetcher selection.
type FetcherSelectionRequest struct {
	Fetchers []string `json:"fetchers" validate:"required,min=1,dive,required"`
}

// List handles GET /fetchers.
func (h *FetcherHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.snapshot())
}

// Update handles PUT /fetchers. A change requested during a scan is
// answered with 202 and applied once the scan completes.
func (h *FetcherHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req FetcherSelectionRequest
	if err := parseJSON(w, r, h.maxRequestSize, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	ids, err := scanning.ParseFetcherIDs(req.Fetchers)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	applied, err := h.service.SetSelectedFetchers(ids)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := h.snapshot()
	resp.Applied = &applied
	status := http.StatusOK
	if !applied {
		status = http.StatusAccepted
	}
	h.logger.Info("Fetcher selection updated", "fetchers", req.Fetchers, "applied", applied)
	writeJSON(w, r, status, resp)
}

func (h *FetcherHandler) snapshot() FetchersResponse {
	selected := h.service.SelectedFetchers()
	resp := FetchersResponse{Selected: make([]string, len(selected))}
	for i, id := range selected {
		resp.Selected[i] = id.String()
	}
	for _, f := range h.service.Fetchers() {
		resp.Available = append(resp.Available, FetcherInfo{
			ID:       f.ID().String(),
			Name:     f.FullName(),
			Selected: slices.Contains(selected, f.ID()),
		})
	}
	return resp
}
