package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/homiodev/addon-ipscanner/internal/errors"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

func TestStartScan_Accepted(t *testing.T) {
	svc := newTestService(t)
	hm := newTestManager(t, svc)

	w := httptest.NewRecorder()
	hm.StartScan(w, jsonRequest(t, http.MethodPost, "/api/v1/scans",
		ScanRequest{Start: "10.0.0.1", End: "10.0.0.4"}))

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[ScanStartedResponse](t, w)
	assert.NotEmpty(t, started.ScanID)
	assert.Equal(t, ModeStart, started.Mode)

	waitScan(t, svc)

	w = httptest.NewRecorder()
	hm.Results(w, httptest.NewRequest(http.MethodGet, "/api/v1/results", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	results := decode[ResultsResponse](t, w)
	assert.Equal(t, []string{"Ping", "Hostname"}, results.Columns)
	assert.Equal(t, "IDLE", results.State)
	require.Equal(t, 2, results.Total)
	assert.Equal(t, "10.0.0.1", results.Results[0].Address)
	assert.Equal(t, "2 ms", results.Results[0].Get(scanning.FetcherPing))
	assert.Equal(t, "host-10.0.0.1", results.Results[0].Get(scanning.FetcherHostname))
	assert.Equal(t, "10.0.0.3", results.Results[1].Address)

	w = httptest.NewRecorder()
	hm.Results(w, httptest.NewRequest(http.MethodGet, "/api/v1/results?dead=true", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[ResultsResponse](t, w)
	require.Equal(t, 4, all.Total)
	assert.Equal(t, "DEAD", all.Results[1].Type)
}

func TestStartScan_Modes(t *testing.T) {
	svc := newTestService(t)
	hm := newTestManager(t, svc)

	run := func(req ScanRequest) {
		t.Helper()
		w := httptest.NewRecorder()
		hm.StartScan(w, jsonRequest(t, http.MethodPost, "/api/v1/scans", req))
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		waitScan(t, svc)
	}

	run(ScanRequest{Start: "10.0.0.1", End: "10.0.0.2"})
	run(ScanRequest{Start: "10.0.0.3", End: "10.0.0.4", Mode: ModeContinue})
	assert.Len(t, svc.Results(true), 4, "continue keeps previous rows")

	run(ScanRequest{Start: "10.0.0.5", End: "10.0.0.5", Mode: ModeRescan})
	assert.Len(t, svc.Results(true), 1, "rescan clears previous rows")
}

func TestStartScan_BadRequest(t *testing.T) {
	tests := []struct {
		name  string
		body  any
		label string
	}{
		{name: "empty body", body: ""},
		{name: "malformed json", body: `{"start":`},
		{name: "unknown field", body: `{"start":"10.0.0.1","end":"10.0.0.2","threads":5}`},
		{name: "missing end", body: ScanRequest{Start: "10.0.0.1"}},
		{name: "not an address", body: ScanRequest{Start: "10.0.0.1", End: "10.0.0.256"}},
		{name: "unknown mode", body: ScanRequest{Start: "10.0.0.1", End: "10.0.0.2", Mode: "resume"}},
		{
			name:  "invalid ports",
			body:  ScanRequest{Start: "10.0.0.1", End: "10.0.0.2", Ports: "80,70000"},
			label: ierrors.LabelInvalidPorts,
		},
		{
			name:  "mixed families",
			body:  ScanRequest{Start: "10.0.0.1", End: "::1"},
			label: ierrors.LabelMixedFamilies,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t)
			hm := newTestManager(t, svc)

			w := httptest.NewRecorder()
			hm.StartScan(w, jsonRequest(t, http.MethodPost, "/api/v1/scans", tt.body))

			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, "Bad Request", resp.Error)
			assert.NotEmpty(t, resp.Message)
			assert.Equal(t, tt.label, resp.Label)
			assert.Equal(t, scanning.StateIdle, svc.State())
		})
	}
}

func TestStartScan_ConflictWhileBusy(t *testing.T) {
	started := make(chan struct{})
	svc := newTestService(t, pingFetcher(), blockingHostname(started))
	hm := newTestManager(t, svc)

	w := httptest.NewRecorder()
	hm.StartScan(w, jsonRequest(t, http.MethodPost, "/api/v1/scans", ScanRequest{Start: "10.0.0.1", End: "10.0.0.1"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	<-started

	w = httptest.NewRecorder()
	hm.StartScan(w, jsonRequest(t, http.MethodPost, "/api/v1/scans", ScanRequest{Start: "10.0.0.2", End: "10.0.0.3"}))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, ierrors.LabelScanInProgress, decode[ErrorResponse](t, w).Label)

	w = httptest.NewRecorder()
	hm.KillScan(w, httptest.NewRequest(http.MethodPost, "/api/v1/scans/kill", http.NoBody))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	waitScan(t, svc)
	assert.Equal(t, scanning.StateIdle, svc.State())
}

func TestStopScan(t *testing.T) {
	t.Run("nothing running", func(t *testing.T) {
		hm := newTestManager(t, newTestService(t))

		w := httptest.NewRecorder()
		hm.StopScan(w, httptest.NewRequest(http.MethodPost, "/api/v1/scans/stop", http.NoBody))
		assert.Equal(t, http.StatusConflict, w.Code)

		w = httptest.NewRecorder()
		hm.KillScan(w, httptest.NewRequest(http.MethodPost, "/api/v1/scans/kill", http.NoBody))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("running scan", func(t *testing.T) {
		started := make(chan struct{})
		svc := newTestService(t, pingFetcher(), blockingHostname(started))
		hm := newTestManager(t, svc)

		// more hosts than threads keeps the dispatcher in SCANNING
		w := httptest.NewRecorder()
		hm.StartScan(w, jsonRequest(t, http.MethodPost, "/api/v1/scans", ScanRequest{Start: "10.0.0.1", End: "10.0.0.100"}))
		require.Equal(t, http.StatusAccepted, w.Code)
		<-started

		w = httptest.NewRecorder()
		hm.StopScan(w, httptest.NewRequest(http.MethodPost, "/api/v1/scans/stop", http.NoBody))
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		assert.Equal(t, "STOPPING", decode[ScanControlResponse](t, w).State)

		// the blocked host only returns once killed
		w = httptest.NewRecorder()
		hm.KillScan(w, httptest.NewRequest(http.MethodPost, "/api/v1/scans/kill", http.NoBody))
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		waitScan(t, svc)
	})
}

func TestResults_InvalidDeadParameter(t *testing.T) {
	hm := newTestManager(t, newTestService(t))

	w := httptest.NewRecorder()
	hm.Results(w, httptest.NewRequest(http.MethodGet, "/api/v1/results?dead=maybe", http.NoBody))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
