package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/homiodev/addon-ipscanner/internal/errors"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

func threeFetchers() []scanning.Fetcher {
	return []scanning.Fetcher{
		pingFetcher(),
		hostnameFetcher(),
		&stubFetcher{id: scanning.FetcherMAC},
	}
}

func TestListFetchers(t *testing.T) {
	hm := newTestManager(t, newTestService(t, threeFetchers()...))

	w := httptest.NewRecorder()
	hm.ListFetchers(w, httptest.NewRequest(http.MethodGet, "/api/v1/fetchers", http.NoBody))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[FetchersResponse](t, w)
	assert.Equal(t, []string{"Ping", "Hostname"}, resp.Selected)
	require.Len(t, resp.Available, 3)
	assert.Equal(t, FetcherInfo{ID: "MAC", Name: "MAC", Selected: false}, resp.Available[2])
	assert.True(t, resp.Available[0].Selected)
	assert.Nil(t, resp.Applied)
}

func TestUpdateFetchers_AppliedWhenIdle(t *testing.T) {
	svc := newTestService(t, threeFetchers()...)
	hm := newTestManager(t, svc)

	w := httptest.NewRecorder()
	hm.UpdateFetchers(w, jsonRequest(t, http.MethodPut, "/api/v1/fetchers",
		FetcherSelectionRequest{Fetchers: []string{"mac", "Ping"}}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[FetchersResponse](t, w)
	require.NotNil(t, resp.Applied)
	assert.True(t, *resp.Applied)
	assert.Equal(t, []string{"MAC", "Ping"}, resp.Selected)
	assert.Equal(t, []scanning.FetcherID{scanning.FetcherMAC, scanning.FetcherPing}, svc.SelectedFetchers())
}

func TestUpdateFetchers_DeferredWhileScanning(t *testing.T) {
	started := make(chan struct{})
	svc := newTestService(t, pingFetcher(), blockingHostname(started),
		&stubFetcher{id: scanning.FetcherMAC})
	hm := newTestManager(t, svc)

	_, err := svc.StartScan(context.Background(), "10.0.0.1", "10.0.0.1", "", nil)
	require.NoError(t, err)
	<-started

	w := httptest.NewRecorder()
	hm.UpdateFetchers(w, jsonRequest(t, http.MethodPut, "/api/v1/fetchers",
		FetcherSelectionRequest{Fetchers: []string{"MAC"}}))

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[FetchersResponse](t, w)
	require.NotNil(t, resp.Applied)
	assert.False(t, *resp.Applied)
	assert.Equal(t, []string{"Ping", "Hostname"}, resp.Selected)

	svc.Kill()
	waitScan(t, svc)
	assert.Equal(t, []scanning.FetcherID{scanning.FetcherMAC}, svc.SelectedFetchers())
}

func TestUpdateFetchers_BadRequest(t *testing.T) {
	tests := []struct {
		name  string
		body  any
		label string
	}{
		{name: "empty list", body: FetcherSelectionRequest{}},
		{name: "blank name", body: FetcherSelectionRequest{Fetchers: []string{""}}},
		{name: "unknown name", body: FetcherSelectionRequest{Fetchers: []string{"Ping", "Traceroute"}}, label: ierrors.LabelUnknownFetcher},
		{name: "known but unavailable", body: FetcherSelectionRequest{Fetchers: []string{"SNMPName"}}, label: ierrors.LabelUnknownFetcher},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, threeFetchers()...)
			hm := newTestManager(t, svc)

			w := httptest.NewRecorder()
			hm.UpdateFetchers(w, jsonRequest(t, http.MethodPut, "/api/v1/fetchers", tt.body))

			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, tt.label, decode[ErrorResponse](t, w).Label)
			assert.Equal(t, []scanning.FetcherID{scanning.FetcherPing, scanning.FetcherHostname}, svc.SelectedFetchers())
		})
	}
}
