package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homiodev/addon-ipscanner/internal/api/middleware"
	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/metrics"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

type aliveFetcher struct{}

func (aliveFetcher) ID() scanning.FetcherID { return scanning.FetcherPing }
func (aliveFetcher) FullName() string       { return "Ping" }
func (aliveFetcher) Init() error            { return nil }
func (aliveFetcher) Cleanup()               {}

func (aliveFetcher) Scan(_ context.Context, s *scanning.Subject) any {
	s.SetResultType(scanning.ResultAlive)
	return scanning.Milliseconds(1)
}

func createTestLogger() *logging.Logger {
	return logging.NewWithWriter(logging.Config{Level: logging.LevelError}, io.Discard, nil)
}

func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.API.Port = 0
	cfg.Logging.RequestLogging = false
	cfg.Scanner.ThreadDelay = 0
	cfg.Scanner.SelectedPinger = config.PingerTCP
	cfg.Scanner.SelectedFetchers = []string{"Ping"}
	cfg.Scanner.KillDelay = 0
	return cfg
}

func createTestServer(t *testing.T, cfg *config.Config) (*Server, *services.ScannerService) {
	t.Helper()
	svc, err := services.New(&cfg.Scanner, createTestLogger(), services.WithFetchers(aliveFetcher{}))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})

	srv, err := New(cfg, svc, metrics.NewPrometheusMetrics(), createTestLogger())
	require.NoError(t, err)
	return srv, svc
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestNew(t *testing.T) {
	t.Run("requires service", func(t *testing.T) {
		_, err := New(createTestConfig(), nil, nil, nil)
		require.Error(t, err)
	})

	t.Run("uses configured address", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.API.Port = 9123
		srv, _ := createTestServer(t, cfg)
		assert.Equal(t, "127.0.0.1:9123", srv.GetAddress())
		assert.NotNil(t, srv.GetRouter())
	})
}

func TestRoutes(t *testing.T) {
	srv, _ := createTestServer(t, createTestConfig())

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/api/v1/status", http.StatusOK},
		{http.MethodGet, "/api/v1/results", http.StatusOK},
		{http.MethodGet, "/api/v1/fetchers", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/v1/metrics", http.StatusOK},
		{http.MethodPost, "/api/v1/scans/stop", http.StatusConflict},
		{http.MethodGet, "/api/v1/scans", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/scans/kill", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/v1/fetchers", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/nowhere", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			w := serve(srv, req)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestMethodNotAllowedListsMethods(t *testing.T) {
	srv, _ := createTestServer(t, createTestConfig())

	w := serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/fetchers", http.NoBody))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code, w.Body.String())
	assert.Equal(t, "GET, PUT", w.Header().Get("Allow"))
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader), "middleware runs on 405")

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusText(http.StatusMethodNotAllowed), body["error"])
}

func TestIndex(t *testing.T) {
	srv, _ := createTestServer(t, createTestConfig())

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Endpoints map[string]string `json:"endpoints"`
		Uptime    string            `json:"uptime"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "/swagger/", body.Endpoints["docs"])
	_, err := time.ParseDuration(body.Uptime)
	assert.NoError(t, err, "uptime comes from the metrics clock")
}

func TestSwaggerDocument(t *testing.T) {
	srv, _ := createTestServer(t, createTestConfig())

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc struct {
		Swagger  string                    `json:"swagger"`
		BasePath string                    `json:"basePath"`
		Paths    map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "2.0", doc.Swagger)
	assert.Equal(t, "/api/v1", doc.BasePath)

	documented := map[string][]string{
		"/health":     {"get"},
		"/status":     {"get"},
		"/scans":      {"post"},
		"/scans/stop": {"post"},
		"/scans/kill": {"post"},
		"/results":    {"get"},
		"/fetchers":   {"get", "put"},
		"/ws":         {"get"},
		"/metrics":    {"get"},
	}
	assert.Len(t, doc.Paths, len(documented))
	for path, methods := range documented {
		require.Contains(t, doc.Paths, path)
		for _, m := range methods {
			assert.Contains(t, doc.Paths[path], m, path)
		}
	}

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/docs", http.NoBody))
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/swagger/index.html", w.Header().Get("Location"))
}

func TestScanLifecycleOverHTTP(t *testing.T) {
	srv, svc := createTestServer(t, createTestConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans",
		strings.NewReader(`{"start":"192.168.7.1","end":"192.168.7.3"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(srv, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/results", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total   int `json:"total"`
		Results []struct {
			Address string `json:"address"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, "192.168.7.1", body.Results[0].Address)
}

func TestContentTypeEnforced(t *testing.T) {
	srv, _ := createTestServer(t, createTestConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader("start=10.0.0.1"))
	req.Header.Set("Content-Type", "text/plain")
	w := serve(srv, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestCORS(t *testing.T) {
	t.Run("preflight answered", func(t *testing.T) {
		srv, _ := createTestServer(t, createTestConfig())

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/scans", http.NoBody)
		req.Header.Set("Origin", "http://dashboard.local")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := serve(srv, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.API.CORS.Enabled = false
		srv, _ := createTestServer(t, cfg)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
		req.Header.Set("Origin", "http://dashboard.local")
		w := serve(srv, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := createTestServer(t, createTestConfig())

	require.Equal(t, http.StatusOK, serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)).Code)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `ipscanner_api_requests_total{method="GET",path="/api/v1/health",status="200"} 1`)
	assert.Contains(t, body, "ipscanner_system_goroutines")
}

func TestStartStop(t *testing.T) {
	srv, _ := createTestServer(t, createTestConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		return srv.GetAddress() != "127.0.0.1:0"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.GetAddress() + "/api/v1/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStart_ListenError(t *testing.T) {
	cfg := createTestConfig()
	cfg.API.ListenAddr = "256.0.0.1"
	srv, _ := createTestServer(t, cfg)

	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
