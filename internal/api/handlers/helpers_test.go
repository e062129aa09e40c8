package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

type stubFetcher struct {
	id   scanning.FetcherID
	scan func(ctx context.Context, s *scanning.Subject) any
}

func (f *stubFetcher) ID() scanning.FetcherID { return f.id }
func (f *stubFetcher) FullName() string       { return f.id.String() }
func (f *stubFetcher) Init() error            { return nil }
func (f *stubFetcher) Cleanup()               {}

func (f *stubFetcher) Scan(ctx context.Context, s *scanning.Subject) any {
	if f.scan == nil {
		return nil
	}
	return f.scan(ctx, s)
}

// pingFetcher marks hosts with an odd last octet as alive.
func pingFetcher() *stubFetcher {
	return &stubFetcher{id: scanning.FetcherPing, scan: func(_ context.Context, s *scanning.Subject) any {
		if s.Addr().As4()[3]%2 == 1 {
			s.SetResultType(scanning.ResultAlive)
			return scanning.Milliseconds(2)
		}
		s.SetResultType(scanning.ResultDead)
		return nil
	}}
}

func hostnameFetcher() *stubFetcher {
	return &stubFetcher{id: scanning.FetcherHostname, scan: func(_ context.Context, s *scanning.Subject) any {
		return "host-" + s.String()
	}}
}

// blockingHostname holds every host until the scan is killed.
func blockingHostname(started chan<- struct{}) *stubFetcher {
	var once sync.Once
	return &stubFetcher{id: scanning.FetcherHostname, scan: func(ctx context.Context, _ *scanning.Subject) any {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil
	}}
}

func createTestLogger() *logging.Logger {
	return logging.NewWithWriter(logging.Config{Level: logging.LevelError}, io.Discard, nil)
}

func newTestService(t *testing.T, fs ...scanning.Fetcher) *services.ScannerService {
	t.Helper()
	cfg := config.DefaultScanner()
	cfg.ThreadDelay = 0
	cfg.SkipBroadcastAddresses = false
	cfg.SelectedPinger = config.PingerTCP
	cfg.SelectedFetchers = []string{"Ping", "Hostname"}
	cfg.KillDelay = 0

	if len(fs) == 0 {
		fs = []scanning.Fetcher{pingFetcher(), hostnameFetcher()}
	}
	svc, err := services.New(&cfg, createTestLogger(), services.WithFetchers(fs...))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return svc
}

func newTestManager(t *testing.T, svc *services.ScannerService) *HandlerManager {
	t.Helper()
	hm := New(svc, createTestLogger(), config.Default().API)
	t.Cleanup(func() { _ = hm.Close() })
	return hm
}

func waitScan(t *testing.T, svc *services.ScannerService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
