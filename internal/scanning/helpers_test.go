package scanning

import (
	"context"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/config"
)

// stubFetcher is a configurable Fetcher for engine tests.
type stubFetcher struct {
	id       FetcherID
	scan     func(ctx context.Context, s *Subject) any
	initErr  error
	inits    atomic.Int32
	cleanups atomic.Int32
	calls    atomic.Int32
}

func newStubFetcher(id FetcherID, scan func(ctx context.Context, s *Subject) any) *stubFetcher {
	return &stubFetcher{id: id, scan: scan}
}

func valueFetcher(id FetcherID, v any) *stubFetcher {
	return newStubFetcher(id, func(context.Context, *Subject) any { return v })
}

func (f *stubFetcher) ID() FetcherID    { return f.id }
func (f *stubFetcher) FullName() string { return f.id.String() }

func (f *stubFetcher) Scan(ctx context.Context, s *Subject) any {
	f.calls.Add(1)
	if f.scan == nil {
		return nil
	}
	return f.scan(ctx, s)
}

func (f *stubFetcher) Init() error {
	f.inits.Add(1)
	return f.initErr
}

func (f *stubFetcher) Cleanup() { f.cleanups.Add(1) }

func testScannerConfig() *config.ScannerConfig {
	cfg := config.DefaultScanner()
	cfg.ThreadDelay = 0
	cfg.SkipBroadcastAddresses = false
	return &cfg
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	addr, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("bad address %q: %v", s, err)
	}
	return addr
}

func pingWith(target netip.Addr, count int, rtts ...time.Duration) *PingResult {
	pr := NewPingResult(target, count)
	for _, rtt := range rtts {
		pr.AddReply(rtt)
	}
	return pr
}
