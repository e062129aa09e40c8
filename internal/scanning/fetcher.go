package scanning

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/errors"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/metrics"
)

// FetcherID identifies a fetcher. The numeric order is the column order.
type FetcherID int

const (
	FetcherPing FetcherID = iota
	FetcherHostname
	FetcherWebDetect
	FetcherHTTPSender
	FetcherNetBIOSInfo
	FetcherPacketLoss
	FetcherPorts
	FetcherMACVendor
	FetcherMAC
	FetcherPingTTL
	FetcherHTTPProxy
	FetcherSNMPName
)

var fetcherNames = [...]string{
	FetcherPing:        "Ping",
	FetcherHostname:    "Hostname",
	FetcherWebDetect:   "WebDetect",
	FetcherHTTPSender:  "HTTPSender",
	FetcherNetBIOSInfo: "NetBIOSInfo",
	FetcherPacketLoss:  "PacketLoss",
	FetcherPorts:       "Ports",
	FetcherMACVendor:   "MACVendor",
	FetcherMAC:         "MAC",
	FetcherPingTTL:     "PingTTL",
	FetcherHTTPProxy:   "HttpProxy",
	FetcherSNMPName:    "SNMPName",
}

// DefaultFetchers is the selection used when nothing is configured.
var DefaultFetchers = []FetcherID{FetcherPing, FetcherHostname, FetcherPorts}

func (id FetcherID) String() string {
	if id < 0 || int(id) >= len(fetcherNames) {
		return fmt.Sprintf("FetcherID(%d)", int(id))
	}
	return fetcherNames[id]
}

// AllFetcherIDs lists every known fetcher in column order.
func AllFetcherIDs() []FetcherID {
	ids := make([]FetcherID, len(fetcherNames))
	for i := range fetcherNames {
		ids[i] = FetcherID(i)
	}
	return ids
}

// ParseFetcherID maps a name back to its ID, ignoring case.
func ParseFetcherID(name string) (FetcherID, error) {
	for i, n := range fetcherNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return FetcherID(i), nil
		}
	}
	return 0, errors.ErrUnknownFetcher(name)
}

// ParseFetcherIDs parses a list of names, failing on the first unknown one.
func ParseFetcherIDs(names []string) ([]FetcherID, error) {
	ids := make([]FetcherID, 0, len(names))
	for _, n := range names {
		id, err := ParseFetcherID(n)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Fetcher gathers one piece of information about a host.
//
// Scan returns the value to display, nil when nothing could be found, or
// one of the NotAvailable and NotScanned markers. Per-host failures stay
// inside the fetcher.
type Fetcher interface {
	ID() FetcherID
	// FullName is the column title, which may carry settings.
	FullName() string
	Scan(ctx context.Context, subject *Subject) any
	// Init runs once before a scan and may reject the configuration.
	Init() error
	// Cleanup runs once after a scan.
	Cleanup()
}

// FetcherRegistry holds every available fetcher and the current selection.
type FetcherRegistry struct {
	mu       sync.RWMutex
	all      map[FetcherID]Fetcher
	order    []FetcherID
	selected []Fetcher
}

// NewFetcherRegistry indexes fetchers by ID and selects DefaultFetchers
// that are present.
func NewFetcherRegistry(fetchers ...Fetcher) *FetcherRegistry {
	r := &FetcherRegistry{all: make(map[FetcherID]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		if _, dup := r.all[f.ID()]; !dup {
			r.order = append(r.order, f.ID())
		}
		r.all[f.ID()] = f
	}
	for _, id := range DefaultFetchers {
		if f, ok := r.all[id]; ok {
			r.selected = append(r.selected, f)
		}
	}
	return r
}

// Select replaces the selection. Fetchers always run in column order,
// whatever the order of ids, so Ping precedes the probes that depend on its
// result. Unknown IDs leave the selection untouched.
func (r *FetcherRegistry) Select(ids []FetcherID) error {
	selected := make([]Fetcher, 0, len(ids))
	seen := make(map[FetcherID]bool, len(ids))

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		f, ok := r.all[id]
		if !ok {
			return errors.ErrUnknownFetcher(id.String())
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		selected = append(selected, f)
	}
	slices.SortFunc(selected, func(a, b Fetcher) int { return cmp.Compare(a.ID(), b.ID()) })
	r.selected = selected
	return nil
}

// Selected returns the selected fetchers in order.
func (r *FetcherRegistry) Selected() []Fetcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Fetcher(nil), r.selected...)
}

// SelectedIDs returns the IDs of the selection.
func (r *FetcherRegistry) SelectedIDs() []FetcherID {
	sel := r.Selected()
	ids := make([]FetcherID, len(sel))
	for i, f := range sel {
		ids[i] = f.ID()
	}
	return ids
}

// All returns every registered fetcher in registration order.
func (r *FetcherRegistry) All() []Fetcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Fetcher, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.all[id])
	}
	return out
}

// Get returns the fetcher with the given ID.
func (r *FetcherRegistry) Get(id FetcherID) (Fetcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.all[id]
	return f, ok
}

// Scanner runs the selected fetchers against one subject.
type Scanner struct {
	registry *FetcherRegistry
	metrics  metrics.Recorder
	logger   *logging.Logger
}

// NewScanner creates a scanner over registry. rec may be nil.
func NewScanner(registry *FetcherRegistry, rec metrics.Recorder) *Scanner {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Scanner{
		registry: registry,
		metrics:  rec,
		logger:   logging.Default().WithComponent("scanner"),
	}
}

// Init prepares every selected fetcher. The first failure is returned and
// fetchers initialized before it are cleaned up again.
func (s *Scanner) Init() error {
	selected := s.registry.Selected()
	for i, f := range selected {
		if err := f.Init(); err != nil {
			for _, done := range selected[:i] {
				done.Cleanup()
			}
			return fmt.Errorf("failed to initialize %s fetcher: %w", f.ID(), err)
		}
	}
	return nil
}

// Scan fills result with one value per selected fetcher. After the subject
// is aborted or ctx is done the remaining columns are NotScanned.
func (s *Scanner) Scan(ctx context.Context, subject *Subject, result *Result) {
	interrupted := false
	for i, f := range s.registry.Selected() {
		value := NotScanned
		if !subject.IsAborted() && !interrupted {
			start := time.Now()
			value = f.Scan(ctx, subject)
			elapsed := time.Since(start)
			s.metrics.RecordFetcherDuration(f.ID().String(), elapsed)
			s.logger.DebugProbe(f.ID().String(), subject.String(), "duration", elapsed)

			interrupted = ctx.Err() != nil
			if value == nil {
				if interrupted {
					value = NotScanned
				} else {
					value = NotAvailable
				}
			}
		}
		result.SetValue(i, value)
	}
	result.SetType(subject.ResultType())
}

// Cleanup releases resources of every selected fetcher.
func (s *Scanner) Cleanup() {
	for _, f := range s.registry.Selected() {
		f.Cleanup()
	}
}
