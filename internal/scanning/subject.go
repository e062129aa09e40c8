package scanning

import (
	"net/netip"
	"sync"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/config"
)

// Well-known subject parameters shared between fetchers.
const (
	ParameterPingResult    = "pinger"
	ParameterOpenPorts     = "openPorts"
	ParameterFilteredPorts = "filteredPorts"
	ParameterMAC           = "MAC"
)

// Subject is one host being scanned. It is created by the feeder, handed to
// every fetcher in turn and lets them share intermediate findings.
type Subject struct {
	addr netip.Addr
	cfg  *config.ScannerConfig

	mu              sync.Mutex
	params          map[string]any
	requestedPorts  []uint16
	resultType      ResultType
	aborted         bool
	adaptedTimeout  time.Duration
	adaptedComputed bool
}

// NewSubject creates a subject for addr read against cfg.
func NewSubject(addr netip.Addr, cfg *config.ScannerConfig) *Subject {
	if cfg == nil {
		def := config.DefaultScanner()
		cfg = &def
	}
	return &Subject{
		addr:   addr,
		cfg:    cfg,
		params: make(map[string]any),
	}
}

// Addr returns the subject's address.
func (s *Subject) Addr() netip.Addr {
	return s.addr
}

func (s *Subject) String() string {
	return s.addr.String()
}

// Config returns the scanner configuration in effect.
func (s *Subject) Config() *config.ScannerConfig {
	return s.cfg
}

// Parameter returns a shared value stored by an earlier fetcher.
func (s *Subject) Parameter(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.params[name]
	return v, ok
}

// HasParameter reports whether name was set.
func (s *Subject) HasParameter(name string) bool {
	_, ok := s.Parameter(name)
	return ok
}

// SetParameter stores a value for later fetchers.
func (s *Subject) SetParameter(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[name] = value
}

// PingResult returns the cached ping result, if a pinger ran already.
func (s *Subject) PingResult() (*PingResult, bool) {
	v, ok := s.Parameter(ParameterPingResult)
	if !ok {
		return nil, false
	}
	pr, ok := v.(*PingResult)
	return pr, ok
}

// Abort tells the scanner to skip the remaining fetchers.
func (s *Subject) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
}

// IsAborted reports whether Abort was called.
func (s *Subject) IsAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// AddRequestedPort records a port the host should be probed on.
func (s *Subject) AddRequestedPort(port uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.requestedPorts {
		if p == port {
			return
		}
	}
	s.requestedPorts = append(s.requestedPorts, port)
}

// RequestedPorts returns a copy of the requested ports, in insertion order.
func (s *Subject) RequestedPorts() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.requestedPorts...)
}

// IsAnyPortRequested reports whether the host has requested ports.
func (s *Subject) IsAnyPortRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requestedPorts) > 0
}

// ResultType returns the current classification.
func (s *Subject) ResultType() ResultType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultType
}

// SetResultType upgrades the classification. Lower types are ignored.
func (s *Subject) SetResultType(t ResultType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t > s.resultType {
		s.resultType = t
	}
}

// AdaptedPortTimeout is the per-port connect timeout for this host. When
// adaptation is enabled and the ping result allows it, it is three times the
// slowest ping reply, kept within [MinPortTimeout, PortTimeout]. The value
// is computed on first use and then fixed.
func (s *Subject) AdaptedPortTimeout() time.Duration {
	pr, _ := s.PingResult()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adaptedComputed {
		return s.adaptedTimeout
	}

	timeout := s.cfg.PortTimeout
	if s.cfg.AdaptPortTimeout && pr != nil && pr.IsTimeoutAdaptationAllowed() {
		timeout = min(max(pr.LongestTime()*3, s.cfg.MinPortTimeout), s.cfg.PortTimeout)
	}
	s.adaptedTimeout = timeout
	s.adaptedComputed = true
	return timeout
}

// IsLocal reports whether the address is on a private or link-local network.
func (s *Subject) IsLocal() bool {
	return s.addr.IsPrivate() || s.addr.IsLinkLocalUnicast()
}
