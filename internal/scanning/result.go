package scanning

import (
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// ResultType classifies a host. Types only ever move upwards during a scan.
type ResultType int

const (
	ResultUnknown ResultType = iota
	ResultDead
	ResultAlive
	ResultWithPorts
)

var resultTypeNames = [...]string{"UNKNOWN", "DEAD", "ALIVE", "WITH_PORTS"}
var resultTypeColors = [...]string{"", "#4A3636", "#465A42", "#403664"}

func (t ResultType) String() string {
	if t < 0 || int(t) >= len(resultTypeNames) {
		return "UNKNOWN"
	}
	return resultTypeNames[t]
}

// Color is the display color of the type, empty for UNKNOWN.
func (t ResultType) Color() string {
	if t < 0 || int(t) >= len(resultTypeColors) {
		return ""
	}
	return resultTypeColors[t]
}

// MarshalText renders the type name.
func (t ResultType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Result is the row of one host: one value per selected fetcher.
type Result struct {
	addr netip.Addr

	mu     sync.Mutex
	values []any
	typ    ResultType
}

// NewResult creates an empty row with n columns.
func NewResult(addr netip.Addr, n int) *Result {
	return &Result{addr: addr, values: make([]any, n)}
}

// Addr returns the host address.
func (r *Result) Addr() netip.Addr {
	return r.addr
}

// SetValue stores the value of column i. Out-of-range columns are ignored.
func (r *Result) SetValue(i int, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= 0 && i < len(r.values) {
		r.values[i] = v
	}
}

// Value returns column i, nil when out of range.
func (r *Result) Value(i int) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// Values returns a copy of all columns.
func (r *Result) Values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

// Type returns the host classification.
func (r *Result) Type() ResultType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typ
}

// SetType sets the host classification.
func (r *Result) SetType(t ResultType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typ = t
}

func (r *Result) resize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) != n {
		r.values = make([]any, n)
	}
}

// ScanInfo summarizes the rows of the current scan.
type ScanInfo struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Hosts      int
	Alive      int
	WithPorts  int
}

// ResultList is the live result table: rows in feeder order, addressable
// by host, with columns fixed when a scan starts.
type ResultList struct {
	registry *FetcherRegistry

	mu       sync.RWMutex
	fetchers []Fetcher
	results  []*Result
	index    map[netip.Addr]int
	started  time.Time
	finished time.Time
}

// NewResultList creates an empty table whose columns follow registry.
func NewResultList(registry *FetcherRegistry) *ResultList {
	return &ResultList{
		registry: registry,
		fetchers: registry.Selected(),
		index:    make(map[netip.Addr]int),
	}
}

// InitNewScan fixes the columns to the current selection.
func (l *ResultList) InitNewScan() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetchers = l.registry.Selected()
	l.started = time.Now()
	l.finished = time.Time{}
}

// MarkFinished records the end time of the scan.
func (l *ResultList) MarkFinished() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = time.Now()
}

// Fetchers returns the columns of the current scan.
func (l *ResultList) Fetchers() []Fetcher {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Fetcher(nil), l.fetchers...)
}

// FetcherIndex returns the column of id, or -1.
func (l *ResultList) FetcherIndex(id FetcherID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, f := range l.fetchers {
		if f.ID() == id {
			return i
		}
	}
	return -1
}

// CreateResult returns the registered row of addr, or a new unregistered
// row sized to the current columns.
func (l *ResultList) CreateResult(addr netip.Addr) *Result {
	l.mu.RLock()
	idx, ok := l.index[addr]
	n := len(l.fetchers)
	var existing *Result
	if ok {
		existing = l.results[idx]
	}
	l.mu.RUnlock()

	if existing != nil {
		existing.resize(n)
		return existing
	}
	return NewResult(addr, n)
}

// Register appends r. Registering an address twice is an error.
func (l *ResultList) Register(r *Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[r.Addr()]; ok {
		return fmt.Errorf("result for %s is already registered", r.Addr())
	}
	l.index[r.Addr()] = len(l.results)
	l.results = append(l.results, r)
	return nil
}

// IsRegistered reports whether r's address has a row.
func (l *ResultList) IsRegistered(r *Result) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[r.Addr()]
	return ok
}

// Update returns the row index of r after it changed.
func (l *ResultList) Update(r *Result) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.index[r.Addr()]
	return idx, ok
}

// Get returns row i.
func (l *ResultList) Get(i int) (*Result, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.results) {
		return nil, false
	}
	return l.results[i], true
}

// Results returns a snapshot of all rows.
func (l *ResultList) Results() []*Result {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*Result(nil), l.results...)
}

// Len returns the number of rows.
func (l *ResultList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.results)
}

// Clear removes every row.
func (l *ResultList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = nil
	l.index = make(map[netip.Addr]int)
}

// Info counts rows by type.
func (l *ResultList) Info() ScanInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	info := ScanInfo{StartedAt: l.started, FinishedAt: l.finished, Hosts: len(l.results)}
	for _, r := range l.results {
		switch r.Type() {
		case ResultAlive:
			info.Alive++
		case ResultWithPorts:
			info.Alive++
			info.WithPorts++
		}
	}
	return info
}
