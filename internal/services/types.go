package services

import (
	"fmt"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// Progress is a snapshot of a running scan.
type Progress struct {
	ScanID        string  `json:"scan_id"`
	Current       string  `json:"current,omitempty"`
	ActiveWorkers int     `json:"active_workers"`
	Percent       float64 `json:"percent"`
}

// ProgressSink receives progress updates. It is called from the dispatcher
// goroutine and must not block.
type ProgressSink func(Progress)

// Summary describes a finished scan.
type Summary struct {
	ScanID     string        `json:"scan_id"`
	Kind       string        `json:"kind"`
	Status     string        `json:"status"`
	Range      string        `json:"range"`
	Hosts      int           `json:"hosts"`
	Alive      int           `json:"alive"`
	WithPorts  int           `json:"with_ports"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Scan outcomes reported in Summary.Status and metrics.
const (
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusKilled    = "killed"
)

// Status is the state of the service as reported to clients.
type Status struct {
	State     string    `json:"state"`
	ScanID    string    `json:"scan_id,omitempty"`
	Range     string    `json:"range,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// ResultValue is one row of the results view. Fields of fetchers that are
// not selected are nil.
type ResultValue struct {
	Address    string  `json:"address"`
	Hostname   *string `json:"hostname"`
	Ping       *string `json:"ping"`
	WebDetect  *string `json:"webDetect"`
	HTTPSender *string `json:"httpSender"`
	NetBIOS    *string `json:"netBIOS"`
	Ports      *string `json:"ports"`
	MACVendor  *string `json:"macVendor"`
	MAC        *string `json:"mac"`
	PacketLoss *string `json:"packetLoss"`
	PingTTL    *string `json:"pingTTL"`
	HTTPProxy  *string `json:"httpProxy"`
	SNMPName   *string `json:"snmpName"`
	Type       string  `json:"type"`
	Color      string  `json:"color"`
}

func (v *ResultValue) field(id scanning.FetcherID) **string {
	switch id {
	case scanning.FetcherHostname:
		return &v.Hostname
	case scanning.FetcherPing:
		return &v.Ping
	case scanning.FetcherWebDetect:
		return &v.WebDetect
	case scanning.FetcherHTTPSender:
		return &v.HTTPSender
	case scanning.FetcherNetBIOSInfo:
		return &v.NetBIOS
	case scanning.FetcherPorts:
		return &v.Ports
	case scanning.FetcherMACVendor:
		return &v.MACVendor
	case scanning.FetcherMAC:
		return &v.MAC
	case scanning.FetcherPacketLoss:
		return &v.PacketLoss
	case scanning.FetcherPingTTL:
		return &v.PingTTL
	case scanning.FetcherHTTPProxy:
		return &v.HTTPProxy
	case scanning.FetcherSNMPName:
		return &v.SNMPName
	}
	return nil
}

// Get returns the rendered value of a fetcher column, or "" when unset.
func (v *ResultValue) Get(id scanning.FetcherID) string {
	if f := v.field(id); f != nil && *f != nil {
		return **f
	}
	return ""
}

// newResultValue renders a result row against the given columns.
func newResultValue(r *scanning.Result, columns []scanning.Fetcher) ResultValue {
	rv := ResultValue{
		Address: r.Addr().String(),
		Type:    r.Type().String(),
		Color:   r.Type().Color(),
	}
	values := r.Values()
	for i, f := range columns {
		if i >= len(values) {
			break
		}
		field := rv.field(f.ID())
		if field == nil {
			continue
		}
		rendered := render(values[i])
		*field = &rendered
	}
	return rv
}

// render turns a fetcher value into its display text. Unset values of a
// selected column are shown as not scanned.
func render(v any) string {
	switch t := v.(type) {
	case nil:
		return fmt.Sprint(scanning.NotScanned)
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// EventType names the kind of an Event.
type EventType string

const (
	EventState    EventType = "state"
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventComplete EventType = "complete"
)

// Event is published to subscribers as a scan advances.
type Event struct {
	Type       EventType    `json:"type"`
	ScanID     string       `json:"scan_id,omitempty"`
	State      string       `json:"state,omitempty"`
	Transition string       `json:"transition,omitempty"`
	Progress   *Progress    `json:"progress,omitempty"`
	Result     *ResultValue `json:"result,omitempty"`
	Summary    *Summary     `json:"summary,omitempty"`
	Time       time.Time    `json:"time"`
}
