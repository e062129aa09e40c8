package metrics

import "time"

// Recorder is the set of measurements the scanning engine reports.
// It allows components to be tested without a Prometheus registry.
type Recorder interface {
	IncrementScansTotal(kind, status string)
	RecordScanDuration(kind string, duration time.Duration)
	IncrementHosts(resultType string)
	AddPorts(status string, count int)
	SetActiveWorkers(count int)
	IncrementPingerFallback(from, to string)
	RecordFetcherDuration(fetcher string, duration time.Duration)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) IncrementScansTotal(string, string)          {}
func (Nop) RecordScanDuration(string, time.Duration)    {}
func (Nop) IncrementHosts(string)                       {}
func (Nop) AddPorts(string, int)                        {}
func (Nop) SetActiveWorkers(int)                        {}
func (Nop) IncrementPingerFallback(string, string)      {}
func (Nop) RecordFetcherDuration(string, time.Duration) {}

var _ Recorder = Nop{}
