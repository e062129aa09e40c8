package scanning

import (
	"net/netip"
	"time"
)

// PingResult accumulates the replies of one ping run against one target.
// It is built by a single pinger and read-only once returned.
type PingResult struct {
	target            netip.Addr
	requested         int
	times             []time.Duration
	ttl               int
	adaptationAllowed bool
}

// NewPingResult starts a result for count requested probes.
func NewPingResult(target netip.Addr, count int) *PingResult {
	return &PingResult{target: target, requested: count}
}

// AddReply records one answered probe.
func (r *PingResult) AddReply(rtt time.Duration) {
	r.times = append(r.times, rtt)
}

// SetTTL records the TTL of a reply.
func (r *PingResult) SetTTL(ttl int) {
	r.ttl = ttl
}

// EnableTimeoutAdaptation marks the measured times as usable for deriving
// port timeouts.
func (r *PingResult) EnableTimeoutAdaptation() {
	r.adaptationAllowed = true
}

// Merge combines two partial results for the same target into a new one.
func (r *PingResult) Merge(other *PingResult) *PingResult {
	if other == nil {
		return r.clone()
	}
	merged := &PingResult{
		target:            r.target,
		requested:         r.requested + other.requested,
		times:             make([]time.Duration, 0, len(r.times)+len(other.times)),
		ttl:               max(r.ttl, other.ttl),
		adaptationAllowed: r.adaptationAllowed || other.adaptationAllowed,
	}
	merged.times = append(merged.times, r.times...)
	merged.times = append(merged.times, other.times...)
	return merged
}

func (r *PingResult) clone() *PingResult {
	c := *r
	c.times = append([]time.Duration(nil), r.times...)
	return &c
}

// Target returns the pinged address.
func (r *PingResult) Target() netip.Addr { return r.target }

// PacketCount is the number of probes requested.
func (r *PingResult) PacketCount() int { return r.requested }

// ReplyCount is the number of probes answered.
func (r *PingResult) ReplyCount() int { return len(r.times) }

// TTL of the last reply, 0 if unknown.
func (r *PingResult) TTL() int { return r.ttl }

// IsAlive reports whether at least one probe was answered.
func (r *PingResult) IsAlive() bool { return len(r.times) > 0 }

// IsTimeoutAdaptationAllowed reports whether the RTTs can drive port timeouts.
func (r *PingResult) IsTimeoutAdaptationAllowed() bool {
	return r.adaptationAllowed && r.IsAlive()
}

// AverageTime is the mean RTT, 0 without replies.
func (r *PingResult) AverageTime() time.Duration {
	if len(r.times) == 0 {
		return 0
	}
	var total time.Duration
	for _, t := range r.times {
		total += t
	}
	return total / time.Duration(len(r.times))
}

// LongestTime is the slowest RTT, 0 without replies.
func (r *PingResult) LongestTime() time.Duration {
	var longest time.Duration
	for _, t := range r.times {
		longest = max(longest, t)
	}
	return longest
}

// PacketLoss is the number of unanswered probes.
func (r *PingResult) PacketLoss() int {
	return max(r.requested-len(r.times), 0)
}

// PacketLossPercent is PacketLoss as a share of requested probes.
func (r *PingResult) PacketLossPercent() int {
	if r.requested == 0 {
		return 0
	}
	return r.PacketLoss() * 100 / r.requested
}
