package scanning

import (
	"math"
	"math/big"
	"net/netip"
	"strings"

	"go4.org/netipx"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/errors"
)

// Feeder yields the subjects of one scan. It is consumed by a single
// goroutine and cannot be restarted.
type Feeder interface {
	HasNext() bool
	Next() *Subject
	PercentComplete() float64
	Info() string
}

// RangeFeeder iterates an inclusive address range in either direction.
type RangeFeeder struct {
	cfg *config.ScannerConfig

	start   netip.Addr
	end     netip.Addr
	current netip.Addr
	// stop is the first address past end in iteration direction. It is the
	// zero Addr when end is the last address of its family.
	stop    netip.Addr
	reverse bool

	size      uint64
	percent   float64
	increment float64

	requestedPorts []uint16
	exclude        *netipx.IPSet
}

// NewRangeFeeder validates both ends of a range. A descending range is
// iterated downwards, so start is always the first address yielded.
func NewRangeFeeder(start, end string, cfg *config.ScannerConfig) (*RangeFeeder, error) {
	startAddr, err := parseAddr(start)
	if err != nil {
		return nil, err
	}
	endAddr, err := parseAddr(end)
	if err != nil {
		return nil, err
	}
	if startAddr.Is4() != endAddr.Is4() {
		return nil, errors.ErrMixedFamilies(startAddr.String(), endAddr.String())
	}

	f := &RangeFeeder{
		cfg:     cfg,
		start:   startAddr,
		end:     endAddr,
		current: startAddr,
		reverse: startAddr.Compare(endAddr) > 0,
	}

	lo, hi := startAddr, endAddr
	if f.reverse {
		lo, hi = hi, lo
		f.stop = endAddr.Prev()
	} else {
		f.stop = endAddr.Next()
	}
	f.size = rangeSize(netipx.IPRangeFrom(lo, hi))
	f.increment = 100.0 / float64(f.size)

	return f, nil
}

func parseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, errors.ErrInvalidAddress(s, err)
	}
	return addr, nil
}

// rangeSize returns the number of addresses in r, saturating at MaxUint64.
func rangeSize(r netipx.IPRange) uint64 {
	from := new(big.Int).SetBytes(r.From().AsSlice())
	to := new(big.Int).SetBytes(r.To().AsSlice())
	n := new(big.Int).Sub(to, from)
	n.Add(n, big.NewInt(1))
	if !n.IsUint64() {
		return math.MaxUint64
	}
	return n.Uint64()
}

// WithRequestedPorts attaches ports that every yielded subject requests.
func (f *RangeFeeder) WithRequestedPorts(ports []uint16) *RangeFeeder {
	f.requestedPorts = append([]uint16(nil), ports...)
	return f
}

// WithExclusions skips every address in set. Skipped addresses still count
// towards the completion percentage.
func (f *RangeFeeder) WithExclusions(set *netipx.IPSet) *RangeFeeder {
	f.exclude = set
	f.skipExcluded()
	return f
}

// HasNext reports whether another address remains.
func (f *RangeFeeder) HasNext() bool {
	return f.current.IsValid() && f.current != f.stop
}

// Next yields the next subject. It must only be called when HasNext is true.
func (f *RangeFeeder) Next() *Subject {
	addr := f.current
	f.advance()
	f.skipExcluded()

	s := NewSubject(addr, f.cfg)
	for _, p := range f.requestedPorts {
		s.AddRequestedPort(p)
	}
	return s
}

func (f *RangeFeeder) advance() {
	f.percent += f.increment
	if f.reverse {
		f.current = f.current.Prev()
	} else {
		f.current = f.current.Next()
	}
}

func (f *RangeFeeder) skipExcluded() {
	if f.exclude == nil {
		return
	}
	for f.HasNext() && f.exclude.Contains(f.current) {
		f.advance()
	}
}

// PercentComplete is the share of the range already yielded, 0 to ~100.
func (f *RangeFeeder) PercentComplete() float64 {
	return f.percent
}

// Size is the number of addresses in the range.
func (f *RangeFeeder) Size() uint64 {
	return f.size
}

// Info describes the range as "start - end".
func (f *RangeFeeder) Info() string {
	return f.start.String() + " - " + f.end.String()
}

// Start returns the first address.
func (f *RangeFeeder) Start() netip.Addr {
	return f.start
}

// End returns the last address.
func (f *RangeFeeder) End() netip.Addr {
	return f.end
}

// BuildExclusions parses addresses and prefixes into a set. An empty input
// gives a nil set.
func BuildExclusions(entries []string) (*netipx.IPSet, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	var b netipx.IPSetBuilder
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if strings.Contains(e, "/") {
			prefix, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, errors.ErrInvalidAddress(e, err)
			}
			b.AddPrefix(prefix)
			continue
		}
		addr, err := parseAddr(e)
		if err != nil {
			return nil, err
		}
		b.Add(addr)
	}
	return b.IPSet()
}
