package scanning

import (
	"slices"
	"strconv"

	"github.com/homiodev/addon-ipscanner/internal/ports"
)

type notAvailable struct{}

func (notAvailable) String() string { return "N/A" }

func (notAvailable) MarshalText() ([]byte, error) { return []byte("N/A"), nil }

type notScanned struct{}

func (notScanned) String() string { return "N/S" }

func (notScanned) MarshalText() ([]byte, error) { return []byte("N/S"), nil }

var (
	// NotAvailable marks a value the fetcher could not determine.
	NotAvailable any = notAvailable{}
	// NotScanned marks a value the fetcher did not try to determine.
	NotScanned any = notScanned{}
)

// IntegerWithUnit is a number rendered with its unit, e.g. "12 ms".
type IntegerWithUnit struct {
	Value int
	Unit  string
}

// Milliseconds builds an IntegerWithUnit in ms.
func Milliseconds(v int) IntegerWithUnit {
	return IntegerWithUnit{Value: v, Unit: "ms"}
}

func (v IntegerWithUnit) String() string {
	return strconv.Itoa(v.Value) + " " + v.Unit
}

// MarshalText renders the value like String.
func (v IntegerWithUnit) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// NumericRangeList is a sorted set of numbers rendered with ranges, such as
// "80,443,8080-8082".
type NumericRangeList []int

// NewPortList builds a sorted NumericRangeList from ports.
func NewPortList(p []uint16) NumericRangeList {
	out := make(NumericRangeList, len(p))
	for i, v := range p {
		out[i] = int(v)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (l NumericRangeList) String() string {
	return ports.FormatRanges(l)
}

// MarshalText renders the list like String.
func (l NumericRangeList) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}
