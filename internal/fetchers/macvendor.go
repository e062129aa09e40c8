package fetchers

import (
	"bufio"
	"context"
	_ "embed"
	"strings"
	"sync"

	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// TODO: regenerate oui.txt from the IEEE MA-L registry; it only carries
// common vendors.
//
//go:embed oui.txt
var ouiTable string

// MACVendor names the manufacturer of a network card from the first three
// octets of its MAC address.
type MACVendor struct {
	base
	mac *MAC

	once    sync.Once
	vendors map[string]string
}

// NewMACVendor creates the MACVendor fetcher. mac resolves addresses when
// no earlier fetcher did; nil builds a private one.
func NewMACVendor(d Deps, mac *MAC) *MACVendor {
	if mac == nil {
		mac = NewMAC(d)
	}
	return &MACVendor{base: base{id: scanning.FetcherMACVendor}, mac: mac}
}

// Init loads the vendor table on first use.
func (f *MACVendor) Init() error {
	f.once.Do(func() {
		f.vendors = parseOUI(ouiTable)
	})
	return nil
}

// Scan returns the vendor name, or nil.
func (f *MACVendor) Scan(ctx context.Context, subject *scanning.Subject) any {
	_ = f.Init()
	mac := f.mac.Lookup(ctx, subject)
	if vendor := f.Vendor(mac); vendor != "" {
		return vendor
	}
	return nil
}

// Vendor looks up a MAC address in any common notation.
func (f *MACVendor) Vendor(mac string) string {
	prefix := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.ToUpper(mac))
	if len(prefix) < 6 {
		return ""
	}
	return f.vendors[prefix[:6]]
}

func parseOUI(table string) map[string]string {
	vendors := make(map[string]string)
	lines := bufio.NewScanner(strings.NewReader(table))
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())
		if len(line) < 7 || line[0] == '#' {
			continue
		}
		vendors[strings.ToUpper(line[:6])] = strings.TrimSpace(line[6:])
	}
	return vendors
}
