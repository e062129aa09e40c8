// Package fetchers contains the probes that fill the columns of a scan:
// ping statistics, host names, open ports, service banners, MAC addresses
// and vendors, NetBIOS and SNMP names.
package fetchers

import (
	"context"
	"net"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/metrics"
	"github.com/homiodev/addon-ipscanner/internal/pinger"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// Deps are the collaborators shared by every fetcher of a scan session.
type Deps struct {
	Config  *config.ScannerConfig
	Pinger  *pinger.Shared
	Dial    pinger.DialFunc
	Metrics metrics.Recorder
	Logger  *logging.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Config == nil {
		cfg := config.DefaultScanner()
		d.Config = &cfg
	}
	if d.Dial == nil {
		d.Dial = func(ctx context.Context, network, address string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, network, address)
		}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	return d
}

type builder func(d Deps, built map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher

// table lists how to build each fetcher. MAC is built before MACVendor,
// which reuses it.
var table = []struct {
	id    scanning.FetcherID
	build builder
}{
	{scanning.FetcherPing, func(d Deps, _ map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		return NewPing(d)
	}},
	{scanning.FetcherHostname, func(d Deps, _ map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		return NewHostname(d)
	}},
	{scanning.FetcherWebDetect, func(d Deps, _ map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		return NewWebDetect(d)
	}},
	{scanning.FetcherHTTPSender, func(d Deps, _ map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		return NewHTTPSender(d)
	}},
	{scanning.FetcherNetBIOSInfo, func(d Deps, _ map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		return NewNetBIOSInfo(d)
	}},
	{scanning.FetcherPacketLoss, func(d Deps, _ map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		return NewPacketLoss(d)
	}},
	{scanning.FetcherPorts, func(d Deps, _ map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		return NewPorts(d)
	}},
	{scanning.FetcherMAC, func(d Deps, _ map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		return NewMAC(d)
	}},
	{scanning.FetcherMACVendor, func(d Deps, built map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		mac, _ := built[scanning.FetcherMAC].(*MAC)
		return NewMACVendor(d, mac)
	}},
	{scanning.FetcherPingTTL, func(d Deps, _ map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		return NewPingTTL(d)
	}},
	{scanning.FetcherHTTPProxy, func(d Deps, _ map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		return NewHTTPProxy(d)
	}},
	{scanning.FetcherSNMPName, func(d Deps, _ map[scanning.FetcherID]scanning.Fetcher) scanning.Fetcher {
		return NewSNMPName(d)
	}},
}

// All builds one instance of every fetcher, in column order.
func All(d Deps) []scanning.Fetcher {
	d = d.withDefaults()
	built := make(map[scanning.FetcherID]scanning.Fetcher, len(table))
	for _, entry := range table {
		built[entry.id] = entry.build(d, built)
	}

	out := make([]scanning.Fetcher, 0, len(built))
	for _, id := range scanning.AllFetcherIDs() {
		if f, ok := built[id]; ok {
			out = append(out, f)
		}
	}
	return out
}

// NewRegistry builds every fetcher into a registry with the default
// selection.
func NewRegistry(d Deps) *scanning.FetcherRegistry {
	return scanning.NewFetcherRegistry(All(d)...)
}

// base carries the parts every fetcher implements the same way.
type base struct {
	id scanning.FetcherID
}

func (b base) ID() scanning.FetcherID { return b.id }
func (b base) FullName() string       { return b.id.String() }
func (b base) Init() error            { return nil }
func (b base) Cleanup()               {}
