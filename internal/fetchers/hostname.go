package fetchers

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/pinger"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

const (
	resolvConf = "/etc/resolv.conf"
	mdnsPort   = 5353
)

// Hostname resolves the name of a host: reverse DNS first, then mDNS and
// NetBIOS for addresses on the local network.
type Hostname struct {
	base
	dial   pinger.DialFunc
	logger *logging.Logger

	servers     func() []string
	lookupAddr  func(ctx context.Context, addr string) ([]string, error)
	mdnsPort    int
	netbiosPort int
}

// NewHostname creates the Hostname fetcher.
func NewHostname(d Deps) *Hostname {
	d = d.withDefaults()
	return &Hostname{
		base:        base{id: scanning.FetcherHostname},
		dial:        d.Dial,
		logger:      d.Logger.WithComponent("fetcher.hostname"),
		servers:     systemServers,
		lookupAddr:  net.DefaultResolver.LookupAddr,
		mdnsPort:    mdnsPort,
		netbiosPort: netBIOSPort,
	}
}

// systemServers returns the nameservers of the host, empty when they
// cannot be read.
func systemServers() []string {
	cc, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		out = append(out, net.JoinHostPort(s, cc.Port))
	}
	return out
}

// Scan returns the first name found, or nil.
func (h *Hostname) Scan(ctx context.Context, subject *scanning.Subject) any {
	timeout := subject.AdaptedPortTimeout()
	addr := subject.Addr()

	if name := h.reverseDNS(ctx, addr, timeout); name != "" {
		return name
	}
	if name := h.systemLookup(ctx, addr, timeout); name != "" {
		return name
	}
	if !subject.IsLocal() {
		return nil
	}
	if name := h.mdns(ctx, addr, timeout); name != "" {
		return name
	}
	st, err := queryNodeStatus(ctx, h.dial, addr, h.netbiosPort, timeout)
	if err == nil && st.Computer != "" {
		return st.Computer
	}
	return nil
}

// reverseDNS asks the configured nameservers directly for the PTR record.
func (h *Hostname) reverseDNS(ctx context.Context, addr netip.Addr, timeout time.Duration) string {
	servers := h.servers()
	if len(servers) == 0 {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, server := range servers {
		if ctx.Err() != nil {
			return ""
		}
		name, err := queryPTR(ctx, addr, server, true)
		if err != nil {
			h.logger.Debug("PTR query failed", "target", addr.String(), "server", server, "error", err)
			continue
		}
		if name != "" {
			return name
		}
	}
	return ""
}

func (h *Hostname) systemLookup(ctx context.Context, addr netip.Addr, timeout time.Duration) string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names, err := h.lookupAddr(ctx, addr.String())
	if err != nil || len(names) == 0 {
		return ""
	}
	return trimDot(names[0])
}

// mdns sends a unicast PTR query to the host's own responder.
func (h *Hostname) mdns(ctx context.Context, addr netip.Addr, timeout time.Duration) string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, err := queryPTR(ctx, addr, net.JoinHostPort(addr.String(), strconv.Itoa(h.mdnsPort)), false)
	if err != nil {
		return ""
	}
	return name
}

// queryPTR resolves the PTR record of addr on server.
func queryPTR(ctx context.Context, addr netip.Addr, server string, recursive bool) (string, error) {
	arpa, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", err
	}
	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = recursive

	client := &dns.Client{Net: "udp"}
	if dl, ok := ctx.Deadline(); ok {
		client.Timeout = time.Until(dl)
	}
	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return "", err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", nil
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return trimDot(ptr.Ptr), nil
		}
	}
	return "", nil
}

func trimDot(name string) string {
	return strings.TrimSuffix(name, ".")
}
