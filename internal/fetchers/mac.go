package fetchers

import (
	"bufio"
	"context"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"

	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

const procARP = "/proc/net/arp"

var macPattern = regexp.MustCompile(`([a-fA-F0-9]{1,2}[-:]){5}[a-fA-F0-9]{1,2}`)

// MAC finds the hardware address of hosts on the local network through the
// ARP cache, or of the local machine itself.
type MAC struct {
	base
	logger *logging.Logger

	arpTable   string
	runARP     func(ctx context.Context, ip string) (string, error)
	interfaces func() ([]net.Interface, error)
}

// NewMAC creates the MAC fetcher.
func NewMAC(d Deps) *MAC {
	d = d.withDefaults()
	return &MAC{
		base:       base{id: scanning.FetcherMAC},
		logger:     d.Logger.WithComponent("fetcher.mac"),
		arpTable:   procARP,
		runARP:     runARPCommand,
		interfaces: net.Interfaces,
	}
}

// Scan returns the MAC address, or nil. The outcome is cached on the
// subject, including a miss.
func (m *MAC) Scan(ctx context.Context, subject *scanning.Subject) any {
	mac := m.Lookup(ctx, subject)
	if mac == "" {
		return nil
	}
	return mac
}

// Lookup returns the normalized MAC address of the subject, empty when
// unknown.
func (m *MAC) Lookup(ctx context.Context, subject *scanning.Subject) string {
	if v, ok := subject.Parameter(scanning.ParameterMAC); ok {
		mac, _ := v.(string)
		return mac
	}

	mac := m.resolve(ctx, subject.Addr())
	subject.SetParameter(scanning.ParameterMAC, mac)
	return mac
}

func (m *MAC) resolve(ctx context.Context, addr netip.Addr) string {
	ip := addr.String()
	if mac := m.fromARPTable(ip); mac != "" {
		return mac
	}
	if ctx.Err() != nil {
		return ""
	}
	if out, err := m.runARP(ctx, ip); err == nil {
		if mac := macFromARPOutput(out, ip); mac != "" {
			return mac
		}
	} else {
		m.logger.WithTarget(ip).Debug("arp failed", "error", err)
	}
	return m.fromInterfaces(addr)
}

// fromARPTable reads the kernel ARP cache. Incomplete entries carry an
// all-zero address and are skipped.
func (m *MAC) fromARPTable(ip string) string {
	f, err := os.Open(m.arpTable)
	if err != nil {
		return ""
	}
	defer f.Close()

	lines := bufio.NewScanner(f)
	lines.Scan() // header
	for lines.Scan() {
		fields := strings.Fields(lines.Text())
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		mac := NormalizeMAC(fields[3])
		if mac != "" && mac != "00:00:00:00:00:00" {
			return mac
		}
	}
	return ""
}

func (m *MAC) fromInterfaces(addr netip.Addr) string {
	ifaces, err := m.interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip, ok := netip.AddrFromSlice(ipnet.IP); ok && ip.Unmap() == addr.Unmap() {
				return NormalizeMAC(iface.HardwareAddr.String())
			}
		}
	}
	return ""
}

func runARPCommand(ctx context.Context, ip string) (string, error) {
	var args []string
	switch runtime.GOOS {
	case "linux":
		args = []string{"-an", ip}
	case "windows":
		args = []string{"-a", ip}
	default:
		args = []string{"-n", ip}
	}
	out, err := exec.CommandContext(ctx, "arp", args...).Output()
	return string(out), err
}

// macFromARPOutput picks the address from the output line mentioning ip.
func macFromARPOutput(out, ip string) string {
	for _, line := range strings.Split(out, "\n") {
		if !containsIP(line, ip) {
			continue
		}
		if mac := NormalizeMAC(macPattern.FindString(line)); mac != "" {
			return mac
		}
	}
	return ""
}

// containsIP matches ip as a whole token so 10.0.0.1 does not match
// 10.0.0.10.
func containsIP(line, ip string) bool {
	for _, f := range strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '(' || r == ')'
	}) {
		if f == ip {
			return true
		}
	}
	return false
}

// NormalizeMAC renders a MAC found by macPattern in upper-case colon form
// with two digits per octet. Anything else yields "".
func NormalizeMAC(s string) string {
	s = macPattern.FindString(s)
	if s == "" {
		return ""
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	for i, p := range parts {
		if len(p) == 1 {
			p = "0" + p
		}
		parts[i] = strings.ToUpper(p)
	}
	return strings.Join(parts, ":")
}
