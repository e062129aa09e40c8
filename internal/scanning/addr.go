package scanning

import (
	"net"
	"net/netip"
)

// IsLikelyBroadcast reports whether the last byte of addr is 0x00 or 0xFF,
// which usually marks a network or broadcast address.
func IsLikelyBroadcast(addr netip.Addr) bool {
	b := addr.AsSlice()
	if len(b) == 0 {
		return false
	}
	last := b[len(b)-1]
	return last == 0x00 || last == 0xFF
}

// LocalRange returns the /24 around the first non-loopback IPv4 address of
// an up interface, as x.y.z.0 and x.y.z.255. ok is false when the machine
// has no such address.
func LocalRange() (start, end netip.Addr, ok bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}, netip.Addr{}, false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, isNet := a.(*net.IPNet)
			if !isNet {
				continue
			}
			addr, valid := netip.AddrFromSlice(ipnet.IP)
			if !valid {
				continue
			}
			addr = addr.Unmap()
			if !addr.Is4() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
				continue
			}
			start, end = networkOf24(addr)
			return start, end, true
		}
	}
	return netip.Addr{}, netip.Addr{}, false
}

func networkOf24(addr netip.Addr) (netip.Addr, netip.Addr) {
	b := addr.As4()
	b[3] = 0
	start := netip.AddrFrom4(b)
	b[3] = 0xFF
	return start, netip.AddrFrom4(b)
}
