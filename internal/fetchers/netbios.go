package fetchers

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/pinger"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

const (
	netBIOSPort = 137

	nbstatType    = 0x21
	nbClassIN     = 0x01
	nbGroupFlag   = 0x8000
	nbNameLen     = 15
	nbEntryLen    = 18
	nbHeaderLen   = 12
	nbEncodedName = 34
)

var errShortNodeStatus = errors.New("netbios: short node status response")

// NodeStatus is the answer of a NetBIOS node status query.
type NodeStatus struct {
	Computer string
	User     string
	Group    string
	MAC      string
}

func (n NodeStatus) String() string {
	var b strings.Builder
	if n.Group != "" {
		b.WriteString(n.Group)
		b.WriteByte('\\')
	}
	if n.User != "" {
		b.WriteString(n.User)
		b.WriteByte('@')
	}
	b.WriteString(n.Computer)
	if n.MAC != "" {
		b.WriteString(" [")
		b.WriteString(n.MAC)
		b.WriteByte(']')
	}
	return b.String()
}

// nodeStatusRequest builds a wildcard NBSTAT query.
func nodeStatusRequest(id uint16) []byte {
	req := make([]byte, 0, nbHeaderLen+nbEncodedName+4)
	req = binary.BigEndian.AppendUint16(req, id)
	req = append(req,
		0x00, 0x00, // flags
		0x00, 0x01, // questions
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	)

	name := make([]byte, nbNameLen+1)
	name[0] = '*'
	req = append(req, 0x20)
	for _, c := range name {
		req = append(req, 'A'+(c>>4), 'A'+(c&0x0f))
	}
	req = append(req, 0x00)

	req = binary.BigEndian.AppendUint16(req, nbstatType)
	req = binary.BigEndian.AppendUint16(req, nbClassIN)
	return req
}

// parseNodeStatus decodes the name table and unit ID of a response.
func parseNodeStatus(resp []byte) (NodeStatus, error) {
	// header, answer name, type, class, ttl, rdlength
	off := nbHeaderLen + nbEncodedName + 2 + 2 + 4 + 2
	if len(resp) < off+1 {
		return NodeStatus{}, errShortNodeStatus
	}
	count := int(resp[off])
	off++
	if len(resp) < off+count*nbEntryLen {
		return NodeStatus{}, errShortNodeStatus
	}

	var st NodeStatus
	for i := 0; i < count; i++ {
		entry := resp[off+i*nbEntryLen : off+(i+1)*nbEntryLen]
		name := strings.TrimRight(string(entry[:nbNameLen]), " \x00")
		suffix := entry[nbNameLen]
		group := binary.BigEndian.Uint16(entry[nbNameLen+1:])&nbGroupFlag != 0

		switch {
		case suffix == 0x00 && !group && st.Computer == "":
			st.Computer = name
		case suffix == 0x00 && group && st.Group == "":
			st.Group = name
		case suffix == 0x03 && !group && st.User == "" && name != st.Computer:
			st.User = name
		}
	}

	off += count * nbEntryLen
	if len(resp) >= off+6 {
		mac := net.HardwareAddr(resp[off : off+6])
		if !isZeroMAC(mac) {
			st.MAC = strings.ToUpper(mac.String())
		}
	}
	return st, nil
}

func isZeroMAC(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}

// queryNodeStatus asks addr for its NetBIOS name table.
func queryNodeStatus(ctx context.Context, dial pinger.DialFunc, addr netip.Addr, port int, timeout time.Duration) (NodeStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(ctx, "udp", netip.AddrPortFrom(addr, uint16(port)).String())
	if err != nil {
		return NodeStatus{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	id := uint16(rand.UintN(1 << 16))
	if _, err := conn.Write(nodeStatusRequest(id)); err != nil {
		return NodeStatus{}, err
	}

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return NodeStatus{}, err
		}
		if n >= 2 && binary.BigEndian.Uint16(buf) == id {
			return parseNodeStatus(buf[:n])
		}
	}
}

// NetBIOSInfo reports the workgroup, user and computer name of Windows
// and Samba hosts.
type NetBIOSInfo struct {
	base
	dial   pinger.DialFunc
	port   int
	logger *logging.Logger
}

// NewNetBIOSInfo creates the NetBIOSInfo fetcher.
func NewNetBIOSInfo(d Deps) *NetBIOSInfo {
	d = d.withDefaults()
	return &NetBIOSInfo{
		base:   base{id: scanning.FetcherNetBIOSInfo},
		dial:   d.Dial,
		port:   netBIOSPort,
		logger: d.Logger.WithComponent("fetcher.netbios"),
	}
}

// Scan returns "group\user@computer [mac]", or nil without an answer.
func (f *NetBIOSInfo) Scan(ctx context.Context, subject *scanning.Subject) any {
	st, err := queryNodeStatus(ctx, f.dial, subject.Addr(), f.port, subject.AdaptedPortTimeout())
	if err != nil || st.Computer == "" {
		if err != nil {
			f.logger.WithTarget(subject.String()).Debug("No NetBIOS answer", "error", err)
		}
		return nil
	}
	return st.String()
}
