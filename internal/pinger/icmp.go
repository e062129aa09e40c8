package pinger

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58
	maxPacketSize    = 1500
)

var echoPayload = []byte("ipscanner-echo")

// echoKey matches a reply to its request. Unprivileged sockets get their
// echo identifier rewritten by the kernel, so only the peer and the
// sequence number are compared.
type echoKey struct {
	peer netip.Addr
	seq  uint16
}

type echoReply struct {
	at  time.Time
	ttl int
}

type icmpNetworks struct {
	v4, v6 string
	// listen4 and listen6 are the wildcard listen addresses.
	listen4, listen6 string
}

var (
	rawNetworks      = icmpNetworks{v4: "ip4:icmp", v6: "ip6:ipv6-icmp", listen4: "0.0.0.0", listen6: "::"}
	datagramNetworks = icmpNetworks{v4: "udp4", v6: "udp6", listen4: "0.0.0.0", listen6: "::"}
)

// ICMPPinger sends ICMP echo requests over one socket per address family,
// shared by every concurrent Ping. Replies are read by a single goroutine per
// socket and handed to the waiting request.
type ICMPPinger struct {
	timeout    time.Duration
	networks   icmpNetworks
	privileged bool
	id         int
	seq        atomic.Uint32
	logger     *logging.Logger

	// life is held for reading by every Ping and for writing by Close.
	life sync.RWMutex

	mu      sync.Mutex
	conn4   *icmp.PacketConn
	conn6   *icmp.PacketConn
	waiters map[echoKey]chan echoReply
	closed  bool
	done    chan struct{}
	readers sync.WaitGroup
}

// NewICMPPinger opens a raw ICMP socket. It fails without the privileges to
// do so.
func NewICMPPinger(timeout time.Duration) (*ICMPPinger, error) {
	return newICMPPinger(timeout, rawNetworks, true, "pinger.icmp")
}

// NewDatagramPinger opens an unprivileged ICMP socket, as allowed by
// net.ipv4.ping_group_range on Linux and by default on macOS.
func NewDatagramPinger(timeout time.Duration) (*ICMPPinger, error) {
	return newICMPPinger(timeout, datagramNetworks, false, "pinger.dgram")
}

func newICMPPinger(timeout time.Duration, networks icmpNetworks, privileged bool, name string) (*ICMPPinger, error) {
	p := &ICMPPinger{
		timeout:    timeout,
		networks:   networks,
		privileged: privileged,
		id:         os.Getpid() & 0xffff,
		logger:     logging.Default().WithComponent(name),
		waiters:    make(map[echoKey]chan echoReply),
		done:       make(chan struct{}),
	}
	// The IPv4 socket is opened eagerly so that missing privileges surface
	// on construction.
	if _, err := p.connFor(netip.IPv4Unspecified()); err != nil {
		return nil, err
	}
	return p, nil
}

// connFor returns the socket for addr's family, opening it on first use.
func (p *ICMPPinger) connFor(addr netip.Addr) (*icmp.PacketConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	v4 := addr.Is4()
	if v4 && p.conn4 != nil {
		return p.conn4, nil
	}
	if !v4 && p.conn6 != nil {
		return p.conn6, nil
	}

	network, listen := p.networks.v4, p.networks.listen4
	if !v4 {
		network, listen = p.networks.v6, p.networks.listen6
	}
	conn, err := icmp.ListenPacket(network, listen)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s socket: %w", network, err)
	}

	if v4 {
		// TTL reporting is best effort, some platforms do not support it.
		_ = conn.IPv4PacketConn().SetControlMessage(ipv4.FlagTTL, true)
		p.conn4 = conn
	} else {
		_ = conn.IPv6PacketConn().SetControlMessage(ipv6.FlagHopLimit, true)
		p.conn6 = conn
	}

	p.readers.Add(1)
	go p.readLoop(conn, v4)
	return conn, nil
}

func (p *ICMPPinger) readLoop(conn *icmp.PacketConn, v4 bool) {
	defer p.readers.Done()
	buf := make([]byte, maxPacketSize)

	for {
		var (
			n    int
			src  net.Addr
			ttl  int
			err  error
			prot = protocolICMP
		)
		if v4 {
			var cm *ipv4.ControlMessage
			n, cm, src, err = conn.IPv4PacketConn().ReadFrom(buf)
			if cm != nil {
				ttl = cm.TTL
			}
		} else {
			var cm *ipv6.ControlMessage
			n, cm, src, err = conn.IPv6PacketConn().ReadFrom(buf)
			if cm != nil {
				ttl = cm.HopLimit
			}
			prot = protocolIPv6ICMP
		}
		at := time.Now()

		if err != nil {
			select {
			case <-p.done:
				return
			default:
			}
			p.logger.Debug("ICMP read failed", "error", err)
			continue
		}

		msg, err := icmp.ParseMessage(prot, buf[:n])
		if err != nil {
			continue
		}
		if msg.Type != ipv4.ICMPTypeEchoReply && msg.Type != ipv6.ICMPTypeEchoReply {
			continue
		}
		echo, ok := msg.Body.(*icmp.Echo)
		if !ok {
			continue
		}
		if p.privileged && echo.ID != p.id {
			continue
		}
		peer, ok := addrOf(src)
		if !ok {
			continue
		}
		p.deliver(echoKey{peer: peer, seq: uint16(echo.Seq)}, echoReply{at: at, ttl: ttl})
	}
}

func (p *ICMPPinger) deliver(key echoKey, reply echoReply) {
	p.mu.Lock()
	ch, ok := p.waiters[key]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

func addrOf(a net.Addr) (netip.Addr, bool) {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPAddr:
		ip = v.IP
	case *net.UDPAddr:
		ip = v.IP
	default:
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(ip)
	return addr.Unmap(), ok
}

// Ping sends up to count echo requests, one at a time.
func (p *ICMPPinger) Ping(ctx context.Context, subject *scanning.Subject, count int) (*scanning.PingResult, error) {
	p.life.RLock()
	defer p.life.RUnlock()

	target := subject.Addr().Unmap()
	conn, err := p.connFor(target)
	if err != nil {
		return nil, err
	}

	result := scanning.NewPingResult(subject.Addr(), count)
	for i := 0; i < count && ctx.Err() == nil; i++ {
		reply, sent, verdict, err := p.echo(ctx, conn, target)
		if err != nil {
			return result, err
		}
		switch verdict {
		case outcomeAlive:
			result.AddReply(reply.at.Sub(sent))
			if reply.ttl > 0 {
				result.SetTTL(reply.ttl)
			}
			result.EnableTimeoutAdaptation()
		case outcomeDead:
			return result, nil
		}
	}
	return result, nil
}

func (p *ICMPPinger) echo(ctx context.Context, conn *icmp.PacketConn, target netip.Addr) (echoReply, time.Time, outcome, error) {
	seq := uint16(p.seq.Add(1))
	key := echoKey{peer: target, seq: seq}
	ch := make(chan echoReply, 1)

	p.mu.Lock()
	p.waiters[key] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waiters, key)
		p.mu.Unlock()
	}()

	var typ icmp.Type = ipv4.ICMPTypeEcho
	if !target.Is4() {
		typ = ipv6.ICMPTypeEchoRequest
	}
	msg := icmp.Message{
		Type: typ,
		Body: &icmp.Echo{ID: p.id, Seq: int(seq), Data: echoPayload},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return echoReply{}, time.Time{}, outcomeFailed, fmt.Errorf("failed to encode echo request: %w", err)
	}

	sent := time.Now()
	if _, err := conn.WriteTo(wire, p.destination(target)); err != nil {
		verdict := classify(err)
		if verdict == outcomeAlive {
			verdict = outcomeFailed
		}
		return echoReply{}, sent, verdict, nil
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, sent, outcomeAlive, nil
	case <-timer.C:
		return echoReply{}, sent, outcomeFailed, nil
	case <-ctx.Done():
		return echoReply{}, sent, outcomeFailed, nil
	case <-p.done:
		return echoReply{}, sent, outcomeFailed, ErrClosed
	}
}

func (p *ICMPPinger) destination(target netip.Addr) net.Addr {
	if p.privileged {
		return &net.IPAddr{IP: target.AsSlice()}
	}
	return &net.UDPAddr{IP: target.AsSlice()}
}

// Close waits for in-flight pings and closes the sockets.
func (p *ICMPPinger) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.life.Lock()
	defer p.life.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	conns := []*icmp.PacketConn{p.conn4, p.conn6}
	p.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.readers.Wait()
	return firstErr
}
