package fetchers

import (
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nbName struct {
	name   string
	suffix byte
	group  bool
}

func nodeStatusResponse(id uint16, names []nbName, mac []byte) []byte {
	resp := binary.BigEndian.AppendUint16(nil, id)
	resp = append(resp, 0x84, 0x00, 0, 0, 0, 1, 0, 0, 0, 0)
	resp = append(resp, nodeStatusRequest(0)[nbHeaderLen:nbHeaderLen+nbEncodedName]...)
	resp = append(resp, 0x00, nbstatType, 0x00, nbClassIN, 0, 0, 0, 0)
	rdlen := 1 + len(names)*nbEntryLen + len(mac)
	resp = binary.BigEndian.AppendUint16(resp, uint16(rdlen))
	resp = append(resp, byte(len(names)))
	for _, n := range names {
		entry := make([]byte, nbEntryLen)
		copy(entry, []byte(n.name + "                ")[:nbNameLen])
		entry[nbNameLen] = n.suffix
		if n.group {
			entry[nbNameLen+1] = 0x80
		}
		resp = append(resp, entry...)
	}
	return append(resp, mac...)
}

func TestNodeStatusRequest(t *testing.T) {
	req := nodeStatusRequest(0xBEEF)
	require.Len(t, req, nbHeaderLen+nbEncodedName+4)
	assert.Equal(t, uint16(0xBEEF), binary.BigEndian.Uint16(req))
	assert.Equal(t, byte(0x20), req[nbHeaderLen])
	assert.Equal(t, "CKAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", string(req[nbHeaderLen+1:nbHeaderLen+33]))
	assert.Equal(t, []byte{0x00, 0x21, 0x00, 0x01}, req[len(req)-4:])
}

func TestParseNodeStatus(t *testing.T) {
	resp := nodeStatusResponse(1, []nbName{
		{"DESKTOP-1", 0x00, false},
		{"WORKGROUP", 0x00, true},
		{"DESKTOP-1", 0x03, false},
		{"ALICE", 0x03, false},
		{"DESKTOP-1", 0x20, false},
	}, []byte{0x00, 0x1b, 0x21, 0x0a, 0x0b, 0x0c})

	st, err := parseNodeStatus(resp)
	require.NoError(t, err)
	assert.Equal(t, NodeStatus{
		Computer: "DESKTOP-1",
		User:     "ALICE",
		Group:    "WORKGROUP",
		MAC:      "00:1B:21:0A:0B:0C",
	}, st)
	assert.Equal(t, `WORKGROUP\ALICE@DESKTOP-1 [00:1B:21:0A:0B:0C]`, st.String())
}

func TestParseNodeStatusShort(t *testing.T) {
	_, err := parseNodeStatus([]byte{0, 1, 2})
	assert.ErrorIs(t, err, errShortNodeStatus)

	resp := nodeStatusResponse(1, []nbName{{"HOST", 0x00, false}}, nil)
	_, err = parseNodeStatus(resp[:len(resp)-5])
	assert.ErrorIs(t, err, errShortNodeStatus)
}

func TestNodeStatusString(t *testing.T) {
	tests := []struct {
		st   NodeStatus
		want string
	}{
		{NodeStatus{Computer: "NAS"}, "NAS"},
		{NodeStatus{Computer: "NAS", Group: "HOME"}, `HOME\NAS`},
		{NodeStatus{Computer: "NAS", User: "BOB"}, "BOB@NAS"},
		{NodeStatus{Computer: "NAS", MAC: "AA:BB:CC:DD:EE:FF"}, "NAS [AA:BB:CC:DD:EE:FF]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.st.String())
	}
}

// nbServer answers node status queries on a loopback UDP port.
func nbServer(t *testing.T, names []nbName) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			if n < 2 {
				continue
			}
			id := binary.BigEndian.Uint16(buf)
			// a stale answer first, which must be ignored
			_, _ = pc.WriteTo(nodeStatusResponse(id+1, []nbName{{"STALE", 0, false}}, nil), from)
			_, _ = pc.WriteTo(nodeStatusResponse(id, names, make([]byte, 6)), from)
		}
	}()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

func TestNetBIOSInfoFetcher(t *testing.T) {
	port := nbServer(t, []nbName{{"PRINTER", 0x00, false}, {"OFFICE", 0x00, true}})

	cfg := testConfig()
	f := NewNetBIOSInfo(Deps{Config: cfg})
	f.port = port

	sub := subjectFor(t, "127.0.0.1", cfg)
	assert.Equal(t, `OFFICE\PRINTER`, f.Scan(context.Background(), sub))
}

func TestNetBIOSInfoNoAnswer(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	cfg := testConfig()
	cfg.PortTimeout = 50 * time.Millisecond
	f := NewNetBIOSInfo(Deps{Config: cfg})
	f.port = pc.LocalAddr().(*net.UDPAddr).Port

	start := time.Now()
	assert.Nil(t, f.Scan(context.Background(), subjectFor(t, "127.0.0.1", cfg)))
	assert.Less(t, time.Since(start), time.Second)
}

func TestQueryNodeStatusCancelled(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	f := NewNetBIOSInfo(Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = queryNodeStatus(ctx, f.dial, netip.MustParseAddr("127.0.0.1"),
		pc.LocalAddr().(*net.UDPAddr).Port, 5*time.Second)
	assert.Error(t, err)
}
