package dhcp4proc_test

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdnscloud/dhcp4-slave/internal/allocrpc"
	"github.com/zdnscloud/dhcp4-slave/internal/classify"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4proc"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
	"github.com/zdnscloud/dhcp4-slave/internal/hooks"
	"github.com/zdnscloud/dhcp4-slave/internal/ping4"
	"github.com/zdnscloud/dhcp4-slave/internal/subnetcfg"
)

func discardLogger() (l *slog.Logger) {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMaster is an in-process stand-in for the allocation master: it
// replies to every request with a fixed, successful allocation of
// addr, echoing the request's subnet_id.
func fakeMaster(t *testing.T, addr netip.Addr, succeed bool) (listenAddr string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()

		for {
			var header [2]byte
			if _, readErr := io.ReadFull(conn, header[:]); readErr != nil {
				return
			}
			n := binary.BigEndian.Uint16(header[:])
			req := make([]byte, n)
			if _, readErr := io.ReadFull(conn, req); readErr != nil {
				return
			}
			subnetID := binary.BigEndian.Uint32(req[1:5])

			reply := make([]byte, 9)
			if succeed {
				reply[0] = 1
			}
			a4 := addr.As4()
			copy(reply[1:5], a4[:])
			binary.BigEndian.PutUint32(reply[5:9], subnetID)

			var replyHeader [2]byte
			binary.BigEndian.PutUint16(replyHeader[:], uint16(len(reply)))
			if _, writeErr := conn.Write(replyHeader[:]); writeErr != nil {
				return
			}
			if _, writeErr := conn.Write(reply); writeErr != nil {
				return
			}
		}
	}()

	return ln.Addr().String()
}

func testSubnet(t *testing.T) (s *subnetcfg.Subnet) {
	t.Helper()

	pool, err := subnetcfg.NewPool(
		netip.MustParseAddr("192.0.2.100"),
		netip.MustParseAddr("192.0.2.109"),
	)
	require.NoError(t, err)

	return &subnetcfg.Subnet{
		ID:           1,
		Prefix:       netip.MustParsePrefix("192.0.2.0/24"),
		Pools:        []subnetcfg.Pool{pool},
		SIAddr:       netip.MustParseAddr("192.0.2.1"),
		DefaultValid: 3600 * time.Second,
		MinValid:     600 * time.Second,
		MaxValid:     7200 * time.Second,
		T1:           1800 * time.Second,
		T2:           3150 * time.Second,
		OptionData:   map[uint8]dhcp4wire.Option{},
	}
}

func testRegistry(t *testing.T) (r *subnetcfg.Registry) {
	t.Helper()

	r = subnetcfg.NewRegistry()
	require.NoError(t, r.Add(testSubnet(t)))
	return r
}

func discoverPacket(t *testing.T) (p *dhcp4wire.Packet) {
	t.Helper()

	p = dhcp4wire.NewPacket()
	p.HType = 1
	p.HLen = 6
	p.XID = 0x1234
	p.CHAddr = dhcp4wire.HWAddr{Type: 1, Addr: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}}
	p.SetType(dhcp4wire.MsgDiscover)

	return p
}

func newProcessor(t *testing.T, masterAddr netip.Addr, succeed bool, emit dhcp4proc.Emit) (p *dhcp4proc.Processor) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	listenAddr := fakeMaster(t, masterAddr, succeed)
	rpc := allocrpc.New(ctx, discardLogger(), listenAddr)
	t.Cleanup(func() { _ = rpc.Close() })

	classes, err := classify.NewTable(nil, dhcp4wire.NewStandardRegistry())
	require.NoError(t, err)

	return dhcp4proc.New(dhcp4proc.Config{
		Logger:  discardLogger(),
		Subnets: testRegistry(t),
		Classes: classes,
		RPC:     rpc,
		Pinger:  ping4.Disabled{},
		Hooks:   hooks.NewDispatcher(discardLogger()),
		Emit:    emit,
		IfaceAddr: func(iface string) (netip.Addr, bool) {
			if iface == "eth0" {
				return netip.MustParseAddr("192.0.2.1"), true
			}
			return netip.Addr{}, false
		},
	})
}

func TestProcessor_DiscoverOffer(t *testing.T) {
	wantAddr := netip.MustParseAddr("192.0.2.100")

	var wg sync.WaitGroup
	wg.Add(1)

	var gotResp *dhcp4wire.Packet
	var gotRemote netip.Addr
	var gotPort uint16

	p := newProcessor(t, wantAddr, true, func(resp *dhcp4wire.Packet, remote netip.Addr, port uint16) {
		gotResp, gotRemote, gotPort = resp, remote, port
		wg.Done()
	})

	query := discoverPacket(t)
	p.Process(context.Background(), query, dhcp4proc.RequestMeta{
		LocalAddr: netip.MustParseAddr("192.0.2.1"),
		IfaceName: "eth0",
	})

	wg.Wait()

	require.NotNil(t, gotResp)
	msgType, ok := gotResp.Type()
	require.True(t, ok)
	assert.Equal(t, dhcp4wire.MsgOffer, msgType)
	assert.Equal(t, wantAddr, gotResp.YIAddr)
	assert.Equal(t, netip.AddrFrom4([4]byte{255, 255, 255, 255}), gotRemote)
	assert.Equal(t, uint16(dhcp4wire.ClientPort), gotPort)

	serverID, ok := gotResp.Options.Get(dhcp4wire.OptServerIdentifier)
	require.True(t, ok)
	addr, ok := serverID.AsIPv4()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", addr.String())
}

func TestProcessor_RequestNoSubnet_NAK(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	var gotResp *dhcp4wire.Packet
	p := newProcessor(t, netip.MustParseAddr("192.0.2.100"), true, func(resp *dhcp4wire.Packet, _ netip.Addr, _ uint16) {
		gotResp = resp
		wg.Done()
	})

	query := dhcp4wire.NewPacket()
	query.HLen = 6
	query.CHAddr = dhcp4wire.HWAddr{Type: 1, Addr: []byte{0, 1, 2, 3, 4, 5}}
	query.SetType(dhcp4wire.MsgRequest)
	// No giaddr/ciaddr/remote that resolves to the configured subnet's
	// prefix, and no interface binding: selection fails.
	p.Process(context.Background(), query, dhcp4proc.RequestMeta{
		LocalAddr: netip.MustParseAddr("203.0.113.1"),
	})

	wg.Wait()

	require.NotNil(t, gotResp)
	msgType, ok := gotResp.Type()
	require.True(t, ok)
	assert.Equal(t, dhcp4wire.MsgNak, msgType)
}

func TestProcessor_RejectsUnboundServerID(t *testing.T) {
	emitted := false

	// A server identifier that BoundAddrs rejects must drop the packet
	// synchronously, before any RPC round trip is even attempted.
	p := dhcp4proc.New(dhcp4proc.Config{
		Logger:  discardLogger(),
		Subnets: testRegistry(t),
		Classes: mustEmptyTable(t),
		Pinger:  ping4.Disabled{},
		Hooks:   hooks.NewDispatcher(discardLogger()),
		Emit:    func(*dhcp4wire.Packet, netip.Addr, uint16) { emitted = true },
		BoundAddrs: func(netip.Addr) bool {
			return false
		},
	})

	query := discoverPacket(t)
	query.Options.Add(dhcp4wire.NewScalarOption(
		dhcp4wire.OptServerIdentifier,
		dhcp4wire.IPv4Field(netip.MustParseAddr("10.0.0.9")),
	))

	p.Process(context.Background(), query, dhcp4proc.RequestMeta{
		LocalAddr: netip.MustParseAddr("192.0.2.1"),
	})

	assert.False(t, emitted)
}

func TestProcessor_ForbidsServerIDOnDiscover(t *testing.T) {
	emitted := false

	// Even a server identifier BoundAddrs would accept must still be
	// rejected on a DISCOVER: the option is forbidden outright, not
	// merely checked against the bound-address set.
	p := dhcp4proc.New(dhcp4proc.Config{
		Logger:     discardLogger(),
		Subnets:    testRegistry(t),
		Classes:    mustEmptyTable(t),
		Pinger:     ping4.Disabled{},
		Hooks:      hooks.NewDispatcher(discardLogger()),
		Emit:       func(*dhcp4wire.Packet, netip.Addr, uint16) { emitted = true },
		BoundAddrs: func(netip.Addr) bool { return true },
	})

	query := discoverPacket(t)
	query.Options.Add(dhcp4wire.NewScalarOption(
		dhcp4wire.OptServerIdentifier,
		dhcp4wire.IPv4Field(netip.MustParseAddr("192.0.2.1")),
	))

	p.Process(context.Background(), query, dhcp4proc.RequestMeta{
		LocalAddr: netip.MustParseAddr("192.0.2.1"),
	})

	assert.False(t, emitted)
}

func TestProcessor_ForbidsServerIDOnInform(t *testing.T) {
	emitted := false

	p := dhcp4proc.New(dhcp4proc.Config{
		Logger:     discardLogger(),
		Subnets:    testRegistry(t),
		Classes:    mustEmptyTable(t),
		Pinger:     ping4.Disabled{},
		Hooks:      hooks.NewDispatcher(discardLogger()),
		Emit:       func(*dhcp4wire.Packet, netip.Addr, uint16) { emitted = true },
		BoundAddrs: func(netip.Addr) bool { return true },
	})

	query := dhcp4wire.NewPacket()
	query.HLen = 6
	query.CHAddr = dhcp4wire.HWAddr{Type: 1, Addr: []byte{0, 1, 2, 3, 4, 5}}
	query.CIAddr = netip.MustParseAddr("192.0.2.50")
	query.SetType(dhcp4wire.MsgInform)
	query.Options.Add(dhcp4wire.NewScalarOption(
		dhcp4wire.OptServerIdentifier,
		dhcp4wire.IPv4Field(netip.MustParseAddr("192.0.2.1")),
	))

	p.Process(context.Background(), query, dhcp4proc.RequestMeta{
		LocalAddr: netip.MustParseAddr("192.0.2.1"),
	})

	assert.False(t, emitted)
}

func TestProcessor_RejectsMissingClientIdentity(t *testing.T) {
	emitted := false

	p := dhcp4proc.New(dhcp4proc.Config{
		Logger:  discardLogger(),
		Subnets: testRegistry(t),
		Classes: mustEmptyTable(t),
		Pinger:  ping4.Disabled{},
		Hooks:   hooks.NewDispatcher(discardLogger()),
		Emit:    func(*dhcp4wire.Packet, netip.Addr, uint16) { emitted = true },
	})

	// No chaddr and no client-id option: neither DISCOVER nor REQUEST
	// may be processed.
	query := dhcp4wire.NewPacket()
	query.SetType(dhcp4wire.MsgDiscover)

	p.Process(context.Background(), query, dhcp4proc.RequestMeta{
		LocalAddr: netip.MustParseAddr("192.0.2.1"),
	})

	assert.False(t, emitted)
}

func TestProcessor_AcceptsClientIdentifierWithoutHWAddr(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	p := newProcessor(t, netip.MustParseAddr("192.0.2.100"), true, func(*dhcp4wire.Packet, netip.Addr, uint16) {
		wg.Done()
	})

	// No chaddr, but a valid client-id option: the precondition must
	// be satisfied by the client-id alone.
	query := dhcp4wire.NewPacket()
	query.XID = 0x1234
	query.SetType(dhcp4wire.MsgDiscover)
	query.Options.Add(dhcp4wire.NewScalarOption(
		dhcp4wire.OptClientIdentifier,
		dhcp4wire.BinaryField([]byte{0x01, 0xaa, 0xbb, 0xcc}),
	))

	p.Process(context.Background(), query, dhcp4proc.RequestMeta{
		LocalAddr: netip.MustParseAddr("192.0.2.1"),
	})

	wg.Wait()
}

func mustEmptyTable(t *testing.T) (tbl *classify.Table) {
	t.Helper()
	tbl, err := classify.NewTable(nil, dhcp4wire.NewStandardRegistry())
	require.NoError(t, err)
	return tbl
}
