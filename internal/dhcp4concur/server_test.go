package dhcp4concur_test

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdnscloud/dhcp4-slave/internal/allocrpc"
	"github.com/zdnscloud/dhcp4-slave/internal/classify"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4concur"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4net"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4proc"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
	"github.com/zdnscloud/dhcp4-slave/internal/hooks"
	"github.com/zdnscloud/dhcp4-slave/internal/ping4"
	"github.com/zdnscloud/dhcp4-slave/internal/subnetcfg"
)

func discardLogger() (l *slog.Logger) {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMaster is the same in-process allocation master stand-in used by
// the processor's own tests: it grants addr for every request.
func fakeMaster(t *testing.T, addr netip.Addr) (listenAddr string) {
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
			reply[0] = 1
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

func testRegistry(t *testing.T) (r *subnetcfg.Registry) {
	t.Helper()

	pool, err := subnetcfg.NewPool(
		netip.MustParseAddr("192.0.2.100"),
		netip.MustParseAddr("192.0.2.109"),
	)
	require.NoError(t, err)

	r = subnetcfg.NewRegistry()
	require.NoError(t, r.Add(&subnetcfg.Subnet{
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
	}))

	return r
}

func freePort(t *testing.T) (port int) {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

// TestServer_DiscoverOfferRoundTrip drives one DISCOVER through a real
// loopback-bound Listener, the full worker pool, and a fake allocation
// master, and checks an OFFER comes back on the wire.
func TestServer_DiscoverOfferRoundTrip(t *testing.T) {
	port := freePort(t)

	serverListen, err := dhcp4net.Listen(port, []string{"lo"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	masterAddr := fakeMaster(t, netip.MustParseAddr("192.0.2.100"))
	rpc := allocrpc.New(ctx, discardLogger(), masterAddr)

	reg := dhcp4wire.NewStandardRegistry()
	classes, err := classify.NewTable(nil, reg)
	require.NoError(t, err)

	srv := dhcp4concur.New(dhcp4concur.Config{
		Logger:   discardLogger(),
		RPC:      rpc,
		Listener: serverListen,
		Registry: reg,
		ProcessorConfig: dhcp4proc.Config{
			Logger:  discardLogger(),
			Subnets: testRegistry(t),
			Classes: classes,
			RPC:     rpc,
			Pinger:  ping4.Disabled{},
			Hooks:   hooks.NewDispatcher(discardLogger()),
			IfaceAddr: func(iface string) (netip.Addr, bool) {
				if iface == "lo" {
					return netip.MustParseAddr("192.0.2.1"), true
				}
				return netip.Addr{}, false
			},
		},
		WorkerCount: 2,
	})

	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	client, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	query := dhcp4wire.NewPacket()
	query.HType = 1
	query.HLen = 6
	query.XID = 0xabcd
	query.CHAddr = dhcp4wire.HWAddr{Type: 1, Addr: []byte{0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}}
	query.SetType(dhcp4wire.MsgDiscover)

	buf, err := dhcp4wire.Pack(query)
	require.NoError(t, err)

	_, err = client.WriteToUDP(buf, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(3*time.Second)))
	respBuf := make([]byte, 1500)
	n, _, err := client.ReadFromUDP(respBuf)
	require.NoError(t, err)

	resp, err := dhcp4wire.Unpack(respBuf[:n], reg)
	require.NoError(t, err)

	msgType, ok := resp.Type()
	require.True(t, ok)
	assert.Equal(t, dhcp4wire.MsgOffer, msgType)
	assert.Equal(t, netip.MustParseAddr("192.0.2.100"), resp.YIAddr)
	assert.Equal(t, query.XID, resp.XID)
}

// TestServer_ShutdownTerminates checks Run returns once ctx is canceled,
// with no datagrams in flight.
func TestServer_ShutdownTerminates(t *testing.T) {
	port := freePort(t)

	serverListen, err := dhcp4net.Listen(port, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	masterAddr := fakeMaster(t, netip.MustParseAddr("192.0.2.100"))
	rpc := allocrpc.New(ctx, discardLogger(), masterAddr)

	reg := dhcp4wire.NewStandardRegistry()
	classes, err := classify.NewTable(nil, reg)
	require.NoError(t, err)

	srv := dhcp4concur.New(dhcp4concur.Config{
		Logger:   discardLogger(),
		RPC:      rpc,
		Listener: serverListen,
		Registry: reg,
		ProcessorConfig: dhcp4proc.Config{
			Logger:  discardLogger(),
			Subnets: testRegistry(t),
			Classes: classes,
			RPC:     rpc,
			Pinger:  ping4.Disabled{},
			Hooks:   hooks.NewDispatcher(discardLogger()),
		},
		WorkerCount: 1,
	})

	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
