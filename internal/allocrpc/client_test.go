package allocrpc_test

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
)

// fakeMaster is a minimal in-process stand-in for the allocation
// master: it accepts one connection and replies to every request with
// a fixed, successful allocation.
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

			reply := make([]byte, 9)
			reply[0] = 1
			a4 := addr.As4()
			copy(reply[1:5], a4[:])
			binary.BigEndian.PutUint32(reply[5:9], 7)

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

func discardLogger() (l *slog.Logger) {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Submit(t *testing.T) {
	addr := netip.MustParseAddr("192.0.2.50")
	listenAddr := fakeMaster(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := allocrpc.New(ctx, discardLogger(), listenAddr)
	defer c.Close()

	var wg sync.WaitGroup
	wg.Add(1)

	var got allocrpc.Reply
	var gotErr error

	c.Submit(allocrpc.Request{
		Type:     allocrpc.RequestDiscover,
		SubnetID: 1,
		MAC:      []byte{0, 1, 2, 3, 4, 5},
	}, func(reply allocrpc.Reply, err error) {
		got, gotErr = reply, err
		wg.Done()
	})

	wg.Wait()

	require.NoError(t, gotErr)
	assert.True(t, got.Succeeded)
	assert.False(t, got.Failed())
	assert.Equal(t, addr, got.Addr)
	assert.Equal(t, uint32(7), got.SubnetID)
}

func TestClient_Close_FailsQueuedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No listener: dialing blocks on backoff, so the queued job is
	// still pending when Close runs.
	c := allocrpc.New(ctx, discardLogger(), "127.0.0.1:1")

	done := make(chan struct{})
	var gotErr error

	c.Submit(allocrpc.Request{Type: allocrpc.RequestRelease}, func(_ allocrpc.Reply, err error) {
		gotErr = err
		close(done)
	})

	require.NoError(t, c.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked")
	}

	assert.Error(t, gotErr)
}

func TestReply_Failed(t *testing.T) {
	assert.True(t, allocrpc.Reply{Succeeded: false}.Failed())
	assert.True(t, allocrpc.Reply{Succeeded: true}.Failed())
	assert.True(t, allocrpc.Reply{
		Succeeded: true,
		Addr:      netip.AddrFrom4([4]byte{255, 255, 255, 255}),
	}.Failed())
	assert.False(t, allocrpc.Reply{
		Succeeded: true,
		Addr:      netip.MustParseAddr("192.0.2.1"),
	}.Failed())
}
