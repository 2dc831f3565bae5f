package dhcp4net_test

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4net"
)

// freePort asks the OS for an ephemeral UDP port, then releases it; there's
// an inherent race against another process grabbing it first, but it's good
// enough for a test run on an otherwise idle loopback interface.
func freePort(t *testing.T) (port int) {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestListener_RoundTrip(t *testing.T) {
	port := freePort(t)

	l, err := dhcp4net.Listen(port, []string{"lo"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	payload := []byte("hello dhcp")
	err = l.WriteTo(payload, netip.MustParseAddr("127.0.0.1"), port, netip.Addr{})
	require.NoError(t, err)

	buf := make([]byte, 1500)
	done := make(chan struct{})

	var dg dhcp4net.Datagram
	var readErr error
	go func() {
		dg, readErr = l.ReadFrom(buf)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	require.NoError(t, readErr)
	assert.Equal(t, payload, dg.Payload)
	assert.Equal(t, "127.0.0.1", dg.Remote.String())
	assert.Equal(t, "lo", dg.IfaceName)
	assert.True(t, dg.Local.IsValid())
}

func TestListener_UnknownInterface(t *testing.T) {
	_, err := dhcp4net.Listen(freePort(t), []string{"no-such-iface-xyz"})
	require.ErrorIs(t, err, dhcp4net.ErrNoSuchInterface)
}

func TestListener_CloseStopsReadFrom(t *testing.T) {
	l, err := dhcp4net.Listen(freePort(t), nil)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, readErr := l.ReadFrom(make([]byte, 1500))
		errc <- readErr
	}()

	require.NoError(t, l.Close())

	select {
	case err = <-errc:
		assert.ErrorIs(t, err, dhcp4net.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrom did not return after Close")
	}
}
