// Package dhcp4net is the UDP wire transport: a listener bound to one or
// more interface addresses on the DHCP server port, recovering the
// ingress interface and local address for every datagram via IP_PKTINFO,
// and sending replies to either the client directly or back through a
// relay, per spec.md section 6.
package dhcp4net

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"golang.org/x/net/ipv4"
)

// Sentinel errors.
const (
	ErrNoSuchInterface errors.Error = "no such network interface"
	ErrClosed          errors.Error = "listener closed"
)

// Datagram is one received UDP payload plus the metadata IP_PKTINFO
// recovers about it.
type Datagram struct {
	Payload    []byte
	Remote     netip.Addr
	RemotePort int
	Local      netip.Addr
	IfaceName  string
}

// Listener is a UDP/67 socket bound across every interface named in its
// configuration, using a single [ipv4.PacketConn] so broadcast and
// unicast datagrams addressed to any bound address are received on one
// socket, matching the single-receiver-thread model of spec.md section
// 5.
type Listener struct {
	pc   *ipv4.PacketConn
	conn *net.UDPConn

	ifaceNames map[int]string
	port       int
}

// Listen opens a Listener bound to ":port" (0.0.0.0, so it receives
// broadcasts). Every name in ifaceNames must resolve to a local
// interface, or Listen fails with [ErrNoSuchInterface]. For each one it
// tries to join the IPv4 broadcast group and ignores a failure to do so.
// The names resolve ifIndex → name for [Datagram.IfaceName] and are the
// interfaces whose addresses [Listener.LocalAddrs] reports.
func Listen(port int, ifaceNames []string) (l *Listener, err error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("binding udp4 port %d: %w", port, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err = pc.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("enabling pktinfo: %w", err)
	}

	names := map[int]string{}
	for _, name := range ifaceNames {
		ifi, ifErr := net.InterfaceByName(name)
		if ifErr != nil {
			_ = conn.Close()

			return nil, fmt.Errorf("%w: %q: %w", ErrNoSuchInterface, name, ifErr)
		}
		names[ifi.Index] = name

		if joinErr := pc.JoinGroup(ifi, &net.UDPAddr{IP: net.IPv4bcast}); joinErr != nil {
			// Broadcast group membership isn't required on every
			// platform; a failure here doesn't prevent receiving
			// broadcasts delivered to the wildcard socket.
			continue
		}
	}

	return &Listener{pc: pc, conn: conn, ifaceNames: names, port: port}, nil
}

// ReadFrom reads the next datagram. It returns [ErrClosed] once the
// listener has been closed.
func (l *Listener) ReadFrom(buf []byte) (dg Datagram, err error) {
	n, cm, remote, err := l.pc.ReadFrom(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return Datagram{}, ErrClosed
		}

		return Datagram{}, err
	}

	udpAddr, ok := remote.(*net.UDPAddr)
	if !ok {
		return Datagram{}, fmt.Errorf("unexpected remote address type %T", remote)
	}

	dg = Datagram{
		Payload:    append([]byte(nil), buf[:n]...),
		RemotePort: udpAddr.Port,
	}

	if a, aok := netip.AddrFromSlice(udpAddr.IP.To4()); aok {
		dg.Remote = a
	}

	if cm != nil {
		if a, aok := netip.AddrFromSlice(cm.Dst.To4()); aok {
			dg.Local = a
		}
		dg.IfaceName = l.ifaceNames[cm.IfIndex]
	}

	return dg, nil
}

// WriteTo sends payload to remote:port. If local is valid, the datagram
// is sent with a source address hint via the packet control message,
// matching IP_PKTINFO's symmetric send-side use.
func (l *Listener) WriteTo(payload []byte, remote netip.Addr, port int, local netip.Addr) (err error) {
	var cm *ipv4.ControlMessage
	if local.IsValid() && !local.IsUnspecified() {
		cm = &ipv4.ControlMessage{Src: local.AsSlice()}
	}

	dst := &net.UDPAddr{IP: remote.AsSlice(), Port: port}

	_, err = l.pc.WriteTo(payload, cm, dst)

	return err
}

// Close closes the underlying socket.
func (l *Listener) Close() (err error) {
	return l.conn.Close()
}

// LocalAddrs reports the addresses this process believes itself bound to
// for every configured interface, used by the request processor's
// server-identifier acceptance check.
func (l *Listener) LocalAddrs(ctx context.Context, logger *slog.Logger) (addrs map[netip.Addr]bool) {
	addrs = map[netip.Addr]bool{}

	for _, name := range l.ifaceNames {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			logger.WarnContext(ctx, "resolving interface", "iface", name, slogutil.KeyError, err)

			continue
		}

		ifAddrs, err := ifi.Addrs()
		if err != nil {
			logger.WarnContext(ctx, "listing interface addresses", "iface", name, slogutil.KeyError, err)

			continue
		}

		for _, a := range ifAddrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}

			if addr, aok := netip.AddrFromSlice(ipNet.IP.To4()); aok {
				addrs[addr] = true
			}
		}
	}

	return addrs
}
