// Package dhcp4proc implements the request processor and state
// machine: the top-level per-packet handler that dispatches on message
// type, invokes the classifier, selector, RPC allocator, and ping
// prober, and builds the response packet, per spec.md section 4.5.
package dhcp4proc

import (
	"net/netip"

	"github.com/AdguardTeam/golibs/container"

	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
	"github.com/zdnscloud/dhcp4-slave/internal/subnetcfg"
)

// maxRetries is the number of allocate→ping retries after a ping
// conflict before the processor gives up, per spec.md section 4.5.
const maxRetries = 5

// RequestMeta carries the per-packet metadata the wire transport
// supplies alongside the parsed query: the socket's local address, the
// remote address the datagram arrived from, and the name of the
// receiving interface (spec.md section 4.4's selector inputs,
// section 4.5's server-identifier and destination-address rules).
type RequestMeta struct {
	LocalAddr  netip.Addr
	RemoteAddr netip.Addr
	IfaceName  string

	// DirectResponseSupported reports whether the underlying link can
	// unicast directly to a host that has no IP configured yet. When
	// false, ACK/OFFER destined to a fresh yiaddr fall back to
	// broadcast (spec.md section 4.5, "Destination address").
	DirectResponseSupported bool
}

// clientContext is the per-request working state carried from ingress
// to egress, per spec.md section 3 ("Client context"). It replaces the
// original's bound-member-function callback chain with an explicit,
// resumable state value so a worker goroutine can hand off to the RPC
// and ping callbacks and later be resumed without blocking
// (spec.md section 4's "Coroutine-like control flow").
type clientContext struct {
	query   *dhcp4wire.Packet
	meta    RequestMeta
	subnet  *subnetcfg.Subnet
	classes *container.MapSet[string]

	allocated netip.Addr

	// sharedSubnetID is the master's shared-network override, if any:
	// a nonzero subnet ID, distinct from subnet.ID, that the response
	// must actually be assigned against (spec.md section 3, "an
	// optional shared subnet override from the master").
	sharedSubnetID subnetcfg.SubnetID

	retries int
}
