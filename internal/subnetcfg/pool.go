// Package subnetcfg holds the subnet registry and selector: a configured
// collection of IPv4 subnets, each with address pools, an optional relay
// binding, a client-class filter, and per-subnet option data, plus the
// priority-ordered logic that picks one subnet for an inbound packet.
package subnetcfg

import (
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// Sentinel errors.
const (
	ErrInvalidPool     errors.Error = "invalid address pool"
	ErrPoolNotInPrefix errors.Error = "pool is not contained within the subnet prefix"
)

// Pool is a contiguous, inclusive range of IPv4 addresses, grounded on
// the teacher's ipRange (internal/dhcpsvc/iprange.go) but specialized to
// IPv4 since this module never handles DHCPv6.
type Pool struct {
	first netip.Addr
	last  netip.Addr
}

// NewPool returns a Pool spanning [first, last].  first must be less than
// or equal to last and both must be IPv4.
func NewPool(first, last netip.Addr) (p Pool, err error) {
	if !first.Is4() || !last.Is4() {
		return Pool{}, fmt.Errorf("%w: %s and %s must both be ipv4", ErrInvalidPool, first, last)
	}
	if last.Less(first) {
		return Pool{}, fmt.Errorf("%w: first %s is greater than last %s", ErrInvalidPool, first, last)
	}

	return Pool{first: first, last: last}, nil
}

// Contains reports whether ip falls within p.
func (p Pool) Contains(ip netip.Addr) (ok bool) {
	return ip.Is4() && !ip.Less(p.first) && !p.last.Less(ip)
}

// First returns the first address of the pool.
func (p Pool) First() (ip netip.Addr) { return p.first }

// Last returns the last address of the pool.
func (p Pool) Last() (ip netip.Addr) { return p.last }

// String implements the fmt.Stringer interface for Pool.
func (p Pool) String() (s string) { return fmt.Sprintf("%s-%s", p.first, p.last) }
