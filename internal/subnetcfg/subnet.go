package subnetcfg

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"

	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
)

// Sentinel errors, beyond those in pool.go.
const (
	ErrDuplicateSubnetID errors.Error = "duplicate subnet id"
	ErrInvalidSubnet     errors.Error = "invalid subnet"
)

// SubnetID uniquely identifies a subnet within a [Registry].  Zero is
// never a valid ID.
type SubnetID uint32

// Subnet is a configured IPv4 subnet: a prefix, its address pools, lease
// timers, an optional relay binding and interface binding, class
// admission lists, and per-subnet option data. It replaces the original
// implementation's Subnet4 class.
type Subnet struct {
	// OptionData holds configured option instances, keyed by code, that
	// this subnet contributes to responses (spec.md section 3).
	OptionData map[uint8]dhcp4wire.Option

	// RelayAddr is the giaddr this subnet is bound to, if any.
	RelayAddr netip.Addr

	// SIAddr is the next-server address advertised to clients on this
	// subnet.
	SIAddr netip.Addr

	// Iface is the name of the interface this subnet is bound to, if
	// any.
	Iface string

	Prefix netip.Prefix
	Pools  []Pool

	// Whitelist and Blacklist are the class-admission lists, spec.md
	// section 3: whitelist takes priority when non-empty.
	Whitelist []string
	Blacklist []string

	ID SubnetID

	DefaultValid time.Duration
	MinValid     time.Duration
	MaxValid     time.Duration
	T1           time.Duration
	T2           time.Duration
}

// Validate checks the structural invariants from spec.md section 3: each
// pool must lie within the prefix, and min ≤ default ≤ max for the valid
// lifetime.
func (s *Subnet) Validate() (err error) {
	if s.ID == 0 {
		return fmt.Errorf("%w: subnet id must be nonzero", ErrInvalidSubnet)
	}

	if !(s.MinValid <= s.DefaultValid && s.DefaultValid <= s.MaxValid) {
		return fmt.Errorf("%w: subnet %d: min %s <= default %s <= max %s must hold",
			ErrInvalidSubnet, s.ID, s.MinValid, s.DefaultValid, s.MaxValid)
	}

	for _, p := range s.Pools {
		if !s.Prefix.Contains(p.First()) || !s.Prefix.Contains(p.Last()) {
			return fmt.Errorf("%w: subnet %d: pool %s: %w", ErrInvalidSubnet, s.ID, p, ErrPoolNotInPrefix)
		}
	}

	return nil
}

// ClampLease clamps requested to [MinValid, MaxValid], returning
// DefaultValid if requested is zero.
func (s *Subnet) ClampLease(requested time.Duration) (lease time.Duration) {
	if requested == 0 {
		return s.DefaultValid
	}
	if requested < s.MinValid {
		return s.MinValid
	}
	if requested > s.MaxValid {
		return s.MaxValid
	}
	return requested
}

// Admits reports whether classes satisfies s's class-admission lists,
// per spec.md section 4.4: a non-empty whitelist requires an
// intersection; otherwise a non-empty blacklist forbids one; otherwise
// every class set is admitted.
func (s *Subnet) Admits(classes *container.MapSet[string]) (ok bool) {
	if len(s.Whitelist) > 0 {
		for _, c := range s.Whitelist {
			if classes.Has(c) {
				return true
			}
		}
		return false
	}

	if len(s.Blacklist) > 0 {
		for _, c := range s.Blacklist {
			if classes.Has(c) {
				return false
			}
		}
	}

	return true
}

// SubnetMask returns the subnet's dotted-decimal mask, derived from the
// prefix length.
func (s *Subnet) SubnetMask() (mask netip.Addr) {
	ones := s.Prefix.Bits()

	var b [4]byte
	for i := 0; i < ones; i++ {
		b[i/8] |= 1 << (7 - uint(i%8))
	}

	return netip.AddrFrom4(b)
}
