package subnetcfg

import (
	"net/netip"

	"github.com/AdguardTeam/golibs/container"
)

// Selector carries the inputs to subnet selection, spec.md section 4.4.
type Selector struct {
	// CIAddr, GIAddr, and LocalAddr mirror the packet's corresponding
	// fields and the socket's local address.
	CIAddr    netip.Addr
	GIAddr    netip.Addr
	LocalAddr netip.Addr

	// RemoteAddr is the address the packet arrived from.
	RemoteAddr netip.Addr

	// OptionSelect is derived from option 118 (subnet-selection) or the
	// link-selection RAI sub-option (82/5), if present.
	OptionSelect netip.Addr

	// IfaceName is the name of the interface the packet arrived on.
	IfaceName string

	Classes *container.MapSet[string]
}

// IfaceAddrFunc resolves an interface name to its first usable IPv4
// address, standing in for the raw-socket/interface abstraction this
// module treats as an external collaborator (spec.md section 1).
type IfaceAddrFunc func(iface string) (addr netip.Addr, ok bool)

// Select picks the subnet that best matches sel, following the priority
// order of spec.md section 4.4 / the original SubnetMgr::selectSubnet:
//
//  1. a nonzero OptionSelect picks by prefix-containment alone;
//  2. a nonzero GIAddr prefers an exact relay-binding match, regardless
//     of prefix;
//  3. otherwise derive a candidate address (giaddr, then ciaddr, then
//     remote, then the interface's own address) and pick by
//     prefix-containment, trying interface-bound subnets before
//     prefix-matched ones when falling back to the interface route.
//
// ok is false if no subnet admits sel's classes at any step.
func (r *Registry) Select(sel Selector, ifaceAddr IfaceAddrFunc) (subnet *Subnet, ok bool) {
	if sel.OptionSelect.IsValid() && !sel.OptionSelect.IsUnspecified() {
		return r.selectByAddress(sel.OptionSelect, sel.Classes)
	}

	if sel.GIAddr.IsValid() && !sel.GIAddr.IsUnspecified() {
		for _, s := range r.subnets {
			if s.RelayAddr == sel.GIAddr && s.Admits(sel.Classes) {
				return s, true
			}
		}
	}

	var candidate netip.Addr
	localIsBroadcast := sel.LocalAddr.IsValid() && isBroadcast(sel.LocalAddr)

	switch {
	case sel.GIAddr.IsValid() && !sel.GIAddr.IsUnspecified():
		candidate = sel.GIAddr

	case sel.CIAddr.IsValid() && !sel.CIAddr.IsUnspecified() && !localIsBroadcast:
		candidate = sel.CIAddr

	case sel.RemoteAddr.IsValid() && !sel.RemoteAddr.IsUnspecified() && !localIsBroadcast:
		candidate = sel.RemoteAddr

	case sel.IfaceName != "":
		if s, found := r.selectByIface(sel.IfaceName, sel.Classes); found {
			return s, true
		}
		if ifaceAddr != nil {
			if addr, have := ifaceAddr(sel.IfaceName); have {
				candidate = addr
			}
		}
	}

	if !candidate.IsValid() || candidate.IsUnspecified() {
		return nil, false
	}

	return r.selectByAddress(candidate, sel.Classes)
}

func (r *Registry) selectByIface(iface string, classes *container.MapSet[string]) (subnet *Subnet, ok bool) {
	for _, s := range r.subnets {
		if s.Iface == iface && s.Admits(classes) {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) selectByAddress(addr netip.Addr, classes *container.MapSet[string]) (subnet *Subnet, ok bool) {
	for _, s := range r.subnets {
		if s.Prefix.Contains(addr) && s.Admits(classes) {
			return s, true
		}
	}
	return nil, false
}

// broadcastAddr is the limited broadcast address, 255.255.255.255.
var broadcastAddr = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// isBroadcast reports whether addr is the limited broadcast address.
func isBroadcast(addr netip.Addr) (ok bool) {
	return addr == broadcastAddr
}
