package classify

import (
	"strings"

	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
)

// VendorClassPrefix prefixes every class tag derived from option 60.
const VendorClassPrefix = "VENDOR_CLASS_"

// Well-known cable-modem vendor-class-identifier substrings, normalized
// to a fixed tag regardless of any surrounding vendor-specific suffix,
// grounded on Dhcpv4Srv::classifyByVendor.
const (
	docsis3Modem   = "docsis3.0"
	docsis3ERouter = "eRouter1.0"
)

// VendorClassTag derives the class tag for a packet's DHO_VENDOR_CLASS_IDENTIFIER
// (option 60) value, if any.  ok is false if the packet carries no such
// option.
func VendorClassTag(pkt *dhcp4wire.Packet) (tag string, ok bool) {
	opt, present := pkt.Options.Get(dhcp4wire.OptVendorClassIdentifier)
	if !present {
		return "", false
	}

	value := string(opt.AsBytes())

	switch {
	case strings.Contains(value, docsis3Modem):
		return VendorClassPrefix + docsis3Modem, true
	case strings.Contains(value, docsis3ERouter):
		return VendorClassPrefix + docsis3ERouter, true
	default:
		return VendorClassPrefix + value, true
	}
}
