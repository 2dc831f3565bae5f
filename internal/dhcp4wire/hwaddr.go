package dhcp4wire

import "fmt"

// HWAddr is a link-layer hardware address: a link-layer type byte plus a
// variable-length byte string, bounded at [MaxCHAddrLen] bytes (the chaddr
// limit), per spec.md section 3.
type HWAddr struct {
	Addr []byte
	Type uint8
}

// String implements the fmt.Stringer interface for HWAddr.
func (h HWAddr) String() (s string) {
	if len(h.Addr) == 0 {
		return "(no hwaddr)"
	}

	buf := make([]byte, 0, len(h.Addr)*3)
	for i, b := range h.Addr {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = fmt.Appendf(buf, "%02x", b)
	}

	return string(buf)
}

// Equal reports whether h and other have the same type and address bytes.
func (h HWAddr) Equal(other HWAddr) (ok bool) {
	if h.Type != other.Type || len(h.Addr) != len(other.Addr) {
		return false
	}

	for i, b := range h.Addr {
		if other.Addr[i] != b {
			return false
		}
	}

	return true
}

// ClientID is an opaque client identifier, RFC 2132 section 9.14.  Valid
// client identifiers are 2 to 128 bytes long.
type ClientID []byte

// Valid reports whether c falls within the length bounds required by
// spec.md section 3.
func (c ClientID) Valid() (ok bool) {
	return len(c) >= 2 && len(c) <= 128
}

// Equal reports whether c and other hold the same bytes.
func (c ClientID) Equal(other ClientID) (ok bool) {
	if len(c) != len(other) {
		return false
	}

	for i, b := range c {
		if other[i] != b {
			return false
		}
	}

	return true
}

// SameClient reports whether two clients, identified by their optional
// client identifiers and hardware addresses, are the same client per
// spec.md section 3: equal client identifiers, or -- if neither has one --
// equal hardware addresses.
func SameClient(cidA ClientID, hwA HWAddr, cidB ClientID, hwB HWAddr) (ok bool) {
	if len(cidA) > 0 || len(cidB) > 0 {
		return cidA.Equal(cidB)
	}

	return hwA.Equal(hwB)
}
