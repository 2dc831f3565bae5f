package dhcp4wire

import (
	"fmt"
	"strings"
)

// FQDNNameType distinguishes a fully-qualified domain name (one ending in
// the root label) from a partial one, per spec.md section 4.1.
type FQDNNameType uint8

// Valid name types.
const (
	FQDNPartial FQDNNameType = iota
	FQDNFull
)

// FQDN flag bits, RFC 4702 section 2.1.
const (
	FQDNFlagN uint8 = 1 << 3
	FQDNFlagE uint8 = 1 << 2
	FQDNFlagO uint8 = 1 << 1
	FQDNFlagS uint8 = 1 << 0

	fqdnFlagMask = FQDNFlagN | FQDNFlagE | FQDNFlagO | FQDNFlagS
)

// FQDN is the decoded form of DHO_FQDN (option 81): three fixed one-byte
// fields (flags, rcode1, rcode2) followed by a domain name encoded either
// in RFC 1035 canonical form (if FQDNFlagE is set) or as ASCII.
type FQDN struct {
	Name     string
	Flags    uint8
	RCode1   uint8
	RCode2   uint8
	NameType FQDNNameType
}

// fqdnFixedLen is the length of the flags/rcode1/rcode2 fields.
const fqdnFixedLen = 3

// ParseFQDN decodes the payload of a DHO_FQDN option.  It implements
// spec.md section 4.1: canonical form when FQDNFlagE is set (trailing
// zero-length label means FULL, its absence means PARTIAL), otherwise
// ASCII with a trailing dot meaning FULL.
func ParseFQDN(payload []byte) (f FQDN, err error) {
	if len(payload) < fqdnFixedLen {
		return FQDN{}, fmt.Errorf("fqdn: %w", ErrTruncatedOption)
	}

	f.Flags = payload[0]
	f.RCode1 = payload[1]
	f.RCode2 = payload[2]
	rest := payload[fqdnFixedLen:]

	if f.Flags&FQDNFlagE != 0 {
		f.Name, f.NameType, err = parseCanonicalName(rest)
	} else {
		f.Name, f.NameType = parseASCIIName(rest)
	}
	if err != nil {
		return FQDN{}, fmt.Errorf("fqdn: %w: %w", ErrInvalidFQDN, err)
	}

	return f, nil
}

// parseCanonicalName decodes a sequence of length-prefixed labels.  A
// trailing zero-length label marks the name FULL; its absence -- with the
// caller expected to have stripped a synthesized terminator -- marks it
// PARTIAL.
func parseCanonicalName(buf []byte) (name string, typ FQDNNameType, err error) {
	if len(buf) == 0 {
		return "", FQDNPartial, nil
	}

	full := buf[len(buf)-1] == 0
	if !full {
		buf = append(append([]byte{}, buf...), 0)
	}

	var labels []string
	i := 0
	for i < len(buf) {
		n := int(buf[i])
		i++
		if n == 0 {
			break
		}
		if n > 63 || i+n > len(buf) {
			return "", FQDNPartial, fmt.Errorf("label length %d out of range", n)
		}

		labels = append(labels, string(buf[i:i+n]))
		i += n
	}

	name = strings.Join(labels, ".")
	if full {
		name += "."
		return name, FQDNFull, nil
	}

	return name, FQDNPartial, nil
}

// parseASCIIName decodes a plain ASCII (non-canonical) domain name.  A
// trailing dot marks it FULL.
func parseASCIIName(buf []byte) (name string, typ FQDNNameType) {
	name = string(buf)
	if name == "" {
		return "", FQDNPartial
	}

	if strings.HasSuffix(name, ".") {
		return name, FQDNFull
	}

	return name, FQDNPartial
}

// EncodeCanonical encodes name into RFC 1035 canonical wire form: a
// sequence of length-prefixed labels, each at most 63 bytes, terminated by
// a zero-length label for FULL names.  PARTIAL names omit the terminator.
// The total encoded length must not exceed 252 bytes, so that it fits
// in one option payload after the three fixed DHO_FQDN bytes.
func EncodeCanonical(name string, typ FQDNNameType) (buf []byte, err error) {
	trimmed := strings.TrimSuffix(name, ".")

	var labels []string
	if trimmed != "" {
		labels = strings.Split(trimmed, ".")
	}

	for _, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("%w: empty label in %q", ErrInvalidFQDN, name)
		}
		if len(l) > 63 {
			return nil, fmt.Errorf("%w: label %q exceeds 63 bytes", ErrInvalidFQDN, l)
		}

		buf = append(buf, byte(len(l)))
		buf = append(buf, l...)
	}

	if typ == FQDNFull {
		buf = append(buf, 0)
	}

	if len(buf) > MaxOptionPayload-fqdnFixedLen {
		return nil, fmt.Errorf("%w: encoded name too long", ErrInvalidFQDN)
	}

	return buf, nil
}

// Encode serializes f back into the DHO_FQDN wire payload.
func (f FQDN) Encode() (payload []byte, err error) {
	payload = []byte{f.Flags, f.RCode1, f.RCode2}

	var nameBuf []byte
	if f.Flags&FQDNFlagE != 0 {
		nameBuf, err = EncodeCanonical(f.Name, f.NameType)
		if err != nil {
			return nil, err
		}
	} else {
		nameBuf = []byte(f.Name)
	}

	payload = append(payload, nameBuf...)
	if len(payload) > MaxOptionPayload {
		return nil, fmt.Errorf("fqdn: %w", ErrOptionTooLarge)
	}

	return payload, nil
}
