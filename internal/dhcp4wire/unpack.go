package dhcp4wire

import (
	"fmt"
	"net/netip"
)

// Unpack parses buf into a Packet, consulting reg to drive option
// decoding.  It implements the unpack contract of spec.md section 4.1.
func Unpack(buf []byte, reg *Registry) (p *Packet, err error) {
	if len(buf) < MinPacketLen {
		return nil, fmt.Errorf("dhcp4wire: %w", ErrTruncatedHeader)
	}

	p = NewPacket()

	p.Op = buf[0]
	p.HType = buf[1]
	p.HLen = buf[2]
	p.Hops = buf[3]
	p.XID = be32(buf[4:8])
	p.Secs = be16(buf[8:10])
	p.Flags = be16(buf[10:12])
	p.CIAddr = ipv4(buf[12:16])
	p.YIAddr = ipv4(buf[16:20])
	p.SIAddr = ipv4(buf[20:24])
	p.GIAddr = ipv4(buf[24:28])

	chaddr := append([]byte{}, buf[28:44]...)
	p.CHAddr = HWAddr{Type: p.HType, Addr: chaddr}

	p.SName = trimZero(buf[44:108])
	p.File = trimZero(buf[108:236])

	cookie := be32(buf[236:240])
	rest := buf[240:]

	if cookie != MagicCookie {
		if len(rest) == 0 {
			return nil, fmt.Errorf("dhcp4wire: %w", ErrBOOTPNotSupported)
		}
		return nil, fmt.Errorf("dhcp4wire: %w", ErrMissingCookie)
	}

	if err = unpackOptions4(rest, SpaceDHCP4, reg, p.Options); err != nil {
		return nil, err
	}

	return p, nil
}

func be16(b []byte) (v uint16) { return uint16(b[0])<<8 | uint16(b[1]) }

func be32(b []byte) (v uint32) {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func ipv4(b []byte) (a netip.Addr) {
	return netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
}

func trimZero(b []byte) (out []byte) {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return append([]byte{}, b[:i]...)
}

// unpackOptions4 walks a TLV option stream, consulting reg's named space
// for each code, and populates dst.  It mirrors LibDHCP::unpackOptions4:
// PAD is skipped, END stops the scan, and a truncated trailing type or
// length byte silently stops the scan rather than failing -- Postel's
// rule per spec.md section 4.1. A truncated *declared* length (the option
// claims more payload than remains) is the one case that is rejected
// outright, per the TruncatedOption contract.
func unpackOptions4(buf []byte, space string, reg *Registry, dst *OptionSet) (err error) {
	offset := 0
	for offset < len(buf) {
		code := buf[offset]
		offset++

		if code == OptEnd {
			return nil
		}
		if code == OptPad {
			continue
		}

		if offset+1 > len(buf) {
			return nil
		}

		length := int(buf[offset])
		offset++

		if offset+length > len(buf) {
			return fmt.Errorf("dhcp4wire: %w: code %d", ErrTruncatedOption, code)
		}

		payload := buf[offset : offset+length]
		offset += length

		opt, decErr := decodeOption(code, payload, space, reg)
		if decErr != nil {
			return decErr
		}

		dst.Add(opt)
	}

	return nil
}

// decodeOption builds a typed Option for code/payload using reg's
// definition for the given space, falling back to an opaque option if no
// definition exists.
func decodeOption(code uint8, payload []byte, space string, reg *Registry) (opt Option, err error) {
	def, ok := reg.Lookup(space, code)
	if !ok {
		return NewOpaqueOption(code, append([]byte{}, payload...)), nil
	}

	if code == OptFQDN {
		return decodeFQDNOption(code, payload)
	}
	if code == OptVIVCOSuboptions {
		return decodeRecordOption(code, def, payload)
	}
	if code == OptVendorSuboptions {
		return decodeVendorOption(code, payload, reg)
	}
	if code == OptRelayAgentInfo {
		return decodeEncapOption(code, def, payload, reg)
	}

	if def.EncapsulatedSpace != "" {
		return decodeEncapOption(code, def, payload, reg)
	}

	switch def.Type {
	case TypeRecord:
		return decodeRecordOption(code, def, payload)
	default:
		if def.Array {
			return decodeArrayOption(code, def, payload)
		}
		return decodeScalarOption(code, def, payload)
	}
}

func decodeEncapOption(code uint8, def Definition, payload []byte, reg *Registry) (opt Option, err error) {
	sub := NewOptionSet()
	if err = unpackOptions4(payload, def.EncapsulatedSpace, reg, sub); err != nil {
		return Option{}, err
	}

	return Option{
		Code:       code,
		Kind:       ValueOpaque,
		Opaque:     append([]byte{}, payload...),
		EncapSpace: def.EncapsulatedSpace,
		Sub:        sub,
	}, nil
}

// decodeVendorOption handles DHO_VIVSO_SUBOPTIONS (option 125): a 32-bit
// enterprise ID followed by a tuple stream of data-len/option-data pairs,
// recursed into the matching vendor-<id> space, per
// LibDHCP::unpackVendorOptions4.
func decodeVendorOption(code uint8, payload []byte, reg *Registry) (opt Option, err error) {
	if len(payload) < 4 {
		return Option{}, fmt.Errorf("dhcp4wire: %w: vendor option too short", ErrTruncatedOption)
	}

	enterpriseID := be32(payload[:4])
	rest := payload[4:]

	sub := NewOptionSet()
	space := VendorSpaceName(enterpriseID)

	offset := 0
	for offset < len(rest) {
		if offset+1 > len(rest) {
			return Option{}, fmt.Errorf("dhcp4wire: %w: truncated vendor suboption", ErrTruncatedOption)
		}

		subCode := rest[offset]
		offset++

		if offset+1 > len(rest) {
			return Option{}, fmt.Errorf("dhcp4wire: %w: truncated vendor suboption", ErrTruncatedOption)
		}

		subLen := int(rest[offset])
		offset++

		if offset+subLen > len(rest) {
			return Option{}, fmt.Errorf("dhcp4wire: %w: truncated vendor suboption", ErrTruncatedOption)
		}

		subPayload := rest[offset : offset+subLen]
		offset += subLen

		subOpt, decErr := decodeOption(subCode, subPayload, space, reg)
		if decErr != nil {
			return Option{}, decErr
		}

		sub.Add(subOpt)
	}

	return Option{
		Code:       code,
		Kind:       ValueScalar,
		Scalar:     Uint32Field(enterpriseID),
		EncapSpace: space,
		Sub:        sub,
	}, nil
}

func decodeScalarOption(code uint8, def Definition, payload []byte) (opt Option, err error) {
	f, err := decodeField(def.Type, payload)
	if err != nil {
		return Option{}, fmt.Errorf("dhcp4wire: option %d: %w", code, err)
	}
	return NewScalarOption(code, f), nil
}

func decodeArrayOption(code uint8, def Definition, payload []byte) (opt Option, err error) {
	if def.Type == TypeFQDN {
		return decodeFQDNArrayOption(code, payload)
	}

	width, ok := fixedWidth(def.Type)
	if !ok {
		return Option{}, fmt.Errorf("dhcp4wire: option %d: array of %s has no fixed width", code, def.Type)
	}

	var fields []Field
	offset := 0
	for offset+width <= len(payload) {
		f, decErr := decodeField(def.Type, payload[offset:offset+width])
		if decErr != nil {
			return Option{}, fmt.Errorf("dhcp4wire: option %d: %w", code, decErr)
		}
		fields = append(fields, f)
		offset += width
	}
	// A truncated trailing element (offset < len(payload) but not enough
	// for one more fixed-width field) is silently dropped, per spec.md
	// section 4.2.

	return NewArrayOption(code, fields), nil
}

// decodeFQDNArrayOption decodes an array of canonical-form domain names
// (e.g. DHO_DOMAIN_SEARCH), each a sequence of length-prefixed labels
// terminated by a zero-length label, back to back in the payload.  A
// truncated trailing name is silently dropped.
func decodeFQDNArrayOption(code uint8, payload []byte) (opt Option, err error) {
	var fields []Field
	offset := 0

	for offset < len(payload) {
		start := offset
		terminated := false

		for offset < len(payload) {
			n := int(payload[offset])
			offset++
			if n == 0 {
				terminated = true
				break
			}
			if offset+n > len(payload) {
				break
			}
			offset += n
		}

		if !terminated {
			break
		}

		name, typ, decErr := parseCanonicalName(payload[start:offset])
		if decErr != nil {
			return Option{}, fmt.Errorf("dhcp4wire: option %d: %w", code, decErr)
		}

		fields = append(fields, FQDNField(FQDN{Name: name, NameType: typ}))
	}

	return NewArrayOption(code, fields), nil
}

// decodeRecordOption walks a record definition's fields in order.  A
// trailing string/binary/fqdn field absorbs all remaining bytes; every
// other field is fixed-width.  Encapsulated-space parsing (not used by
// any built-in record today) would continue after the fixed fields if
// bytes remained, mirroring OptionCustom::createBuffers.
func decodeRecordOption(code uint8, def Definition, payload []byte) (opt Option, err error) {
	fields := make([]Field, 0, len(def.RecordFields))
	offset := 0

	for i, fd := range def.RecordFields {
		isTail := i == len(def.RecordFields)-1

		if isTail && (fd.Type == TypeString || fd.Type == TypeBinary || fd.Type == TypeFQDN) {
			f, decErr := decodeField(fd.Type, payload[offset:])
			if decErr != nil {
				return Option{}, fmt.Errorf("dhcp4wire: option %d field %q: %w", code, fd.Name, decErr)
			}
			fields = append(fields, f)
			offset = len(payload)
			continue
		}

		width, ok := fixedWidth(fd.Type)
		if !ok {
			return Option{}, fmt.Errorf("dhcp4wire: option %d field %q: unsupported non-tail type %s",
				code, fd.Name, fd.Type)
		}
		if offset+width > len(payload) {
			return Option{}, fmt.Errorf("dhcp4wire: option %d field %q: %w", code, fd.Name, ErrTruncatedOption)
		}

		f, decErr := decodeField(fd.Type, payload[offset:offset+width])
		if decErr != nil {
			return Option{}, fmt.Errorf("dhcp4wire: option %d field %q: %w", code, fd.Name, decErr)
		}
		fields = append(fields, f)
		offset += width
	}

	return NewRecordOption(code, fields), nil
}

// decodeFQDNOption is the dedicated sub-parser for DHO_FQDN, bypassing
// the generic record decoder because the domain name's own encoding
// (canonical vs ASCII) depends on a flag bit within the same option.
func decodeFQDNOption(code uint8, payload []byte) (opt Option, err error) {
	f, err := ParseFQDN(payload)
	if err != nil {
		return Option{}, err
	}
	return NewScalarOption(code, FQDNField(f)), nil
}

// fixedWidth returns the wire width of a fixed-size scalar type. ok is
// false for variable-length types (string, binary, fqdn, record, empty).
func fixedWidth(t ScalarType) (n int, ok bool) {
	switch t {
	case TypeBoolean, TypeInt8, TypeUint8:
		return 1, true
	case TypeInt16, TypeUint16:
		return 2, true
	case TypeInt32, TypeUint32, TypeIPv4Address:
		return 4, true
	default:
		return 0, false
	}
}

func decodeField(t ScalarType, buf []byte) (f Field, err error) {
	switch t {
	case TypeEmpty:
		return Field{Type: TypeEmpty}, nil
	case TypeBoolean:
		if len(buf) != 1 || (buf[0] != 0 && buf[0] != 1) {
			return Field{}, ErrBadBoolean
		}
		return BoolField(buf[0] == 1), nil
	case TypeInt8:
		if len(buf) != 1 {
			return Field{}, fmt.Errorf("%w: want 1 byte, got %d", ErrTruncatedOption, len(buf))
		}
		return Int8Field(int8(buf[0])), nil
	case TypeUint8:
		if len(buf) != 1 {
			return Field{}, fmt.Errorf("%w: want 1 byte, got %d", ErrTruncatedOption, len(buf))
		}
		return Uint8Field(buf[0]), nil
	case TypeInt16:
		if len(buf) != 2 {
			return Field{}, fmt.Errorf("%w: want 2 bytes, got %d", ErrTruncatedOption, len(buf))
		}
		return Int16Field(int16(be16(buf))), nil
	case TypeUint16:
		if len(buf) != 2 {
			return Field{}, fmt.Errorf("%w: want 2 bytes, got %d", ErrTruncatedOption, len(buf))
		}
		return Uint16Field(be16(buf)), nil
	case TypeInt32:
		if len(buf) != 4 {
			return Field{}, fmt.Errorf("%w: want 4 bytes, got %d", ErrTruncatedOption, len(buf))
		}
		return Int32Field(int32(be32(buf))), nil
	case TypeUint32:
		if len(buf) != 4 {
			return Field{}, fmt.Errorf("%w: want 4 bytes, got %d", ErrTruncatedOption, len(buf))
		}
		return Uint32Field(be32(buf)), nil
	case TypeIPv4Address:
		if len(buf) != 4 {
			return Field{}, fmt.Errorf("%w: want 4 bytes, got %d", ErrTruncatedOption, len(buf))
		}
		return IPv4Field(ipv4(buf)), nil
	case TypeString:
		return StringField(string(buf)), nil
	case TypeBinary:
		return BinaryField(append([]byte{}, buf...)), nil
	case TypeFQDN:
		// Bare fqdn-typed fields carry no flags byte; treat them as ASCII
		// per RFC 1035. Whole fqdn arrays are decoded by
		// decodeFQDNArrayOption instead.
		name, typ := parseASCIIName(buf)
		return FQDNField(FQDN{Name: name, NameType: typ}), nil
	default:
		return Field{}, fmt.Errorf("dhcp4wire: cannot decode scalar of type %s", t)
	}
}
