package dhcp4wire

import (
	"fmt"
	"net/netip"
	"sort"
)

// Pack serializes p to its wire form.  It implements the pack contract of
// spec.md section 4.1: options are emitted in ascending code order except
// that option 82 (Relay Agent Info) and option 255 (END) are always moved
// to the tail, in that relative order.
func Pack(p *Packet) (buf []byte, err error) {
	buf = make([]byte, 0, MinPacketLen+64)

	buf = append(buf, p.Op, p.HType, p.HLen, p.Hops)
	buf = appendBE32(buf, p.XID)
	buf = appendBE16(buf, p.Secs)
	buf = appendBE16(buf, p.Flags)
	buf = append(buf, addr4(p.CIAddr)...)
	buf = append(buf, addr4(p.YIAddr)...)
	buf = append(buf, addr4(p.SIAddr)...)
	buf = append(buf, addr4(p.GIAddr)...)

	chaddr := make([]byte, MaxCHAddrLen)
	copy(chaddr, p.CHAddr.Addr)
	buf = append(buf, chaddr...)

	buf = append(buf, padTo(p.SName, MaxSNameLen)...)
	buf = append(buf, padTo(p.File, MaxFileLen)...)

	buf = appendBE32(buf, MagicCookie)

	optBuf, err := packOptions4(p.Options.All())
	if err != nil {
		return nil, err
	}
	buf = append(buf, optBuf...)
	buf = append(buf, OptEnd)

	return buf, nil
}

func appendBE16(buf []byte, v uint16) (out []byte) {
	return append(buf, byte(v>>8), byte(v))
}

func appendBE32(buf []byte, v uint32) (out []byte) {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func addr4(a netip.Addr) (b []byte) {
	if !a.Is4() {
		return make([]byte, 4)
	}
	v := a.As4()
	return v[:]
}

func padTo(src []byte, n int) (dst []byte) {
	dst = make([]byte, n)
	copy(dst, src)
	return dst
}

// packOptions4 serializes every option except DHO_DHCP_AGENT_OPTIONS and
// DHO_END in ascending code order, then DHO_DHCP_AGENT_OPTIONS if present,
// mirroring LibDHCP::packOptions4. The caller appends the END byte.
func packOptions4(opts []Option) (buf []byte, err error) {
	sorted := append([]Option{}, opts...)
	sort.SliceStable(sorted, func(i, j int) (less bool) { return sorted[i].Code < sorted[j].Code })

	var agent *Option
	for i := range sorted {
		o := sorted[i]
		switch o.Code {
		case OptRelayAgentInfo:
			agent = &sorted[i]
		case OptEnd:
			// Dropped: Pack always appends its own END byte.
		default:
			if buf, err = packOption(buf, o); err != nil {
				return nil, err
			}
		}
	}

	if agent != nil {
		if buf, err = packOption(buf, *agent); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// packOption serializes a single option as type, length, payload,
// recursing into Sub if present.
func packOption(buf []byte, o Option) (out []byte, err error) {
	payload, err := encodeOptionPayload(o)
	if err != nil {
		return nil, err
	}

	if len(payload) > MaxOptionPayload {
		return nil, fmt.Errorf("dhcp4wire: option %d: %w", o.Code, ErrOptionTooLarge)
	}

	buf = append(buf, o.Code, byte(len(payload)))
	buf = append(buf, payload...)

	return buf, nil
}

// encodeOptionPayload serializes just the payload bytes (not the
// type/length header) for o, including any nested sub-options.
func encodeOptionPayload(o Option) (payload []byte, err error) {
	switch o.Kind {
	case ValueOpaque:
		payload = append([]byte{}, o.Opaque...)
		if o.Sub != nil && o.Sub.Len() > 0 {
			payload, err = packOptions4(o.Sub.All())
			if err != nil {
				return nil, err
			}
		}
		return payload, nil

	case ValueScalar:
		if o.Code == OptVendorSuboptions && o.Sub != nil {
			return encodeVendorSuboptions(o)
		}

		b, fErr := o.Scalar.Encode()
		if fErr != nil {
			return nil, fmt.Errorf("dhcp4wire: option %d: %w", o.Code, fErr)
		}
		return b, nil

	case ValueArray:
		for _, f := range o.Array {
			b, fErr := f.Encode()
			if fErr != nil {
				return nil, fmt.Errorf("dhcp4wire: option %d: %w", o.Code, fErr)
			}
			payload = append(payload, b...)
		}
		return payload, nil

	case ValueRecord:
		for _, f := range o.Record {
			b, fErr := f.Encode()
			if fErr != nil {
				return nil, fmt.Errorf("dhcp4wire: option %d: %w", o.Code, fErr)
			}
			payload = append(payload, b...)
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("dhcp4wire: option %d: cannot encode value kind %d", o.Code, o.Kind)
	}
}

// encodeVendorSuboptions serializes DHO_VIVSO_SUBOPTIONS: a 32-bit
// enterprise number (carried in o.Scalar) followed by the enterprise's
// sub-options in type/length/value form, per
// LibDHCP::packOptions4/unpackVendorOptions4's wire shape.
func encodeVendorSuboptions(o Option) (payload []byte, err error) {
	payload = appendBE32(nil, uint32(o.Scalar.Uint))

	subs, subErr := packOptions4(o.Sub.All())
	if subErr != nil {
		return nil, subErr
	}

	payload = append(payload, subs...)

	return payload, nil
}
