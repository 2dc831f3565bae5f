package dhcp4wire

import "net/netip"

// Packet is the in-memory representation of a parsed DHCPv4 message: the
// fixed header fields plus an ordered multimap of options.  It replaces
// the original Pkt4 class; the options multimap is an [OptionSet] rather
// than an intrusive collection, so a Packet never aliases into its own
// option storage.
type Packet struct {
	Options *OptionSet

	SName []byte
	File  []byte

	CHAddr HWAddr

	CIAddr netip.Addr
	YIAddr netip.Addr
	SIAddr netip.Addr
	GIAddr netip.Addr

	Op    uint8
	HType uint8
	HLen  uint8
	Hops  uint8
	XID   uint32
	Secs  uint16
	Flags uint16
}

// NewPacket returns a Packet with an initialized, empty option set.
func NewPacket() (p *Packet) {
	return &Packet{Options: NewOptionSet()}
}

// Broadcast reports whether the broadcast flag bit is set.
func (p *Packet) Broadcast() (ok bool) {
	return p.Flags&FlagBroadcast != 0
}

// SetBroadcast sets or clears the broadcast flag bit.
func (p *Packet) SetBroadcast(b bool) {
	if b {
		p.Flags |= FlagBroadcast
	} else {
		p.Flags &^= FlagBroadcast
	}
}

// Type returns the message type carried in option 53.  ok is false if the
// option is absent, empty, or not scalar uint8.
func (p *Packet) Type() (t MsgType, ok bool) {
	opt, present := p.Options.Get(OptMessageType)
	if !present || opt.Kind != ValueScalar || opt.Scalar.Type != TypeUint8 {
		return MsgNone, false
	}
	return MsgType(opt.Scalar.Uint), true
}

// SetType overwrites option 53 with t.
func (p *Packet) SetType(t MsgType) {
	p.Options.Set(NewScalarOption(OptMessageType, Uint8Field(uint8(t))))
}

// ClientID returns the DHO_DHCP_CLIENT_IDENTIFIER option's payload, if
// present.
func (p *Packet) ClientID() (cid ClientID, ok bool) {
	opt, present := p.Options.Get(OptClientIdentifier)
	if !present {
		return nil, false
	}
	return ClientID(opt.AsBytes()), true
}

// HWAddrValue returns the packet's hardware address, built from htype and
// the first hlen bytes of chaddr.
func (p *Packet) HWAddrValue() (hw HWAddr) {
	n := int(p.HLen)
	if n > len(p.CHAddr.Addr) {
		n = len(p.CHAddr.Addr)
	}
	return HWAddr{Type: p.HType, Addr: p.CHAddr.Addr[:n]}
}
