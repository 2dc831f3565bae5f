package dhcp4wire_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
)

func TestPackUnpack_RoundTrip(t *testing.T) {
	reg := dhcp4wire.NewStandardRegistry()

	p := dhcp4wire.NewPacket()
	p.Op = dhcp4wire.BootRequest
	p.HType = 1
	p.HLen = 6
	p.XID = 0xdeadbeef
	p.CHAddr = dhcp4wire.HWAddr{Type: 1, Addr: []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}}
	p.CIAddr = netip.MustParseAddr("0.0.0.0")
	p.SetType(dhcp4wire.MsgDiscover)
	p.Options.Add(dhcp4wire.NewScalarOption(dhcp4wire.OptRequestedIPAddress,
		dhcp4wire.IPv4Field(netip.MustParseAddr("192.0.2.10"))))
	p.Options.Add(dhcp4wire.NewArrayOption(dhcp4wire.OptParameterRequestList, []dhcp4wire.Field{
		dhcp4wire.Uint8Field(dhcp4wire.OptSubnetMask),
		dhcp4wire.Uint8Field(dhcp4wire.OptRouters),
	}))

	buf, err := dhcp4wire.Pack(p)
	require.NoError(t, err)

	got, err := dhcp4wire.Unpack(buf, reg)
	require.NoError(t, err)

	assert.Equal(t, p.XID, got.XID)
	assert.Equal(t, p.HLen, got.HLen)
	assert.True(t, p.CHAddr.Equal(got.HWAddrValue()))

	gotType, ok := got.Type()
	require.True(t, ok)
	assert.Equal(t, dhcp4wire.MsgDiscover, gotType)

	reqIP, ok := got.Options.Get(dhcp4wire.OptRequestedIPAddress)
	require.True(t, ok)
	ip, ok := reqIP.AsIPv4()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.10", ip.String())
}

func TestUnpack_TruncatedHeader(t *testing.T) {
	reg := dhcp4wire.NewStandardRegistry()
	_, err := dhcp4wire.Unpack(make([]byte, 100), reg)
	assert.ErrorIs(t, err, dhcp4wire.ErrTruncatedHeader)
}

func TestUnpack_MissingCookie(t *testing.T) {
	reg := dhcp4wire.NewStandardRegistry()
	buf := make([]byte, dhcp4wire.MinPacketLen)
	_, err := dhcp4wire.Unpack(buf, reg)
	assert.ErrorIs(t, err, dhcp4wire.ErrBOOTPNotSupported)

	buf[236], buf[237], buf[238], buf[239] = 0x01, 0x02, 0x03, 0x04
	buf = append(buf, 0x00)
	_, err = dhcp4wire.Unpack(buf, reg)
	assert.ErrorIs(t, err, dhcp4wire.ErrMissingCookie)
}

func TestPack_OptionOrderingAndTail(t *testing.T) {
	reg := dhcp4wire.NewStandardRegistry()

	p := dhcp4wire.NewPacket()
	p.HLen = 6
	p.SetType(dhcp4wire.MsgOffer)

	rai := dhcp4wire.NewOptionSet()
	rai.Add(dhcp4wire.NewScalarOption(dhcp4wire.RAICircuitID, dhcp4wire.BinaryField([]byte("eth0"))))
	p.Options.Add(dhcp4wire.Option{
		Code:       dhcp4wire.OptRelayAgentInfo,
		Kind:       dhcp4wire.ValueOpaque,
		EncapSpace: dhcp4wire.SpaceAgentOptions,
		Sub:        rai,
	})
	p.Options.Add(dhcp4wire.NewScalarOption(dhcp4wire.OptSubnetMask,
		dhcp4wire.IPv4Field(netip.MustParseAddr("255.255.255.0"))))

	buf, err := dhcp4wire.Pack(p)
	require.NoError(t, err)

	got, err := dhcp4wire.Unpack(buf, reg)
	require.NoError(t, err)

	all := got.Options.All()
	require.Len(t, all, 3)
	assert.Equal(t, uint8(dhcp4wire.OptSubnetMask), all[0].Code)
	assert.Equal(t, uint8(dhcp4wire.OptMessageType), all[1].Code)
	assert.Equal(t, uint8(dhcp4wire.OptRelayAgentInfo), all[2].Code)
}

func TestIsStandardOption(t *testing.T) {
	assert.False(t, dhcp4wire.IsStandardOption(84))
	assert.False(t, dhcp4wire.IsStandardOption(96))
	assert.False(t, dhcp4wire.IsStandardOption(105))
	assert.False(t, dhcp4wire.IsStandardOption(222))
	assert.True(t, dhcp4wire.IsStandardOption(1))
	assert.False(t, dhcp4wire.IsStandardOption(254))
	assert.True(t, dhcp4wire.IsStandardOption(255))
}

func TestFQDN_CanonicalRoundTrip(t *testing.T) {
	buf, err := dhcp4wire.EncodeCanonical("host.example.com.", dhcp4wire.FQDNFull)
	require.NoError(t, err)

	f := dhcp4wire.FQDN{Flags: dhcp4wire.FQDNFlagE, Name: "host.example.com.", NameType: dhcp4wire.FQDNFull}
	encoded, err := f.Encode()
	require.NoError(t, err)
	assert.Equal(t, append([]byte{dhcp4wire.FQDNFlagE, 0, 0}, buf...), encoded)

	decoded, err := dhcp4wire.ParseFQDN(encoded)
	require.NoError(t, err)
	assert.Equal(t, "host.example.com.", decoded.Name)
	assert.Equal(t, dhcp4wire.FQDNFull, decoded.NameType)
}

func TestFQDN_ASCIIPartial(t *testing.T) {
	payload := append([]byte{0, 0, 0}, []byte("host.example.com")...)
	decoded, err := dhcp4wire.ParseFQDN(payload)
	require.NoError(t, err)
	assert.Equal(t, "host.example.com", decoded.Name)
	assert.Equal(t, dhcp4wire.FQDNPartial, decoded.NameType)
}

func TestSameClient(t *testing.T) {
	hwA := dhcp4wire.HWAddr{Type: 1, Addr: []byte{1, 2, 3}}
	hwB := dhcp4wire.HWAddr{Type: 1, Addr: []byte{4, 5, 6}}

	assert.True(t, dhcp4wire.SameClient(nil, hwA, nil, hwA))
	assert.False(t, dhcp4wire.SameClient(nil, hwA, nil, hwB))
	assert.True(t, dhcp4wire.SameClient(dhcp4wire.ClientID("abc"), hwA, dhcp4wire.ClientID("abc"), hwB))
	assert.False(t, dhcp4wire.SameClient(dhcp4wire.ClientID("abc"), hwA, dhcp4wire.ClientID("xyz"), hwB))
}
