package classify_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdnscloud/dhcp4-slave/internal/classify"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
)

func testPacket(t *testing.T) (pkt *dhcp4wire.Packet) {
	t.Helper()

	pkt = dhcp4wire.NewPacket()
	pkt.SetType(dhcp4wire.MsgDiscover)
	pkt.Options.Add(dhcp4wire.NewScalarOption(dhcp4wire.OptRequestedIPAddress,
		dhcp4wire.IPv4Field(netip.MustParseAddr("2.2.2.2"))))

	return pkt
}

func compile(t *testing.T, src string) (m classify.Matcher) {
	t.Helper()

	reg := dhcp4wire.NewStandardRegistry()
	m, err := classify.Compile(src, "test.conf", reg)
	require.NoError(t, err)

	return m
}

func TestCompile_OptionValueMatcher(t *testing.T) {
	pkt := testPacket(t)

	assert.False(t, compile(t, `option dhcp-requested-address == "1.1.1.1"`)(pkt))
	assert.True(t, compile(t, `option dhcp-requested-address != "1.1.1.1"`)(pkt))
	assert.True(t, compile(t, `option dhcp-requested-address == "2.2.2.2"`)(pkt))
	assert.True(t, compile(t, `option[50] == "2.2.2.2"`)(pkt))
}

func TestCompile_ExistsMatcher(t *testing.T) {
	pkt := testPacket(t)

	assert.False(t, compile(t, `!exists option dhcp-requested-address`)(pkt))
	assert.True(t, compile(t, `exists option dhcp-requested-address`)(pkt))
}

func TestCompile_SubstringMatcher(t *testing.T) {
	pkt := testPacket(t)

	assert.False(t, compile(t, `substring(option[50],0,4) != "2.2."`)(pkt))
	assert.True(t, compile(t, `substring(option dhcp-requested-address,0, 4) == "2.2."`)(pkt))
	assert.False(t, compile(t, `substring(option dhcp-requested-address,0, 4) == "1.2."`)(pkt))
}

func TestCompile_AndOr(t *testing.T) {
	pkt := testPacket(t)

	assert.False(t, compile(t,
		`substring(option dhcp-requested-address, 0, 4) != "2.2." && option dhcp-requested-address == "2.2.2.2"`,
	)(pkt))
	assert.True(t, compile(t,
		`substring(option dhcp-requested-address, 0, 4) != "2.2." || option dhcp-requested-address == "2.2.2.2"`,
	)(pkt))
	assert.True(t, compile(t,
		`substring(option[50], 0, 4) == "2.2." && option dhcp-requested-address == "2.2.2.2" && exists option dhcp-requested-address`,
	)(pkt))
}

func TestCompile_Brackets(t *testing.T) {
	pkt := testPacket(t)

	assert.True(t, compile(t,
		`substring(option dhcp-requested-address, 0, 4) != "2.2." && option dhcp-requested-address != "2.2.2.2" || exists option dhcp-requested-address`,
	)(pkt))
	assert.True(t, compile(t,
		`substring(option dhcp-requested-address, 0, 4) != "2.2." && (option dhcp-requested-address != "2.2.2.2" || exists option dhcp-requested-address)`,
	)(pkt))
}

func TestCompile_MalformedStringLiteral(t *testing.T) {
	reg := dhcp4wire.NewStandardRegistry()
	_, err := classify.Compile(`option dhcp-requested-address == "unterminated`, "", reg)
	assert.ErrorIs(t, err, classify.ErrStringLiteralFormat)
}

func TestCompile_UnknownOptionName(t *testing.T) {
	reg := dhcp4wire.NewStandardRegistry()
	_, err := classify.Compile(`option not-a-real-option == "x"`, "", reg)
	assert.ErrorIs(t, err, classify.ErrParse)
}

func TestVendorClassTag(t *testing.T) {
	pkt := dhcp4wire.NewPacket()
	pkt.Options.Add(dhcp4wire.NewScalarOption(dhcp4wire.OptVendorClassIdentifier,
		dhcp4wire.StringField("docsis3.0")))

	tag, ok := classify.VendorClassTag(pkt)
	require.True(t, ok)
	assert.Equal(t, "VENDOR_CLASS_docsis3.0", tag)

	pkt2 := dhcp4wire.NewPacket()
	pkt2.Options.Add(dhcp4wire.NewScalarOption(dhcp4wire.OptVendorClassIdentifier,
		dhcp4wire.StringField("acme-cpe-v1")))

	tag2, ok := classify.VendorClassTag(pkt2)
	require.True(t, ok)
	assert.Equal(t, "VENDOR_CLASS_acme-cpe-v1", tag2)
}
