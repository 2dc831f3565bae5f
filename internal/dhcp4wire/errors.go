// Package dhcp4wire implements the DHCPv4 wire codec: the fixed-header and
// TLV option parsing and serialization described by RFC 2131 and RFC 2132,
// driven by a definition-driven, user-extensible option registry.
package dhcp4wire

import "github.com/AdguardTeam/golibs/errors"

// Sentinel decode errors.  All of them indicate the packet should be
// silently dropped; none of them are fatal to the process.
const (
	// ErrTruncatedHeader means the buffer is shorter than the fixed DHCPv4
	// header plus magic cookie.
	ErrTruncatedHeader errors.Error = "truncated dhcpv4 header"

	// ErrMissingCookie means the four bytes following the fixed header
	// aren't the DHCP magic cookie and more bytes follow them.
	ErrMissingCookie errors.Error = "missing dhcp magic cookie"

	// ErrBOOTPNotSupported means the four bytes following the fixed header
	// aren't the DHCP magic cookie and nothing follows them, i.e. it's a
	// bare BOOTP packet.
	ErrBOOTPNotSupported errors.Error = "bootp is not supported"

	// ErrTruncatedOption means an option's declared length runs past the
	// end of the buffer.
	ErrTruncatedOption errors.Error = "truncated dhcpv4 option"

	// ErrOptionTooLarge means a packed option's payload (own data plus any
	// packed sub-options) would exceed 255 bytes.
	ErrOptionTooLarge errors.Error = "dhcpv4 option payload exceeds 255 bytes"

	// ErrInvalidFQDN means a DHO_FQDN domain-name could not be parsed in
	// either its canonical or ASCII form.
	ErrInvalidFQDN errors.Error = "invalid fqdn option encoding"

	// ErrBadBootpType means DHCPTypeToBootpType was given a message type it
	// doesn't recognize.
	ErrBadBootpType errors.Error = "unrecognized dhcp message type"

	// ErrBadBoolean means a boolean-typed option carried a byte other than
	// 0 or 1.
	ErrBadBoolean errors.Error = "invalid boolean option value"
)
