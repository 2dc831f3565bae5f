package dhcp4wire

// StandardDefinitions returns the built-in dhcp4 option space table,
// grounded on the original implementation's OPTION_DEF_PARAMS4 (RFC 2132
// plus the common vendor extensions it carried).  NewStandardRegistry
// loads these into the dhcp4 space at startup.
func StandardDefinitions() (defs []Definition) {
	return []Definition{
		{Name: "subnet-mask", Code: 1, Type: TypeIPv4Address},
		{Name: "time-offset", Code: 2, Type: TypeInt32},
		{Name: "routers", Code: 3, Type: TypeIPv4Address, Array: true},
		{Name: "time-servers", Code: 4, Type: TypeIPv4Address, Array: true},
		{Name: "name-servers", Code: 5, Type: TypeIPv4Address, Array: true},
		{Name: "domain-name-servers", Code: 6, Type: TypeIPv4Address, Array: true},
		{Name: "log-servers", Code: 7, Type: TypeIPv4Address, Array: true},
		{Name: "cookie-servers", Code: 8, Type: TypeIPv4Address, Array: true},
		{Name: "lpr-servers", Code: 9, Type: TypeIPv4Address, Array: true},
		{Name: "impress-servers", Code: 10, Type: TypeIPv4Address, Array: true},
		{Name: "resource-location-servers", Code: 11, Type: TypeIPv4Address, Array: true},
		{Name: "host-name", Code: 12, Type: TypeString},
		{Name: "boot-size", Code: 13, Type: TypeUint16},
		{Name: "merit-dump", Code: 14, Type: TypeString},
		{Name: "domain-name", Code: 15, Type: TypeString},
		{Name: "swap-server", Code: 16, Type: TypeIPv4Address},
		{Name: "root-path", Code: 17, Type: TypeString},
		{Name: "extensions-path", Code: 18, Type: TypeString},
		{Name: "ip-forwarding", Code: 19, Type: TypeBoolean},
		{Name: "non-local-source-routing", Code: 20, Type: TypeBoolean},
		{Name: "policy-filter", Code: 21, Type: TypeIPv4Address, Array: true},
		{Name: "max-dgram-reassembly", Code: 22, Type: TypeUint16},
		{Name: "default-ip-ttl", Code: 23, Type: TypeUint8},
		{Name: "path-mtu-aging-timeout", Code: 24, Type: TypeUint32},
		{Name: "path-mtu-plateau-table", Code: 25, Type: TypeUint16, Array: true},
		{Name: "interface-mtu", Code: 26, Type: TypeUint16},
		{Name: "all-subnets-local", Code: 27, Type: TypeBoolean},
		{Name: "broadcast-address", Code: 28, Type: TypeIPv4Address},
		{Name: "perform-mask-discovery", Code: 29, Type: TypeBoolean},
		{Name: "mask-supplier", Code: 30, Type: TypeBoolean},
		{Name: "router-discovery", Code: 31, Type: TypeBoolean},
		{Name: "router-solicitation-address", Code: 32, Type: TypeIPv4Address},
		{Name: "static-routes", Code: 33, Type: TypeIPv4Address, Array: true},
		{Name: "trailer-encapsulation", Code: 34, Type: TypeBoolean},
		{Name: "arp-cache-timeout", Code: 35, Type: TypeUint32},
		{Name: "ieee802-3-encapsulation", Code: 36, Type: TypeBoolean},
		{Name: "default-tcp-ttl", Code: 37, Type: TypeUint8},
		{Name: "tcp-keepalive-interval", Code: 38, Type: TypeUint32},
		{Name: "tcp-keepalive-garbage", Code: 39, Type: TypeBoolean},
		{Name: "nis-domain", Code: 40, Type: TypeString},
		{Name: "nis-servers", Code: 41, Type: TypeIPv4Address, Array: true},
		{Name: "ntp-servers", Code: 42, Type: TypeIPv4Address, Array: true},
		{Name: "vendor-encapsulated-options", Code: 43, Type: TypeEmpty, EncapsulatedSpace: SpaceVendorEncap},
		{Name: "netbios-name-servers", Code: 44, Type: TypeIPv4Address, Array: true},
		{Name: "netbios-dd-server", Code: 45, Type: TypeIPv4Address, Array: true},
		{Name: "netbios-node-type", Code: 46, Type: TypeUint8},
		{Name: "netbios-scope", Code: 47, Type: TypeString},
		{Name: "font-servers", Code: 48, Type: TypeIPv4Address, Array: true},
		{Name: "x-display-manager", Code: 49, Type: TypeIPv4Address, Array: true},
		{Name: "dhcp-requested-address", Code: 50, Type: TypeIPv4Address},
		{Name: "dhcp-lease-time", Code: 51, Type: TypeUint32},
		{Name: "dhcp-option-overload", Code: 52, Type: TypeUint8},
		{Name: "dhcp-message-type", Code: 53, Type: TypeUint8},
		{Name: "dhcp-server-identifier", Code: 54, Type: TypeIPv4Address},
		{Name: "dhcp-parameter-request-list", Code: 55, Type: TypeUint8, Array: true},
		{Name: "dhcp-message", Code: 56, Type: TypeString},
		{Name: "dhcp-max-message-size", Code: 57, Type: TypeUint16},
		{Name: "dhcp-renewal-time", Code: 58, Type: TypeUint32},
		{Name: "dhcp-rebinding-time", Code: 59, Type: TypeUint32},
		{Name: "vendor-class-identifier", Code: 60, Type: TypeString},
		{Name: "dhcp-client-identifier", Code: 61, Type: TypeBinary},
		{Name: "nwip-domain-name", Code: 62, Type: TypeString},
		{Name: "nwip-suboptions", Code: 63, Type: TypeBinary},
		{Name: "nisplus-domain-name", Code: 64, Type: TypeString},
		{Name: "nisplus-servers", Code: 65, Type: TypeIPv4Address, Array: true},
		{Name: "tftp-server-name", Code: 66, Type: TypeString},
		{Name: "boot-file-name", Code: 67, Type: TypeString},
		{Name: "mobile-ip-home-agent", Code: 68, Type: TypeIPv4Address, Array: true},
		{Name: "smtp-server", Code: 69, Type: TypeIPv4Address, Array: true},
		{Name: "pop-server", Code: 70, Type: TypeIPv4Address, Array: true},
		{Name: "nntp-server", Code: 71, Type: TypeIPv4Address, Array: true},
		{Name: "www-server", Code: 72, Type: TypeIPv4Address, Array: true},
		{Name: "finger-server", Code: 73, Type: TypeIPv4Address, Array: true},
		{Name: "irc-server", Code: 74, Type: TypeIPv4Address, Array: true},
		{Name: "streettalk-server", Code: 75, Type: TypeIPv4Address, Array: true},
		{Name: "streettalk-directory-assistance-server", Code: 76, Type: TypeIPv4Address, Array: true},
		{Name: "user-class", Code: 77, Type: TypeBinary},
		{
			Name: "fqdn", Code: OptFQDN, Type: TypeRecord,
			RecordFields: []FieldDef{
				{Name: "flags", Type: TypeUint8},
				{Name: "rcode1", Type: TypeUint8},
				{Name: "rcode2", Type: TypeUint8},
				{Name: "domain-name", Type: TypeFQDN},
			},
		},
		{Name: "dhcp-agent-options", Code: OptRelayAgentInfo, Type: TypeEmpty, EncapsulatedSpace: SpaceAgentOptions},
		{Name: "authenticate", Code: 90, Type: TypeBinary},
		{Name: "client-last-transaction-time", Code: 91, Type: TypeUint32},
		{Name: "associated-ip", Code: 92, Type: TypeIPv4Address, Array: true},
		{Name: "client-system", Code: 93, Type: TypeUint16, Array: true},
		{
			Name: "client-ndi", Code: 94, Type: TypeRecord,
			RecordFields: []FieldDef{
				{Name: "type", Type: TypeUint8},
				{Name: "major", Type: TypeUint8},
				{Name: "minor", Type: TypeUint8},
			},
		},
		{
			Name: "uuid-guid", Code: 97, Type: TypeRecord,
			RecordFields: []FieldDef{
				{Name: "type", Type: TypeUint8},
				{Name: "uuid", Type: TypeBinary},
			},
		},
		{Name: "subnet-selection", Code: OptSubnetSelection, Type: TypeIPv4Address},
		{Name: "domain-search", Code: 119, Type: TypeFQDN, Array: true},
		{
			Name: "vivco-suboptions", Code: 124, Type: TypeRecord,
			RecordFields: []FieldDef{
				{Name: "enterprise-id", Type: TypeUint32},
				{Name: "data", Type: TypeBinary},
			},
		},
		{Name: "vivso-suboptions", Code: OptVendorSuboptions, Type: TypeUint32},
	}
}

// AgentOptionDefinitions returns the built-in dhcp-agent-options-space
// table: the relay agent information (option 82) sub-options, per RFC
// 3046.
func AgentOptionDefinitions() (defs []Definition) {
	return []Definition{
		{Name: "circuit-id", Code: RAICircuitID, Type: TypeBinary},
		{Name: "remote-id", Code: RAIRemoteID, Type: TypeBinary},
		{Name: "link-selection", Code: RAILinkSelection, Type: TypeIPv4Address},
	}
}
