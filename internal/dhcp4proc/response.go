package dhcp4proc

import (
	"net/netip"
	"time"

	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
	"github.com/zdnscloud/dhcp4-slave/internal/subnetcfg"
)

// secondsToDuration converts a wire lease-time value (whole seconds) to a
// time.Duration.
func secondsToDuration(s uint32) (d time.Duration) {
	return time.Duration(s) * time.Second
}

// initResponse builds the shell of a response packet for query: the
// message type implied by query's type, the echoed transaction ID and
// relay-chain fields, and the default-echoed options (client
// identifier, Relay Agent Info, subnet-selection), per
// response_gen.cpp's initResponse.
func initResponse(query *dhcp4wire.Packet) (resp *dhcp4wire.Packet) {
	queryType, _ := query.Type()

	respType := dhcp4wire.MsgAck
	if queryType == dhcp4wire.MsgDiscover {
		respType = dhcp4wire.MsgOffer
	}

	resp = dhcp4wire.NewPacket()
	resp.SetType(respType)
	resp.XID = query.XID
	resp.Hops = query.Hops
	resp.CHAddr = query.CHAddr
	resp.HType = query.HType
	resp.HLen = query.HLen
	resp.GIAddr = query.GIAddr
	resp.Flags = query.Flags

	if clientID, ok := query.Options.Get(dhcp4wire.OptClientIdentifier); ok {
		resp.Options.Add(clientID)
	}
	if rai, ok := query.Options.Get(dhcp4wire.OptRelayAgentInfo); ok {
		resp.Options.Add(rai)
	}
	if subnetSel, ok := query.Options.Get(dhcp4wire.OptSubnetSelection); ok {
		resp.Options.Add(subnetSel)
	}

	return resp
}

// appendBasicOptions sets siaddr/ciaddr and the lease-timer, subnet-mask,
// and subnet-configured required options on resp, per
// response_gen.cpp's appendBasicOptions.
func appendBasicOptions(query, resp *dhcp4wire.Packet, subnet *subnetcfg.Subnet) {
	queryType, _ := query.Type()

	resp.SIAddr = subnet.SIAddr
	if queryType != dhcp4wire.MsgDiscover {
		resp.CIAddr = query.CIAddr
	}

	if queryType != dhcp4wire.MsgInform {
		requested := subnet.DefaultValid
		if opt, ok := query.Options.Get(dhcp4wire.OptLeaseTime); ok {
			if v, vOK := opt.AsUint32(); vOK {
				requested = secondsToDuration(v)
			}
		}

		validLft := subnet.ClampLease(requested)
		validSecs := uint32(validLft.Seconds())

		resp.Options.Add(dhcp4wire.NewScalarOption(dhcp4wire.OptLeaseTime, dhcp4wire.Uint32Field(validSecs)))

		if subnet.T1 != 0 {
			resp.Options.Add(dhcp4wire.NewScalarOption(dhcp4wire.OptRenewalTime, dhcp4wire.Uint32Field(validSecs/2)))
		}
		if subnet.T2 != 0 {
			resp.Options.Add(dhcp4wire.NewScalarOption(dhcp4wire.OptRebindingTime, dhcp4wire.Uint32Field(validSecs*3/4)))
		}
	}

	mask := subnet.SubnetMask()
	resp.Options.Add(dhcp4wire.NewScalarOption(dhcp4wire.OptSubnetMask, dhcp4wire.IPv4Field(mask)))

	requiredOptions := []uint8{
		dhcp4wire.OptRouters,
		dhcp4wire.OptDomainNameServers,
		dhcp4wire.OptDomainName,
		dhcp4wire.OptVendorClassIdentifier,
	}

	for _, code := range requiredOptions {
		if resp.Options.Has(code) {
			continue
		}
		if opt, ok := subnet.OptionData[code]; ok {
			resp.Options.Add(opt)
		}
	}
}

// appendRequestedOptions appends the subnet's configured option data for
// every code the client requested via option 55
// (DHO_DHCP_PARAMETER_REQUEST_LIST), in the order requested, skipping
// codes already present in resp, per response_gen.cpp's
// appendRequestedOptions.
func appendRequestedOptions(query, resp *dhcp4wire.Packet, subnet *subnetcfg.Subnet) {
	prl, ok := query.Options.Get(dhcp4wire.OptParameterRequestList)
	if !ok {
		return
	}

	for _, field := range prl.Array {
		if field.Type != dhcp4wire.TypeUint8 {
			continue
		}
		code := uint8(field.Uint)

		if resp.Options.Has(code) {
			continue
		}
		if opt, dataOK := subnet.OptionData[code]; dataOK {
			resp.Options.Add(opt)
		}
	}
}

// adjustDestination computes resp's remote address (and, for a relayed
// INFORM without ciaddr, the broadcast flag), per response_gen.cpp's
// adjustRemoteAddr / spec.md section 4.5 "Destination address".
func adjustDestination(query, resp *dhcp4wire.Packet, meta RequestMeta) (remote netip.Addr) {
	queryType, _ := query.Type()
	respType, _ := resp.Type()
	relayed := query.GIAddr.IsValid() && !query.GIAddr.IsUnspecified()

	if queryType == dhcp4wire.MsgInform {
		switch {
		case query.CIAddr.IsValid() && !query.CIAddr.IsUnspecified():
			return query.CIAddr
		case relayed:
			resp.SetBroadcast(true)
			return query.GIAddr
		default:
			return meta.RemoteAddr
		}
	}

	switch {
	case relayed:
		return query.GIAddr
	case query.CIAddr.IsValid() && !query.CIAddr.IsUnspecified():
		return query.CIAddr
	case respType == dhcp4wire.MsgNak:
		return netip.AddrFrom4([4]byte{255, 255, 255, 255})
	case resp.YIAddr.IsValid() && !resp.YIAddr.IsUnspecified():
		if !meta.DirectResponseSupported || query.Broadcast() {
			return netip.AddrFrom4([4]byte{255, 255, 255, 255})
		}
		return resp.YIAddr
	default:
		return meta.RemoteAddr
	}
}

// appendIfaceData finishes resp: destination address, remote port
// (server port when relayed, else client port), and the server
// identifier option, per response_gen.cpp's appendIfaceData.
func appendIfaceData(query, resp *dhcp4wire.Packet, meta RequestMeta) (remote netip.Addr, remotePort uint16) {
	remote = adjustDestination(query, resp, meta)

	relayed := query.GIAddr.IsValid() && !query.GIAddr.IsUnspecified()
	remotePort = dhcp4wire.ClientPort
	if relayed {
		remotePort = dhcp4wire.ServerPort
	}

	resp.Options.Add(dhcp4wire.NewScalarOption(
		dhcp4wire.OptServerIdentifier,
		dhcp4wire.IPv4Field(meta.LocalAddr),
	))

	return remote, remotePort
}

// genNakResponse builds a NAK response to query.
func genNakResponse(query *dhcp4wire.Packet, meta RequestMeta) (resp *dhcp4wire.Packet, remote netip.Addr, remotePort uint16) {
	resp = initResponse(query)
	resp.SetType(dhcp4wire.MsgNak)
	resp.YIAddr = netip.Addr{}

	remote, remotePort = appendIfaceData(query, resp, meta)

	return resp, remote, remotePort
}

// genAckResponse builds an OFFER/ACK response to query carrying addr as
// the offered/granted address.
func genAckResponse(
	query *dhcp4wire.Packet,
	addr netip.Addr,
	subnet *subnetcfg.Subnet,
	meta RequestMeta,
) (resp *dhcp4wire.Packet, remote netip.Addr, remotePort uint16) {
	resp = initResponse(query)
	resp.YIAddr = addr

	appendBasicOptions(query, resp, subnet)
	appendRequestedOptions(query, resp, subnet)
	remote, remotePort = appendIfaceData(query, resp, meta)

	return resp, remote, remotePort
}
