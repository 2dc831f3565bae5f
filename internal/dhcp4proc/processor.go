package dhcp4proc

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/zdnscloud/dhcp4-slave/internal/allocrpc"
	"github.com/zdnscloud/dhcp4-slave/internal/classify"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
	"github.com/zdnscloud/dhcp4-slave/internal/hooks"
	"github.com/zdnscloud/dhcp4-slave/internal/ping4"
	"github.com/zdnscloud/dhcp4-slave/internal/stats"
	"github.com/zdnscloud/dhcp4-slave/internal/subnetcfg"
)

// Emit sends a built response packet to remote:remotePort. It is the
// processor's only way to reach the egress queue, so the processor
// itself stays transport-agnostic and trivially testable.
type Emit func(resp *dhcp4wire.Packet, remote netip.Addr, remotePort uint16)

// BoundAddrs reports whether addr is one of the local addresses this
// server currently has a socket bound to, for the server-identifier
// acceptance check (spec.md section 4.5).
type BoundAddrs func(addr netip.Addr) (bound bool)

// Processor is the top-level per-packet handler: it replaces the
// original implementation's Dhcpv4Srv, dispatching on message type and
// driving subnet selection, classification, RPC allocation, and ping
// liveness checks to completion before handing a response to Emit.
type Processor struct {
	logger  *slog.Logger
	subnets *subnetcfg.Registry
	classes *classify.Table
	rpc     *allocrpc.Client
	pinger  ping4.Prober
	hooks   *hooks.Dispatcher
	stats   stats.Sink

	ifaceAddr  subnetcfg.IfaceAddrFunc
	boundAddrs BoundAddrs
	emit       Emit

	maxRetries int
}

// Config collects a Processor's collaborators.
type Config struct {
	Logger     *slog.Logger
	Subnets    *subnetcfg.Registry
	Classes    *classify.Table
	RPC        *allocrpc.Client
	Pinger     ping4.Prober
	Hooks      *hooks.Dispatcher
	Stats      stats.Sink
	IfaceAddr  subnetcfg.IfaceAddrFunc
	BoundAddrs BoundAddrs
	Emit       Emit
}

// New returns a ready Processor built from cfg. The conflict-retry bound
// is the package constant maxRetries (5), not a Config field.
func New(cfg Config) (p *Processor) {
	stat := cfg.Stats
	if stat == nil {
		stat = stats.Noop{}
	}

	return &Processor{
		logger:     cfg.Logger.With(slogutil.KeyPrefix, "dhcp4proc"),
		subnets:    cfg.Subnets,
		classes:    cfg.Classes,
		rpc:        cfg.RPC,
		pinger:     cfg.Pinger,
		hooks:      cfg.Hooks,
		stats:      stat,
		ifaceAddr:  cfg.IfaceAddr,
		boundAddrs: cfg.BoundAddrs,
		emit:       cfg.Emit,
		maxRetries: maxRetries,
	}
}

// Process handles one already-decoded query, per spec.md section 4.5.
// It never blocks on RPC or ping completion: both are driven to
// completion asynchronously via callbacks, and Process itself returns
// as soon as the synchronous portion of handling (classification,
// selection, precondition checks) completes.
func (p *Processor) Process(ctx context.Context, query *dhcp4wire.Packet, meta RequestMeta) {
	start := time.Now()

	queryType, ok := query.Type()
	if !ok || !acceptMessageType(queryType) {
		p.logger.ErrorContext(ctx, "rejecting query with invalid message type")
		p.stats.IncDropped("bad-message-type")
		return
	}

	if !p.acceptDirectRequest(query, queryType, meta) {
		p.logger.ErrorContext(ctx, "rejecting direct inform with no remote or ciaddr")
		p.stats.IncDropped("bad-direct-request")
		return
	}

	if !p.acceptServerID(query) {
		p.logger.ErrorContext(ctx, "rejecting query with unrecognized server identifier")
		p.stats.IncDropped("bad-server-id")
		return
	}

	if !acceptSanity(query, queryType) {
		p.logger.ErrorContext(ctx, "rejecting query failing sanity check", "type", queryType)
		p.stats.IncDropped("bad-sanity")
		return
	}

	classes := p.classes.Tag(query)

	receiveHandle := hooks.NewHandle(hooks.PointPkt4Receive, map[string]any{"query4": query})
	if p.hooks.Run(ctx, hooks.PointPkt4Receive, receiveHandle) == hooks.StatusSkip {
		return
	}

	defer func() {
		p.stats.ObserveLatency(queryType.String(), time.Since(start))
	}()

	switch queryType {
	case dhcp4wire.MsgDiscover, dhcp4wire.MsgRequest:
		p.processRequest(ctx, query, queryType, classes, meta)
	case dhcp4wire.MsgRelease:
		p.processRelease(ctx, query, classes)
	case dhcp4wire.MsgDecline:
		p.processDecline(ctx, query, classes)
	case dhcp4wire.MsgInform:
		p.processInform(ctx, query, classes, meta)
	}
}

// acceptMessageType mirrors Dhcpv4Srv::acceptMessageType: only the five
// client-originated message types are ever processed.
func acceptMessageType(t dhcp4wire.MsgType) (ok bool) {
	switch t {
	case dhcp4wire.MsgDiscover, dhcp4wire.MsgRequest, dhcp4wire.MsgRelease,
		dhcp4wire.MsgDecline, dhcp4wire.MsgInform:
		return true
	default:
		return false
	}
}

// acceptDirectRequest mirrors Dhcpv4Srv::acceptDirectRequest: a relayed
// packet is always accepted; a direct (unrelayed) INFORM needs a
// nonzero remote address or ciaddr to have anywhere to reply to.
func (p *Processor) acceptDirectRequest(query *dhcp4wire.Packet, t dhcp4wire.MsgType, meta RequestMeta) (ok bool) {
	if query.GIAddr.IsValid() && !query.GIAddr.IsUnspecified() {
		return true
	}

	if t == dhcp4wire.MsgInform {
		remoteZero := !meta.RemoteAddr.IsValid() || meta.RemoteAddr.IsUnspecified()
		ciZero := !query.CIAddr.IsValid() || query.CIAddr.IsUnspecified()
		if remoteZero && ciZero {
			return false
		}
	}

	return true
}

// acceptServerID mirrors Dhcpv4Srv::acceptServerId: an absent
// server-id is always accepted; a present one must name an address
// this server currently binds.
func (p *Processor) acceptServerID(query *dhcp4wire.Packet) (ok bool) {
	opt, present := query.Options.Get(dhcp4wire.OptServerIdentifier)
	if !present {
		return true
	}

	addr, isAddr := opt.AsIPv4()
	if !isAddr {
		return false
	}

	if p.boundAddrs == nil {
		return true
	}

	return p.boundAddrs(addr)
}

// acceptSanity mirrors Dhcpv4Srv::sanityCheck, applied on top of (not
// instead of) acceptServerID's general bound-address check: DISCOVER
// and INFORM forbid a server-id outright, per spec.md section 4.5's
// table, and DISCOVER/REQUEST additionally require a client identity.
func acceptSanity(query *dhcp4wire.Packet, t dhcp4wire.MsgType) (ok bool) {
	if t == dhcp4wire.MsgDiscover || t == dhcp4wire.MsgInform {
		if _, present := query.Options.Get(dhcp4wire.OptServerIdentifier); present {
			return false
		}
	}

	if t == dhcp4wire.MsgDiscover || t == dhcp4wire.MsgRequest {
		return acceptClientIdentity(query)
	}

	return true
}

// acceptClientIdentity mirrors the second half of
// Dhcpv4Srv::sanityCheck: "Missing or useless client-id and no HW
// address provided". A packet with neither a valid client-id nor a
// hardware address is, per spec.md section 3's client-equality rule,
// the same client as one with an entirely empty identity -- so the
// check is phrased directly in terms of [dhcp4wire.SameClient] rather
// than re-deriving that equivalence by hand.
func acceptClientIdentity(query *dhcp4wire.Packet) (ok bool) {
	hw := query.HWAddrValue()

	cid, present := query.ClientID()
	if present && len(cid) > 0 {
		return cid.Valid()
	}

	noIdentity := dhcp4wire.HWAddr{Type: hw.Type}

	return !dhcp4wire.SameClient(nil, hw, nil, noIdentity)
}

// processRequest mirrors Dhcpv4Srv::processRequest: select a subnet,
// then drive allocation to completion.
func (p *Processor) processRequest(
	ctx context.Context,
	query *dhcp4wire.Packet,
	queryType dhcp4wire.MsgType,
	classes *container.MapSet[string],
	meta RequestMeta,
) {
	subnet, ok := p.selectSubnet(query, classes, meta)
	if !ok {
		p.logger.WarnContext(ctx, "no subnet matched discover/request", "xid", query.XID)
		p.stats.IncDropped("no-subnet")
		p.denyRequest(ctx, query, meta)
		return
	}

	cctx := &clientContext{
		query:   query,
		meta:    meta,
		subnet:  subnet,
		classes: classes,
	}

	p.allocateLease(ctx, cctx)
}

// allocateLease mirrors Dhcpv4Srv::allocateLease: submit the RPC
// allocate request, bounded at maxRetries.
func (p *Processor) allocateLease(ctx context.Context, cctx *clientContext) {
	if cctx.retries > p.maxRetries {
		return
	}

	req := allocateRequest(cctx.query, cctx.subnet)
	p.rpc.Submit(req, func(reply allocrpc.Reply, err error) {
		if err != nil {
			p.logger.WarnContext(ctx, "rpc allocate failed", "xid", cctx.query.XID, slogutil.KeyError, err)
			p.onAllocateFailure(ctx, cctx)
			return
		}
		p.onRPCFinish(ctx, cctx, reply)
	})
}

// onRPCFinish mirrors Dhcpv4Srv::onRPCFinish: a failed allocation
// denies the request; otherwise a DISCOVER whose allocated address
// differs from ciaddr is ping-probed before committing.
func (p *Processor) onRPCFinish(ctx context.Context, cctx *clientContext, reply allocrpc.Reply) {
	if reply.Failed() {
		p.logger.DebugContext(ctx, "master reported allocation failure", "xid", cctx.query.XID)
		p.onAllocateFailure(ctx, cctx)
		return
	}

	cctx.allocated = reply.Addr
	if reply.SubnetID != 0 {
		cctx.sharedSubnetID = subnetcfg.SubnetID(reply.SubnetID)
	}

	queryType, _ := cctx.query.Type()
	if queryType == dhcp4wire.MsgDiscover && cctx.query.CIAddr != reply.Addr {
		p.pinger.Probe(ctx, reply.Addr, func(res ping4.Result) {
			p.onPingFinish(ctx, cctx, res)
		})
	} else {
		p.allocateSubnet(ctx, cctx)
	}
}

// onPingFinish mirrors Dhcpv4Srv::onPingFinish: a conflicting address
// is declined back to the master and allocation retried; otherwise the
// allocated address is committed.
func (p *Processor) onPingFinish(ctx context.Context, cctx *clientContext, res ping4.Result) {
	if !res.Conflict {
		p.allocateSubnet(ctx, cctx)
		return
	}

	p.logger.WarnContext(ctx, "allocated address already in use", "addr", cctx.allocated, "xid", cctx.query.XID)

	declineIP := cctx.allocated
	subnet, ok := p.selectSubnetByAddress(declineIP, cctx.classes)
	if ok {
		p.rpc.Submit(conflictRequest(declineIP, subnet), nil)
	} else {
		p.logger.WarnContext(ctx, "no subnet found declining conflicting address", "addr", declineIP)
	}

	cctx.retries++
	p.allocateLease(ctx, cctx)
}

// onAllocateFailure mirrors how the original treats an allocation
// that never produces a usable address: DISCOVER is silently
// dropped, REQUEST gets a NAK.
func (p *Processor) onAllocateFailure(ctx context.Context, cctx *clientContext) {
	queryType, _ := cctx.query.Type()
	if queryType == dhcp4wire.MsgRequest {
		p.denyRequest(ctx, cctx.query, cctx.meta)
	}
	p.stats.IncDropped("allocation-failed")
}

// allocateSubnet mirrors Dhcpv4Srv::allocateSubnet: the master may
// have returned an address from a different subnet sharing the same
// link (a shared-network override); assign against that subnet if so.
func (p *Processor) allocateSubnet(ctx context.Context, cctx *clientContext) {
	subnet := cctx.subnet

	if cctx.sharedSubnetID != 0 && cctx.sharedSubnetID != cctx.subnet.ID {
		shared, ok := p.subnets.Get(cctx.sharedSubnetID)
		if !ok {
			p.logger.WarnContext(ctx, "shared subnet not found", "subnet_id", cctx.sharedSubnetID)
			p.denyRequest(ctx, cctx.query, cctx.meta)
			return
		}
		subnet = shared
	}

	p.assignLease(ctx, cctx.query, cctx.allocated, subnet, cctx.meta)
}

// assignLease mirrors Dhcpv4Srv::assignLease: build and emit the
// OFFER/ACK.
func (p *Processor) assignLease(ctx context.Context, query *dhcp4wire.Packet, addr netip.Addr, subnet *subnetcfg.Subnet, meta RequestMeta) {
	resp, remote, port := genAckResponse(query, addr, subnet, meta)
	if p.beforePktSent(ctx, query, resp) {
		p.emit(resp, remote, port)
	}
}

// denyRequest mirrors Dhcpv4Srv::denyRequest: build and emit a NAK.
func (p *Processor) denyRequest(ctx context.Context, query *dhcp4wire.Packet, meta RequestMeta) {
	resp, remote, port := genNakResponse(query, meta)
	if p.beforePktSent(ctx, query, resp) {
		p.emit(resp, remote, port)
	}
}

// processRelease mirrors Dhcpv4Srv::processRelease: select the subnet
// by ciaddr and fire-and-forget an RPC release.
func (p *Processor) processRelease(ctx context.Context, release *dhcp4wire.Packet, classes *container.MapSet[string]) {
	subnet, ok := p.selectSubnetByAddress(release.CIAddr, classes)
	if !ok {
		p.logger.WarnContext(ctx, "no subnet found for release", "ciaddr", release.CIAddr)
		return
	}

	p.rpc.Submit(releaseRequest(release, subnet), nil)
}

// processDecline mirrors Dhcpv4Srv::processDecline: select the subnet
// by the requested-address option and fire-and-forget an RPC decline.
func (p *Processor) processDecline(ctx context.Context, decline *dhcp4wire.Packet, classes *container.MapSet[string]) {
	opt, ok := decline.Options.Get(dhcp4wire.OptRequestedIPAddress)
	if !ok {
		p.logger.ErrorContext(ctx, "decline missing requested-address option")
		return
	}

	addr, isAddr := opt.AsIPv4()
	if !isAddr {
		p.logger.ErrorContext(ctx, "decline requested-address option is not an ipv4 address")
		return
	}

	subnet, found := p.selectSubnetByAddress(addr, classes)
	if !found {
		p.logger.WarnContext(ctx, "no subnet found for decline", "addr", addr)
		return
	}

	p.rpc.Submit(declineRequest(decline, subnet, addr), nil)
}

// processInform mirrors Dhcpv4Srv::processInform: no lease is
// allocated; the subnet is selected by ciaddr purely to source
// response option data.
func (p *Processor) processInform(ctx context.Context, inform *dhcp4wire.Packet, classes *container.MapSet[string], meta RequestMeta) {
	subnet, ok := p.selectSubnetByAddress(inform.CIAddr, classes)
	if !ok {
		p.logger.WarnContext(ctx, "no subnet found for inform", "ciaddr", inform.CIAddr)
		p.denyRequest(ctx, inform, meta)
		return
	}

	resp, remote, port := genAckResponse(inform, netip.Addr{}, subnet, meta)
	if p.beforePktSent(ctx, inform, resp) {
		p.emit(resp, remote, port)
	}
}

// beforePktSent mirrors Dhcpv4Srv::beforePktSent: runs the pkt4_send
// hook point. It reports whether the response should still be
// emitted, i.e. no callout returned [hooks.StatusSkip].
func (p *Processor) beforePktSent(ctx context.Context, query, resp *dhcp4wire.Packet) (shouldSend bool) {
	handle := hooks.NewHandle(hooks.PointPkt4Send, map[string]any{"query4": query, "response4": resp})
	return p.hooks.Run(ctx, hooks.PointPkt4Send, handle) != hooks.StatusSkip
}

// selectSubnet builds a [subnetcfg.Selector] from query/meta/classes
// and resolves it against the registry, mirroring
// Dhcpv4Srv::selectSubnet.
func (p *Processor) selectSubnet(query *dhcp4wire.Packet, classes *container.MapSet[string], meta RequestMeta) (subnet *subnetcfg.Subnet, ok bool) {
	sel := subnetcfg.Selector{
		CIAddr:     query.CIAddr,
		GIAddr:     query.GIAddr,
		LocalAddr:  meta.LocalAddr,
		RemoteAddr: meta.RemoteAddr,
		IfaceName:  meta.IfaceName,
		Classes:    classes,
	}

	sel.OptionSelect = optionSelectAddr(query)

	return p.subnets.Select(sel, p.ifaceAddr)
}

// selectSubnetByAddress mirrors the original's
// SubnetMgr::selectSubnet(IOAddress, classes) overload used by
// RELEASE/DECLINE/INFORM: select purely by prefix-containment.
func (p *Processor) selectSubnetByAddress(addr netip.Addr, classes *container.MapSet[string]) (subnet *subnetcfg.Subnet, ok bool) {
	for _, s := range p.subnets.All() {
		if s.Prefix.Contains(addr) && s.Admits(classes) {
			return s, true
		}
	}
	return nil, false
}

// optionSelectAddr derives the selector's option-select input: the RAI
// link-selection sub-option (82/5) takes priority over the
// subnet-selection option (118), per Dhcpv4Srv::selectSubnet.
func optionSelectAddr(query *dhcp4wire.Packet) (addr netip.Addr) {
	if rai, ok := query.Options.Get(dhcp4wire.OptRelayAgentInfo); ok && rai.Sub != nil {
		if link, linkOK := rai.Sub.Get(dhcp4wire.RAILinkSelection); linkOK {
			if a, isAddr := link.AsIPv4(); isAddr {
				return a
			}
		}
	}

	if sel, ok := query.Options.Get(dhcp4wire.OptSubnetSelection); ok {
		if a, isAddr := sel.AsIPv4(); isAddr {
			return a
		}
	}

	return netip.Addr{}
}

func allocateRequest(query *dhcp4wire.Packet, subnet *subnetcfg.Subnet) (req allocrpc.Request) {
	queryType, _ := query.Type()

	hostname := ""
	if opt, ok := query.Options.Get(dhcp4wire.OptHostname); ok {
		hostname, _ = opt.AsString()
	}

	requestAddr := netip.Addr{}
	if opt, ok := query.Options.Get(dhcp4wire.OptRequestedIPAddress); ok {
		requestAddr, _ = opt.AsIPv4()
	}

	clientID, _ := query.ClientID()

	return allocrpc.Request{
		ClientID:    clientID,
		MAC:         query.HWAddrValue().Addr,
		Hostname:    hostname,
		RequestAddr: requestAddr,
		SubnetID:    uint32(subnet.ID),
		Type:        requestTypeFor(queryType),
	}
}

func releaseRequest(release *dhcp4wire.Packet, subnet *subnetcfg.Subnet) (req allocrpc.Request) {
	clientID, _ := release.ClientID()

	return allocrpc.Request{
		ClientID:    clientID,
		MAC:         release.HWAddrValue().Addr,
		RequestAddr: release.CIAddr,
		SubnetID:    uint32(subnet.ID),
		Type:        allocrpc.RequestRelease,
	}
}

func declineRequest(decline *dhcp4wire.Packet, subnet *subnetcfg.Subnet, addr netip.Addr) (req allocrpc.Request) {
	clientID, _ := decline.ClientID()

	return allocrpc.Request{
		ClientID:    clientID,
		MAC:         decline.HWAddrValue().Addr,
		RequestAddr: addr,
		SubnetID:    uint32(subnet.ID),
		Type:        allocrpc.RequestDecline,
	}
}

// conflictRequest builds the synthetic ConflictIP request the
// processor sends when a ping probe finds the master-allocated
// address already in use, per spec.md section 4.5's retry loop.
func conflictRequest(addr netip.Addr, subnet *subnetcfg.Subnet) (req allocrpc.Request) {
	return allocrpc.Request{
		RequestAddr: addr,
		SubnetID:    uint32(subnet.ID),
		Type:        allocrpc.RequestConflictIP,
	}
}

func requestTypeFor(t dhcp4wire.MsgType) (rt allocrpc.RequestType) {
	if t == dhcp4wire.MsgRequest {
		return allocrpc.RequestRequest
	}
	return allocrpc.RequestDiscover
}
