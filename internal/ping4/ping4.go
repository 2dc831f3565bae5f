// Package ping4 probes a candidate IPv4 address with an ICMP echo
// request before the server commits to offering it, catching addresses
// already in use by an undetected host. It replaces the original
// implementation's synchronous `ping`-binary invocation with a
// callback-driven prober in the style of this repository's other
// external collaborators.
package ping4

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/go-ping/ping"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Result is the outcome of a single probe.
type Result struct {
	// Err is non-nil if the probe itself could not be carried out (for
	// example, a raw socket could not be opened). A failed probe is
	// treated as "address available", matching the teacher's
	// addrAvailable defaulting to true on pinger errors.
	Err error

	// Conflict is true if the target replied, meaning the address is
	// already in use.
	Conflict bool
}

// Callback receives a probe's [Result].
type Callback func(res Result)

// Prober is the interface this module's request processor depends on,
// so the concurrency harness can be tested against a fake without
// opening real raw sockets.
type Prober interface {
	// Probe starts an ICMP echo probe of target in the background and
	// invokes cb exactly once with the result. It never blocks the
	// caller on network I/O.
	Probe(ctx context.Context, target netip.Addr, cb Callback)
}

// Disabled is a [Prober] that always reports the address available
// without sending any packets, for when the ping-check is turned off
// in configuration (spec.md section 6, `dhcp4.ping-check.enable`).
type Disabled struct{}

// type check
var _ Prober = Disabled{}

// Probe implements the [Prober] interface for Disabled.
func (Disabled) Probe(_ context.Context, _ netip.Addr, cb Callback) {
	cb(Result{Conflict: false})
}

// ICMPProber probes addresses with a single ICMP echo request via
// github.com/go-ping/ping, grounded on
// internal/dhcpd/v4_unix.go's addrAvailable.
type ICMPProber struct {
	logger  *slog.Logger
	timeout time.Duration
}

// type check
var _ Prober = (*ICMPProber)(nil)

// NewICMPProber returns an ICMPProber that waits up to timeout for a
// reply before declaring the address available.
func NewICMPProber(logger *slog.Logger, timeout time.Duration) (p *ICMPProber) {
	return &ICMPProber{
		logger:  logger.With(slogutil.KeyPrefix, "ping4"),
		timeout: timeout,
	}
}

// Probe implements the [Prober] interface for *ICMPProber.  It runs the
// actual ping synchronously on its own goroutine, so the caller is
// never blocked for the probe's duration.
func (p *ICMPProber) Probe(ctx context.Context, target netip.Addr, cb Callback) {
	go cb(p.probe(ctx, target))
}

func (p *ICMPProber) probe(ctx context.Context, target netip.Addr) (res Result) {
	pinger, err := ping.NewPinger(target.String())
	if err != nil {
		p.logger.ErrorContext(ctx, "creating pinger", slogutil.KeyError, err)
		return Result{Err: err}
	}

	pinger.SetPrivileged(true)
	pinger.Timeout = p.timeout
	pinger.Count = 1

	replied := false
	pinger.OnRecv = func(_ *ping.Packet) { replied = true }

	p.logger.DebugContext(ctx, "sending icmp echo", "target", target)

	if err = pinger.Run(); err != nil {
		p.logger.ErrorContext(ctx, "running pinger", slogutil.KeyError, err)
		return Result{Err: err}
	}

	if replied {
		p.logger.InfoContext(ctx, "address already in use", "target", target)
	}

	return Result{Conflict: replied}
}
