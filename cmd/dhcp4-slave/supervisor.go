package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"

	"github.com/google/go-cmp/cmp"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/zdnscloud/dhcp4-slave/internal/allocrpc"
	"github.com/zdnscloud/dhcp4-slave/internal/config"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4concur"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4net"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4proc"
	"github.com/zdnscloud/dhcp4-slave/internal/duid"
	"github.com/zdnscloud/dhcp4-slave/internal/hooks"
	"github.com/zdnscloud/dhcp4-slave/internal/ping4"
	"github.com/zdnscloud/dhcp4-slave/internal/stats"
)

// defaultEnterpriseID is the fallback private enterprise number used
// only if a DUID-LLT cannot be built from any local link-layer address
// (duid.Factory.Get's DUID-EN fallback, spec.md section 3).
const defaultEnterpriseID = 54321

const dhcpServerPort = 67

// run is one built instance of the packet path: everything spec.md
// section 3's lifecycle note says is rebuilt wholesale on
// reconfiguration (the subnet registry, option registry, class table)
// plus the collaborators that own a socket or a goroutine.
type run struct {
	listen *dhcp4net.Listener
	rpc    *allocrpc.Client
	hooks  *hooks.Dispatcher
	srv    *dhcp4concur.Server

	cancel context.CancelFunc
	done   chan struct{}
}

// supervisor owns the collaborators spec.md section 3 says are created
// once for the process lifetime (the DUID and the metrics sink) plus
// the current [run], swapping the run wholesale on reconfiguration:
// shutdown the old one, build the new one, and only then let it serve
// -- falling back to keeping the old run alive if the new configuration
// fails to build, per spec.md section 6's reconfig-falls-back rule.
type supervisor struct {
	logger     *slog.Logger
	configPath string

	stats      stats.Sink
	metricsSrv *http.Server

	duidFactory *duid.Factory

	mu        sync.Mutex
	current   *run
	lastDHCP4 config.DHCP4
}

// newSupervisor builds and starts the first run from f.
func newSupervisor(logger *slog.Logger, configPath string, f *config.File) (s *supervisor, err error) {
	s = &supervisor{
		logger:     logger,
		configPath: configPath,
		stats:      newStatsSink(logger, f.Metrics),
	}

	if err = f.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	built, err := f.DHCP4.Build()
	if err != nil {
		return nil, fmt.Errorf("building config: %w", err)
	}

	s.duidFactory = duid.NewFactory(built.DUIDFile)
	if _, dErr := s.duidFactory.Get(linkLayerID, defaultEnterpriseID, randBytes); dErr != nil {
		return nil, fmt.Errorf("establishing server identity: %w", dErr)
	}

	r, err := s.startRun(context.Background(), built)
	if err != nil {
		return nil, err
	}

	s.current = r
	s.lastDHCP4 = f.DHCP4

	srv, err := startMetrics(logger, f.Metrics, s.stats)
	if err != nil {
		logger.Warn("starting metrics listener", slogutil.KeyError, err)
	} else if srv != nil {
		s.metricsSrv = srv
		logger.Info("serving metrics", "addr", f.Metrics.ListenAddr)
	}

	return s, nil
}

// newStatsSink builds the process-lifetime metrics sink. It is never
// rebuilt on reconfiguration: Prometheus collectors register once with
// the default registry, and re-registering on every reload would panic.
func newStatsSink(logger *slog.Logger, m config.Metrics) (sink stats.Sink) {
	if m.ListenAddr == "" {
		return stats.Noop{}
	}

	_ = logger

	return stats.NewPrometheus("dhcp4slave")
}

// startMetrics serves the Prometheus sink's handler if sink exposes
// one, returning the running server so the caller can close it later.
func startMetrics(logger *slog.Logger, m config.Metrics, sink stats.Sink) (srv *http.Server, err error) {
	prom, ok := sink.(*stats.Prometheus)
	if !ok || m.ListenAddr == "" {
		return nil, nil
	}

	ln, err := net.Listen("tcp", m.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("binding %q: %w", m.ListenAddr, err)
	}

	srv = &http.Server{Addr: m.ListenAddr, Handler: prom.Handler()}

	go func() {
		if srvErr := srv.Serve(ln); srvErr != nil && srvErr != http.ErrServerClosed {
			logger.Error("metrics server", slogutil.KeyError, srvErr)
		}
	}()

	return srv, nil
}

// startRun builds and launches one [run] from built.
func (s *supervisor) startRun(ctx context.Context, built *config.Built) (r *run, err error) {
	listen, err := dhcp4net.Listen(dhcpServerPort, built.Interfaces)
	if err != nil {
		return nil, fmt.Errorf("binding listener: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	rpc := allocrpc.New(runCtx, s.logger, built.KeaMasterAddr)

	disp := hooks.NewDispatcher(s.logger)
	for _, lib := range built.HooksLibraries {
		params, pErr := lib.ParametersJSON()
		if pErr != nil {
			cancel()
			_ = listen.Close()

			return nil, fmt.Errorf("hooks-library %q: %w", lib.Library, pErr)
		}

		if lErr := disp.LoadPlugin(lib.Library, params); lErr != nil {
			cancel()
			_ = listen.Close()

			return nil, fmt.Errorf("loading hooks-library %q: %w", lib.Library, lErr)
		}
	}

	var pinger ping4.Prober = ping4.Disabled{}
	if built.PingEnable {
		pinger = ping4.NewICMPProber(s.logger, built.PingTimeout)
	}

	addrs := listen.LocalAddrs(runCtx, s.logger)

	srv := dhcp4concur.New(dhcp4concur.Config{
		Logger:   s.logger,
		RPC:      rpc,
		Listener: listen,
		Registry: built.Registry,
		Stats:    s.stats,
		ProcessorConfig: dhcp4proc.Config{
			Logger:    s.logger,
			Subnets:   built.Subnets,
			Classes:   built.Classes,
			RPC:       rpc,
			Pinger:    pinger,
			Hooks:     disp,
			Stats:     s.stats,
			IfaceAddr: ifaceAddrFunc,
			BoundAddrs: func(addr netip.Addr) (bound bool) {
				return addrs[addr]
			},
		},
		WorkerCount: built.WorkerCount,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)

		srv.Run(runCtx)
	}()

	return &run{
		listen: listen,
		rpc:    rpc,
		hooks:  disp,
		srv:    srv,
		cancel: cancel,
		done:   done,
	}, nil
}

// reload implements the `reconfig` control command: load and build the
// file at s.configPath, and only if that succeeds, stop the current run
// and start a new one. A failure at any point leaves the current run
// untouched, matching spec.md section 6's fallback rule.
func (s *supervisor) reload(ctx context.Context) {
	f, err := config.Load(s.configPath)
	if err != nil {
		s.logger.ErrorContext(ctx, "reconfig: loading config", slogutil.KeyError, err)

		return
	}

	if err = f.Validate(); err != nil {
		s.logger.ErrorContext(ctx, "reconfig: validating config", slogutil.KeyError, err)

		return
	}

	// Skip the restart entirely if the dhcp4 section is byte-for-byte
	// the same as what is already running, the same change-detection
	// cmp.Equal gives the teacher's own TLS reconfiguration path: a
	// config file rewritten with no semantic change (a reformat, an
	// editor touching the mtime) must not bounce the listener.
	s.mu.Lock()
	unchanged := cmp.Equal(s.lastDHCP4, f.DHCP4)
	s.mu.Unlock()

	if unchanged {
		s.logger.InfoContext(ctx, "reconfig: dhcp4 section unchanged, skipping restart")

		return
	}

	built, err := f.DHCP4.Build()
	if err != nil {
		s.logger.ErrorContext(ctx, "reconfig: building config", slogutil.KeyError, err)

		return
	}

	next, err := s.startRun(ctx, built)
	if err != nil {
		s.logger.ErrorContext(ctx, "reconfig: starting new configuration, keeping previous", slogutil.KeyError, err)

		return
	}

	s.mu.Lock()
	prev := s.current
	s.current = next
	s.lastDHCP4 = f.DHCP4
	s.mu.Unlock()

	stopRun(ctx, s.logger, prev)
	s.logger.InfoContext(ctx, "reconfig complete")
}

// stop shuts down the current run.
func (s *supervisor) stop(ctx context.Context) {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	stopRun(ctx, s.logger, cur)

	if s.metricsSrv != nil {
		_ = s.metricsSrv.Close()
	}
}

func stopRun(ctx context.Context, logger *slog.Logger, r *run) {
	if r == nil {
		return
	}

	r.cancel()
	<-r.done
	r.hooks.UnloadAll(ctx)

	if err := r.rpc.Close(); err != nil {
		logger.WarnContext(ctx, "closing rpc client", slogutil.KeyError, err)
	}
}

// ifaceAddrFunc resolves iface to its first configured IPv4 address,
// the [subnetcfg.IfaceAddrFunc] the subnet selector uses to pick a
// directly-connected subnet for an unrelayed request.
func ifaceAddrFunc(iface string) (addr netip.Addr, ok bool) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return netip.Addr{}, false
	}

	addrs, err := ifi.Addrs()
	if err != nil {
		return netip.Addr{}, false
	}

	for _, a := range addrs {
		ipNet, ipOK := a.(*net.IPNet)
		if !ipOK {
			continue
		}

		if v4, v4OK := netip.AddrFromSlice(ipNet.IP.To4()); v4OK {
			return v4, true
		}
	}

	return netip.Addr{}, false
}

// linkLayerID returns the hardware address of the first non-loopback
// interface found, the [duid.LinkLayerIDFunc] used to build a DUID-LLT
// on first startup.
func linkLayerID() (id []byte, htype uint16, ok bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, 0, false
	}

	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagLoopback != 0 || len(ifi.HardwareAddr) != 6 {
			continue
		}

		return []byte(ifi.HardwareAddr), 1, true
	}

	return nil, 0, false
}

// randBytes is the [duid.Factory.Get] random-identifier fallback used
// only if no link-layer address is available to build a DUID-LLT.
func randBytes(n int) (b []byte) {
	b = make([]byte, n)
	_, _ = rand.Read(b)

	return b
}
