// Package dhcp4concur is the concurrency harness: the receiver,
// transmitter, and worker-pool goroutines that move datagrams between
// [dhcp4net.Listener] and [dhcp4proc.Processor], per spec.md section 5.
package dhcp4concur

import (
	"context"
	"log/slog"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/zdnscloud/dhcp4-slave/internal/allocrpc"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4net"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4proc"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
	"github.com/zdnscloud/dhcp4-slave/internal/stats"
)

// DefaultQueueFactor is the multiplier applied to worker count to derive
// the bounded ingress/egress queue capacity, per spec.md section 5
// ("worker_count × 1000").
const DefaultQueueFactor = 1000

// maxDatagramLen bounds the receive buffer; UDP/IPv4 caps a single
// datagram's payload well below this.
const maxDatagramLen = 65536

// outbound is one response queued for the transmitter.
type outbound struct {
	resp   *dhcp4wire.Packet
	remote netip.Addr
	port   uint16
}

// Server owns the ingress/egress queues and the receiver, worker, and
// transmitter goroutines, per spec.md section 5's scheduling model.
// Shared resources (the option registry, the subnet registry, the class
// table) live inside proc and are read-only at steady state, so no
// locking is required to fan work out across workers.
type Server struct {
	logger *slog.Logger
	listen *dhcp4net.Listener
	proc   *dhcp4proc.Processor
	reg    *dhcp4wire.Registry
	stats  stats.Sink
	rpc    *allocrpc.Client

	workerCount int

	ingress chan dhcp4net.Datagram
	egress  chan outbound

	stopCh   chan struct{}
	stopFlag atomic.Bool
	wg       sync.WaitGroup
	recvWG   sync.WaitGroup
}

// Config collects a [Server]'s collaborators. ProcessorConfig's Emit
// field is ignored and overwritten: [Server] owns the egress queue a
// [dhcp4proc.Processor] emits into, so it builds the Processor itself
// once that queue exists.
type Config struct {
	Logger *slog.Logger
	// RPC is closed during shutdown, ahead of draining egress, matching
	// step (4) of spec.md section 5's shutdown sequence ("stop the RPC
	// thread").
	RPC             *allocrpc.Client
	Listener        *dhcp4net.Listener
	ProcessorConfig dhcp4proc.Config
	Registry        *dhcp4wire.Registry
	Stats           stats.Sink
	WorkerCount     int
}

// New returns a Server ready to [Server.Run]. WorkerCount defaults to
// [runtime.NumCPU] if unset.
func New(cfg Config) (s *Server) {
	stat := cfg.Stats
	if stat == nil {
		stat = stats.Noop{}
	}

	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	depth := workers * DefaultQueueFactor

	s = &Server{
		logger:      cfg.Logger.With(slogutil.KeyPrefix, "dhcp4concur"),
		listen:      cfg.Listener,
		reg:         cfg.Registry,
		stats:       stat,
		rpc:         cfg.RPC,
		workerCount: workers,
		ingress:     make(chan dhcp4net.Datagram, depth),
		egress:      make(chan outbound, depth),
		stopCh:      make(chan struct{}),
	}

	procCfg := cfg.ProcessorConfig
	procCfg.Emit = s.emit
	if procCfg.Stats == nil {
		procCfg.Stats = stat
	}
	s.proc = dhcp4proc.New(procCfg)

	return s
}

// Run starts the receiver, worker pool, and transmitter, and blocks
// until ctx is canceled, at which point it performs the shutdown
// sequence from spec.md section 5 and returns.
func (s *Server) Run(ctx context.Context) {
	s.recvWG.Add(1)
	go s.receive(ctx)

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.work(ctx)
	}

	s.wg.Add(1)
	go s.transmit(ctx)

	<-ctx.Done()
	s.shutdown()
}

// shutdown implements spec.md section 5's nine-step sequence. Steps
// (1)-(2) are ctx cancellation, which is what triggers this call: the
// receiver stops taking new datagrams and workers drain whatever is
// already buffered in ingress (step (3)). Step (4) stops the RPC
// client. Step (5), stopping the pinger, has no persistent goroutine
// to join in this prober's design, so there is nothing to do. Steps
// (6)-(7) are the transmitter draining egress and stopping; closing
// stopCh unblocks any [Server.emit] call still waiting to enqueue a
// response rather than closing egress itself, since an in-flight async
// allocate callback could otherwise call emit after the channel closed
// and panic. (8) is s.wg.Wait, which joins the workers and the
// transmitter; (9) is closing the listener, which wakes the receiver
// from its blocked read, and then joining the receiver.
func (s *Server) shutdown() {
	s.stopFlag.Store(true)
	close(s.stopCh)

	if s.rpc != nil {
		if err := s.rpc.Close(); err != nil {
			s.logger.Error("closing rpc client", slogutil.KeyError, err)
		}
	}

	s.wg.Wait()

	if err := s.listen.Close(); err != nil {
		s.logger.Error("closing listener", slogutil.KeyError, err)
	}

	s.recvWG.Wait()
}

// receive reads datagrams off the wire and enqueues them to ingress
// until ctx is canceled or the listener is closed.
func (s *Server) receive(ctx context.Context) {
	defer s.recvWG.Done()
	defer slogutil.RecoverAndLog(ctx, s.logger)

	buf := make([]byte, maxDatagramLen)

	for {
		dg, err := s.listen.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || s.stopFlag.Load() {
				return
			}

			s.logger.WarnContext(ctx, "reading datagram", slogutil.KeyError, err)

			continue
		}

		select {
		case s.ingress <- dg:
			s.stats.SetQueueDepth("ingress", len(s.ingress))
		case <-ctx.Done():
			return
		}
	}
}

// work drains ingress, decodes and processes each datagram. On ctx
// cancellation it keeps draining whatever is already buffered before
// returning, rather than discarding it.
func (s *Server) work(ctx context.Context) {
	defer s.wg.Done()
	defer slogutil.RecoverAndLog(ctx, s.logger)

	for {
		select {
		case dg := <-s.ingress:
			s.handle(ctx, dg)
		case <-ctx.Done():
			s.drainIngress(ctx)

			return
		}
	}
}

// drainIngress processes whatever datagrams are already buffered
// without blocking, for use during shutdown.
func (s *Server) drainIngress(ctx context.Context) {
	for {
		select {
		case dg := <-s.ingress:
			s.handle(ctx, dg)
		default:
			return
		}
	}
}

// handle decodes one datagram and hands it to the processor, wiring its
// Emit callback to the egress queue.
func (s *Server) handle(ctx context.Context, dg dhcp4net.Datagram) {
	query, err := dhcp4wire.Unpack(dg.Payload, s.reg)
	if err != nil {
		s.logger.DebugContext(ctx, "decoding packet", slogutil.KeyError, err)
		s.stats.IncDropped("decode-error")

		return
	}

	meta := dhcp4proc.RequestMeta{
		LocalAddr:  dg.Local,
		RemoteAddr: dg.Remote,
		IfaceName:  dg.IfaceName,
	}

	s.proc.Process(ctx, query, meta)
}

// transmit drains egress, packs each response, and writes it to the
// wire. On ctx cancellation it keeps draining whatever is already
// buffered before returning, rather than discarding it.
func (s *Server) transmit(ctx context.Context) {
	defer s.wg.Done()
	defer slogutil.RecoverAndLog(ctx, s.logger)

	for {
		select {
		case out := <-s.egress:
			s.send(ctx, out)
		case <-ctx.Done():
			s.drainEgress(ctx)

			return
		}
	}
}

// drainEgress sends whatever responses are already buffered without
// blocking, for use during shutdown.
func (s *Server) drainEgress(ctx context.Context) {
	for {
		select {
		case out := <-s.egress:
			s.send(ctx, out)
		default:
			return
		}
	}
}

func (s *Server) send(ctx context.Context, out outbound) {
	buf, err := dhcp4wire.Pack(out.resp)
	if err != nil {
		s.logger.ErrorContext(ctx, "encoding response", slogutil.KeyError, err)

		return
	}

	if err = s.listen.WriteTo(buf, out.remote, int(out.port), netip.Addr{}); err != nil {
		s.logger.WarnContext(ctx, "sending response", slogutil.KeyError, err)
	}
}

// emit is the [dhcp4proc.Emit] the Processor built in [New] invokes. It
// blocks until either egress accepts the response or stopCh closes,
// matching spec.md section 5's "writes block when full" queue
// semantics while still guaranteeing an async allocate callback firing
// mid-shutdown can't block forever once the transmitter has stopped
// draining egress.
func (s *Server) emit(resp *dhcp4wire.Packet, remote netip.Addr, port uint16) {
	out := outbound{resp: resp, remote: remote, port: port}

	select {
	case s.egress <- out:
		s.stats.SetQueueDepth("egress", len(s.egress))
	case <-s.stopCh:
		s.logger.Warn("dropping response during shutdown")
	}
}
