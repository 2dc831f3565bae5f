package allocrpc

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// ErrClosed is returned from [Client.Submit] once the client has been
// closed.
const ErrClosed errors.Error = "use of closed allocation rpc client"

// ReconnectBackoff is the delay between reconnection attempts after a
// lost connection, per spec.md section 5.
const ReconnectBackoff = 5 * time.Second

// Callback receives the result of a submitted [Request].  err is
// non-nil only when the request could not be completed at all (the
// connection was lost or the client is shutting down); a reply with
// [Reply.Failed] true is a normal, successful round trip reporting
// allocation failure.
type Callback func(reply Reply, err error)

// job pairs a request with the callback to invoke once it completes.
type job struct {
	req Request
	cb  Callback
}

// Client is the RPC client to the allocation master: a single
// persistent, length-prefixed framed TCP connection, serializing one
// outstanding request at a time via an internal queue, reconnecting
// with [ReconnectBackoff] on connection loss. It replaces the
// original's synchronous master-RPC call sites with an explicit,
// callback-driven client so the worker issuing a request is never
// blocked waiting for the reply (spec.md section 5).
type Client struct {
	logger *slog.Logger
	dial   func(ctx context.Context) (conn net.Conn, err error)
	jobs   chan job

	closeMu  sync.Mutex
	closed   bool
	closeCh  chan struct{}
	doneCh   chan struct{}
}

// New returns a running Client dialing addr ("host:port").  ctx governs
// the client's lifetime; cancel it (or call [Client.Close]) to stop the
// RPC goroutine.
func New(ctx context.Context, logger *slog.Logger, addr string) (c *Client) {
	dial := func(dialCtx context.Context) (conn net.Conn, err error) {
		var d net.Dialer
		return d.DialContext(dialCtx, "tcp", addr)
	}

	return newClient(ctx, logger, dial)
}

// newClient is the Dialer-injectable constructor used by New and by
// tests.
func newClient(
	ctx context.Context,
	logger *slog.Logger,
	dial func(ctx context.Context) (conn net.Conn, err error),
) (c *Client) {
	c = &Client{
		logger:  logger.With(slogutil.KeyPrefix, "allocrpc"),
		dial:    dial,
		jobs:    make(chan job, 256),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go c.run(ctx)

	return c
}

// Submit enqueues req for delivery to the master; cb is invoked exactly
// once, from the RPC goroutine, with the result. Submit never blocks on
// network I/O: a worker calling it returns immediately and continues
// processing, per spec.md section 5's suspension-point design.
func (c *Client) Submit(req Request, cb Callback) {
	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()

	if closed {
		cb(Reply{}, ErrClosed)
		return
	}

	select {
	case c.jobs <- job{req: req, cb: cb}:
	case <-c.closeCh:
		cb(Reply{}, ErrClosed)
	}
}

// Close stops the RPC goroutine and fails any job still queued. It
// blocks until the goroutine has exited.
func (c *Client) Close() (err error) {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return ErrClosed
	}
	c.closed = true
	close(c.closeCh)
	c.closeMu.Unlock()

	<-c.doneCh

	return nil
}

// run owns the TCP connection and drains c.jobs one at a time,
// reconnecting with [ReconnectBackoff] whenever the connection is
// unusable.
func (c *Client) run(ctx context.Context) {
	defer close(c.doneCh)
	defer c.drainRemaining()

	var conn net.Conn

	for {
		select {
		case <-ctx.Done():
			closeConn(conn)
			return
		case <-c.closeCh:
			closeConn(conn)
			return
		case j := <-c.jobs:
			conn = c.deliver(ctx, conn, j)
		}
	}
}

// deliver sends j.req over conn, reconnecting first if conn is nil, and
// returns the (possibly new, possibly nil-on-failure) connection to
// reuse for the next job.
func (c *Client) deliver(ctx context.Context, conn net.Conn, j job) (next net.Conn) {
	if conn == nil {
		var err error
		conn, err = c.connect(ctx)
		if err != nil {
			j.cb(Reply{}, err)
			return nil
		}
	}

	reply, err := roundTrip(conn, j.req)
	if err != nil {
		c.logger.WarnContext(ctx, "rpc round trip failed", "type", j.req.Type, slogutil.KeyError, err)
		closeConn(conn)
		j.cb(Reply{}, err)
		return nil
	}

	j.cb(reply, nil)

	return conn
}

// connect dials the master, retrying every [ReconnectBackoff] until it
// succeeds or ctx/c.closeCh fires.
func (c *Client) connect(ctx context.Context) (conn net.Conn, err error) {
	for {
		conn, err = c.dial(ctx)
		if err == nil {
			return conn, nil
		}

		c.logger.WarnContext(ctx, "dialing master failed, retrying", slogutil.KeyError, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closeCh:
			return nil, ErrClosed
		case <-time.After(ReconnectBackoff):
		}
	}
}

// drainRemaining fails every job still queued once run has exited, so
// Submit callers waiting on Close are never left hanging.
func (c *Client) drainRemaining() {
	for {
		select {
		case j := <-c.jobs:
			j.cb(Reply{}, ErrClosed)
		default:
			return
		}
	}
}

func closeConn(conn net.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}

// roundTrip writes req's frame to conn and reads back a single reply
// frame, per the framing rule in spec.md section 5: a 2-byte
// big-endian length followed by that many payload bytes.
func roundTrip(conn net.Conn, req Request) (reply Reply, err error) {
	payload := encodeRequest(req)
	if len(payload) > MaxPayloadLen {
		return Reply{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(payload)))

	if _, err = conn.Write(header[:]); err != nil {
		return Reply{}, fmt.Errorf("writing frame header: %w", err)
	}
	if _, err = conn.Write(payload); err != nil {
		return Reply{}, fmt.Errorf("writing frame payload: %w", err)
	}

	r := bufio.NewReader(conn)

	if _, err = readFull(r, header[:]); err != nil {
		return Reply{}, fmt.Errorf("reading reply frame header: %w", err)
	}

	replyLen := binary.BigEndian.Uint16(header[:])
	replyBuf := make([]byte, replyLen)
	if _, err = readFull(r, replyBuf); err != nil {
		return Reply{}, fmt.Errorf("reading reply frame payload: %w", err)
	}

	return decodeReply(replyBuf)
}

func readFull(r *bufio.Reader, buf []byte) (n int, err error) {
	for n < len(buf) {
		var m int
		m, err = r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}

	return n, nil
}
