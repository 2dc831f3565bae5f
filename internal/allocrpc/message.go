// Package allocrpc implements the RPC client to the remote allocation
// master: a single persistent, length-prefixed framed TCP connection
// carrying a request/reply protocol for address allocation and lease
// events. It replaces the original implementation's synchronous
// master-RPC call sites with an explicit client that serializes one
// outstanding request at a time, per spec.md section 5.
package allocrpc

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// Sentinel errors.
const (
	ErrFrameTooLarge errors.Error = "rpc frame exceeds maximum payload size"
	ErrTruncated     errors.Error = "rpc message truncated"
)

// MaxPayloadLen is the largest payload a single frame may carry, per
// spec.md section 5 ("payload size <= 65534 bytes").
const MaxPayloadLen = 65534

// RequestType enumerates the kinds of allocation request the master
// understands.
type RequestType uint8

// Request types.
const (
	RequestDiscover RequestType = iota
	RequestRequest
	RequestRelease
	RequestDecline
	RequestConflictIP
)

// String implements the fmt.Stringer interface for RequestType.
func (t RequestType) String() (s string) {
	switch t {
	case RequestDiscover:
		return "Discover"
	case RequestRequest:
		return "Request"
	case RequestRelease:
		return "Release"
	case RequestDecline:
		return "Decline"
	case RequestConflictIP:
		return "ConflictIP"
	default:
		return fmt.Sprintf("RequestType(%d)", uint8(t))
	}
}

// ConflictXID is the fixed transaction ID used for synthetic
// ConflictIP requests, per spec.md section 4.5's Open Questions.
const ConflictXID = 1234

// Request is a single allocation request sent to the master.
type Request struct {
	ClientID    []byte
	MAC         []byte
	Hostname    string
	RequestAddr netip.Addr
	SubnetID    uint32
	Type        RequestType
}

// Reply is the master's response to a [Request].
type Reply struct {
	Addr      netip.Addr
	SubnetID  uint32
	Succeeded bool
}

// Failed reports whether reply indicates allocation failure: either an
// explicit failure, or a zero/broadcast address, per spec.md section 6.
func (r Reply) Failed() (failed bool) {
	if !r.Succeeded {
		return true
	}

	if !r.Addr.Is4() {
		return true
	}

	if r.Addr.IsUnspecified() {
		return true
	}

	return r.Addr == netip.AddrFrom4([4]byte{255, 255, 255, 255})
}

// encodeRequest serializes req as the RPC request payload: a
// request_type byte, a big-endian subnet_id, length-prefixed client_id
// and mac byte strings, a length-prefixed hostname, and a big-endian
// request_addr in host byte order (spec.md section 6).
func encodeRequest(req Request) (payload []byte) {
	var addr uint32
	if req.RequestAddr.Is4() {
		b := req.RequestAddr.As4()
		addr = binary.BigEndian.Uint32(b[:])
	}

	payload = make([]byte, 0, 1+4+2+len(req.ClientID)+2+len(req.MAC)+2+len(req.Hostname)+4)
	payload = append(payload, byte(req.Type))
	payload = appendUint32(payload, req.SubnetID)
	payload = appendBytes16(payload, req.ClientID)
	payload = appendBytes16(payload, req.MAC)
	payload = appendBytes16(payload, []byte(req.Hostname))
	payload = appendUint32(payload, addr)

	return payload
}

// decodeReply parses the RPC reply payload: succeeded (bool, one
// byte), addr (u32), subnet_id (u32).
func decodeReply(payload []byte) (reply Reply, err error) {
	if len(payload) < 9 {
		return Reply{}, fmt.Errorf("%w: reply has %d bytes, need 9", ErrTruncated, len(payload))
	}

	succeeded := payload[0] != 0
	addrBits := binary.BigEndian.Uint32(payload[1:5])
	subnetID := binary.BigEndian.Uint32(payload[5:9])

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], addrBits)

	return Reply{
		Succeeded: succeeded,
		Addr:      netip.AddrFrom4(b),
		SubnetID:  subnetID,
	}, nil
}

func appendUint32(dst []byte, v uint32) (out []byte) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)

	return append(dst, b[:]...)
}

func appendBytes16(dst []byte, b []byte) (out []byte) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))

	out = append(dst, lenBuf[:]...)

	return append(out, b...)
}
