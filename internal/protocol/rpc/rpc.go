// Package rpc implements the ONC-RPC (RFC 5531) call/reply envelope shared
// by every program this server exposes (portmapper, NFS). It decodes the
// fixed RPC header and authentication opaque fields, and builds the
// MSG_ACCEPTED / MSG_DENIED reply envelopes that every procedure handler's
// result is wrapped in.
//
// The Encode* reply builders return bodies without record marking: the
// transport listener adds the 4-byte TCP fragment header itself and sends
// UDP replies as they are. MakeProgMismatchReply is the one builder here
// that returns a record-marked TCP reply, for callers outside the listener.
package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/nfsd/nfsd/internal/protocol/xdr"
)

// Message types (RFC 5531 Section 9).
const (
	RPCCall  uint32 = 0
	RPCReply uint32 = 1
)

// Reply status (RFC 5531 Section 9).
const (
	RPCMsgAccepted uint32 = 0
	RPCMsgDenied   uint32 = 1
)

// Accept-state values for MSG_ACCEPTED replies.
const (
	RPCSuccess      uint32 = 0
	RPCProgUnavail  uint32 = 1
	RPCProgMismatch uint32 = 2
	RPCProcUnavail  uint32 = 3
	RPCGarbageArgs  uint32 = 4
	RPCSystemErr    uint32 = 5
)

// Reject-state values for MSG_DENIED replies.
const (
	RPCMismatch  uint32 = 0
	RPCAuthError uint32 = 1
)

// Auth-stat values (RFC 5531 Section 9, reject reason AUTH_ERROR).
const (
	AuthBadCred      uint32 = 1
	AuthRejectedCred uint32 = 2
	AuthBadVerf      uint32 = 3
	AuthRejectedVerf uint32 = 4
	AuthTooWeak      uint32 = 5
)

// Authentication flavors (RFC 5531 Section 8.2, plus RFC 2203 GSS).
const (
	AuthNull      uint32 = 0
	AuthUnix      uint32 = 1
	AuthShort     uint32 = 2
	AuthDES       uint32 = 3
	AuthRPCSECGSS uint32 = 6
)

// RPCVersion is the only ONC-RPC wire version this server recognizes.
const RPCVersion uint32 = 2

// MaxOpaqueAuthLength bounds a single cred/verf opaque body (RFC 5531
// Section 8.2 caps it at 400 bytes).
const MaxOpaqueAuthLength = 400

// CallMessage is a decoded RPC call header plus its raw credential and
// verifier opaque bodies. Procedure-specific arguments follow immediately
// after the verifier in the original buffer; use ReadData to obtain them.
type CallMessage struct {
	XID        uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	CredFlavor uint32
	CredBody   []byte
	VerfFlavor uint32
	VerfBody   []byte

	headerLen int
}

// GetAuthFlavor returns the credential's auth flavor.
func (c *CallMessage) GetAuthFlavor() uint32 { return c.CredFlavor }

// GetAuthBody returns the raw credential opaque body (e.g. an AUTH_UNIX
// blob ready for ParseUnixAuth).
func (c *CallMessage) GetAuthBody() []byte { return c.CredBody }

// ReadCall parses the fixed RPC call header (RFC 5531 Section 9) from the
// front of data: xid, msg_type, rpcvers, prog, vers, proc, and the
// opaque_auth cred/verf pairs. It does not touch the procedure-specific
// arguments that follow.
func ReadCall(data []byte) (*CallMessage, error) {
	r := bytes.NewReader(data)

	xid, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read xid: %w", err)
	}
	msgType, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read msg_type: %w", err)
	}
	if msgType != RPCCall {
		return nil, fmt.Errorf("not a call message: msg_type=%d", msgType)
	}
	rpcvers, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read rpcvers: %w", err)
	}
	prog, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read prog: %w", err)
	}
	vers, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read vers: %w", err)
	}
	proc, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read proc: %w", err)
	}

	credFlavor, credBody, err := readOpaqueAuth(r)
	if err != nil {
		return nil, fmt.Errorf("read cred: %w", err)
	}
	verfFlavor, verfBody, err := readOpaqueAuth(r)
	if err != nil {
		return nil, fmt.Errorf("read verf: %w", err)
	}

	call := &CallMessage{
		XID:        xid,
		Program:    prog,
		Version:    vers,
		Procedure:  proc,
		CredFlavor: credFlavor,
		CredBody:   credBody,
		VerfFlavor: verfFlavor,
		VerfBody:   verfBody,
	}

	if rpcvers != RPCVersion {
		// Still return the parsed header: the dispatcher needs prog/vers/xid
		// to build an RPC_MISMATCH reply, it just won't dispatch further.
		call.headerLen = len(data) - r.Len()
		return call, errRPCVersMismatch{call}
	}

	call.headerLen = len(data) - r.Len()
	return call, nil
}

// errRPCVersMismatch signals a parsed-but-unsupported rpcvers. Callers that
// only care about dispatch can treat any error from ReadCall as fatal; the
// dispatcher type-asserts this one to still get at call.XID.
type errRPCVersMismatch struct {
	Call *CallMessage
}

func (e errRPCVersMismatch) Error() string {
	return fmt.Sprintf("rpcvers mismatch: %d", RPCVersion)
}

// AsVersionMismatch reports whether err came from an rpcvers!=2 call, and
// returns the partially-decoded header (XID is always valid) if so.
func AsVersionMismatch(err error) (*CallMessage, bool) {
	if e, ok := err.(errRPCVersMismatch); ok {
		return e.Call, true
	}
	return nil, false
}

// ReadData returns the bytes following the fixed header and auth fields in
// data -- i.e. the procedure-specific argument bytes -- given the CallMessage
// previously produced by ReadCall against the same buffer.
func ReadData(data []byte, call *CallMessage) ([]byte, error) {
	if call.headerLen > len(data) {
		return nil, fmt.Errorf("header length %d exceeds buffer length %d", call.headerLen, len(data))
	}
	return data[call.headerLen:], nil
}

// readOpaqueAuth reads one opaque_auth value: a uint32 flavor followed by
// XDR opaque bytes, bounded to MaxOpaqueAuthLength per RFC 5531.
func readOpaqueAuth(r *bytes.Reader) (flavor uint32, body []byte, err error) {
	flavor, err = xdr.DecodeUint32(r)
	if err != nil {
		return 0, nil, fmt.Errorf("read flavor: %w", err)
	}
	length, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, nil, fmt.Errorf("read length: %w", err)
	}
	if length > MaxOpaqueAuthLength {
		return 0, nil, fmt.Errorf("opaque_auth length %d exceeds maximum %d", length, MaxOpaqueAuthLength)
	}
	body = make([]byte, length)
	if _, err := r.Read(body); err != nil && length > 0 {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	padding := (4 - (length % 4)) % 4
	if padding > 0 {
		pad := make([]byte, padding)
		if _, err := r.Read(pad); err != nil {
			return 0, nil, fmt.Errorf("read padding: %w", err)
		}
	}
	return flavor, body, nil
}

// UnixAuth is the AUTH_SYS credential body (RFC 5531 Section 8.2.1 /
// historically AUTH_UNIX): a timestamp, client machine name, the caller's
// uid/gid, and up to 16 supplementary group ids.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// MaxGIDs is the supplementary-group-list cap from RFC 5531 Section 8.2.1.
const MaxGIDs = 16

// MaxMachineNameLength bounds AuthSysCredentials.machinename (spec.md §3: str≤255).
const MaxMachineNameLength = 255

// ParseUnixAuth decodes an AUTH_SYS credential body: stamp(4) +
// machinename(opaque<255>) + uid(4) + gid(4) + gids(array<16> of uint32).
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty AUTH_SYS credential body")
	}

	r := bytes.NewReader(body)

	stamp, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read stamp: %w", err)
	}

	nameLen, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read machine name length: %w", err)
	}
	if nameLen > MaxMachineNameLength {
		return nil, fmt.Errorf("machine name too long: %d > %d", nameLen, MaxMachineNameLength)
	}
	nameBuf := make([]byte, nameLen)
	if nameLen > 0 {
		if _, err := r.Read(nameBuf); err != nil {
			return nil, fmt.Errorf("read machine name: %w", err)
		}
	}
	if padding := (4 - (nameLen % 4)) % 4; padding > 0 {
		pad := make([]byte, padding)
		if _, err := r.Read(pad); err != nil {
			return nil, fmt.Errorf("read machine name padding: %w", err)
		}
	}

	uid, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read uid: %w", err)
	}
	gid, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read gid: %w", err)
	}

	numGIDs, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read gids count: %w", err)
	}
	if numGIDs > MaxGIDs {
		return nil, fmt.Errorf("too many gids: %d > %d", numGIDs, MaxGIDs)
	}
	gids := make([]uint32, numGIDs)
	for i := range gids {
		v, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read gid[%d]: %w", i, err)
		}
		gids[i] = v
	}

	return &UnixAuth{
		Stamp:       stamp,
		MachineName: string(nameBuf),
		UID:         uid,
		GID:         gid,
		GIDs:        gids,
	}, nil
}

// String renders the credential for audit logging.
func (a *UnixAuth) String() string {
	return fmt.Sprintf("AUTH_SYS{machine=%s uid=%d gid=%d gids=%v}", a.MachineName, a.UID, a.GID, a.GIDs)
}

// ============================================================================
// Reply envelope construction
// ============================================================================

// wrapRecordMarking prepends a one-fragment TCP record-marking header
// (RFC 5531 Section 11) to body. UDP callers should send body as-is.
func wrapRecordMarking(body []byte) []byte {
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], 0x80000000|uint32(len(body)))
	copy(out[4:], body)
	return out
}

// replyHeader writes xid + msg_type=REPLY + reply_stat into buf.
func replyHeader(buf *bytes.Buffer, xid uint32, replyStat uint32) {
	_ = xdr.WriteUint32(buf, xid)
	_ = xdr.WriteUint32(buf, RPCReply)
	_ = xdr.WriteUint32(buf, replyStat)
}

// acceptedHeader writes the verifier (always AUTH_NONE, zero-length, from
// this server) and the accept_stat that follows reply_stat=MSG_ACCEPTED.
func acceptedHeader(buf *bytes.Buffer, acceptStat uint32) {
	_ = xdr.WriteUint32(buf, AuthNull)
	_ = xdr.WriteUint32(buf, 0)
	_ = xdr.WriteUint32(buf, acceptStat)
}

// EncodeAcceptedSuccess builds an un-record-marked MSG_ACCEPTED{SUCCESS}
// reply body wrapping the already-XDR-encoded procedure result. Callers
// going over transport.Listener pass this straight to Dispatch's return
// value; the listener itself adds record marking for TCP and omits it for
// UDP.
func EncodeAcceptedSuccess(xid uint32, result []byte) []byte {
	var buf bytes.Buffer
	replyHeader(&buf, xid, RPCMsgAccepted)
	acceptedHeader(&buf, RPCSuccess)
	buf.Write(result)
	return buf.Bytes()
}

// EncodeAcceptedError builds an un-record-marked MSG_ACCEPTED reply body
// carrying a non-SUCCESS accept_stat (PROG_UNAVAIL, PROC_UNAVAIL,
// GARBAGE_ARGS, SYSTEM_ERR) with no further body.
func EncodeAcceptedError(xid uint32, acceptStat uint32) []byte {
	var buf bytes.Buffer
	replyHeader(&buf, xid, RPCMsgAccepted)
	acceptedHeader(&buf, acceptStat)
	return buf.Bytes()
}

// encodeProgMismatchBody builds an un-record-marked MSG_ACCEPTED{PROG_MISMATCH}
// reply body.
func encodeProgMismatchBody(xid, low, high uint32) []byte {
	var buf bytes.Buffer
	replyHeader(&buf, xid, RPCMsgAccepted)
	acceptedHeader(&buf, RPCProgMismatch)
	_ = xdr.WriteUint32(&buf, low)
	_ = xdr.WriteUint32(&buf, high)
	return buf.Bytes()
}

// EncodeProgMismatch builds an un-record-marked MSG_ACCEPTED{PROG_MISMATCH}
// reply body carrying the server's supported version range, for use by
// dispatchers running under transport.Listener (which adds record marking
// itself for TCP).
func EncodeProgMismatch(xid, low, high uint32) ([]byte, error) {
	if low > high {
		return nil, fmt.Errorf("invalid version range: low (%d) > high (%d)", low, high)
	}
	return encodeProgMismatchBody(xid, low, high), nil
}

// MakeProgMismatchReply builds a complete, record-marked MSG_ACCEPTED
// {PROG_MISMATCH} TCP reply carrying the server's supported version range.
// Unlike EncodeProgMismatch, this is wire-ready on its own -- it is meant
// for direct, non-transport.Listener use.
func MakeProgMismatchReply(xid, low, high uint32) ([]byte, error) {
	if low > high {
		return nil, fmt.Errorf("invalid version range: low (%d) > high (%d)", low, high)
	}
	return wrapRecordMarking(encodeProgMismatchBody(xid, low, high)), nil
}

// EncodeRPCMismatch builds an un-record-marked MSG_DENIED{RPC_MISMATCH}
// reply body for an unsupported rpcvers (spec.md §3 invariant: wire
// rpcvers must be 2).
func EncodeRPCMismatch(xid, low, high uint32) []byte {
	var buf bytes.Buffer
	replyHeader(&buf, xid, RPCMsgDenied)
	_ = xdr.WriteUint32(&buf, RPCMismatch)
	_ = xdr.WriteUint32(&buf, low)
	_ = xdr.WriteUint32(&buf, high)
	return buf.Bytes()
}

// EncodeAuthError builds an un-record-marked MSG_DENIED{AUTH_ERROR} reply
// body for an unsupported or rejected authentication flavor/credential.
func EncodeAuthError(xid uint32, authStat uint32) []byte {
	var buf bytes.Buffer
	replyHeader(&buf, xid, RPCMsgDenied)
	_ = xdr.WriteUint32(&buf, RPCAuthError)
	_ = xdr.WriteUint32(&buf, authStat)
	return buf.Bytes()
}
