package v4

import (
	"bytes"
	"encoding/hex"
	"io"
	"sync"

	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/nfsd/nfsd/internal/security"
)

// clientRecord is what EXCHANGE_ID establishes before CREATE_SESSION can
// bind it to a session (RFC 5661 §18.35-18.36).
type clientRecord struct {
	ID       uint64
	OwnerID  string
	Verifier [8]byte
}

// ClientTable tracks the clientid4 namespace this server hands out via
// EXCHANGE_ID, separate from security.SessionTable which tracks the
// sessions built on top of a confirmed clientid.
type ClientTable struct {
	mu      sync.Mutex
	byOwner map[string]*clientRecord
	nextID  uint64
}

// NewClientTable creates an empty table.
func NewClientTable() *ClientTable {
	return &ClientTable{byOwner: make(map[string]*clientRecord), nextID: 1}
}

// ExchangeID assigns (or returns the existing) clientid for ownerID,
// replacing a stale record when the verifier has changed (the client
// restarted, per RFC 5661 §18.35.4 case 2).
func (c *ClientTable) ExchangeID(ownerID string, verifier [8]byte) *clientRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.byOwner[ownerID]; ok && rec.Verifier == verifier {
		return rec
	}
	rec := &clientRecord{ID: c.nextID, OwnerID: ownerID, Verifier: verifier}
	c.nextID++
	c.byOwner[ownerID] = rec
	return rec
}

// Lookup returns the client record for clientID, if any.
func (c *ClientTable) Lookup(clientID uint64) (*clientRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.byOwner {
		if rec.ID == clientID {
			return rec, true
		}
	}
	return nil, false
}

// Destroy removes the client record for clientID (DESTROY_CLIENTID).
func (c *ClientTable) Destroy(clientID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for owner, rec := range c.byOwner {
		if rec.ID == clientID {
			delete(c.byOwner, owner)
			return
		}
	}
}

const maxSlots = 16

// opExchangeID handles EXCHANGE_ID (op 42): binds an eia_clientowner to a
// clientid4, creating one on first contact or confirming an existing one.
func (h *Handler) opExchangeID(r *bytes.Reader, buf *bytes.Buffer) (uint32, error) {
	var verifier [8]byte
	if _, err := io.ReadFull(r, verifier[:]); err != nil {
		return 0, err
	}
	ownerID, err := xdr.DecodeOpaque(r)
	if err != nil {
		return 0, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // eia_flags
		return 0, err
	}
	spaHow, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, err
	}
	if spaHow != 0 { // only SP4_NONE is supported
		if err := xdr.WriteUint32(buf, NFS4ErrNotSupp); err != nil {
			return 0, err
		}
		return NFS4ErrNotSupp, nil
	}
	// eia_client_impl_id<1>: an optional single nfs_impl_id4, almost
	// always omitted by real clients.
	hasImpl, err := xdr.DecodeBool(r)
	if err != nil {
		return 0, err
	}
	if hasImpl {
		if _, err := xdr.DecodeString(r); err != nil { // domain
			return 0, err
		}
		if _, err := xdr.DecodeString(r); err != nil { // name
			return 0, err
		}
		if _, err := xdr.DecodeUint32(r); err != nil { // date.seconds high
			return 0, err
		}
		if _, err := xdr.DecodeUint32(r); err != nil { // date.seconds low / nseconds depending on encoding
			return 0, err
		}
	}

	rec := h.clients.ExchangeID(string(ownerID), verifier)

	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, err
	}
	if err := xdr.WriteUint64(buf, rec.ID); err != nil {
		return 0, err
	}
	if err := xdr.WriteUint32(buf, 1); err != nil { // eir_sequenceid
		return 0, err
	}
	if err := xdr.WriteUint32(buf, 0); err != nil { // eir_flags
		return 0, err
	}
	if err := xdr.WriteUint32(buf, 0); err != nil { // spr_how = SP4_NONE
		return 0, err
	}
	if err := xdr.WriteUint64(buf, rec.ID); err != nil { // eir_server_owner.so_minor_id
		return 0, err
	}
	if err := xdr.WriteXDRString(buf, "nfsd"); err != nil { // so_major_id
		return 0, err
	}
	if err := xdr.WriteXDRString(buf, "nfsd"); err != nil { // eir_server_scope
		return 0, err
	}
	return NFS4OK, xdr.WriteArrayLength(buf, 0) // eir_server_impl_id<1>
}

// opCreateSession handles CREATE_SESSION (op 43): binds a confirmed
// clientid to a session with its own slot table.
func (h *Handler) opCreateSession(r *bytes.Reader, buf *bytes.Buffer) (uint32, error) {
	clientID, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // csa_sequence
		return 0, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // csa_flags
		return 0, err
	}
	foreSlots, err := skipChannelAttrs(r)
	if err != nil {
		return 0, err
	}
	if _, err := skipChannelAttrs(r); err != nil { // back channel
		return 0, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // csa_cb_program
		return 0, err
	}
	secCount, err := xdr.DecodeArrayLength(r)
	if err != nil {
		return 0, err
	}
	for i := uint32(0); i < secCount; i++ {
		if _, err := xdr.DecodeUint32(r); err != nil { // flavor, AUTH_NONE assumed
			return 0, err
		}
	}

	if _, ok := h.clients.Lookup(clientID); !ok {
		if err := xdr.WriteUint32(buf, NFS4ErrStaleClientID); err != nil {
			return 0, err
		}
		return NFS4ErrStaleClientID, nil
	}

	slots := foreSlots
	if slots == 0 || slots > maxSlots {
		slots = maxSlots
	}
	sess, err := h.sessions.Create(clientID, &security.Context{}, slots)
	if err != nil {
		return 0, err
	}

	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, err
	}
	sessionIDBytes, err := decodeHexSessionID(sess.ID)
	if err != nil {
		return 0, err
	}
	buf.Write(sessionIDBytes)
	if err := xdr.WriteUint32(buf, 1); err != nil { // csr_sequence
		return 0, err
	}
	if err := xdr.WriteUint32(buf, 0); err != nil { // csr_flags
		return 0, err
	}
	if err := writeChannelAttrs(buf, slots); err != nil {
		return 0, err
	}
	if err := writeChannelAttrs(buf, slots); err != nil {
		return 0, err
	}
	return NFS4OK, nil
}

func skipChannelAttrs(r *bytes.Reader) (slots uint32, err error) {
	if _, err = xdr.DecodeUint32(r); err != nil { // ca_headerpadsize
		return 0, err
	}
	if _, err = xdr.DecodeUint32(r); err != nil { // ca_maxrequestsize
		return 0, err
	}
	if _, err = xdr.DecodeUint32(r); err != nil { // ca_maxresponsesize
		return 0, err
	}
	if _, err = xdr.DecodeUint32(r); err != nil { // ca_maxresponsesize_cached
		return 0, err
	}
	if _, err = xdr.DecodeUint32(r); err != nil { // ca_maxoperations
		return 0, err
	}
	slots, err = xdr.DecodeUint32(r) // ca_maxrequests
	if err != nil {
		return 0, err
	}
	rdmaCount, err := xdr.DecodeArrayLength(r) // ca_rdma_ird<1>
	if err != nil {
		return 0, err
	}
	for i := uint32(0); i < rdmaCount; i++ {
		if _, err = xdr.DecodeUint32(r); err != nil {
			return 0, err
		}
	}
	return slots, nil
}

func writeChannelAttrs(buf *bytes.Buffer, slots uint32) error {
	values := []uint32{0, 1048576, 1048576, 1048576, 8, slots}
	for _, v := range values {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return err
		}
	}
	return xdr.WriteArrayLength(buf, 0)
}

// opSequence handles SEQUENCE (op 53): validates the session/slot/seqid
// triple and admits the rest of the compound (RFC 5661 §18.46).
func (h *Handler) opSequence(r *bytes.Reader, buf *bytes.Buffer) (uint32, string, error) {
	var sessionID [16]byte
	if _, err := io.ReadFull(r, sessionID[:]); err != nil {
		return 0, "", err
	}
	seqID, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	slotID, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // highest_slotid
		return 0, "", err
	}
	if _, err := xdr.DecodeBool(r); err != nil { // sa_cachethis
		return 0, "", err
	}

	idHex := encodeHexSessionID(sessionID)
	sess, ok := h.sessions.Validate(idHex)
	if !ok {
		if err := xdr.WriteUint32(buf, NFS4ErrBadSession); err != nil {
			return 0, "", err
		}
		return NFS4ErrBadSession, "", nil
	}
	if !sess.SlotTable.NextSeqID(slotID, seqID) {
		if err := xdr.WriteUint32(buf, NFS4ErrSeqMisordered); err != nil {
			return 0, "", err
		}
		return NFS4ErrSeqMisordered, "", nil
	}

	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	buf.Write(sessionID[:])
	if err := xdr.WriteUint32(buf, seqID); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint32(buf, slotID); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint32(buf, maxSlots-1); err != nil { // sr_highest_slotid
		return 0, "", err
	}
	if err := xdr.WriteUint32(buf, maxSlots-1); err != nil { // sr_target_highest_slotid
		return 0, "", err
	}
	if err := xdr.WriteUint32(buf, 0); err != nil { // sr_status_flags
		return 0, "", err
	}
	sess.SlotTable.Store(slotID, seqID, nil)
	return NFS4OK, idHex, nil
}

// opDestroySession handles DESTROY_SESSION (op 44).
func (h *Handler) opDestroySession(r *bytes.Reader, buf *bytes.Buffer) (uint32, error) {
	var sessionID [16]byte
	if _, err := io.ReadFull(r, sessionID[:]); err != nil {
		return 0, err
	}
	h.sessions.Destroy(encodeHexSessionID(sessionID))
	return NFS4OK, xdr.WriteUint32(buf, NFS4OK)
}

// opDestroyClientid handles DESTROY_CLIENTID (op 57).
func (h *Handler) opDestroyClientid(r *bytes.Reader, buf *bytes.Buffer) (uint32, error) {
	clientID, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, err
	}
	h.clients.Destroy(clientID)
	return NFS4OK, xdr.WriteUint32(buf, NFS4OK)
}

// opReclaimComplete handles RECLAIM_COMPLETE (op 58): this server never
// enters a reboot grace period, so reclaim is trivially complete.
func (h *Handler) opReclaimComplete(r *bytes.Reader, buf *bytes.Buffer) (uint32, error) {
	if _, err := xdr.DecodeBool(r); err != nil { // rca_one_fs
		return 0, err
	}
	return NFS4OK, xdr.WriteUint32(buf, NFS4OK)
}

// opGetDeviceInfo handles GETDEVICEINFO (op 47): this server exposes no
// pNFS layout types, so every device lookup fails NOTSUPP.
func (h *Handler) opGetDeviceInfo(r *bytes.Reader, buf *bytes.Buffer) (uint32, error) {
	if _, err := io.ReadFull(r, make([]byte, 16)); err != nil { // deviceid4
		return 0, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // layout type
		return 0, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // maxcount
		return 0, err
	}
	if _, err := xdr.DecodeUint32Array(r); err != nil { // notify bitmap
		return 0, err
	}
	return NFS4ErrNotSupp, xdr.WriteUint32(buf, NFS4ErrNotSupp)
}

func encodeHexSessionID(b [16]byte) string {
	return hex.EncodeToString(b[:])
}

func decodeHexSessionID(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
