package v4

import (
	"bytes"
	"encoding/hex"
	"errors"

	"github.com/nfsd/nfsd/internal/access"
	"github.com/nfsd/nfsd/internal/nfs"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/nfsd/nfsd/internal/vfs"
)

const (
	openFlagCreate = 1

	createUnchecked   = 0
	createGuarded     = 1
	createExclusive4  = 2
	createExclusive41 = 3

	claimNull = 0

	shareAccessRead  = 1
	shareAccessWrite = 2

	shareDenyNone  = 0
	shareDenyRead  = 1
	shareDenyWrite = 2
)

func openOwnerKey(clientID uint64, owner []byte) string {
	return hex.EncodeToString(append(encodeUint64(clientID), owner...))
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func shareToAccessMode(shareAccess uint32) access.Mode {
	switch shareAccess {
	case shareAccessRead:
		return access.ModeReadOnly
	case shareAccessWrite:
		return access.ModeWriteOnly
	default:
		return access.ModeReadWrite
	}
}

func denyToSharing(shareDeny uint32) access.Sharing {
	switch shareDeny {
	case shareDenyNone:
		return access.SharedAll
	case shareDenyRead:
		return access.SharedWrite
	case shareDenyWrite:
		return access.SharedRead
	default:
		return access.Exclusive
	}
}

// opOpen handles OPEN (op 18): RFC 5661 §18.16 restricted to
// CLAIM_NULL and the UNCHECKED4/GUARDED4/EXCLUSIVE4 create modes real
// clients send for a plain create-or-open-existing. CLAIM_PREVIOUS and
// the delegation-reclaim claims this server never hands out a
// delegation to are reported NFS4ERR_NOTSUPP.
func (h *Handler) opOpen(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	if _, err := xdr.DecodeUint32(r); err != nil { // seqid
		return 0, "", err
	}
	shareAccess, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	shareDeny, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	clientID, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, "", err
	}
	ownerOpaque, err := xdr.DecodeOpaque(r)
	if err != nil {
		return 0, "", err
	}

	openType, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	mode := uint32(0644)
	create := openType == openFlagCreate
	if create {
		createMode, err := xdr.DecodeUint32(r)
		if err != nil {
			return 0, "", err
		}
		switch createMode {
		case createUnchecked, createGuarded:
			set, err := decodeFattr4(r)
			if err != nil {
				return 0, "", err
			}
			if set.mode != nil {
				mode = *set.mode
			}
		case createExclusive4, createExclusive41:
			var verifier [8]byte
			if err := readOpaqueFixed(r, verifier[:]); err != nil {
				return 0, "", err
			}
		default:
			return writeStatusOnly(buf, NFS4ErrNotSupp)
		}

		claim, err := xdr.DecodeUint32(r)
		if err != nil {
			return 0, "", err
		}
		if claim != claimNull {
			return writeStatusOnly(buf, NFS4ErrNotSupp)
		}
		name, err := xdr.DecodeString(r)
		if err != nil {
			return 0, "", err
		}
		if !cs.hasCurrent() {
			return writeStatusOnly(buf, NFS4ErrNoFilehandle)
		}
		return h.openCreateChild(hc, buf, cs, name, mode, createMode == createGuarded)
	}

	claim, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	if claim != claimNull {
		return writeStatusOnly(buf, NFS4ErrNotSupp)
	}
	name, err := xdr.DecodeString(r)
	if err != nil {
		return 0, "", err
	}
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}

	return h.openExisting(hc, buf, cs, name, clientID, ownerOpaque, shareAccess, shareDeny)
}

func (h *Handler) openCreateChild(hc *nfs.HandlerContext, buf *bytes.Buffer, cs *compoundState, name string, mode uint32, guarded bool) (uint32, string, error) {
	childPath := joinName(cs.curPath, name)

	f, cerr := h.Server.Backend.Create(hc.Context, childPath, mode)
	switch {
	case cerr == nil:
		f.Close()
	case errors.Is(cerr, vfs.ErrExist) && !guarded:
		// UNCHECKED4: an existing file is fine, open it as-is.
	default:
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(cerr)))
	}

	childFi, serr := h.Server.Backend.Stat(hc.Context, childPath)
	if serr != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(serr)))
	}
	cs.curPath, cs.curFi = childPath, childFi
	cs.curFH = h.Server.Handles.PathToHandle(childPath)

	return h.finishOpen(buf, cs, "anonymous", access.ModeReadWrite, access.SharedAll, true)
}

func (h *Handler) openExisting(hc *nfs.HandlerContext, buf *bytes.Buffer, cs *compoundState, name string, clientID uint64, ownerOpaque []byte, shareAccess, shareDeny uint32) (uint32, string, error) {
	childPath := joinName(cs.curPath, name)
	childFi, serr := h.Server.Backend.Stat(hc.Context, childPath)
	if serr != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(serr)))
	}
	cs.curPath, cs.curFi = childPath, childFi
	cs.curFH = h.Server.Handles.PathToHandle(childPath)

	ownerKey := openOwnerKey(clientID, ownerOpaque)
	return h.finishOpen(buf, cs, ownerKey, shareToAccessMode(shareAccess), denyToSharing(shareDeny), false)
}

func (h *Handler) finishOpen(buf *bytes.Buffer, cs *compoundState, ownerKey string, mode access.Mode, sharing access.Sharing, created bool) (uint32, string, error) {
	if h.Server.Access != nil {
		if err := h.Server.Access.Open(cs.curPath, ownerKey, mode, sharing); err != nil {
			return writeStatusOnly(buf, NFS4ErrDenied)
		}
	}

	stateid := h.opens.Allocate(cs.curPath, ownerKey)

	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	buf.Write(stateid[:])
	if err := xdr.WriteUint32(buf, 0); err != nil { // OPEN4_RESULT_CONFIRM not required
		return 0, "", err
	}
	if err := xdr.WriteUint32Array(buf, bitmapFromSet(nil)); err != nil { // attrset
		return 0, "", err
	}
	// change_info4: before, after, atomic
	if err := xdr.WriteUint64(buf, uint64(cs.curFi.MTime.UnixNano())); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint64(buf, uint64(cs.curFi.MTime.UnixNano())); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteBool(buf, false); err != nil {
		return 0, "", err
	}
	// delegation_type4 = OPEN_DELEGATE_NONE
	return NFS4OK, "", xdr.WriteUint32(buf, 0)
}

// opClose handles CLOSE (op 4): releases the access-tracker record an
// OPEN registered and forgets the stateid.
func (h *Handler) opClose(r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	if _, err := xdr.DecodeUint32(r); err != nil { // seqid
		return 0, "", err
	}
	var stateid [16]byte
	if err := readOpaqueFixed(r, stateid[:]); err != nil {
		return 0, "", err
	}

	path, ownerKey, ok := h.opens.Release(stateid)
	if ok && h.Server.Access != nil {
		h.Server.Access.Close(path, ownerKey)
	}

	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	var zero [16]byte
	buf.Write(zero[:])
	return NFS4OK, "", nil
}

// opLock handles LOCK (op 12): takes a whole-file or byte-range lock
// via the VFS backend's advisory lock table, tracked under its own
// stateid namespace.
func (h *Handler) opLock(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	lockType, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	if _, err := xdr.DecodeBool(r); err != nil { // reclaim
		return 0, "", err
	}
	offset, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, "", err
	}
	length, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, "", err
	}
	newLockOwner, err := xdr.DecodeBool(r)
	if err != nil {
		return 0, "", err
	}

	var ownerKey string
	if newLockOwner {
		if _, err := xdr.DecodeUint32(r); err != nil { // open_seqid
			return 0, "", err
		}
		var openStateid [16]byte
		if err := readOpaqueFixed(r, openStateid[:]); err != nil {
			return 0, "", err
		}
		if _, err := xdr.DecodeUint32(r); err != nil { // lock_seqid
			return 0, "", err
		}
		clientID, err := xdr.DecodeUint64(r)
		if err != nil {
			return 0, "", err
		}
		ownerOpaque, err := xdr.DecodeOpaque(r)
		if err != nil {
			return 0, "", err
		}
		ownerKey = openOwnerKey(clientID, ownerOpaque)
	} else {
		var lockStateid [16]byte
		if err := readOpaqueFixed(r, lockStateid[:]); err != nil {
			return 0, "", err
		}
		if _, err := xdr.DecodeUint32(r); err != nil { // lock_seqid
			return 0, "", err
		}
		_, existing, ok := h.locks.Lookup(lockStateid)
		if !ok {
			return writeStatusOnly(buf, NFS4ErrBadStateid)
		}
		ownerKey = existing
	}

	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}

	rng := vfs.LockRange{
		Type:   lockTypeFromWire(lockType),
		Owner:  ownerKey,
		Offset: offset,
		Length: length,
	}
	if err := h.Server.Backend.Lock(hc.Context, cs.curPath, rng); err != nil {
		return writeStatusOnly(buf, NFS4ErrDenied)
	}

	stateid := h.locks.Allocate(cs.curPath, ownerKey)
	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	buf.Write(stateid[:])
	return NFS4OK, "", nil
}

// opLockt handles LOCKT (op 13): tests whether a lock would be granted
// without acquiring it. The VFS backend exposes no separate test
// primitive, so this attempts the lock and immediately releases it --
// a window exists where a concurrent LOCK could race in between, an
// accepted imprecision for a test-only operation.
func (h *Handler) opLockt(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	lockType, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	offset, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, "", err
	}
	length, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, "", err
	}
	clientID, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, "", err
	}
	ownerOpaque, err := xdr.DecodeOpaque(r)
	if err != nil {
		return 0, "", err
	}

	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}

	rng := vfs.LockRange{
		Type:   lockTypeFromWire(lockType),
		Owner:  openOwnerKey(clientID, ownerOpaque),
		Offset: offset,
		Length: length,
	}
	if err := h.Server.Backend.Lock(hc.Context, cs.curPath, rng); err != nil {
		return writeStatusOnly(buf, NFS4ErrDenied)
	}
	_ = h.Server.Backend.Unlock(hc.Context, cs.curPath, rng)
	return writeStatusOnly(buf, NFS4OK)
}

// opLocku handles LOCKU (op 14): releases a byte-range lock by stateid.
func (h *Handler) opLocku(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	if _, err := xdr.DecodeUint32(r); err != nil { // locktype
		return 0, "", err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // seqid
		return 0, "", err
	}
	var stateid [16]byte
	if err := readOpaqueFixed(r, stateid[:]); err != nil {
		return 0, "", err
	}
	offset, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, "", err
	}
	length, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, "", err
	}

	path, ownerKey, ok := h.locks.Release(stateid)
	if !ok {
		return writeStatusOnly(buf, NFS4ErrBadStateid)
	}
	_ = h.Server.Backend.Unlock(hc.Context, path, vfs.LockRange{Owner: ownerKey, Offset: offset, Length: length})

	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	var zero [16]byte
	buf.Write(zero[:])
	return NFS4OK, "", nil
}

// opDelegReturn handles DELEGRETURN (op 8). This server never grants
// delegations (OPEN always replies OPEN_DELEGATE_NONE), so any
// DELEGRETURN a client sends refers to a delegation it no longer holds
// and is trivially satisfied.
func (h *Handler) opDelegReturn(r *bytes.Reader, buf *bytes.Buffer) (uint32, string, error) {
	var stateid [16]byte
	if err := readOpaqueFixed(r, stateid[:]); err != nil {
		return 0, "", err
	}
	return writeStatusOnly(buf, NFS4OK)
}

func lockTypeFromWire(t uint32) vfs.LockType {
	switch t {
	case 1, 3: // READ_LT, READW_LT
		return vfs.LockRead
	default: // WRITE_LT, WRITEW_LT
		return vfs.LockWrite
	}
}
