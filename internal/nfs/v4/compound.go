package v4

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/nfsd/nfsd/internal/nfs"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/nfsd/nfsd/internal/security"
	"github.com/nfsd/nfsd/internal/vfs"
)

// WriteVerifier4 is this server instance's write verifier (RFC 5661
// §18.32.3), stable for the process lifetime and changing only across
// restarts so clients can detect whether UNSTABLE4 writes survived a crash.
var WriteVerifier4 = func() [8]byte {
	var v [8]byte
	now := uint64(time.Now().UnixNano())
	for i := range v {
		v[i] = byte(now >> (8 * uint(i)))
	}
	return v
}()

func readOpaqueFixed(r *bytes.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

func secToTime(sec int64) *time.Time {
	t := time.Unix(sec, 0)
	return &t
}

// Handler implements NFSPROC4_COMPOUND against a shared nfs.Server, plus
// the v4.1 client/session bookkeeping EXCHANGE_ID and CREATE_SESSION need.
type Handler struct {
	Server   *nfs.Server
	clients  *ClientTable
	sessions *security.SessionTable
	opens    *StateTable
	locks    *StateTable
}

// NewHandler creates a v4 Handler backed by srv. sessions is the shared
// session table (spec §4.5.2), already running its idle sweep. opens and
// locks get their own StateTable since an OPEN stateid and a LOCK stateid
// drawn from the same wire "other" field would otherwise be interchangeable.
func NewHandler(srv *nfs.Server, sessions *security.SessionTable) *Handler {
	return &Handler{
		Server:   srv,
		clients:  NewClientTable(),
		sessions: sessions,
		opens:    NewStateTable(),
		locks:    NewStateTable(),
	}
}

// compoundState is the current/saved filehandle pair threaded through one
// COMPOUND's operation list (RFC 5661 §16.2.3.1.1).
type compoundState struct {
	curPath string
	curFi   *vfs.FileInfo
	curFH   []byte

	savedPath string
	savedFi   *vfs.FileInfo
	savedFH   []byte
}

func (cs *compoundState) hasCurrent() bool { return cs.curFH != nil }

// Null implements NFSPROC4_NULL.
func (h *Handler) Null() []byte { return nil }

// Compound implements NFSPROC4_COMPOUND: decode tag + minor version + an
// array of (opnum, opargs), execute each in order against shared
// compoundState, and stop at the first operation that fails (RFC 5661
// §16.2.3: "processing ceases immediately upon the first error").
func (h *Handler) Compound(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	tag, err := xdr.DecodeString(r)
	if err != nil {
		return nil, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // minorversion
		return nil, err
	}
	numOps, err := xdr.DecodeArrayLength(r)
	if err != nil {
		return nil, err
	}

	var results bytes.Buffer
	var resultCount uint32
	status := uint32(NFS4OK)
	cs := &compoundState{}

	for i := uint32(0); i < numOps; i++ {
		opNum, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, err
		}

		var opBuf bytes.Buffer
		opStatus, _, err := h.dispatchOp(hc, opNum, r, &opBuf, cs)
		if err != nil {
			return nil, err
		}

		if err := xdr.WriteUint32(&results, opNum); err != nil {
			return nil, err
		}
		results.Write(opBuf.Bytes())
		resultCount++
		status = opStatus
		if opStatus != NFS4OK {
			break
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, status); err != nil {
		return nil, err
	}
	if err := xdr.WriteXDRString(&buf, tag); err != nil {
		return nil, err
	}
	if err := xdr.WriteArrayLength(&buf, int(resultCount)); err != nil {
		return nil, err
	}
	buf.Write(results.Bytes())
	return buf.Bytes(), nil
}

// dispatchOp executes one operation, writing its result (status first,
// then any operation-specific payload) to opBuf. It returns the op's
// status, and -- for SEQUENCE only -- the session id the rest of the
// compound is running under.
func (h *Handler) dispatchOp(hc *nfs.HandlerContext, opNum uint32, r *bytes.Reader, opBuf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	switch opNum {
	case OpPutfh:
		return h.opPutfh(hc, r, opBuf, cs)
	case OpPutrootfh:
		return h.opPutrootfh(hc, opBuf, cs)
	case OpPutpubfh:
		return h.opPutrootfh(hc, opBuf, cs)
	case OpGetfh:
		return h.opGetfh(opBuf, cs)
	case OpSavefh:
		return h.opSavefh(opBuf, cs)
	case OpRestorefh:
		return h.opRestorefh(opBuf, cs)
	case OpLookup:
		return h.opLookup(hc, r, opBuf, cs)
	case OpLookupp:
		return h.opLookupp(hc, opBuf, cs)
	case OpGetattr:
		return h.opGetattr(r, opBuf, cs)
	case OpSetattr:
		return h.opSetattr(hc, r, opBuf, cs)
	case OpAccess:
		return h.opAccess(hc, r, opBuf, cs)
	case OpReadlink:
		return h.opReadlink(hc, opBuf, cs)
	case OpRead:
		return h.opRead(hc, r, opBuf, cs)
	case OpWrite:
		return h.opWrite(hc, r, opBuf, cs)
	case OpCommit:
		return h.opCommit(hc, r, opBuf, cs)
	case OpCreate:
		return h.opCreate(hc, r, opBuf, cs)
	case OpRemove:
		return h.opRemove(hc, r, opBuf, cs)
	case OpRename:
		return h.opRename(hc, r, opBuf, cs)
	case OpLink:
		return h.opLink(hc, r, opBuf, cs)
	case OpReaddir:
		return h.opReaddir(hc, r, opBuf, cs)
	case OpSecinfo:
		return h.opSecinfo(r, opBuf)
	case OpOpen:
		return h.opOpen(hc, r, opBuf, cs)
	case OpClose:
		return h.opClose(r, opBuf, cs)
	case OpLock:
		return h.opLock(hc, r, opBuf, cs)
	case OpLockt:
		return h.opLockt(hc, r, opBuf, cs)
	case OpLocku:
		return h.opLocku(hc, r, opBuf, cs)
	case OpDelegReturn:
		return h.opDelegReturn(r, opBuf)
	case OpExchangeID:
		status, err := h.opExchangeID(r, opBuf)
		return status, "", err
	case OpCreateSession:
		status, err := h.opCreateSession(r, opBuf)
		return status, "", err
	case OpSequence:
		return h.opSequence(r, opBuf)
	case OpDestroySession:
		status, err := h.opDestroySession(r, opBuf)
		return status, "", err
	case OpDestroyClientid:
		status, err := h.opDestroyClientid(r, opBuf)
		return status, "", err
	case OpReclaimComplete:
		status, err := h.opReclaimComplete(r, opBuf)
		return status, "", err
	case OpGetDeviceInfo:
		status, err := h.opGetDeviceInfo(r, opBuf)
		return status, "", err
	default:
		if err := xdr.WriteUint32(opBuf, NFS4ErrOpIllegal); err != nil {
			return 0, "", err
		}
		return NFS4ErrOpIllegal, "", nil
	}
}

func writeStatusOnly(buf *bytes.Buffer, status uint32) (uint32, string, error) {
	return status, "", xdr.WriteUint32(buf, status)
}

// opPutfh handles PUTFH (op 22): sets the current filehandle from an
// opaque nfs_fh4 and resolves it against the handle table.
func (h *Handler) opPutfh(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	fh, err := readFH4(r)
	if err != nil {
		return 0, "", err
	}
	path, fi, status := h.Server.Resolve(hc, fh, "PUTFH", 0)
	if status != nfs.StatusOK {
		return writeStatusOnly(buf, WireStatus(status))
	}
	cs.curPath, cs.curFi, cs.curFH = path, fi, fh
	return writeStatusOnly(buf, NFS4OK)
}

// opPutrootfh handles PUTROOTFH/PUTPUBFH (ops 24/23): both resolve to
// this server's single export root.
func (h *Handler) opPutrootfh(hc *nfs.HandlerContext, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	fh := h.Server.RootPathToHandle()
	path, fi, status := h.Server.Resolve(hc, fh, "PUTROOTFH", 0)
	if status != nfs.StatusOK {
		return writeStatusOnly(buf, WireStatus(status))
	}
	cs.curPath, cs.curFi, cs.curFH = path, fi, fh
	return writeStatusOnly(buf, NFS4OK)
}

// opGetfh handles GETFH (op 10): returns the current filehandle.
func (h *Handler) opGetfh(buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	return NFS4OK, "", writeFH4(buf, cs.curFH)
}

// opSavefh handles SAVEFH (op 32): copies current into saved.
func (h *Handler) opSavefh(buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	cs.savedPath, cs.savedFi, cs.savedFH = cs.curPath, cs.curFi, cs.curFH
	return writeStatusOnly(buf, NFS4OK)
}

// opRestorefh handles RESTOREFH (op 31): copies saved into current.
func (h *Handler) opRestorefh(buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	if cs.savedFH == nil {
		return writeStatusOnly(buf, NFS4ErrRestoreFH)
	}
	cs.curPath, cs.curFi, cs.curFH = cs.savedPath, cs.savedFi, cs.savedFH
	return writeStatusOnly(buf, NFS4OK)
}

// opLookup handles LOOKUP (op 15): advances current filehandle to a
// named child of the current directory.
func (h *Handler) opLookup(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	name, err := xdr.DecodeString(r)
	if err != nil {
		return 0, "", err
	}
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	childPath := joinName(cs.curPath, name)
	childFi, serr := h.Server.Backend.Stat(hc.Context, childPath)
	if serr != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(serr)))
	}
	cs.curPath, cs.curFi = childPath, childFi
	cs.curFH = h.Server.Handles.PathToHandle(childPath)
	return writeStatusOnly(buf, NFS4OK)
}

// opLookupp handles LOOKUPP (op 16): advances current filehandle to the
// parent directory of the current filehandle.
func (h *Handler) opLookupp(hc *nfs.HandlerContext, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	if cs.curPath == "/" {
		return writeStatusOnly(buf, NFS4ErrNoEnt)
	}
	parent := parentOf(cs.curPath)
	fi, serr := h.Server.Backend.Stat(hc.Context, parent)
	if serr != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(serr)))
	}
	cs.curPath, cs.curFi = parent, fi
	cs.curFH = h.Server.Handles.PathToHandle(parent)
	return writeStatusOnly(buf, NFS4OK)
}

// opGetattr handles GETATTR (op 9): encodes the requested subset of
// fattr4 for the current filehandle.
func (h *Handler) opGetattr(r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	words, err := xdr.DecodeUint32Array(r)
	if err != nil {
		return 0, "", err
	}
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	requested := bitmapToSet(words)
	bitmap, vals, err := encodeFattr4(requested, cs.curFi)
	if err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint32Array(buf, bitmap); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteXDROpaque(buf, vals); err != nil {
		return 0, "", err
	}
	return NFS4OK, "", nil
}

// opSetattr handles SETATTR (op 34): applies the settable subset of an
// incoming fattr4 to the current filehandle.
func (h *Handler) opSetattr(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	var stateid [16]byte
	if err := readOpaqueFixed(r, stateid[:]); err != nil {
		return 0, "", err
	}
	set, err := decodeFattr4(r)
	if err != nil {
		return 0, "", err
	}
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}

	var atime, mtime *time.Time
	if set.accessTime != nil {
		atime = secToTime(*set.accessTime)
	}
	if set.modifyTime != nil {
		mtime = secToTime(*set.modifyTime)
	}
	_, err = h.Server.Backend.SetAttr(hc.Context, cs.curPath, set.mode, nil, nil, set.size, atime, mtime)
	status := NFS4OK
	if err != nil {
		status = WireStatus(nfs.MapVfsError(err))
	} else {
		cs.curFi, _ = h.Server.Backend.Stat(hc.Context, cs.curPath)
	}
	if err := xdr.WriteUint32(buf, status); err != nil {
		return 0, "", err
	}
	return status, "", xdr.WriteUint32Array(buf, bitmapFromSet(intersect(SupportedAttrs, []uint32{Fattr4Mode, Fattr4Size, Fattr4TimeAccess, Fattr4TimeModify})))
}

// opAccess handles ACCESS (op 3): evaluates the requested access bits
// against the current filehandle's ACL/mode bits.
func (h *Handler) opAccess(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	want, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	granted := h.grantedBits(hc, cs.curPath, cs.curFi, want)
	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint32(buf, want); err != nil {
		return 0, "", err
	}
	return NFS4OK, "", xdr.WriteUint32(buf, granted)
}

func (h *Handler) grantedBits(hc *nfs.HandlerContext, path string, fi *vfs.FileInfo, want uint32) uint32 {
	const (
		accessRead    = 0x00000001
		accessLookup  = 0x00000002
		accessModify  = 0x00000004
		accessExtend  = 0x00000008
		accessDelete  = 0x00000010
		accessExecute = 0x00000020
	)
	check := func(bit uint32, perm security.Perm) uint32 {
		if want&bit == 0 {
			return 0
		}
		fa := h.Server.AclFor(path, fi)
		if !fa.Evaluate(hc.Security.UID, hc.Security.GIDs, perm) {
			return 0
		}
		return bit
	}
	var granted uint32
	granted |= check(accessRead, security.PermRead)
	granted |= check(accessLookup, security.PermExecute)
	granted |= check(accessModify, security.PermWrite)
	granted |= check(accessExtend, security.PermWrite)
	granted |= check(accessDelete, security.PermWrite)
	granted |= check(accessExecute, security.PermExecute)
	return granted
}

// opReadlink handles READLINK (op 27).
func (h *Handler) opReadlink(hc *nfs.HandlerContext, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	target, err := h.Server.Backend.Readlink(hc.Context, cs.curPath)
	if err != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(err)))
	}
	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	return NFS4OK, "", xdr.WriteXDRString(buf, target)
}

// opRead handles READ (op 25): {stateid4, offset8, count4} -> data.
func (h *Handler) opRead(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	var stateid [16]byte
	if err := readOpaqueFixed(r, stateid[:]); err != nil {
		return 0, "", err
	}
	offset, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, "", err
	}
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	if h.Server.MaxReadWrite != 0 && count > h.Server.MaxReadWrite {
		count = h.Server.MaxReadWrite
	}
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}

	f, err := h.Server.Backend.Open(hc.Context, cs.curPath, 0, 0)
	if err != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(err)))
	}
	defer f.Close()
	readBuf := make([]byte, count)
	n, rerr := f.ReadAt(readBuf, int64(offset))
	if rerr != nil && !isEOF(rerr) {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(rerr)))
	}
	if h.Server.Stats != nil {
		h.Server.Stats.BytesRead.Add(float64(n))
	}
	eof := offset+uint64(n) >= cs.curFi.Size

	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteBool(buf, eof); err != nil {
		return 0, "", err
	}
	return NFS4OK, "", xdr.WriteXDROpaque(buf, readBuf[:n])
}

// opWrite handles WRITE (op 38): {stateid4, offset8, stable_how4, data} -> WRITE4res.
func (h *Handler) opWrite(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	var stateid [16]byte
	if err := readOpaqueFixed(r, stateid[:]); err != nil {
		return 0, "", err
	}
	offset, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, "", err
	}
	stable, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	payload, err := xdr.DecodeOpaque(r)
	if err != nil {
		return 0, "", err
	}
	if h.Server.MaxReadWrite != 0 && uint32(len(payload)) > h.Server.MaxReadWrite {
		payload = payload[:h.Server.MaxReadWrite]
	}
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}

	f, err := h.Server.Backend.Open(hc.Context, cs.curPath, 0, 0)
	if err != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(err)))
	}
	written, werr := f.WriteAt(payload, int64(offset))
	if stable != 0 { // UNSTABLE4=0 is the only mode that skips a sync
		if serr := f.Sync(); serr != nil && werr == nil {
			werr = serr
		}
	}
	f.Close()
	if werr != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(werr)))
	}
	if h.Server.Stats != nil {
		h.Server.Stats.BytesWritten.Add(float64(written))
	}
	cs.curFi, _ = h.Server.Backend.Stat(hc.Context, cs.curPath)

	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint32(buf, uint32(written)); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint32(buf, stable); err != nil {
		return 0, "", err
	}
	buf.Write(WriteVerifier4[:])
	return NFS4OK, "", nil
}

// opCommit handles COMMIT (op 5): flush previously UNSTABLE writes.
func (h *Handler) opCommit(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	if _, err := xdr.DecodeUint64(r); err != nil { // offset
		return 0, "", err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // count
		return 0, "", err
	}
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	f, err := h.Server.Backend.Open(hc.Context, cs.curPath, 0, 0)
	if err != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(err)))
	}
	err = f.Sync()
	f.Close()
	if err != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(err)))
	}
	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	buf.Write(WriteVerifier4[:])
	return NFS4OK, "", nil
}

// opCreate handles CREATE (op 6): creates a directory or symlink as a
// child of the current filehandle, then advances current to the new
// object. Every other object type, special files included, gets
// NFS4ERR_BADTYPE (regular files are created through OPEN, not CREATE,
// per RFC 5661 §18.4).
func (h *Handler) opCreate(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	objType, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, "", err
	}
	var linkTarget string
	if objType == NF4Lnk {
		linkTarget, err = xdr.DecodeString(r)
		if err != nil {
			return 0, "", err
		}
	}
	name, err := xdr.DecodeString(r)
	if err != nil {
		return 0, "", err
	}
	set, err := decodeFattr4(r)
	if err != nil {
		return 0, "", err
	}
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}

	mode := uint32(0755)
	if set.mode != nil {
		mode = *set.mode
	}
	childPath := joinName(cs.curPath, name)

	var cerr error
	switch objType {
	case NF4Dir:
		_, cerr = h.Server.Backend.Mkdir(hc.Context, childPath, mode)
	case NF4Lnk:
		cerr = h.Server.Backend.Symlink(hc.Context, linkTarget, childPath)
	default:
		return writeStatusOnly(buf, NFS4ErrBadType)
	}
	if cerr != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(cerr)))
	}
	childFi, serr := h.Server.Backend.Stat(hc.Context, childPath)
	if serr != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(serr)))
	}
	cs.curPath, cs.curFi = childPath, childFi
	cs.curFH = h.Server.Handles.PathToHandle(childPath)

	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint64(buf, uint64(childFi.MTime.UnixNano())); err != nil { // cinfo.before
		return 0, "", err
	}
	if err := xdr.WriteUint64(buf, uint64(childFi.MTime.UnixNano())); err != nil { // cinfo.after
		return 0, "", err
	}
	if err := xdr.WriteBool(buf, false); err != nil { // cinfo.atomic
		return 0, "", err
	}
	return NFS4OK, "", xdr.WriteUint32Array(buf, bitmapFromSet(nil))
}

// opRemove handles REMOVE (op 28): removes a child of the current
// filehandle by name.
func (h *Handler) opRemove(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	name, err := xdr.DecodeString(r)
	if err != nil {
		return 0, "", err
	}
	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	childPath := joinName(cs.curPath, name)
	childFi, serr := h.Server.Backend.Stat(hc.Context, childPath)
	var rerr error
	if serr == nil && childFi.Type == vfs.TypeDirectory {
		rerr = h.Server.Backend.Rmdir(hc.Context, childPath)
	} else {
		rerr = h.Server.Backend.Remove(hc.Context, childPath)
	}
	if rerr != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(rerr)))
	}
	h.Server.Handles.Invalidate(childPath)
	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint64(buf, uint64(cs.curFi.MTime.UnixNano())); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint64(buf, uint64(cs.curFi.MTime.UnixNano())); err != nil {
		return 0, "", err
	}
	return NFS4OK, "", xdr.WriteBool(buf, false)
}

// opRename handles RENAME (op 29): saved filehandle is the source
// directory, current filehandle is the target directory (RFC 5661 §18.26).
func (h *Handler) opRename(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	oldName, err := xdr.DecodeString(r)
	if err != nil {
		return 0, "", err
	}
	newName, err := xdr.DecodeString(r)
	if err != nil {
		return 0, "", err
	}
	if !cs.hasCurrent() || cs.savedFH == nil {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	oldPath := joinName(cs.savedPath, oldName)
	newPath := joinName(cs.curPath, newName)
	if err := h.Server.Backend.Rename(hc.Context, oldPath, newPath); err != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(err)))
	}
	h.Server.Handles.Rename(oldPath, newPath)
	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	for i := 0; i < 4; i++ { // source_cinfo + target_cinfo, before/after pairs
		if err := xdr.WriteUint64(buf, uint64(cs.curFi.MTime.UnixNano())); err != nil {
			return 0, "", err
		}
	}
	if err := xdr.WriteBool(buf, false); err != nil {
		return 0, "", err
	}
	return NFS4OK, "", xdr.WriteBool(buf, false)
}

// opLink handles LINK (op 11): saved filehandle is the source file,
// current filehandle is the target directory.
func (h *Handler) opLink(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	name, err := xdr.DecodeString(r)
	if err != nil {
		return 0, "", err
	}
	if !cs.hasCurrent() || cs.savedFH == nil {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	linkPath := joinName(cs.curPath, name)
	if err := h.Server.Backend.Link(hc.Context, cs.savedPath, linkPath); err != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(err)))
	}
	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint64(buf, uint64(cs.curFi.MTime.UnixNano())); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteUint64(buf, uint64(cs.curFi.MTime.UnixNano())); err != nil {
		return 0, "", err
	}
	return NFS4OK, "", xdr.WriteBool(buf, false)
}

// opReaddir handles READDIR (op 26): {cookie8, cookieverf8, dircount4,
// maxcount4, attr_request4} -> entries each carrying requested fattr4.
func (h *Handler) opReaddir(hc *nfs.HandlerContext, r *bytes.Reader, buf *bytes.Buffer, cs *compoundState) (uint32, string, error) {
	cookie, err := xdr.DecodeUint64(r)
	if err != nil {
		return 0, "", err
	}
	if err := readOpaqueFixed(r, make([]byte, 8)); err != nil { // cookieverf4
		return 0, "", err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // dircount
		return 0, "", err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // maxcount
		return 0, "", err
	}
	words, err := xdr.DecodeUint32Array(r)
	if err != nil {
		return 0, "", err
	}
	requested := bitmapToSet(words)

	if !cs.hasCurrent() {
		return writeStatusOnly(buf, NFS4ErrNoFilehandle)
	}
	entries, derr := h.Server.Backend.ReadDir(hc.Context, cs.curPath)
	if derr != nil {
		return writeStatusOnly(buf, WireStatus(nfs.MapVfsError(derr)))
	}

	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	buf.Write(WriteVerifier4[:])

	for i, e := range entries {
		if uint64(i) < cookie {
			continue
		}
		childPath := joinName(cs.curPath, e.Name)
		childFi, serr := h.Server.Backend.Stat(hc.Context, childPath)
		if serr != nil {
			continue
		}
		if err := xdr.WriteBool(buf, true); err != nil {
			return 0, "", err
		}
		if err := xdr.WriteUint64(buf, uint64(i)+1); err != nil {
			return 0, "", err
		}
		if err := xdr.WriteXDRString(buf, e.Name); err != nil {
			return 0, "", err
		}
		bitmap, vals, aerr := encodeFattr4(requested, childFi)
		if aerr != nil {
			return 0, "", aerr
		}
		if err := xdr.WriteUint32Array(buf, bitmap); err != nil {
			return 0, "", err
		}
		if err := xdr.WriteXDROpaque(buf, vals); err != nil {
			return 0, "", err
		}
	}
	if err := xdr.WriteBool(buf, false); err != nil {
		return 0, "", err
	}
	return NFS4OK, "", xdr.WriteBool(buf, true) // eof
}

// opSecinfo handles SECINFO (op 33): reports the security flavors this
// server accepts for a named child -- AUTH_SYS only.
func (h *Handler) opSecinfo(r *bytes.Reader, buf *bytes.Buffer) (uint32, string, error) {
	if _, err := xdr.DecodeString(r); err != nil { // name
		return 0, "", err
	}
	if err := xdr.WriteUint32(buf, NFS4OK); err != nil {
		return 0, "", err
	}
	if err := xdr.WriteArrayLength(buf, 1); err != nil {
		return 0, "", err
	}
	return NFS4OK, "", xdr.WriteUint32(buf, 1) // AUTH_SYS
}

func joinName(dir, name string) string {
	if name == "" || name == "." || name == ".." {
		return dir
	}
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func parentOf(path string) string {
	if path == "/" || path == "" {
		return "/"
	}
	idx := bytes.LastIndexByte([]byte(path), '/')
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
