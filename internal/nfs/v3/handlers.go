package v3

import (
	"bytes"
	"io"

	"github.com/nfsd/nfsd/internal/nfs"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/nfsd/nfsd/internal/security"
	"github.com/nfsd/nfsd/internal/vfs"
)

// Access bits (RFC 1813 §3.3.4).
const (
	Access3Read    uint32 = 0x0001
	Access3Lookup  uint32 = 0x0002
	Access3Modify  uint32 = 0x0004
	Access3Extend  uint32 = 0x0008
	Access3Delete  uint32 = 0x0010
	Access3Execute uint32 = 0x0020
)

// Handler implements the 22 NFSv3 procedures against a shared nfs.Server.
type Handler struct {
	Server *nfs.Server
}

// NewHandler creates a v3 Handler backed by srv.
func NewHandler(srv *nfs.Server) *Handler { return &Handler{Server: srv} }

// Null implements NFSPROC3_NULL.
func (h *Handler) Null() []byte { return nil }

// Getattr implements NFSPROC3_GETATTR: fhandle3 -> GETATTR3res.
func (h *Handler) Getattr(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}

	_, fi, status := h.Server.Resolve(hc, fh, "GETATTR", security.PermRead)

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	if err := nfs.WriteFattr3(&buf, fi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Setattr implements NFSPROC3_SETATTR: {fhandle3, sattr3, sattrguard3} -> SETATTR3res.
func (h *Handler) Setattr(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}
	mode, uid, gid, size, atime, mtime, err := readSattr3(r)
	if err != nil {
		return nil, err
	}
	// guard (check flag + ctime) is read but not enforced: this server
	// does not yet support the compare-and-swap guard semantics.
	guarded, err := xdr.DecodeBool(r)
	if err != nil {
		return nil, err
	}
	if guarded {
		if _, err := xdr.DecodeUint32(r); err != nil {
			return nil, err
		}
		if _, err := xdr.DecodeUint32(r); err != nil {
			return nil, err
		}
	}

	path, pre, status := h.Server.Resolve(hc, fh, "SETATTR", security.PermWrite)
	var post *vfs.FileInfo
	if status == nfs.StatusOK {
		post, err = h.Server.Backend.SetAttr(hc.Context, path, mode, uid, gid, size, atime, mtime)
		if err != nil {
			status = nfs.MapVfsError(err)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writeWccData(&buf, wccAttrOf(pre), post); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Lookup implements NFSPROC3_LOOKUP: diropargs3 -> LOOKUP3res.
func (h *Handler) Lookup(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs3(r)
	if err != nil {
		return nil, err
	}

	dirPath, dirFi, status := h.Server.Resolve(hc, dirFH, "LOOKUP", security.PermExecute)
	var childFH []byte
	var childFi *vfs.FileInfo
	if status == nfs.StatusOK {
		childPath := joinName(dirPath, name)
		childFi, err = h.Server.Backend.Stat(hc.Context, childPath)
		if err != nil {
			status = nfs.MapVfsError(err)
		} else {
			childFH = h.Server.Handles.PathToHandle(childPath)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if status == nfs.StatusOK {
		if err := writeFH3(&buf, childFH); err != nil {
			return nil, err
		}
		if err := writePostOpAttr(&buf, childFi); err != nil {
			return nil, err
		}
	}
	if err := writePostOpAttr(&buf, dirFi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Access implements NFSPROC3_ACCESS: {fhandle3, access bitmask} -> ACCESS3res.
func (h *Handler) Access(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}
	want, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}

	path, fi, status := h.Server.Resolve(hc, fh, "ACCESS", 0)
	var granted uint32
	if status == nfs.StatusOK {
		granted = h.grantedBits(hc, path, fi, want)
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writePostOpAttr(&buf, fi); err != nil {
		return nil, err
	}
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	if err := xdr.WriteUint32(&buf, granted); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *Handler) grantedBits(hc *nfs.HandlerContext, path string, fi *vfs.FileInfo, want uint32) uint32 {
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
	granted |= check(Access3Read, security.PermRead)
	granted |= check(Access3Lookup, security.PermExecute)
	granted |= check(Access3Modify, security.PermWrite)
	granted |= check(Access3Extend, security.PermWrite)
	granted |= check(Access3Delete, security.PermWrite)
	granted |= check(Access3Execute, security.PermExecute)
	return granted
}

// Readlink implements NFSPROC3_READLINK: fhandle3 -> READLINK3res.
func (h *Handler) Readlink(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}

	path, fi, status := h.Server.Resolve(hc, fh, "READLINK", security.PermRead)
	var target string
	if status == nfs.StatusOK {
		target, err = h.Server.Backend.Readlink(hc.Context, path)
		if err != nil {
			status = nfs.MapVfsError(err)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writePostOpAttr(&buf, fi); err != nil {
		return nil, err
	}
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	if err := xdr.WriteXDRString(&buf, target); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read implements NFSPROC3_READ: {fhandle3, offset3, count3} -> READ3res.
func (h *Handler) Read(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}
	offset, err := xdr.DecodeUint64(r)
	if err != nil {
		return nil, err
	}
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	if h.Server.MaxReadWrite != 0 && count > h.Server.MaxReadWrite {
		count = h.Server.MaxReadWrite
	}

	path, fi, status := h.Server.Resolve(hc, fh, "READ", security.PermRead)
	var chunk []byte
	eof := false
	if status == nfs.StatusOK {
		f, err := h.Server.Backend.Open(hc.Context, path, 0, 0)
		if err != nil {
			status = nfs.MapVfsError(err)
		} else {
			defer f.Close()
			readBuf := make([]byte, count)
			n, rerr := f.ReadAt(readBuf, int64(offset))
			if rerr != nil && rerr != io.EOF {
				status = nfs.MapVfsError(rerr)
			} else {
				chunk = readBuf[:n]
				eof = offset+uint64(n) >= fi.Size
				if h.Server.Stats != nil {
					h.Server.Stats.BytesRead.Add(float64(n))
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writePostOpAttr(&buf, fi); err != nil {
		return nil, err
	}
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	if err := xdr.WriteUint32(&buf, uint32(len(chunk))); err != nil {
		return nil, err
	}
	if err := xdr.WriteBool(&buf, eof); err != nil {
		return nil, err
	}
	if err := xdr.WriteXDROpaque(&buf, chunk); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write implements NFSPROC3_WRITE: {fhandle3, offset3, count3, stable_how, data} -> WRITE3res.
func (h *Handler) Write(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}
	offset, err := xdr.DecodeUint64(r)
	if err != nil {
		return nil, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // count3, redundant with payload length
		return nil, err
	}
	stable, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	payload, err := xdr.DecodeOpaque(r)
	if err != nil {
		return nil, err
	}
	if h.Server.MaxReadWrite != 0 && uint32(len(payload)) > h.Server.MaxReadWrite {
		payload = payload[:h.Server.MaxReadWrite]
	}

	path, pre, status := h.Server.Resolve(hc, fh, "WRITE", security.PermWrite)
	var post *vfs.FileInfo
	var written int
	if status == nfs.StatusOK {
		f, err := h.Server.Backend.Open(hc.Context, path, 0, 0)
		if err != nil {
			status = nfs.MapVfsError(err)
		} else {
			written, err = f.WriteAt(payload, int64(offset))
			if stable == FileSync || stable == DataSync {
				if serr := f.Sync(); serr != nil && err == nil {
					err = serr
				}
			}
			f.Close()
			if err != nil {
				status = nfs.MapVfsError(err)
			} else if h.Server.Stats != nil {
				h.Server.Stats.BytesWritten.Add(float64(written))
			}
		}
	}
	if status == nfs.StatusOK {
		post, err = h.Server.Backend.Stat(hc.Context, path)
		if err != nil {
			status = nfs.MapVfsError(err)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writeWccData(&buf, wccAttrOf(pre), post); err != nil {
		return nil, err
	}
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	if err := xdr.WriteUint32(&buf, uint32(written)); err != nil {
		return nil, err
	}
	if err := xdr.WriteUint32(&buf, stable); err != nil {
		return nil, err
	}
	buf.Write(WriteVerifier[:])
	return buf.Bytes(), nil
}

// Create implements NFSPROC3_CREATE: {diropargs3, createhow3} -> CREATE3res.
func (h *Handler) Create(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs3(r)
	if err != nil {
		return nil, err
	}
	createMode, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	mode := uint32(0644)
	switch createMode {
	case 0, 2: // UNCHECKED, GUARDED: both carry an sattr3
		m, _, _, _, _, _, serr := readSattr3(r)
		if serr != nil {
			return nil, serr
		}
		if m != nil {
			mode = *m
		}
	case 1: // EXCLUSIVE: carries an 8-byte verifier, no sattr3
		verifier := make([]byte, 8)
		if _, err := io.ReadFull(r, verifier); err != nil {
			return nil, err
		}
	}

	dirPath, dirFi, status := h.Server.Resolve(hc, dirFH, "CREATE", security.PermWrite)
	var childFH []byte
	var childFi *vfs.FileInfo
	if status == nfs.StatusOK {
		childPath := joinName(dirPath, name)
		if createMode == 2 { // GUARDED: fail if the file already exists
			if _, serr := h.Server.Backend.Stat(hc.Context, childPath); serr == nil {
				status = nfs.StatusExist
			}
		}
	}
	if status == nfs.StatusOK {
		childPath := joinName(dirPath, name)
		f, err := h.Server.Backend.Create(hc.Context, childPath, mode)
		if err != nil {
			status = nfs.MapVfsError(err)
		} else {
			f.Close()
			childFi, err = h.Server.Backend.Stat(hc.Context, childPath)
			if err != nil {
				status = nfs.MapVfsError(err)
			} else {
				childFH = h.Server.Handles.PathToHandle(childPath)
			}
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if status == nfs.StatusOK {
		if err := writePostOpFH(&buf, childFH); err != nil {
			return nil, err
		}
		if err := writePostOpAttr(&buf, childFi); err != nil {
			return nil, err
		}
	}
	if err := writeWccData(&buf, wccAttrOf(dirFi), dirFi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Mkdir implements NFSPROC3_MKDIR: {diropargs3, sattr3} -> MKDIR3res.
func (h *Handler) Mkdir(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs3(r)
	if err != nil {
		return nil, err
	}
	m, _, _, _, _, _, err := readSattr3(r)
	if err != nil {
		return nil, err
	}
	mode := uint32(0755)
	if m != nil {
		mode = *m
	}

	dirPath, dirFi, status := h.Server.Resolve(hc, dirFH, "MKDIR", security.PermWrite)
	var childFH []byte
	var childFi *vfs.FileInfo
	if status == nfs.StatusOK {
		childPath := joinName(dirPath, name)
		childFi, err = h.Server.Backend.Mkdir(hc.Context, childPath, mode)
		if err != nil {
			status = nfs.MapVfsError(err)
		} else {
			childFH = h.Server.Handles.PathToHandle(childPath)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if status == nfs.StatusOK {
		if err := writePostOpFH(&buf, childFH); err != nil {
			return nil, err
		}
		if err := writePostOpAttr(&buf, childFi); err != nil {
			return nil, err
		}
	}
	if err := writeWccData(&buf, wccAttrOf(dirFi), dirFi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Symlink implements NFSPROC3_SYMLINK: {diropargs3, symlinkdata3} -> SYMLINK3res.
func (h *Handler) Symlink(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs3(r)
	if err != nil {
		return nil, err
	}
	if _, _, _, _, _, _, err := readSattr3(r); err != nil {
		return nil, err
	}
	target, err := xdr.DecodeString(r)
	if err != nil {
		return nil, err
	}

	dirPath, dirFi, status := h.Server.Resolve(hc, dirFH, "SYMLINK", security.PermWrite)
	var childFH []byte
	var childFi *vfs.FileInfo
	if status == nfs.StatusOK {
		childPath := joinName(dirPath, name)
		if err := h.Server.Backend.Symlink(hc.Context, target, childPath); err != nil {
			status = nfs.MapVfsError(err)
		} else {
			childFi, _ = h.Server.Backend.Stat(hc.Context, childPath)
			childFH = h.Server.Handles.PathToHandle(childPath)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if status == nfs.StatusOK {
		if err := writePostOpFH(&buf, childFH); err != nil {
			return nil, err
		}
		if err := writePostOpAttr(&buf, childFi); err != nil {
			return nil, err
		}
	}
	if err := writeWccData(&buf, wccAttrOf(dirFi), dirFi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Mknod implements NFSPROC3_MKNOD: device and special file creation.
// This server exports only regular POSIX directory trees, so it always
// reports NFS3ErrNotSupp (RFC 1813 §3.3.11 permits this).
func (h *Handler) Mknod(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, NFS3ErrNotSupp); err != nil {
		return nil, err
	}
	if err := writeWccData(&buf, nil, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Remove implements NFSPROC3_REMOVE: diropargs3 -> REMOVE3res.
func (h *Handler) Remove(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs3(r)
	if err != nil {
		return nil, err
	}

	dirPath, dirFi, status := h.Server.Resolve(hc, dirFH, "REMOVE", security.PermWrite)
	if status == nfs.StatusOK {
		childPath := joinName(dirPath, name)
		if err := h.Server.Backend.Remove(hc.Context, childPath); err != nil {
			status = nfs.MapVfsError(err)
		} else {
			h.Server.Handles.Invalidate(childPath)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writeWccData(&buf, wccAttrOf(dirFi), dirFi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Rmdir implements NFSPROC3_RMDIR: diropargs3 -> RMDIR3res.
func (h *Handler) Rmdir(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs3(r)
	if err != nil {
		return nil, err
	}

	dirPath, dirFi, status := h.Server.Resolve(hc, dirFH, "RMDIR", security.PermWrite)
	if status == nfs.StatusOK {
		childPath := joinName(dirPath, name)
		if err := h.Server.Backend.Rmdir(hc.Context, childPath); err != nil {
			status = nfs.MapVfsError(err)
		} else {
			h.Server.Handles.Invalidate(childPath)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writeWccData(&buf, wccAttrOf(dirFi), dirFi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Rename implements NFSPROC3_RENAME: {diropargs3 from, diropargs3 to} -> RENAME3res.
func (h *Handler) Rename(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fromDir, fromName, err := readDirOpArgs3(r)
	if err != nil {
		return nil, err
	}
	toDir, toName, err := readDirOpArgs3(r)
	if err != nil {
		return nil, err
	}

	fromDirPath, fromFi, status := h.Server.Resolve(hc, fromDir, "RENAME", security.PermWrite)
	var toDirPath string
	var toFi *vfs.FileInfo
	if status == nfs.StatusOK {
		toDirPath, toFi, status = h.Server.Resolve(hc, toDir, "RENAME", security.PermWrite)
	}
	if status == nfs.StatusOK {
		oldPath := joinName(fromDirPath, fromName)
		newPath := joinName(toDirPath, toName)
		if err := h.Server.Backend.Rename(hc.Context, oldPath, newPath); err != nil {
			status = nfs.MapVfsError(err)
		} else {
			h.Server.Handles.Rename(oldPath, newPath)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writeWccData(&buf, wccAttrOf(fromFi), fromFi); err != nil {
		return nil, err
	}
	if err := writeWccData(&buf, wccAttrOf(toFi), toFi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Link implements NFSPROC3_LINK: {fhandle3 from, diropargs3 to} -> LINK3res.
func (h *Handler) Link(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fromFH, err := readFH3(r)
	if err != nil {
		return nil, err
	}
	toDir, toName, err := readDirOpArgs3(r)
	if err != nil {
		return nil, err
	}

	fromPath, fromFi, status := h.Server.Resolve(hc, fromFH, "LINK", security.PermRead)
	var toDirPath string
	var toDirFi *vfs.FileInfo
	if status == nfs.StatusOK {
		toDirPath, toDirFi, status = h.Server.Resolve(hc, toDir, "LINK", security.PermWrite)
	}
	if status == nfs.StatusOK {
		linkPath := joinName(toDirPath, toName)
		if err := h.Server.Backend.Link(hc.Context, fromPath, linkPath); err != nil {
			status = nfs.MapVfsError(err)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writePostOpAttr(&buf, fromFi); err != nil {
		return nil, err
	}
	if err := writeWccData(&buf, wccAttrOf(toDirFi), toDirFi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Readdir implements NFSPROC3_READDIR: {fhandle3, cookie3, cookieverf3, count3} -> READDIR3res.
func (h *Handler) Readdir(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}
	cookie, err := xdr.DecodeUint64(r)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, make([]byte, 8)); err != nil { // cookieverf3, unused: this server never reuses a generation
		return nil, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // count3, this server never truncates a listing
		return nil, err
	}

	path, fi, status := h.Server.Resolve(hc, fh, "READDIR", security.PermRead)
	var entries []vfs.DirEntry
	if status == nfs.StatusOK {
		entries, err = h.Server.Backend.ReadDir(hc.Context, path)
		if err != nil {
			status = nfs.MapVfsError(err)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writePostOpAttr(&buf, fi); err != nil {
		return nil, err
	}
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	buf.Write(WriteVerifier[:])

	for i, e := range entries {
		if uint64(i) < cookie {
			continue
		}
		if err := xdr.WriteBool(&buf, true); err != nil {
			return nil, err
		}
		if err := xdr.WriteUint64(&buf, e.FileID); err != nil {
			return nil, err
		}
		if err := xdr.WriteXDRString(&buf, e.Name); err != nil {
			return nil, err
		}
		if err := xdr.WriteUint64(&buf, uint64(i)+1); err != nil {
			return nil, err
		}
	}
	if err := xdr.WriteBool(&buf, false); err != nil {
		return nil, err
	}
	if err := xdr.WriteBool(&buf, true); err != nil { // eof
		return nil, err
	}
	return buf.Bytes(), nil
}

// Readdirplus implements NFSPROC3_READDIRPLUS: like Readdir but each
// entry also carries its post_op_attr and post_op_fh3.
func (h *Handler) Readdirplus(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}
	cookie, err := xdr.DecodeUint64(r)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, make([]byte, 8)); err != nil { // cookieverf3
		return nil, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // dircount, unused
		return nil, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // maxcount, this server never truncates a listing
		return nil, err
	}

	path, fi, status := h.Server.Resolve(hc, fh, "READDIRPLUS", security.PermRead)
	var entries []vfs.DirEntry
	if status == nfs.StatusOK {
		entries, err = h.Server.Backend.ReadDir(hc.Context, path)
		if err != nil {
			status = nfs.MapVfsError(err)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writePostOpAttr(&buf, fi); err != nil {
		return nil, err
	}
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	buf.Write(WriteVerifier[:])

	for i, e := range entries {
		if uint64(i) < cookie {
			continue
		}
		childPath := joinName(path, e.Name)
		childFi, _ := h.Server.Backend.Stat(hc.Context, childPath)
		var childFH []byte
		if childFi != nil {
			childFH = h.Server.Handles.PathToHandle(childPath)
		}

		if err := xdr.WriteBool(&buf, true); err != nil {
			return nil, err
		}
		if err := xdr.WriteUint64(&buf, e.FileID); err != nil {
			return nil, err
		}
		if err := xdr.WriteXDRString(&buf, e.Name); err != nil {
			return nil, err
		}
		if err := xdr.WriteUint64(&buf, uint64(i)+1); err != nil {
			return nil, err
		}
		if err := writePostOpAttr(&buf, childFi); err != nil {
			return nil, err
		}
		if err := writePostOpFH(&buf, childFH); err != nil {
			return nil, err
		}
	}
	if err := xdr.WriteBool(&buf, false); err != nil {
		return nil, err
	}
	if err := xdr.WriteBool(&buf, true); err != nil { // eof
		return nil, err
	}
	return buf.Bytes(), nil
}

// Fsstat implements NFSPROC3_FSSTAT: fhandle3 -> FSSTAT3res.
func (h *Handler) Fsstat(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}

	path, fi, status := h.Server.Resolve(hc, fh, "FSSTAT", security.PermRead)
	var st *vfs.StatFS
	if status == nfs.StatusOK {
		st, err = h.Server.Backend.StatFS(hc.Context, path)
		if err != nil {
			status = nfs.MapVfsError(err)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writePostOpAttr(&buf, fi); err != nil {
		return nil, err
	}
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	fields := []uint64{
		st.TotalBytes, st.FreeBytes, st.AvailBytes,
		st.TotalFiles, st.FreeFiles, st.FreeFiles,
	}
	for _, f := range fields {
		if err := xdr.WriteUint64(&buf, f); err != nil {
			return nil, err
		}
	}
	if err := xdr.WriteUint32(&buf, 0); err != nil { // invarsec: attributes may change at any time
		return nil, err
	}
	return buf.Bytes(), nil
}

// Fsinfo implements NFSPROC3_FSINFO: static server capability negotiation.
func (h *Handler) Fsinfo(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}

	_, fi, status := h.Server.Resolve(hc, fh, "FSINFO", 0)

	maxSize := h.Server.MaxReadWrite
	if maxSize == 0 {
		maxSize = 65536
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writePostOpAttr(&buf, fi); err != nil {
		return nil, err
	}
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	fields := []uint32{
		maxSize, maxSize, 4096, // rtmax, rtpref, rtmult
		maxSize, maxSize, 4096, // wtmax, wtpref, wtmult
		4096,  // dtpref
	}
	for _, f := range fields {
		if err := xdr.WriteUint32(&buf, f); err != nil {
			return nil, err
		}
	}
	if err := xdr.WriteUint64(&buf, 1<<40); err != nil { // maxfilesize
		return nil, err
	}
	if err := xdr.WriteUint32(&buf, 1); err != nil { // time_delta.seconds
		return nil, err
	}
	if err := xdr.WriteUint32(&buf, 0); err != nil { // time_delta.nseconds
		return nil, err
	}
	const (
		fsfLink       = 0x0001
		fsfSymlink    = 0x0002
		fsfHomogeneous = 0x0008
		fsfCanSetTime = 0x0010
	)
	if err := xdr.WriteUint32(&buf, fsfLink|fsfSymlink|fsfHomogeneous|fsfCanSetTime); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Pathconf implements NFSPROC3_PATHCONF: static POSIX pathconf values.
func (h *Handler) Pathconf(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}

	_, fi, status := h.Server.Resolve(hc, fh, "PATHCONF", 0)

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writePostOpAttr(&buf, fi); err != nil {
		return nil, err
	}
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	if err := xdr.WriteUint32(&buf, 32000); err != nil { // linkmax
		return nil, err
	}
	if err := xdr.WriteUint32(&buf, 255); err != nil { // name_max
		return nil, err
	}
	if err := xdr.WriteBool(&buf, true); err != nil { // no_trunc
		return nil, err
	}
	if err := xdr.WriteBool(&buf, true); err != nil { // chown_restricted
		return nil, err
	}
	if err := xdr.WriteBool(&buf, false); err != nil { // case_insensitive
		return nil, err
	}
	if err := xdr.WriteBool(&buf, true); err != nil { // case_preserving
		return nil, err
	}
	return buf.Bytes(), nil
}

// Commit implements NFSPROC3_COMMIT: flush previously UNSTABLE writes.
func (h *Handler) Commit(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH3(r)
	if err != nil {
		return nil, err
	}
	if _, err := xdr.DecodeUint64(r); err != nil { // offset, this backend syncs the whole file
		return nil, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // count
		return nil, err
	}

	path, pre, status := h.Server.Resolve(hc, fh, "COMMIT", security.PermWrite)
	var post *vfs.FileInfo
	if status == nfs.StatusOK {
		f, err := h.Server.Backend.Open(hc.Context, path, 0, 0)
		if err != nil {
			status = nfs.MapVfsError(err)
		} else {
			err = f.Sync()
			f.Close()
			if err != nil {
				status = nfs.MapVfsError(err)
			}
		}
	}
	if status == nfs.StatusOK {
		post, err = h.Server.Backend.Stat(hc.Context, path)
		if err != nil {
			status = nfs.MapVfsError(err)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	if err := writeWccData(&buf, wccAttrOf(pre), post); err != nil {
		return nil, err
	}
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	buf.Write(WriteVerifier[:])
	return buf.Bytes(), nil
}

// joinName appends a single path component to dir.
func joinName(dir, name string) string {
	if name == "" || name == "." || name == ".." {
		return dir
	}
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
