package v2

import (
	"bytes"
	"io"

	"github.com/nfsd/nfsd/internal/nfs"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/nfsd/nfsd/internal/security"
	"github.com/nfsd/nfsd/internal/vfs"
)

// Handler implements the 18 NFSv2 procedures against a shared nfs.Server.
type Handler struct {
	Server *nfs.Server
}

// NewHandler creates a v2 Handler backed by srv.
func NewHandler(srv *nfs.Server) *Handler { return &Handler{Server: srv} }

// Null implements NFSPROC_NULL: an empty reply body.
func (h *Handler) Null() []byte { return nil }

// Getattr implements NFSPROC_GETATTR: fhandle -> attrstat.
func (h *Handler) Getattr(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH(r)
	if err != nil {
		return nil, err
	}

	_, fi, status := h.Server.Resolve(hc, fh, "GETATTR", security.PermRead)

	var buf bytes.Buffer
	if err := writeAttrStat(&buf, WireStatus(status), fi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Setattr implements NFSPROC_SETATTR: {fhandle, sattr} -> attrstat.
func (h *Handler) Setattr(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH(r)
	if err != nil {
		return nil, err
	}
	mode, uid, gid, size, atime, mtime, err := readSattr(r)
	if err != nil {
		return nil, err
	}

	path, _, status := h.Server.Resolve(hc, fh, "SETATTR", security.PermWrite)
	var fi *vfs.FileInfo
	if status == nfs.StatusOK {
		fi, err = h.Server.Backend.SetAttr(hc.Context, path, mode, uid, gid, size, atime, mtime)
		if err != nil {
			status = nfs.MapVfsError(err)
		}
	}

	var buf bytes.Buffer
	if err := writeAttrStat(&buf, WireStatus(status), fi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Root implements the obsolete NFSPROC_ROOT: no arguments, no reply body.
func (h *Handler) Root() []byte { return nil }

// Lookup implements NFSPROC_LOOKUP: diropargs -> diropres.
func (h *Handler) Lookup(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs(r)
	if err != nil {
		return nil, err
	}

	dirPath, _, status := h.Server.Resolve(hc, dirFH, "LOOKUP", security.PermExecute)
	var childFH []byte
	var fi *vfs.FileInfo
	if status == nfs.StatusOK {
		childPath := joinName(dirPath, name)
		fi, err = h.Server.Backend.Stat(hc.Context, childPath)
		if err != nil {
			status = nfs.MapVfsError(err)
		} else {
			childFH = h.Server.Handles.PathToHandle(childPath)
		}
	}

	var buf bytes.Buffer
	if err := writeDirOpRes(&buf, WireStatus(status), childFH, fi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Readlink implements NFSPROC_READLINK: fhandle -> readlinkres.
func (h *Handler) Readlink(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH(r)
	if err != nil {
		return nil, err
	}

	path, _, status := h.Server.Resolve(hc, fh, "READLINK", security.PermRead)
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
	if status == nfs.StatusOK {
		if err := xdr.WriteXDRString(&buf, target); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Read implements NFSPROC_READ: {fhandle, offset, count, totalcount} -> readres.
func (h *Handler) Read(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH(r)
	if err != nil {
		return nil, err
	}
	offset, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // totalcount, unused
		return nil, err
	}
	if count > MaxTransferSize {
		count = MaxTransferSize
	}

	path, fi, status := h.Server.Resolve(hc, fh, "READ", security.PermRead)
	chunk := make([]byte, 0)
	if status == nfs.StatusOK {
		f, err := h.Server.Backend.Open(hc.Context, path, 0, 0)
		if err != nil {
			status = nfs.MapVfsError(err)
		} else {
			defer f.Close()
			buf := make([]byte, count)
			n, rerr := f.ReadAt(buf, int64(offset))
			if rerr != nil && rerr != io.EOF {
				status = nfs.MapVfsError(rerr)
			} else {
				chunk = buf[:n]
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
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	if err := nfs.WriteFattr2(&buf, fi); err != nil {
		return nil, err
	}
	if err := xdr.WriteXDROpaque(&buf, chunk); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Writecache implements the obsolete NFSPROC_WRITECACHE: no-op.
func (h *Handler) Writecache() []byte { return nil }

// Write implements NFSPROC_WRITE: {fhandle, beginoffset, offset, totalcount, data} -> attrstat.
func (h *Handler) Write(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH(r)
	if err != nil {
		return nil, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // beginoffset, unused
		return nil, err
	}
	offset, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // totalcount, unused
		return nil, err
	}
	payload, err := xdr.DecodeOpaque(r)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxTransferSize {
		payload = payload[:MaxTransferSize]
	}

	path, _, status := h.Server.Resolve(hc, fh, "WRITE", security.PermWrite)
	var fi *vfs.FileInfo
	if status == nfs.StatusOK {
		f, err := h.Server.Backend.Open(hc.Context, path, 0, 0)
		if err != nil {
			status = nfs.MapVfsError(err)
		} else {
			_, werr := f.WriteAt(payload, int64(offset))
			f.Close()
			if werr != nil {
				status = nfs.MapVfsError(werr)
			} else if h.Server.Stats != nil {
				h.Server.Stats.BytesWritten.Add(float64(len(payload)))
			}
		}
	}
	if status == nfs.StatusOK {
		fi, err = h.Server.Backend.Stat(hc.Context, path)
		if err != nil {
			status = nfs.MapVfsError(err)
		}
	}

	var buf bytes.Buffer
	if err := writeAttrStat(&buf, WireStatus(status), fi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Create implements NFSPROC_CREATE: {diropargs, sattr} -> diropres.
func (h *Handler) Create(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs(r)
	if err != nil {
		return nil, err
	}
	mode, _, _, _, _, _, err := readSattr(r)
	if err != nil {
		return nil, err
	}
	createMode := uint32(0644)
	if mode != nil {
		createMode = *mode
	}

	dirPath, _, status := h.Server.Resolve(hc, dirFH, "CREATE", security.PermWrite)
	var childFH []byte
	var fi *vfs.FileInfo
	if status == nfs.StatusOK {
		childPath := joinName(dirPath, name)
		f, err := h.Server.Backend.Create(hc.Context, childPath, createMode)
		if err != nil {
			status = nfs.MapVfsError(err)
		} else {
			f.Close()
			fi, err = h.Server.Backend.Stat(hc.Context, childPath)
			if err != nil {
				status = nfs.MapVfsError(err)
			} else {
				childFH = h.Server.Handles.PathToHandle(childPath)
			}
		}
	}

	var buf bytes.Buffer
	if err := writeDirOpRes(&buf, WireStatus(status), childFH, fi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Remove implements NFSPROC_REMOVE: diropargs -> stat.
func (h *Handler) Remove(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs(r)
	if err != nil {
		return nil, err
	}

	dirPath, _, status := h.Server.Resolve(hc, dirFH, "REMOVE", security.PermWrite)
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
	return buf.Bytes(), nil
}

// Rename implements NFSPROC_RENAME: {diropargs from, diropargs to} -> stat.
func (h *Handler) Rename(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fromDir, fromName, err := readDirOpArgs(r)
	if err != nil {
		return nil, err
	}
	toDir, toName, err := readDirOpArgs(r)
	if err != nil {
		return nil, err
	}

	fromDirPath, _, status := h.Server.Resolve(hc, fromDir, "RENAME", security.PermWrite)
	var toDirPath string
	if status == nfs.StatusOK {
		toDirPath, _, status = h.Server.Resolve(hc, toDir, "RENAME", security.PermWrite)
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
	return buf.Bytes(), nil
}

// Link implements NFSPROC_LINK: {fhandle from, diropargs to} -> stat.
func (h *Handler) Link(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fromFH, err := readFH(r)
	if err != nil {
		return nil, err
	}
	toDir, toName, err := readDirOpArgs(r)
	if err != nil {
		return nil, err
	}

	fromPath, _, status := h.Server.Resolve(hc, fromFH, "LINK", security.PermRead)
	var toDirPath string
	if status == nfs.StatusOK {
		toDirPath, _, status = h.Server.Resolve(hc, toDir, "LINK", security.PermWrite)
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
	return buf.Bytes(), nil
}

// Symlink implements NFSPROC_SYMLINK: {diropargs, path, sattr} -> stat.
func (h *Handler) Symlink(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs(r)
	if err != nil {
		return nil, err
	}
	target, err := xdr.DecodeString(r)
	if err != nil {
		return nil, err
	}
	if _, _, _, _, _, _, err := readSattr(r); err != nil {
		return nil, err
	}

	dirPath, _, status := h.Server.Resolve(hc, dirFH, "SYMLINK", security.PermWrite)
	if status == nfs.StatusOK {
		linkPath := joinName(dirPath, name)
		if err := h.Server.Backend.Symlink(hc.Context, target, linkPath); err != nil {
			status = nfs.MapVfsError(err)
		}
	}

	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, WireStatus(status)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Mkdir implements NFSPROC_MKDIR: {diropargs, sattr} -> diropres.
func (h *Handler) Mkdir(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs(r)
	if err != nil {
		return nil, err
	}
	mode, _, _, _, _, _, err := readSattr(r)
	if err != nil {
		return nil, err
	}
	createMode := uint32(0755)
	if mode != nil {
		createMode = *mode
	}

	dirPath, _, status := h.Server.Resolve(hc, dirFH, "MKDIR", security.PermWrite)
	var childFH []byte
	var fi *vfs.FileInfo
	if status == nfs.StatusOK {
		childPath := joinName(dirPath, name)
		fi, err = h.Server.Backend.Mkdir(hc.Context, childPath, createMode)
		if err != nil {
			status = nfs.MapVfsError(err)
		} else {
			childFH = h.Server.Handles.PathToHandle(childPath)
		}
	}

	var buf bytes.Buffer
	if err := writeDirOpRes(&buf, WireStatus(status), childFH, fi); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Rmdir implements NFSPROC_RMDIR: diropargs -> stat.
func (h *Handler) Rmdir(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	dirFH, name, err := readDirOpArgs(r)
	if err != nil {
		return nil, err
	}

	dirPath, _, status := h.Server.Resolve(hc, dirFH, "RMDIR", security.PermWrite)
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
	return buf.Bytes(), nil
}

// Readdir implements NFSPROC_READDIR: {fhandle, cookie, count} -> readdirres.
func (h *Handler) Readdir(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH(r)
	if err != nil {
		return nil, err
	}
	cookie, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // count, unused -- this server never truncates a listing
		return nil, err
	}

	path, _, status := h.Server.Resolve(hc, fh, "READDIR", security.PermRead)
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
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}

	for i, e := range entries {
		if uint32(i) < cookie {
			continue
		}
		if err := xdr.WriteBool(&buf, true); err != nil {
			return nil, err
		}
		if err := xdr.WriteUint32(&buf, uint32(e.FileID)); err != nil {
			return nil, err
		}
		if err := xdr.WriteXDRString(&buf, e.Name); err != nil {
			return nil, err
		}
		if err := xdr.WriteUint32(&buf, uint32(i)+1); err != nil {
			return nil, err
		}
	}
	if err := xdr.WriteBool(&buf, false); err != nil { // no more entries
		return nil, err
	}
	if err := xdr.WriteBool(&buf, true); err != nil { // eof
		return nil, err
	}
	return buf.Bytes(), nil
}

// Statfs implements NFSPROC_STATFS: fhandle -> statfsres.
func (h *Handler) Statfs(hc *nfs.HandlerContext, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	fh, err := readFH(r)
	if err != nil {
		return nil, err
	}

	path, _, status := h.Server.Resolve(hc, fh, "STATFS", security.PermRead)
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
	if status != nfs.StatusOK {
		return buf.Bytes(), nil
	}
	const blockSize = 4096
	fields := []uint32{
		blockSize,
		uint32(st.TotalBytes / blockSize),
		uint32(st.FreeBytes / blockSize),
		uint32(st.AvailBytes / blockSize),
	}
	for _, f := range fields {
		if err := xdr.WriteUint32(&buf, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// joinName appends a single path component to dir the way every diropargs
// resolution does: no "..", no separators smuggled through name.
func joinName(dir, name string) string {
	if name == "" || name == "." || name == ".." {
		return dir
	}
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
