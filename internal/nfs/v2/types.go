// Package v2 implements NFSv2 (RFC 1094), program 100003 version 2: 18
// procedures over 32-byte fixed file handles and 32-bit offsets/counts.
//
// Grounded on the teacher's per-procedure handler style (one function per
// procedure, decoding a fixed argument struct and calling through a shared
// Server/VfsBackend) seen across internal/protocol/nfs/*.go, narrowed here
// to NFSv2's smaller, non-WCC reply shapes.
package v2

import (
	"bytes"
	"io"
	"time"

	"github.com/nfsd/nfsd/internal/nfs"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/nfsd/nfsd/internal/vfs"
)

// noChange is NFSv2 sattr's "don't touch this field" sentinel for mode,
// uid, gid, and size (RFC 1094 §2.3.4 notes -1 as the unset value).
const noChange = 0xFFFFFFFF

// FHSize is NFSv2's fixed file handle length (RFC 1094 §2.3.3).
const FHSize = 32

// MaxTransferSize bounds READ/WRITE per spec §4.5: NFSv2 caps at 8 KiB.
const MaxTransferSize = 8192

// Status values (RFC 1094 §2.3.4 stat). Numerically identical to NFSv3's
// common subset, so nfs.Status maps onto both from the same table.
const (
	NFSOK            uint32 = 0
	NFSErrPerm       uint32 = 1
	NFSErrNoEnt      uint32 = 2
	NFSErrIO         uint32 = 5
	NFSErrNXIO       uint32 = 6
	NFSErrAcces      uint32 = 13
	NFSErrExist      uint32 = 17
	NFSErrNoDev      uint32 = 19
	NFSErrNotDir     uint32 = 20
	NFSErrIsDir      uint32 = 21
	NFSErrFBig       uint32 = 27
	NFSErrNoSpc      uint32 = 28
	NFSErrROFS       uint32 = 30
	NFSErrNameTooLong uint32 = 63
	NFSErrNotEmpty   uint32 = 66
	NFSErrDQuot      uint32 = 69
	NFSErrStale      uint32 = 70
	NFSErrWFlush     uint32 = 99
)

// WireStatus maps the shared nfs.Status enum to an NFSv2 stat code.
func WireStatus(s nfs.Status) uint32 {
	switch s {
	case nfs.StatusOK:
		return NFSOK
	case nfs.StatusStale:
		return NFSErrStale
	case nfs.StatusAccess:
		return NFSErrAcces
	case nfs.StatusNoEnt:
		return NFSErrNoEnt
	case nfs.StatusPerm:
		return NFSErrPerm
	case nfs.StatusNotDir:
		return NFSErrNotDir
	case nfs.StatusIsDir:
		return NFSErrIsDir
	case nfs.StatusNotEmpty:
		return NFSErrNotEmpty
	case nfs.StatusExist:
		return NFSErrExist
	case nfs.StatusNameTooLong:
		return NFSErrNameTooLong
	case nfs.StatusNoSpace:
		return NFSErrNoSpc
	default:
		return NFSErrIO
	}
}

// readFH reads a fixed 32-byte file handle (no length prefix, unlike v3).
func readFH(r *bytes.Reader) ([]byte, error) {
	buf := make([]byte, FHSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFH(buf *bytes.Buffer, fh []byte) {
	padded := make([]byte, FHSize)
	copy(padded, fh)
	buf.Write(padded)
}

// readDirOpArgs decodes a diropargs: {fhandle dir, filename name}.
func readDirOpArgs(r *bytes.Reader) (dir []byte, name string, err error) {
	dir, err = readFH(r)
	if err != nil {
		return nil, "", err
	}
	name, err = xdr.DecodeString(r)
	return dir, name, err
}

// readSattr decodes an NFSv2 sattr: mode, uid, gid, size, atime, mtime
// (each timeval as seconds+microseconds). Fields holding the noChange
// sentinel are returned as nil, telling the caller not to touch them.
func readSattr(r *bytes.Reader) (mode, uid, gid *uint32, size *uint64, atime, mtime *time.Time, err error) {
	raw := make([]uint32, 4)
	for i := range raw {
		raw[i], err = xdr.DecodeUint32(r)
		if err != nil {
			return nil, nil, nil, nil, nil, nil, err
		}
	}
	if raw[0] != noChange {
		mode = &raw[0]
	}
	if raw[1] != noChange {
		uid = &raw[1]
	}
	if raw[2] != noChange {
		gid = &raw[2]
	}
	if raw[3] != noChange {
		v := uint64(raw[3])
		size = &v
	}

	atime, err = readTimevalPtr(r)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, err
	}
	mtime, err = readTimevalPtr(r)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, err
	}
	return mode, uid, gid, size, atime, mtime, nil
}

func readTimevalPtr(r *bytes.Reader) (*time.Time, error) {
	sec, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	usec, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	if sec == noChange {
		return nil, nil
	}
	t := time.Unix(int64(sec), int64(usec)*1000)
	return &t, nil
}

// writeAttrStat writes an attrstat union: status, and if OK, a fattr.
func writeAttrStat(buf *bytes.Buffer, status uint32, fi *vfs.FileInfo) error {
	if err := xdr.WriteUint32(buf, status); err != nil {
		return err
	}
	if status != NFSOK {
		return nil
	}
	return nfs.WriteFattr2(buf, fi)
}

// writeDirOpRes writes a diropres union: status, and if OK, {fhandle, fattr}.
func writeDirOpRes(buf *bytes.Buffer, status uint32, fh []byte, fi *vfs.FileInfo) error {
	if err := xdr.WriteUint32(buf, status); err != nil {
		return err
	}
	if status != NFSOK {
		return nil
	}
	writeFH(buf, fh)
	return nfs.WriteFattr2(buf, fi)
}
