// Package v3 implements NFSv3 (RFC 1813), program 100003 version 3: 22
// procedures over variable-length (up to 64 byte) file handles, 64-bit
// offsets/sizes, weak cache consistency (WCC) data on every mutating
// reply, and WRITE stability levels with a COMMIT verifier.
//
// Grounded on the teacher's per-procedure handler style in
// internal/adapter/nfs/v3/handlers/*.go (one file per procedure, a
// Request/Response pair, validate-then-delegate), adapted here to this
// module's raw-XDR-argument dispatch convention shared with v2 and
// portmap rather than the teacher's typed decode-elsewhere convention.
package v3

import (
	"bytes"
	"time"

	"github.com/nfsd/nfsd/internal/nfs"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/nfsd/nfsd/internal/vfs"
)

// MaxFHSize is NFSv3's maximum opaque file handle length (RFC 1813 §2.3.3).
const MaxFHSize = 64

// Status values (RFC 1813 §2.6 nfsstat3).
const (
	NFS3OK            uint32 = 0
	NFS3ErrPerm       uint32 = 1
	NFS3ErrNoEnt      uint32 = 2
	NFS3ErrIO         uint32 = 5
	NFS3ErrNXIO       uint32 = 6
	NFS3ErrAcces      uint32 = 13
	NFS3ErrExist      uint32 = 17
	NFS3ErrXDev       uint32 = 18
	NFS3ErrNoDev      uint32 = 19
	NFS3ErrNotDir     uint32 = 20
	NFS3ErrIsDir      uint32 = 21
	NFS3ErrInval      uint32 = 22
	NFS3ErrFBig       uint32 = 27
	NFS3ErrNoSpc      uint32 = 28
	NFS3ErrROFS       uint32 = 30
	NFS3ErrMlink      uint32 = 31
	NFS3ErrNameTooLong uint32 = 63
	NFS3ErrNotEmpty   uint32 = 66
	NFS3ErrDQuot      uint32 = 69
	NFS3ErrStale      uint32 = 70
	NFS3ErrRemote     uint32 = 71
	NFS3ErrBadHandle  uint32 = 10001
	NFS3ErrNotSync    uint32 = 10002
	NFS3ErrBadCookie  uint32 = 10003
	NFS3ErrNotSupp    uint32 = 10004
	NFS3ErrTooSmall   uint32 = 10005
	NFS3ErrJukebox    uint32 = 10008
)

// WireStatus maps the shared nfs.Status enum to an NFSv3 nfsstat3 code.
func WireStatus(s nfs.Status) uint32 {
	switch s {
	case nfs.StatusOK:
		return NFS3OK
	case nfs.StatusStale:
		return NFS3ErrStale
	case nfs.StatusAccess:
		return NFS3ErrAcces
	case nfs.StatusNoEnt:
		return NFS3ErrNoEnt
	case nfs.StatusPerm:
		return NFS3ErrPerm
	case nfs.StatusNotDir:
		return NFS3ErrNotDir
	case nfs.StatusIsDir:
		return NFS3ErrIsDir
	case nfs.StatusNotEmpty:
		return NFS3ErrNotEmpty
	case nfs.StatusExist:
		return NFS3ErrExist
	case nfs.StatusNameTooLong:
		return NFS3ErrNameTooLong
	case nfs.StatusNoSpace:
		return NFS3ErrNoSpc
	case nfs.StatusShareDenied:
		return NFS3ErrAcces
	case nfs.StatusJukebox:
		return NFS3ErrJukebox
	default:
		return NFS3ErrIO
	}
}

// Stability levels for WRITE (RFC 1813 §3.3.7 stable_how).
const (
	Unstable  uint32 = 0
	DataSync  uint32 = 1
	FileSync  uint32 = 2
)

// WriteVerifier changes only across server restarts (RFC 1813 §3.3.7,
// §3.3.21): a client uses it after a crash to tell whether previously
// UNSTABLE writes survived or must be retransmitted.
var WriteVerifier = func() [8]byte {
	var v [8]byte
	now := uint64(time.Now().UnixNano())
	for i := range v {
		v[i] = byte(now >> (8 * uint(i)))
	}
	return v
}()

// readFH3 decodes a length-prefixed opaque file handle (RFC 1813 §2.3.3).
func readFH3(r *bytes.Reader) ([]byte, error) {
	return xdr.DecodeOpaque(r)
}

func writeFH3(buf *bytes.Buffer, fh []byte) error {
	return xdr.WriteXDROpaque(buf, fh)
}

// readDirOpArgs3 decodes a diropargs3: {fhandle3 dir, filename3 name}.
func readDirOpArgs3(r *bytes.Reader) (dir []byte, name string, err error) {
	dir, err = readFH3(r)
	if err != nil {
		return nil, "", err
	}
	name, err = xdr.DecodeString(r)
	return dir, name, err
}

// writePostOpAttr writes a post_op_attr union: present flag, and if
// present, a fattr3 (RFC 1813 §2.5.6).
func writePostOpAttr(buf *bytes.Buffer, fi *vfs.FileInfo) error {
	if fi == nil {
		return xdr.WriteBool(buf, false)
	}
	if err := xdr.WriteBool(buf, true); err != nil {
		return err
	}
	return nfs.WriteFattr3(buf, fi)
}

// writePostOpFH writes a post_op_fh3 union: present flag, and if present,
// a length-prefixed file handle.
func writePostOpFH(buf *bytes.Buffer, fh []byte) error {
	if fh == nil {
		return xdr.WriteBool(buf, false)
	}
	if err := xdr.WriteBool(buf, true); err != nil {
		return err
	}
	return writeFH3(buf, fh)
}

// wccAttr is the pre-operation subset of attributes WCC data carries
// (RFC 1813 §2.6 wcc_attr): just enough to detect a concurrent change.
type wccAttr struct {
	Size  uint64
	MTime time.Time
	CTime time.Time
}

func wccAttrOf(fi *vfs.FileInfo) *wccAttr {
	if fi == nil {
		return nil
	}
	return &wccAttr{Size: fi.Size, MTime: fi.MTime, CTime: fi.CTime}
}

// writeWccData writes a wcc_data: pre_op_attr then post_op_attr (RFC 1813
// §2.6). Every mutating NFSv3 reply carries one so clients can validate
// their attribute cache without a follow-up GETATTR.
func writeWccData(buf *bytes.Buffer, pre *wccAttr, post *vfs.FileInfo) error {
	if pre == nil {
		if err := xdr.WriteBool(buf, false); err != nil {
			return err
		}
	} else {
		if err := xdr.WriteBool(buf, true); err != nil {
			return err
		}
		if err := xdr.WriteUint64(buf, pre.Size); err != nil {
			return err
		}
		if err := writeNfsTime3(buf, pre.MTime); err != nil {
			return err
		}
		if err := writeNfsTime3(buf, pre.CTime); err != nil {
			return err
		}
	}
	return writePostOpAttr(buf, post)
}

func writeNfsTime3(buf *bytes.Buffer, t time.Time) error {
	if err := xdr.WriteUint32(buf, uint32(t.Unix())); err != nil {
		return err
	}
	return xdr.WriteUint32(buf, uint32(t.Nanosecond()))
}

// readSattr3 decodes an NFSv3 sattr3: each field is a discriminated union
// (set_it flag, value if set) rather than v2's sentinel convention.
func readSattr3(r *bytes.Reader) (mode, uid, gid *uint32, size *uint64, atime, mtime *time.Time, err error) {
	mode, err = readOptUint32(r)
	if err != nil {
		return
	}
	uid, err = readOptUint32(r)
	if err != nil {
		return
	}
	gid, err = readOptUint32(r)
	if err != nil {
		return
	}
	size, err = readOptUint64(r)
	if err != nil {
		return
	}
	atime, err = readSetTime(r)
	if err != nil {
		return
	}
	mtime, err = readSetTime(r)
	return
}

func readOptUint32(r *bytes.Reader) (*uint32, error) {
	set, err := xdr.DecodeBool(r)
	if err != nil || !set {
		return nil, err
	}
	v, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func readOptUint64(r *bytes.Reader) (*uint64, error) {
	set, err := xdr.DecodeBool(r)
	if err != nil || !set {
		return nil, err
	}
	v, err := xdr.DecodeUint64(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// time_how3 discriminant (RFC 1813 §2.5.2): DONT_CHANGE=0, SET_TO_SERVER_TIME=1,
// SET_TO_CLIENT_TIME=2.
func readSetTime(r *bytes.Reader) (*time.Time, error) {
	how, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	switch how {
	case 0:
		return nil, nil
	case 1:
		now := time.Now()
		return &now, nil
	case 2:
		sec, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, err
		}
		nsec, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, err
		}
		t := time.Unix(int64(sec), int64(nsec))
		return &t, nil
	default:
		return nil, nil
	}
}
