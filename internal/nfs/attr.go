package nfs

import (
	"bytes"

	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/nfsd/nfsd/internal/vfs"
)

// ftype3/ftype2 on the wire (RFC 1094 §2.3.5 / RFC 1813 §2.5.1).
const (
	NFTypeNonFile = 0
	NFTypeReg     = 1
	NFTypeDir     = 2
	NFTypeBlk     = 3
	NFTypeChr     = 4
	NFTypeLnk     = 5
	NFTypeSock    = 6
	NFTypeFifo    = 7
)

// WireType maps a vfs.FileType to its NFSv2/v3 ftype wire value.
func WireType(t vfs.FileType) uint32 {
	switch t {
	case vfs.TypeRegular:
		return NFTypeReg
	case vfs.TypeDirectory:
		return NFTypeDir
	case vfs.TypeSymlink:
		return NFTypeLnk
	case vfs.TypeBlockDevice:
		return NFTypeBlk
	case vfs.TypeCharDevice:
		return NFTypeChr
	case vfs.TypeSocket:
		return NFTypeSock
	case vfs.TypeFIFO:
		return NFTypeFifo
	default:
		return NFTypeNonFile
	}
}

// WriteFattr3 encodes an NFSv3 fattr3 structure (RFC 1813 §2.5.5): type,
// mode, nlink, uid, gid, size, used, rdev{major,minor}, fsid, fileid,
// atime/mtime/ctime (each as nfstime3 seconds+nseconds).
func WriteFattr3(buf *bytes.Buffer, fi *vfs.FileInfo) error {
	writers := []func() error{
		func() error { return xdr.WriteUint32(buf, WireType(fi.Type)) },
		func() error { return xdr.WriteUint32(buf, fi.Mode) },
		func() error { return xdr.WriteUint32(buf, fi.NLink) },
		func() error { return xdr.WriteUint32(buf, fi.UID) },
		func() error { return xdr.WriteUint32(buf, fi.GID) },
		func() error { return xdr.WriteUint64(buf, fi.Size) },
		func() error { return xdr.WriteUint64(buf, fi.Used) },
		func() error { return xdr.WriteUint32(buf, fi.RDevMaj) },
		func() error { return xdr.WriteUint32(buf, fi.RDevMin) },
		func() error { return xdr.WriteUint64(buf, fi.FSID) },
		func() error { return xdr.WriteUint64(buf, fi.FileID) },
		func() error { return writeNfsTime3(buf, fi.ATime.Unix(), int64(fi.ATime.Nanosecond())) },
		func() error { return writeNfsTime3(buf, fi.MTime.Unix(), int64(fi.MTime.Nanosecond())) },
		func() error { return writeNfsTime3(buf, fi.CTime.Unix(), int64(fi.CTime.Nanosecond())) },
	}
	for _, w := range writers {
		if err := w(); err != nil {
			return err
		}
	}
	return nil
}

func writeNfsTime3(buf *bytes.Buffer, sec, nsec int64) error {
	if err := xdr.WriteUint32(buf, uint32(sec)); err != nil {
		return err
	}
	return xdr.WriteUint32(buf, uint32(nsec))
}

// WriteFattr2 encodes an NFSv2 fattr structure (RFC 1094 §2.3.5): the same
// fields as fattr3 but all 32-bit, blocksize/blocks instead of used, and no
// fsid/fileid distinction beyond the 32-bit fsid/fileid pair.
func WriteFattr2(buf *bytes.Buffer, fi *vfs.FileInfo) error {
	const blockSize = 4096
	blocks := uint32((fi.Used + blockSize - 1) / blockSize)

	writers := []func() error{
		func() error { return xdr.WriteUint32(buf, WireType(fi.Type)) },
		func() error { return xdr.WriteUint32(buf, fi.Mode) },
		func() error { return xdr.WriteUint32(buf, fi.NLink) },
		func() error { return xdr.WriteUint32(buf, fi.UID) },
		func() error { return xdr.WriteUint32(buf, fi.GID) },
		func() error { return xdr.WriteUint32(buf, uint32(fi.Size)) },
		func() error { return xdr.WriteUint32(buf, blockSize) },
		func() error { return xdr.WriteUint32(buf, (fi.RDevMaj<<8)|fi.RDevMin) },
		func() error { return xdr.WriteUint32(buf, blocks) },
		func() error { return xdr.WriteUint32(buf, uint32(fi.FSID)) },
		func() error { return xdr.WriteUint32(buf, uint32(fi.FileID)) },
		func() error { return writeNfsTime3(buf, fi.ATime.Unix(), 0) },
		func() error { return writeNfsTime3(buf, fi.MTime.Unix(), 0) },
		func() error { return writeNfsTime3(buf, fi.CTime.Unix(), 0) },
	}
	for _, w := range writers {
		if err := w(); err != nil {
			return err
		}
	}
	return nil
}
