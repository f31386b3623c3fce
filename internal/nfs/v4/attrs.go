package v4

import (
	"bytes"
	"fmt"

	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/nfsd/nfsd/internal/vfs"
)

// encodeFattr4 builds a GETATTR/READDIR fattr4 value: the subset of
// requested attrs this server supports, encoded in ascending attribute
// number order (RFC 7530 §3.3.15 "in order"), plus the bitmap4 actually
// returned so the client knows which of its requested bits were honored.
func encodeFattr4(requested []uint32, fi *vfs.FileInfo) (bitmap []uint32, vals []byte, err error) {
	attrs := intersect(SupportedAttrs, requested)

	var buf bytes.Buffer
	for _, a := range attrs {
		if werr := writeOneAttr(&buf, a, fi); werr != nil {
			return nil, nil, werr
		}
	}
	return bitmapFromSet(attrs), buf.Bytes(), nil
}

func writeOneAttr(buf *bytes.Buffer, attr uint32, fi *vfs.FileInfo) error {
	switch attr {
	case Fattr4SupportedAttrs:
		return xdr.WriteUint32Array(buf, bitmapFromSet(SupportedAttrs))
	case Fattr4Type:
		return xdr.WriteUint32(buf, typeToNF4(fi.Type))
	case Fattr4Change:
		return xdr.WriteUint64(buf, uint64(fi.MTime.UnixNano()))
	case Fattr4Size:
		return xdr.WriteUint64(buf, fi.Size)
	case Fattr4Fsid:
		if err := xdr.WriteUint64(buf, fi.FSID); err != nil {
			return err
		}
		return xdr.WriteUint64(buf, 0)
	case Fattr4Fileid:
		return xdr.WriteUint64(buf, fi.FileID)
	case Fattr4Mode:
		return xdr.WriteUint32(buf, fi.Mode&0o7777)
	case Fattr4Numlinks:
		return xdr.WriteUint32(buf, fi.NLink)
	case Fattr4Owner:
		return xdr.WriteXDRString(buf, fmt.Sprintf("%d", fi.UID))
	case Fattr4OwnerGroup:
		return xdr.WriteXDRString(buf, fmt.Sprintf("%d", fi.GID))
	case Fattr4RawDev:
		if err := xdr.WriteUint32(buf, fi.RDevMaj); err != nil {
			return err
		}
		return xdr.WriteUint32(buf, fi.RDevMin)
	case Fattr4TimeAccess:
		return writeNfsTime4(buf, fi.ATime.Unix(), int64(fi.ATime.Nanosecond()))
	case Fattr4TimeMetadata:
		return writeNfsTime4(buf, fi.CTime.Unix(), int64(fi.CTime.Nanosecond()))
	case Fattr4TimeModify:
		return writeNfsTime4(buf, fi.MTime.Unix(), int64(fi.MTime.Nanosecond()))
	default:
		return nil
	}
}

func writeNfsTime4(buf *bytes.Buffer, sec, nsec int64) error {
	if err := xdr.WriteInt64(buf, sec); err != nil {
		return err
	}
	return xdr.WriteUint32(buf, uint32(nsec))
}

func typeToNF4(t vfs.FileType) uint32 {
	switch t {
	case vfs.TypeRegular:
		return NF4Reg
	case vfs.TypeDirectory:
		return NF4Dir
	case vfs.TypeSymlink:
		return NF4Lnk
	case vfs.TypeBlockDevice:
		return NF4Blk
	case vfs.TypeCharDevice:
		return NF4Chr
	case vfs.TypeSocket:
		return NF4Sock
	case vfs.TypeFIFO:
		return NF4Fifo
	default:
		return NF4Reg
	}
}

// setAttr4 is the decoded subset of a SETATTR/CREATE fattr4 this server
// understands: unrecognized attribute bits are skipped rather than
// rejected, matching RFC 7530's guidance to ignore attrs the server
// cannot set rather than fail the whole request over them when the
// client also requested SIZE/MODE/time changes that did succeed.
type setAttr4 struct {
	mode        *uint32
	size        *uint64
	accessTime  *int64
	modifyTime  *int64
}

// decodeFattr4 reads a CREATE/SETATTR fattr4: bitmap4 then opaque
// attrlist4, and pulls out the fields this server can actually apply.
func decodeFattr4(r *bytes.Reader) (*setAttr4, error) {
	words, err := xdr.DecodeUint32Array(r)
	if err != nil {
		return nil, err
	}
	attrs := bitmapToSet(words)

	raw, err := xdr.DecodeOpaque(r)
	if err != nil {
		return nil, err
	}
	vr := bytes.NewReader(raw)

	out := &setAttr4{}
	for _, a := range attrs {
		switch a {
		case Fattr4Size:
			v, derr := xdr.DecodeUint64(vr)
			if derr != nil {
				return nil, derr
			}
			out.size = &v
		case Fattr4Mode:
			v, derr := xdr.DecodeUint32(vr)
			if derr != nil {
				return nil, derr
			}
			out.mode = &v
		case Fattr4TimeAccess:
			sec, derr := decodeTime4(vr)
			if derr != nil {
				return nil, derr
			}
			out.accessTime = sec
		case Fattr4TimeModify:
			sec, derr := decodeTime4(vr)
			if derr != nil {
				return nil, derr
			}
			out.modifyTime = sec
		}
	}
	return out, nil
}

// decodeTime4 reads a settime4: set_it discriminant (SET_TO_SERVER_TIME=1
// skips the time value, SET_TO_CLIENT_TIME=2 reads one) and returns
// seconds since epoch, or nil for SET_TO_SERVER_TIME.
func decodeTime4(r *bytes.Reader) (*int64, error) {
	how, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	if how == 1 {
		return nil, nil
	}
	raw, err := xdr.DecodeUint64(r)
	if err != nil {
		return nil, err
	}
	if _, err := xdr.DecodeUint32(r); err != nil { // nseconds
		return nil, err
	}
	sec := int64(raw)
	return &sec, nil
}
