// Package v4 implements a COMPOUND-based NFSv4.1 server (RFC 5661):
// PUTFH/GETFH-style current/saved filehandle state threaded through a
// list of operations in one RPC, sessions with per-slot sequence-id
// checking, and the same shared nfs.Server the v2 and v3 packages consume
// for every VFS side effect. COMPOUND does not check the minorversion
// field and does not require SEQUENCE as its first operation. Slots keep
// no reply cache: a retransmitted SEQUENCE is accepted and the rest of its
// compound is executed again.
//
// Grounded on this module's own v2/v3 raw-XDR-argument dispatch
// convention (itself grounded on the teacher's per-procedure handler
// style), generalized here from "one procedure per RPC" to "one
// COMPOUND RPC carrying an operation array", since NFSv4 collapses
// every NFSv2/v3 procedure into operations dispatched through a single
// NFSPROC4_COMPOUND.
package v4

import (
	"bytes"

	"github.com/nfsd/nfsd/internal/nfs"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
)

// MaxFHSize is NFSv4's maximum opaque file handle length (RFC 7530 §3.3).
const MaxFHSize = 128

// NFSv4 status codes (RFC 7530 §13.2, plus the v4.1 session codes this
// server's SEQUENCE/CREATE_SESSION support needs, RFC 5661 §15.1).
const (
	NFS4OK                 uint32 = 0
	NFS4ErrPerm            uint32 = 1
	NFS4ErrNoEnt           uint32 = 2
	NFS4ErrIO              uint32 = 5
	NFS4ErrAcces           uint32 = 13
	NFS4ErrExist           uint32 = 17
	NFS4ErrNotDir          uint32 = 20
	NFS4ErrIsDir           uint32 = 21
	NFS4ErrInval           uint32 = 22
	NFS4ErrFBig            uint32 = 27
	NFS4ErrNoSpc           uint32 = 28
	NFS4ErrROFS            uint32 = 30
	NFS4ErrNameTooLong     uint32 = 63
	NFS4ErrNotEmpty        uint32 = 66
	NFS4ErrStale           uint32 = 70
	NFS4ErrBadHandle       uint32 = 10001
	NFS4ErrBadCookie       uint32 = 10003
	NFS4ErrNotSupp         uint32 = 10004
	NFS4ErrBadType         uint32 = 10007
	NFS4ErrDelay           uint32 = 10008
	NFS4ErrSame            uint32 = 10009
	NFS4ErrDenied          uint32 = 10010
	NFS4ErrGrace           uint32 = 10013
	NFS4ErrClidInuse       uint32 = 10017
	NFS4ErrMoved           uint32 = 10019
	NFS4ErrNoFilehandle    uint32 = 10020
	NFS4ErrMinorVersMismatch uint32 = 10021
	NFS4ErrStaleClientID   uint32 = 10022
	NFS4ErrBadStateid      uint32 = 10025
	NFS4ErrBadSeqid        uint32 = 10026
	NFS4ErrRestoreFH       uint32 = 10030
	NFS4ErrOpIllegal       uint32 = 10044
	NFS4ErrBadSession      uint32 = 10052
	NFS4ErrBadSlot         uint32 = 10053
	NFS4ErrSeqMisordered   uint32 = 10063
	NFS4ErrOpNotInSession  uint32 = 10071
)

// WireStatus maps the shared nfs.Status enum to an NFSv4 nfsstat4 code.
func WireStatus(s nfs.Status) uint32 {
	switch s {
	case nfs.StatusOK:
		return NFS4OK
	case nfs.StatusStale:
		return NFS4ErrStale
	case nfs.StatusAccess:
		return NFS4ErrAcces
	case nfs.StatusNoEnt:
		return NFS4ErrNoEnt
	case nfs.StatusPerm:
		return NFS4ErrPerm
	case nfs.StatusNotDir:
		return NFS4ErrNotDir
	case nfs.StatusIsDir:
		return NFS4ErrIsDir
	case nfs.StatusNotEmpty:
		return NFS4ErrNotEmpty
	case nfs.StatusExist:
		return NFS4ErrExist
	case nfs.StatusNameTooLong:
		return NFS4ErrNameTooLong
	case nfs.StatusNoSpace:
		return NFS4ErrNoSpc
	case nfs.StatusShareDenied:
		return NFS4ErrDenied
	case nfs.StatusJukebox:
		return NFS4ErrDelay
	default:
		return NFS4ErrIO
	}
}

// Operation numbers this server recognizes (RFC 5661 §1.4, a subset of
// the full table -- legal but unimplemented operations fall through
// dispatch's default case and return NFS4ErrNotSupp).
const (
	OpAccess           uint32 = 3
	OpClose            uint32 = 4
	OpCommit           uint32 = 5
	OpCreate           uint32 = 6
	OpDelegReturn      uint32 = 8
	OpGetattr          uint32 = 9
	OpGetfh            uint32 = 10
	OpLink             uint32 = 11
	OpLock             uint32 = 12
	OpLockt            uint32 = 13
	OpLocku            uint32 = 14
	OpLookup           uint32 = 15
	OpLookupp          uint32 = 16
	OpOpen             uint32 = 18
	OpPutfh            uint32 = 22
	OpPutpubfh         uint32 = 23
	OpPutrootfh        uint32 = 24
	OpRead             uint32 = 25
	OpReaddir          uint32 = 26
	OpReadlink         uint32 = 27
	OpRemove           uint32 = 28
	OpRename           uint32 = 29
	OpRestorefh        uint32 = 31
	OpSavefh           uint32 = 32
	OpSecinfo          uint32 = 33
	OpSetattr          uint32 = 34
	OpWrite            uint32 = 38
	OpExchangeID       uint32 = 42
	OpCreateSession    uint32 = 43
	OpDestroySession   uint32 = 44
	OpGetDeviceInfo    uint32 = 47
	OpSequence         uint32 = 53
	OpDestroyClientid  uint32 = 57
	OpReclaimComplete  uint32 = 58
)

// File types (RFC 7530 §2.1 createtype4/type bits, fattr4_type numbering).
const (
	NF4Reg  uint32 = 1
	NF4Dir  uint32 = 2
	NF4Blk  uint32 = 3
	NF4Chr  uint32 = 4
	NF4Lnk  uint32 = 5
	NF4Sock uint32 = 6
	NF4Fifo uint32 = 7
)

// Attribute numbers this server supports in GETATTR/SETATTR/CREATE's
// fattr4 bitmap (RFC 7530 §5.8, a practical subset).
const (
	Fattr4SupportedAttrs uint32 = 0
	Fattr4Type           uint32 = 1
	Fattr4Change         uint32 = 3
	Fattr4Size           uint32 = 4
	Fattr4Fsid           uint32 = 8
	Fattr4Mode           uint32 = 33
	Fattr4Numlinks       uint32 = 35
	Fattr4Owner          uint32 = 36
	Fattr4OwnerGroup     uint32 = 37
	Fattr4RawDev         uint32 = 41
	Fattr4TimeAccess     uint32 = 47
	Fattr4TimeMetadata   uint32 = 52
	Fattr4TimeModify     uint32 = 53
	Fattr4Fileid         uint32 = 20
)

// SupportedAttrs lists every attribute number GETATTR/CREATE can encode,
// in ascending order -- also the value returned for FATTR4_SUPPORTED_ATTRS.
var SupportedAttrs = []uint32{
	Fattr4SupportedAttrs, Fattr4Type, Fattr4Change, Fattr4Size, Fattr4Fsid,
	Fattr4Fileid, Fattr4Mode, Fattr4Numlinks, Fattr4Owner, Fattr4OwnerGroup,
	Fattr4RawDev, Fattr4TimeAccess, Fattr4TimeMetadata, Fattr4TimeModify,
}

// readFH4 decodes a length-prefixed opaque file handle.
func readFH4(r *bytes.Reader) ([]byte, error) {
	return xdr.DecodeOpaque(r)
}

func writeFH4(buf *bytes.Buffer, fh []byte) error {
	return xdr.WriteXDROpaque(buf, fh)
}

// bitmapToSet flattens a bitmap4 (array of 32-bit words, word i holding
// bits i*32..i*32+31) into the sorted list of set attribute numbers.
func bitmapToSet(words []uint32) []uint32 {
	var set []uint32
	for wi, w := range words {
		for bit := 0; bit < 32; bit++ {
			if w&(1<<uint(bit)) != 0 {
				set = append(set, uint32(wi*32+bit))
			}
		}
	}
	return set
}

// bitmapFromSet packs a sorted list of attribute numbers into bitmap4 words.
func bitmapFromSet(attrs []uint32) []uint32 {
	var words []uint32
	for _, a := range attrs {
		wi := a / 32
		for uint32(len(words)) <= wi {
			words = append(words, 0)
		}
		words[wi] |= 1 << (a % 32)
	}
	return words
}

func intersect(a, b []uint32) []uint32 {
	set := make(map[uint32]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []uint32
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}
