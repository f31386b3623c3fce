package portmap

import (
	"bytes"
	"fmt"

	"github.com/nfsd/nfsd/internal/protocol/xdr"
)

// DecodeMapping decodes a portmap Mapping struct from XDR bytes.
//
// Wire format: [prog:uint32][vers:uint32][prot:uint32][port:uint32]
// Used as the argument for SET, UNSET, and GETPORT.
func DecodeMapping(data []byte) (*Mapping, error) {
	r := bytes.NewReader(data)

	prog, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read prog: %w", err)
	}
	vers, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read vers: %w", err)
	}
	prot, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read prot: %w", err)
	}
	port, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read port: %w", err)
	}

	return &Mapping{Prog: prog, Vers: vers, Prot: prot, Port: port}, nil
}

// EncodeMapping encodes a Mapping struct to XDR bytes.
func EncodeMapping(m *Mapping) []byte {
	var buf bytes.Buffer
	_ = xdr.WriteUint32(&buf, m.Prog)
	_ = xdr.WriteUint32(&buf, m.Vers)
	_ = xdr.WriteUint32(&buf, m.Prot)
	_ = xdr.WriteUint32(&buf, m.Port)
	return buf.Bytes()
}

// EncodeBoolResponse encodes an XDR boolean (SET/UNSET result).
func EncodeBoolResponse(v bool) []byte {
	var buf bytes.Buffer
	_ = xdr.WriteBool(&buf, v)
	return buf.Bytes()
}

// EncodeGetportResponse encodes the uint32 port result of GETPORT. Port 0
// means "no such mapping", per RFC 1833 Section 3.
func EncodeGetportResponse(port uint32) []byte {
	var buf bytes.Buffer
	_ = xdr.WriteUint32(&buf, port)
	return buf.Bytes()
}

// EncodeDumpResponse encodes the DUMP result: an XDR optional-data linked
// list of Mapping entries, terminated by a zero discriminant.
//
// Wire format per entry: [1:uint32][mapping:16 bytes], then finally
// [0:uint32] to terminate the list.
func EncodeDumpResponse(mappings []Mapping) []byte {
	var buf bytes.Buffer
	for _, m := range mappings {
		_ = xdr.WriteUint32(&buf, 1)
		buf.Write(EncodeMapping(&m))
	}
	_ = xdr.WriteUint32(&buf, 0)
	return buf.Bytes()
}
