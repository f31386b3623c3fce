package xdr

import (
	"bytes"
	"fmt"
	"io"
)

// MaxArrayLength bounds the element count accepted by DecodeArrayLength.
// NFS arrays (READDIR cookie lists, GIDs, ACL entries, COMPOUND op lists)
// are all small in legitimate traffic; this guards against a client
// claiming billions of elements and exhausting memory before the short
// read is even detected.
const MaxArrayLength = 1 << 20

// WriteArrayLength writes the uint32 element-count prefix of an XDR
// variable-length array.
//
// Per RFC 4506 Section 4.13 (Variable-Length Array):
// Format: [length:uint32][elements...], no padding between elements
// beyond what each element's own encoding requires.
func WriteArrayLength(buf *bytes.Buffer, length int) error {
	return WriteUint32(buf, uint32(length))
}

// DecodeArrayLength reads and validates the uint32 element-count prefix
// of an XDR variable-length array.
func DecodeArrayLength(r io.Reader) (uint32, error) {
	n, err := DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("read array length: %w", err)
	}
	if n > MaxArrayLength {
		return 0, fmt.Errorf("array length %d exceeds maximum %d", n, MaxArrayLength)
	}
	return n, nil
}

// DecodeUint32Array decodes an XDR array of uint32 (used for GID lists,
// READDIR cookie verifiers, and NFSv4 bitmaps).
func DecodeUint32Array(r io.Reader) ([]uint32, error) {
	n, err := DecodeArrayLength(r)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		v, err := DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read array element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// WriteUint32Array encodes a slice of uint32 as an XDR variable-length array.
func WriteUint32Array(buf *bytes.Buffer, vals []uint32) error {
	if err := WriteArrayLength(buf, len(vals)); err != nil {
		return err
	}
	for _, v := range vals {
		if err := WriteUint32(buf, v); err != nil {
			return err
		}
	}
	return nil
}
