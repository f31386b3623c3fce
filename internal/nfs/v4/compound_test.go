package v4_test

import (
	"bytes"
	"testing"

	v4 "github.com/nfsd/nfsd/internal/nfs/v4"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeCompound builds a raw COMPOUND argument: tag, minorversion=1, and
// the given pre-encoded (opnum + args) operations.
func encodeCompound(t *testing.T, ops ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteXDRString(&buf, "test"))
	require.NoError(t, xdr.WriteUint32(&buf, 1))
	require.NoError(t, xdr.WriteArrayLength(&buf, len(ops)))
	for _, op := range ops {
		buf.Write(op)
	}
	return buf.Bytes()
}

func opPutrootfh(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteUint32(&buf, v4.OpPutrootfh))
	return buf.Bytes()
}

func opGetfh(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteUint32(&buf, v4.OpGetfh))
	return buf.Bytes()
}

func opGetattr(t *testing.T, attrs []uint32) []byte {
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteUint32(&buf, v4.OpGetattr))
	words := make([]uint32, 0, 1)
	for _, a := range attrs {
		wi := a / 32
		for uint32(len(words)) <= wi {
			words = append(words, 0)
		}
		words[wi] |= 1 << (a % 32)
	}
	require.NoError(t, xdr.WriteUint32Array(&buf, words))
	return buf.Bytes()
}

func opLookup(t *testing.T, name string) []byte {
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteUint32(&buf, v4.OpLookup))
	require.NoError(t, xdr.WriteXDRString(&buf, name))
	return buf.Bytes()
}

func opCreateDir(t *testing.T, name string) []byte {
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteUint32(&buf, v4.OpCreate))
	require.NoError(t, xdr.WriteUint32(&buf, v4.NF4Dir))
	require.NoError(t, xdr.WriteXDRString(&buf, name))
	require.NoError(t, xdr.WriteUint32Array(&buf, nil)) // empty attr bitmap
	require.NoError(t, xdr.WriteXDROpaque(&buf, nil))   // empty attrlist4
	return buf.Bytes()
}

// decodeCompoundHeader reads status/tag/numres from a COMPOUND reply and
// returns a reader positioned at the first (opnum, result) pair.
func decodeCompoundHeader(t *testing.T, reply []byte) (uint32, uint32, *bytes.Reader) {
	t.Helper()
	r := bytes.NewReader(reply)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	_, err = xdr.DecodeString(r)
	require.NoError(t, err)
	numres, err := xdr.DecodeArrayLength(r)
	require.NoError(t, err)
	return status, numres, r
}

func TestCompound_PutrootfhGetattr(t *testing.T) {
	fx := newFixture(t)
	reply, err := fx.handler.Compound(fx.ctx(), encodeCompound(t,
		opPutrootfh(t),
		opGetattr(t, []uint32{v4.Fattr4Type, v4.Fattr4Size}),
	))
	require.NoError(t, err)

	status, numres, r := decodeCompoundHeader(t, reply)
	assert.Equal(t, uint32(v4.NFS4OK), status)
	assert.Equal(t, uint32(2), numres)

	opNum, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, v4.OpPutrootfh, opNum)
	opStatus, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(v4.NFS4OK), opStatus)
}

func TestCompound_CreateDirLookupGetfh(t *testing.T) {
	fx := newFixture(t)
	reply, err := fx.handler.Compound(fx.ctx(), encodeCompound(t,
		opPutrootfh(t),
		opCreateDir(t, "sub"),
	))
	require.NoError(t, err)
	status, _, _ := decodeCompoundHeader(t, reply)
	require.Equal(t, uint32(v4.NFS4OK), status)

	reply, err = fx.handler.Compound(fx.ctx(), encodeCompound(t,
		opPutrootfh(t),
		opLookup(t, "sub"),
		opGetfh(t),
	))
	require.NoError(t, err)
	status, numres, _ := decodeCompoundHeader(t, reply)
	assert.Equal(t, uint32(v4.NFS4OK), status)
	assert.Equal(t, uint32(3), numres)
}

func TestCompound_NoFilehandle(t *testing.T) {
	fx := newFixture(t)
	reply, err := fx.handler.Compound(fx.ctx(), encodeCompound(t,
		opGetattr(t, []uint32{v4.Fattr4Type}),
	))
	require.NoError(t, err)
	status, _, _ := decodeCompoundHeader(t, reply)
	assert.Equal(t, uint32(v4.NFS4ErrNoFilehandle), status)
}

func TestNull(t *testing.T) {
	fx := newFixture(t)
	assert.Nil(t, fx.handler.Null())
}
