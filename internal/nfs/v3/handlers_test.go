package v3_test

import (
	"bytes"
	"testing"

	v3 "github.com/nfsd/nfsd/internal/nfs/v3"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeFH(fh []byte) []byte {
	var buf bytes.Buffer
	_ = xdr.WriteXDROpaque(&buf, fh)
	return buf.Bytes()
}

func encodeDirOpArgs(dirFH []byte, name string) []byte {
	var buf bytes.Buffer
	_ = xdr.WriteXDROpaque(&buf, dirFH)
	_ = xdr.WriteXDRString(&buf, name)
	return buf.Bytes()
}

// encodeSattr3 writes an sattr3 with every optional field set to "don't
// change" except the ones named, matching RFC 1813 §2.5.1's switched union
// encoding: each field is a bool discriminant followed by its value only
// when true.
func encodeSattr3(mode *uint32) []byte {
	var buf bytes.Buffer
	if mode != nil {
		_ = xdr.WriteBool(&buf, true)
		_ = xdr.WriteUint32(&buf, *mode)
	} else {
		_ = xdr.WriteBool(&buf, false)
	}
	_ = xdr.WriteBool(&buf, false) // uid
	_ = xdr.WriteBool(&buf, false) // gid
	_ = xdr.WriteBool(&buf, false) // size
	_ = xdr.WriteUint32(&buf, 0)   // atime: DONT_CHANGE
	_ = xdr.WriteUint32(&buf, 0)   // mtime: DONT_CHANGE
	return buf.Bytes()
}

func readStatus(t *testing.T, reply []byte) (uint32, *bytes.Reader) {
	t.Helper()
	r := bytes.NewReader(reply)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	return status, r
}

func TestNull(t *testing.T) {
	fx := newFixture(t)
	assert.Nil(t, fx.handler.Null())
}

func TestGetattr_Root(t *testing.T) {
	fx := newFixture(t)
	reply, err := fx.handler.Getattr(fx.ctx(), encodeFH(fx.rootHandle()))
	require.NoError(t, err)
	status, _ := readStatus(t, reply)
	assert.Equal(t, uint32(v3.NFS3OK), status)
}

func TestGetattr_StaleHandle(t *testing.T) {
	fx := newFixture(t)
	reply, err := fx.handler.Getattr(fx.ctx(), encodeFH([]byte("not-a-real-handle")))
	require.NoError(t, err)
	status, _ := readStatus(t, reply)
	assert.Equal(t, uint32(v3.NFS3ErrStale), status)
}

func TestCreateLookupWriteRead(t *testing.T) {
	fx := newFixture(t)
	mode := uint32(0644)

	var createArgs bytes.Buffer
	createArgs.Write(encodeDirOpArgs(fx.rootHandle(), "hello.txt"))
	_ = xdr.WriteUint32(&createArgs, 0) // createhow3: UNCHECKED
	createArgs.Write(encodeSattr3(&mode))

	reply, err := fx.handler.Create(fx.ctx(), createArgs.Bytes())
	require.NoError(t, err)
	status, _ := readStatus(t, reply)
	require.Equal(t, uint32(v3.NFS3OK), status)

	reply, err = fx.handler.Lookup(fx.ctx(), encodeDirOpArgs(fx.rootHandle(), "hello.txt"))
	require.NoError(t, err)
	status, r := readStatus(t, reply)
	require.Equal(t, uint32(v3.NFS3OK), status)
	fileFH, err := xdr.DecodeOpaque(r)
	require.NoError(t, err)

	var writeArgs bytes.Buffer
	writeArgs.Write(encodeFH(fileFH))
	_ = xdr.WriteUint64(&writeArgs, 0) // offset
	_ = xdr.WriteUint32(&writeArgs, 5) // count3
	_ = xdr.WriteUint32(&writeArgs, v3.FileSync)
	_ = xdr.WriteXDROpaque(&writeArgs, []byte("hello"))

	reply, err = fx.handler.Write(fx.ctx(), writeArgs.Bytes())
	require.NoError(t, err)
	status, _ = readStatus(t, reply)
	assert.Equal(t, uint32(v3.NFS3OK), status)

	var readArgs bytes.Buffer
	readArgs.Write(encodeFH(fileFH))
	_ = xdr.WriteUint64(&readArgs, 0)
	_ = xdr.WriteUint32(&readArgs, 64)

	reply, err = fx.handler.Read(fx.ctx(), readArgs.Bytes())
	require.NoError(t, err)
	status, _ = readStatus(t, reply)
	assert.Equal(t, uint32(v3.NFS3OK), status)
}

func TestMkdirRmdir(t *testing.T) {
	fx := newFixture(t)
	var args bytes.Buffer
	args.Write(encodeDirOpArgs(fx.rootHandle(), "sub"))
	args.Write(encodeSattr3(nil))

	reply, err := fx.handler.Mkdir(fx.ctx(), args.Bytes())
	require.NoError(t, err)
	status, _ := readStatus(t, reply)
	require.Equal(t, uint32(v3.NFS3OK), status)

	reply, err = fx.handler.Rmdir(fx.ctx(), encodeDirOpArgs(fx.rootHandle(), "sub"))
	require.NoError(t, err)
	status, _ = readStatus(t, reply)
	assert.Equal(t, uint32(v3.NFS3OK), status)
}

func TestAccess(t *testing.T) {
	fx := newFixture(t)
	var args bytes.Buffer
	args.Write(encodeFH(fx.rootHandle()))
	_ = xdr.WriteUint32(&args, v3.Access3Read|v3.Access3Lookup)

	reply, err := fx.handler.Access(fx.ctx(), args.Bytes())
	require.NoError(t, err)
	status, _ := readStatus(t, reply)
	assert.Equal(t, uint32(v3.NFS3OK), status)
}

func TestFsinfo(t *testing.T) {
	fx := newFixture(t)
	reply, err := fx.handler.Fsinfo(fx.ctx(), encodeFH(fx.rootHandle()))
	require.NoError(t, err)
	status, _ := readStatus(t, reply)
	assert.Equal(t, uint32(v3.NFS3OK), status)
}

func TestPathconf(t *testing.T) {
	fx := newFixture(t)
	reply, err := fx.handler.Pathconf(fx.ctx(), encodeFH(fx.rootHandle()))
	require.NoError(t, err)
	status, _ := readStatus(t, reply)
	assert.Equal(t, uint32(v3.NFS3OK), status)
}

func TestMknod_NotSupported(t *testing.T) {
	fx := newFixture(t)
	reply, err := fx.handler.Mknod(fx.ctx(), nil)
	require.NoError(t, err)
	status, _ := readStatus(t, reply)
	assert.Equal(t, uint32(v3.NFS3ErrNotSupp), status)
}
