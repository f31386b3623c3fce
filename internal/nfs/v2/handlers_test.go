package v2_test

import (
	"bytes"
	"testing"

	v2 "github.com/nfsd/nfsd/internal/nfs/v2"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noChange = uint32(0xFFFFFFFF)

func encodeFH(fh []byte) []byte {
	padded := make([]byte, v2.FHSize)
	copy(padded, fh)
	return padded
}

func encodeDirOpArgs(t *testing.T, dirFH []byte, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(encodeFH(dirFH))
	require.NoError(t, xdr.WriteXDRString(&buf, name))
	return buf.Bytes()
}

func encodeSattr(t *testing.T, mode *uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	m := noChange
	if mode != nil {
		m = *mode
	}
	require.NoError(t, xdr.WriteUint32(&buf, m))
	require.NoError(t, xdr.WriteUint32(&buf, noChange)) // uid
	require.NoError(t, xdr.WriteUint32(&buf, noChange)) // gid
	require.NoError(t, xdr.WriteUint32(&buf, noChange)) // size
	require.NoError(t, xdr.WriteUint32(&buf, noChange)) // atime.seconds
	require.NoError(t, xdr.WriteUint32(&buf, 0))        // atime.useconds
	require.NoError(t, xdr.WriteUint32(&buf, noChange)) // mtime.seconds
	require.NoError(t, xdr.WriteUint32(&buf, 0))        // mtime.useconds
	return buf.Bytes()
}

func TestNull(t *testing.T) {
	fx := newFixture(t)
	assert.Nil(t, fx.handler.Null())
}

func TestGetattr_Root(t *testing.T) {
	fx := newFixture(t)

	resp, err := fx.handler.Getattr(fx.ctx(), encodeFH(fx.rootHandle()))
	require.NoError(t, err)

	r := bytes.NewReader(resp)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, v2.NFSOK, status)
}

func TestGetattr_StaleHandle(t *testing.T) {
	fx := newFixture(t)

	bogus := make([]byte, v2.FHSize)
	for i := range bogus {
		bogus[i] = byte(i + 1)
	}
	resp, err := fx.handler.Getattr(fx.ctx(), bogus)
	require.NoError(t, err)

	r := bytes.NewReader(resp)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, v2.NFSErrStale, status)
}

func TestCreateLookupGetattr(t *testing.T) {
	fx := newFixture(t)

	mode := uint32(0o644)
	args := append(encodeDirOpArgs(t, fx.rootHandle(), "hello.txt"), encodeSattr(t, &mode)...)
	resp, err := fx.handler.Create(fx.ctx(), args)
	require.NoError(t, err)

	r := bytes.NewReader(resp)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	require.Equal(t, v2.NFSOK, status)

	lookupResp, err := fx.handler.Lookup(fx.ctx(), encodeDirOpArgs(t, fx.rootHandle(), "hello.txt"))
	require.NoError(t, err)
	lr := bytes.NewReader(lookupResp)
	lstatus, err := xdr.DecodeUint32(lr)
	require.NoError(t, err)
	assert.Equal(t, v2.NFSOK, lstatus)
}

func TestLookup_NotFound(t *testing.T) {
	fx := newFixture(t)

	resp, err := fx.handler.Lookup(fx.ctx(), encodeDirOpArgs(t, fx.rootHandle(), "nope.txt"))
	require.NoError(t, err)

	r := bytes.NewReader(resp)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, v2.NFSErrNoEnt, status)
}

func TestWriteReadRoundTrip(t *testing.T) {
	fx := newFixture(t)

	mode := uint32(0o644)
	createArgs := append(encodeDirOpArgs(t, fx.rootHandle(), "data.bin"), encodeSattr(t, &mode)...)
	_, err := fx.handler.Create(fx.ctx(), createArgs)
	require.NoError(t, err)

	fh := fx.handleFor("/data.bin")

	payload := []byte("hello nfs")
	var writeArgs bytes.Buffer
	writeArgs.Write(encodeFH(fh))
	require.NoError(t, xdr.WriteUint32(&writeArgs, 0)) // beginoffset
	require.NoError(t, xdr.WriteUint32(&writeArgs, 0)) // offset
	require.NoError(t, xdr.WriteUint32(&writeArgs, uint32(len(payload))))
	require.NoError(t, xdr.WriteXDROpaque(&writeArgs, payload))

	writeResp, err := fx.handler.Write(fx.ctx(), writeArgs.Bytes())
	require.NoError(t, err)
	wr := bytes.NewReader(writeResp)
	wstatus, err := xdr.DecodeUint32(wr)
	require.NoError(t, err)
	require.Equal(t, v2.NFSOK, wstatus)

	var readArgs bytes.Buffer
	readArgs.Write(encodeFH(fh))
	require.NoError(t, xdr.WriteUint32(&readArgs, 0))                     // offset
	require.NoError(t, xdr.WriteUint32(&readArgs, uint32(len(payload))))  // count
	require.NoError(t, xdr.WriteUint32(&readArgs, uint32(len(payload)))) // totalcount

	readResp, err := fx.handler.Read(fx.ctx(), readArgs.Bytes())
	require.NoError(t, err)

	rr := bytes.NewReader(readResp)
	rstatus, err := xdr.DecodeUint32(rr)
	require.NoError(t, err)
	require.Equal(t, v2.NFSOK, rstatus)
}

func TestMkdirRmdir(t *testing.T) {
	fx := newFixture(t)

	mode := uint32(0o755)
	args := append(encodeDirOpArgs(t, fx.rootHandle(), "subdir"), encodeSattr(t, &mode)...)
	resp, err := fx.handler.Mkdir(fx.ctx(), args)
	require.NoError(t, err)
	r := bytes.NewReader(resp)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	require.Equal(t, v2.NFSOK, status)

	rmResp, err := fx.handler.Rmdir(fx.ctx(), encodeDirOpArgs(t, fx.rootHandle(), "subdir"))
	require.NoError(t, err)
	rmr := bytes.NewReader(rmResp)
	rmStatus, err := xdr.DecodeUint32(rmr)
	require.NoError(t, err)
	assert.Equal(t, v2.NFSOK, rmStatus)
}

func TestRemove(t *testing.T) {
	fx := newFixture(t)

	mode := uint32(0o644)
	args := append(encodeDirOpArgs(t, fx.rootHandle(), "todelete.txt"), encodeSattr(t, &mode)...)
	_, err := fx.handler.Create(fx.ctx(), args)
	require.NoError(t, err)

	resp, err := fx.handler.Remove(fx.ctx(), encodeDirOpArgs(t, fx.rootHandle(), "todelete.txt"))
	require.NoError(t, err)
	r := bytes.NewReader(resp)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, v2.NFSOK, status)
}

func TestRename(t *testing.T) {
	fx := newFixture(t)

	mode := uint32(0o644)
	args := append(encodeDirOpArgs(t, fx.rootHandle(), "old.txt"), encodeSattr(t, &mode)...)
	_, err := fx.handler.Create(fx.ctx(), args)
	require.NoError(t, err)

	var renameArgs bytes.Buffer
	renameArgs.Write(encodeDirOpArgs(t, fx.rootHandle(), "old.txt"))
	renameArgs.Write(encodeDirOpArgs(t, fx.rootHandle(), "new.txt"))

	resp, err := fx.handler.Rename(fx.ctx(), renameArgs.Bytes())
	require.NoError(t, err)
	r := bytes.NewReader(resp)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	require.Equal(t, v2.NFSOK, status)

	lookupResp, err := fx.handler.Lookup(fx.ctx(), encodeDirOpArgs(t, fx.rootHandle(), "new.txt"))
	require.NoError(t, err)
	lr := bytes.NewReader(lookupResp)
	lstatus, err := xdr.DecodeUint32(lr)
	require.NoError(t, err)
	assert.Equal(t, v2.NFSOK, lstatus)
}

func TestSymlinkReadlink(t *testing.T) {
	fx := newFixture(t)

	var buf bytes.Buffer
	buf.Write(encodeDirOpArgs(t, fx.rootHandle(), "link"))
	require.NoError(t, xdr.WriteXDRString(&buf, "/target/path"))
	buf.Write(encodeSattr(t, nil))

	_, err := fx.handler.Symlink(fx.ctx(), buf.Bytes())
	require.NoError(t, err)

	fh := fx.handleFor("/link")
	resp, err := fx.handler.Readlink(fx.ctx(), encodeFH(fh))
	require.NoError(t, err)

	r := bytes.NewReader(resp)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	require.Equal(t, v2.NFSOK, status)
	target, err := xdr.DecodeString(r)
	require.NoError(t, err)
	assert.Equal(t, "/target/path", target)
}

func TestReaddir(t *testing.T) {
	fx := newFixture(t)

	mode := uint32(0o644)
	for _, name := range []string{"a.txt", "b.txt"} {
		args := append(encodeDirOpArgs(t, fx.rootHandle(), name), encodeSattr(t, &mode)...)
		_, err := fx.handler.Create(fx.ctx(), args)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	buf.Write(encodeFH(fx.rootHandle()))
	require.NoError(t, xdr.WriteUint32(&buf, 0)) // cookie
	require.NoError(t, xdr.WriteUint32(&buf, 4096))

	resp, err := fx.handler.Readdir(fx.ctx(), buf.Bytes())
	require.NoError(t, err)

	r := bytes.NewReader(resp)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	require.Equal(t, v2.NFSOK, status)
}

func TestStatfs(t *testing.T) {
	fx := newFixture(t)

	resp, err := fx.handler.Statfs(fx.ctx(), encodeFH(fx.rootHandle()))
	require.NoError(t, err)

	r := bytes.NewReader(resp)
	status, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, v2.NFSOK, status)
}
