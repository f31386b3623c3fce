package rpcmux_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/nfsd/nfsd/internal/protocol/rpc"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/nfsd/nfsd/internal/rpcmux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDispatcher struct {
	reply []byte
}

func (s *stubDispatcher) Dispatch(_ context.Context, _ []byte, _ string) []byte {
	return s.reply
}

func buildCall(xid, program, version, procedure uint32) []byte {
	var buf bytes.Buffer
	_ = xdr.WriteUint32(&buf, xid)
	_ = xdr.WriteUint32(&buf, 0) // msg_type: CALL
	_ = xdr.WriteUint32(&buf, rpc.RPCVersion)
	_ = xdr.WriteUint32(&buf, program)
	_ = xdr.WriteUint32(&buf, version)
	_ = xdr.WriteUint32(&buf, procedure)
	_ = xdr.WriteUint32(&buf, 0) // cred flavor: AUTH_NONE
	_ = xdr.WriteUint32(&buf, 0) // cred length
	_ = xdr.WriteUint32(&buf, 0) // verf flavor
	_ = xdr.WriteUint32(&buf, 0) // verf length
	return buf.Bytes()
}

func TestRouter_RoutesByProgramAndVersion(t *testing.T) {
	rt := rpcmux.NewRouter()
	nfsv3 := &stubDispatcher{reply: []byte("v3")}
	nfsv4 := &stubDispatcher{reply: []byte("v4")}
	rt.Register(100003, 3, nfsv3)
	rt.Register(100003, 4, nfsv4)

	reply := rt.Dispatch(context.Background(), buildCall(1, 100003, 3, 0), "10.0.0.1:700")
	assert.Equal(t, []byte("v3"), reply)

	reply = rt.Dispatch(context.Background(), buildCall(2, 100003, 4, 1), "10.0.0.1:700")
	assert.Equal(t, []byte("v4"), reply)
}

func TestRouter_UnknownProgramIsProgUnavail(t *testing.T) {
	rt := rpcmux.NewRouter()
	rt.Register(100003, 3, &stubDispatcher{reply: []byte("v3")})

	reply := rt.Dispatch(context.Background(), buildCall(3, 999999, 1, 0), "10.0.0.1:700")
	require.NotNil(t, reply)

	r := bytes.NewReader(reply)
	_, err := xdr.DecodeUint32(r) // xid
	require.NoError(t, err)
	_, err = xdr.DecodeUint32(r) // msg_type: REPLY
	require.NoError(t, err)
	_, err = xdr.DecodeUint32(r) // reply_stat: MSG_ACCEPTED
	require.NoError(t, err)
	_, err = xdr.DecodeUint32(r) // verf flavor
	require.NoError(t, err)
	_, err = xdr.DecodeUint32(r) // verf length
	require.NoError(t, err)
	acceptStat, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, rpc.RPCProgUnavail, acceptStat)
}

func TestRouter_KnownProgramUnregisteredVersionIsProgMismatch(t *testing.T) {
	rt := rpcmux.NewRouter()
	rt.Register(100003, 3, &stubDispatcher{reply: []byte("v3")})
	rt.Register(100003, 4, &stubDispatcher{reply: []byte("v4")})

	reply := rt.Dispatch(context.Background(), buildCall(4, 100003, 2, 0), "10.0.0.1:700")
	require.NotNil(t, reply)

	r := bytes.NewReader(reply)
	_, err := xdr.DecodeUint32(r) // xid
	require.NoError(t, err)
	_, err = xdr.DecodeUint32(r) // msg_type
	require.NoError(t, err)
	_, err = xdr.DecodeUint32(r) // reply_stat
	require.NoError(t, err)
	_, err = xdr.DecodeUint32(r) // verf flavor
	require.NoError(t, err)
	_, err = xdr.DecodeUint32(r) // verf length
	require.NoError(t, err)
	acceptStat, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	require.Equal(t, uint32(2), acceptStat) // PROG_MISMATCH
	low, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	high, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), low)
	assert.Equal(t, uint32(4), high)
}
