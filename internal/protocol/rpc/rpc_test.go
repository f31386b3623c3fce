package rpc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/nfsd/nfsd/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeUnixAuthBody(t *testing.T, machineName string, uid, gid uint32, gids []uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteUint32(&buf, 0))
	require.NoError(t, xdr.WriteXDRString(&buf, machineName))
	require.NoError(t, xdr.WriteUint32(&buf, uid))
	require.NoError(t, xdr.WriteUint32(&buf, gid))
	require.NoError(t, xdr.WriteUint32Array(&buf, gids))
	return buf.Bytes()
}

func TestParseUnixAuth_RootCredentials(t *testing.T) {
	body := encodeUnixAuthBody(t, "", 0, 0, nil)

	auth, err := ParseUnixAuth(body)
	require.NoError(t, err)
	assert.Equal(t, "", auth.MachineName)
	assert.Equal(t, uint32(0), auth.UID)
	assert.Equal(t, uint32(0), auth.GID)
	assert.Empty(t, auth.GIDs)
}

func TestParseUnixAuth_MaxGIDs(t *testing.T) {
	gids := make([]uint32, MaxGIDs)
	for i := range gids {
		gids[i] = uint32(i + 100)
	}
	body := encodeUnixAuthBody(t, "client.example.com", 1000, 1000, gids)

	auth, err := ParseUnixAuth(body)
	require.NoError(t, err)
	assert.Equal(t, "client.example.com", auth.MachineName)
	assert.Equal(t, gids, auth.GIDs)
}

func TestParseUnixAuth_TooManyGIDs(t *testing.T) {
	gids := make([]uint32, MaxGIDs+1)
	body := encodeUnixAuthBody(t, "client", 1, 1, gids)

	_, err := ParseUnixAuth(body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many gids")
}

func TestParseUnixAuth_MachineNameTooLong(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteUint32(&buf, 0))
	require.NoError(t, xdr.WriteUint32(&buf, MaxMachineNameLength+1))

	_, err := ParseUnixAuth(buf.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "machine name too long")
}

func TestParseUnixAuth_EmptyBody(t *testing.T) {
	_, err := ParseUnixAuth(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestUnixAuth_String(t *testing.T) {
	auth := &UnixAuth{MachineName: "host1", UID: 1000, GID: 1000, GIDs: []uint32{4, 24, 27, 30}}
	s := auth.String()
	assert.Contains(t, s, "host1")
	assert.Contains(t, s, "1000")
	assert.Contains(t, s, "[4 24 27 30]")
}

func TestUnixAuth_String_EmptyGIDs(t *testing.T) {
	auth := &UnixAuth{GIDs: nil}
	assert.Contains(t, auth.String(), "[]")
}

func TestAuthFlavorConstants(t *testing.T) {
	seen := map[uint32]bool{}
	for _, f := range []uint32{AuthNull, AuthUnix, AuthShort, AuthDES, AuthRPCSECGSS} {
		assert.False(t, seen[f], "duplicate flavor value %d", f)
		seen[f] = true
	}
}

func TestMakeProgMismatchReply(t *testing.T) {
	reply, err := MakeProgMismatchReply(42, 2, 4)
	require.NoError(t, err)

	fragHeader := binary.BigEndian.Uint32(reply[0:4])
	assert.NotEqual(t, uint32(0), fragHeader&0x80000000, "last-fragment bit must be set")
	length := fragHeader &^ 0x80000000
	assert.Equal(t, uint64(len(reply)-4), uint64(length))

	xid := binary.BigEndian.Uint32(reply[4:8])
	assert.Equal(t, uint32(42), xid)

	msgType := binary.BigEndian.Uint32(reply[8:12])
	assert.Equal(t, RPCReply, msgType)

	replyStat := binary.BigEndian.Uint32(reply[12:16])
	assert.Equal(t, RPCMsgAccepted, replyStat)

	acceptStat := binary.BigEndian.Uint32(reply[24:28])
	assert.Equal(t, RPCProgMismatch, acceptStat)

	low := binary.BigEndian.Uint32(reply[28:32])
	high := binary.BigEndian.Uint32(reply[32:36])
	assert.Equal(t, uint32(2), low)
	assert.Equal(t, uint32(4), high)
}

func TestMakeProgMismatchReply_InvalidRange(t *testing.T) {
	_, err := MakeProgMismatchReply(1, 5, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version range")
	assert.Contains(t, err.Error(), "low (5) > high (3)")
}

func TestMakeProgMismatchReply_EdgeXIDs(t *testing.T) {
	for _, xid := range []uint32{0, 0xFFFFFFFF} {
		reply, err := MakeProgMismatchReply(xid, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, xid, binary.BigEndian.Uint32(reply[4:8]))
	}
}

func TestReadCall_AndReadData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteUint32(&buf, 7))             // xid
	require.NoError(t, xdr.WriteUint32(&buf, RPCCall))        // msg_type
	require.NoError(t, xdr.WriteUint32(&buf, RPCVersion))     // rpcvers
	require.NoError(t, xdr.WriteUint32(&buf, 100000))         // prog
	require.NoError(t, xdr.WriteUint32(&buf, 2))              // vers
	require.NoError(t, xdr.WriteUint32(&buf, 0))              // proc
	require.NoError(t, xdr.WriteUint32(&buf, AuthNull))       // cred flavor
	require.NoError(t, xdr.WriteUint32(&buf, 0))              // cred length
	require.NoError(t, xdr.WriteUint32(&buf, AuthNull))       // verf flavor
	require.NoError(t, xdr.WriteUint32(&buf, 0))              // verf length
	buf.WriteString("trailing-args")

	data := buf.Bytes()
	call, err := ReadCall(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), call.XID)
	assert.Equal(t, uint32(100000), call.Program)
	assert.Equal(t, uint32(2), call.Version)
	assert.Equal(t, uint32(0), call.Procedure)

	rest, err := ReadData(data, call)
	require.NoError(t, err)
	assert.Equal(t, "trailing-args", string(rest))
}

func TestReadCall_RPCVersMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteUint32(&buf, 1))
	require.NoError(t, xdr.WriteUint32(&buf, RPCCall))
	require.NoError(t, xdr.WriteUint32(&buf, 1)) // bad rpcvers
	require.NoError(t, xdr.WriteUint32(&buf, 100000))
	require.NoError(t, xdr.WriteUint32(&buf, 2))
	require.NoError(t, xdr.WriteUint32(&buf, 0))
	require.NoError(t, xdr.WriteUint32(&buf, AuthNull))
	require.NoError(t, xdr.WriteUint32(&buf, 0))
	require.NoError(t, xdr.WriteUint32(&buf, AuthNull))
	require.NoError(t, xdr.WriteUint32(&buf, 0))

	_, err := ReadCall(buf.Bytes())
	require.Error(t, err)
	call, ok := AsVersionMismatch(err)
	require.True(t, ok)
	assert.Equal(t, uint32(1), call.XID)
}

func TestEncodeAcceptedSuccess(t *testing.T) {
	reply := EncodeAcceptedSuccess(9, []byte{0, 0, 0, 1})
	msgType := binary.BigEndian.Uint32(reply[4:8])
	replyStat := binary.BigEndian.Uint32(reply[8:12])
	acceptStat := binary.BigEndian.Uint32(reply[20:24])
	assert.Equal(t, RPCReply, msgType)
	assert.Equal(t, RPCMsgAccepted, replyStat)
	assert.Equal(t, RPCSuccess, acceptStat)
	assert.Equal(t, []byte{0, 0, 0, 1}, reply[24:28])
}

func TestEncodeRPCMismatch(t *testing.T) {
	reply := EncodeRPCMismatch(3, 2, 2)
	replyStat := binary.BigEndian.Uint32(reply[8:12])
	rejectStat := binary.BigEndian.Uint32(reply[12:16])
	assert.Equal(t, RPCMsgDenied, replyStat)
	assert.Equal(t, RPCMismatch, rejectStat)
}

func TestEncodeAuthError(t *testing.T) {
	reply := EncodeAuthError(3, AuthBadCred)
	replyStat := binary.BigEndian.Uint32(reply[8:12])
	rejectStat := binary.BigEndian.Uint32(reply[12:16])
	authStat := binary.BigEndian.Uint32(reply[16:20])
	assert.Equal(t, RPCMsgDenied, replyStat)
	assert.Equal(t, RPCAuthError, rejectStat)
	assert.Equal(t, uint32(AuthBadCred), authStat)
}
