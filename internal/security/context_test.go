package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfsd/nfsd/internal/protocol/rpc"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
)

func encodeUnixAuthBody(t *testing.T, stamp uint32, machine string, uid, gid uint32, gids []uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteUint32(&buf, stamp))
	require.NoError(t, xdr.WriteXDRString(&buf, machine))
	require.NoError(t, xdr.WriteUint32(&buf, uid))
	require.NoError(t, xdr.WriteUint32(&buf, gid))
	require.NoError(t, xdr.WriteArrayLength(&buf, len(gids)))
	for _, g := range gids {
		require.NoError(t, xdr.WriteUint32(&buf, g))
	}
	return buf.Bytes()
}

func TestAuthenticate_AuthNullIsUnauthenticated(t *testing.T) {
	ctx, err := Authenticate(rpc.AuthNull, nil, "10.0.0.5:900", RootSquashConfig{})
	require.NoError(t, err)
	assert.False(t, ctx.Authenticated)
	assert.Equal(t, "10.0.0.5", ctx.ClientIP)
}

func TestAuthenticate_AuthSysPopulatesContext(t *testing.T) {
	body := encodeUnixAuthBody(t, 1, "workstation", 501, 20, []uint32{20, 100})
	ctx, err := Authenticate(rpc.AuthUnix, body, "10.0.0.5:900", RootSquashConfig{})
	require.NoError(t, err)
	assert.True(t, ctx.Authenticated)
	assert.Equal(t, uint32(501), ctx.UID)
	assert.Equal(t, uint32(20), ctx.GID)
	assert.Equal(t, "workstation", ctx.Machine)
}

func TestAuthenticate_RootSquashRewritesUID(t *testing.T) {
	body := encodeUnixAuthBody(t, 1, "workstation", 0, 0, nil)
	squash := RootSquashConfig{Enabled: true, AnonUID: 65534, AnonGID: 65534}
	ctx, err := Authenticate(rpc.AuthUnix, body, "10.0.0.5:900", squash)
	require.NoError(t, err)
	assert.Equal(t, uint32(65534), ctx.UID)
	assert.Equal(t, uint32(65534), ctx.GID)
}

func TestAuthenticate_RootSquashTrustsConfiguredIPs(t *testing.T) {
	body := encodeUnixAuthBody(t, 1, "workstation", 0, 0, nil)
	squash := RootSquashConfig{Enabled: true, AnonUID: 65534, AnonGID: 65534, TrustedIPs: []string{"10.0.0.5"}}
	ctx, err := Authenticate(rpc.AuthUnix, body, "10.0.0.5:900", squash)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), ctx.UID, "trusted client's root identity must not be squashed")
}
