package portmap

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SetGetportUnset(t *testing.T) {
	r := NewRegistry(RegistryConfig{})

	ok := r.Set(&Mapping{Prog: 100003, Vers: 3, Prot: ProtoTCP, Port: 2049})
	require.True(t, ok)

	port := r.Getport(100003, 3, ProtoTCP)
	assert.Equal(t, uint32(2049), port)

	assert.Equal(t, uint32(0), r.Getport(100003, 4, ProtoTCP), "different version is a different mapping")

	removed := r.Unset(100003, 3, ProtoTCP)
	assert.True(t, removed)
	assert.Equal(t, uint32(0), r.Getport(100003, 3, ProtoTCP))

	assert.False(t, r.Unset(100003, 3, ProtoTCP), "second UNSET of the same mapping reports not-found")
}

func TestRegistry_MaxMappingsRejectsNewEntriesWhenFull(t *testing.T) {
	r := NewRegistry(RegistryConfig{MaxMappings: 1})

	assert.True(t, r.Set(&Mapping{Prog: 1, Vers: 1, Prot: ProtoTCP, Port: 1}))
	assert.False(t, r.Set(&Mapping{Prog: 2, Vers: 1, Prot: ProtoTCP, Port: 2}))
	assert.True(t, r.Set(&Mapping{Prog: 1, Vers: 1, Prot: ProtoTCP, Port: 9}), "refreshing an existing mapping is not a new entry")
}

func TestRegistry_Dump(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	r.Set(&Mapping{Prog: 100003, Vers: 3, Prot: ProtoTCP, Port: 2049})
	r.Set(&Mapping{Prog: 100005, Vers: 3, Prot: ProtoTCP, Port: 2049})

	dump := r.Dump()
	assert.Len(t, dump, 2)
}

func TestRegistry_AutoCleanupExpiresStaleMappings(t *testing.T) {
	r := NewRegistry(RegistryConfig{MappingTimeout: 20 * time.Millisecond, AutoCleanup: true})
	defer r.Stop()

	r.Set(&Mapping{Prog: 100003, Vers: 3, Prot: ProtoTCP, Port: 2049})
	require.Equal(t, uint32(2049), r.Getport(100003, 3, ProtoTCP))

	require.Eventually(t, func() bool {
		return r.Getport(100003, 3, ProtoTCP) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHandler_SetUnsetRestrictedToLoopback(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	h := NewHandler(r)

	args := EncodeMapping(&Mapping{Prog: 1, Vers: 1, Prot: ProtoTCP, Port: 111})

	_, err := h.Set(args, "203.0.113.5:9000")
	assert.Error(t, err)

	resp, err := h.Set(args, "127.0.0.1:9000")
	require.NoError(t, err)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], 1)
	assert.Equal(t, buf[:], resp)
}

func TestHandler_Callit_RestrictedToNullOfRegisteredProgram(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	r.Set(&Mapping{Prog: 100003, Vers: 3, Prot: ProtoUDP, Port: 2049})
	h := NewHandler(r)

	assert.NoError(t, h.Callit(100003, 3, ProcNull))
	assert.Error(t, h.Callit(100003, 3, ProcGetport), "CALLIT must reject non-NULL procedures")
	assert.Error(t, h.Callit(999999, 1, ProcNull), "CALLIT must reject unregistered programs")
}

func TestDispatcher_Getport(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	r.Set(&Mapping{Prog: 100003, Vers: 3, Prot: ProtoTCP, Port: 2049})
	d := NewDispatcher(r)

	args := EncodeMapping(&Mapping{Prog: 100003, Vers: 3, Prot: ProtoTCP})
	msg := buildCallMessage(1, ProgramPortmap, PortmapVersion2, ProcGetport, args)

	reply := d.Dispatch(nil, msg, "203.0.113.5:9000") //nolint:staticcheck // context unused by this dispatcher path
	require.NotNil(t, reply)

	acceptStat := binary.BigEndian.Uint32(reply[20:24])
	require.Equal(t, uint32(0), acceptStat)
	port := binary.BigEndian.Uint32(reply[24:28])
	assert.Equal(t, uint32(2049), port)
}

func TestDispatcher_WrongProgramReturnsProgUnavail(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	d := NewDispatcher(r)

	msg := buildCallMessage(2, 999999, 1, ProcNull, nil)
	reply := d.Dispatch(nil, msg, "203.0.113.5:9000") //nolint:staticcheck
	require.NotNil(t, reply)
	acceptStat := binary.BigEndian.Uint32(reply[20:24])
	assert.Equal(t, uint32(1), acceptStat) // PROG_UNAVAIL
}

// buildCallMessage constructs a bare RPC call header (AUTH_NULL
// credential/verifier) followed by args, mirroring the wire format the
// teacher's portmap integration tests build by hand.
func buildCallMessage(xid, prog, vers, proc uint32, args []byte) []byte {
	header := make([]byte, 40)
	binary.BigEndian.PutUint32(header[0:4], xid)
	binary.BigEndian.PutUint32(header[4:8], 0) // CALL
	binary.BigEndian.PutUint32(header[8:12], 2)
	binary.BigEndian.PutUint32(header[12:16], prog)
	binary.BigEndian.PutUint32(header[16:20], vers)
	binary.BigEndian.PutUint32(header[20:24], proc)
	// cred flavor/len, verf flavor/len all zero (AUTH_NULL)
	return append(header, args...)
}
