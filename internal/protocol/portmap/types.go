package portmap

// Program and version numbers for the ONC-RPC portmapper (RFC 1833 rpcbind,
// originally specified as "portmapper" in RFC 1057).
const (
	ProgramPortmap  uint32 = 100000
	PortmapVersion2 uint32 = 2
)

// Procedure numbers for portmapper version 2 (RFC 1833 Section 3).
const (
	ProcNull    uint32 = 0
	ProcSet     uint32 = 1
	ProcUnset   uint32 = 2
	ProcGetport uint32 = 3
	ProcDump    uint32 = 4
	ProcCallit  uint32 = 5
)

// Protocol numbers as used in the portmap Mapping struct (IANA protocol
// numbers: TCP=6, UDP=17).
const (
	ProtoTCP uint32 = 6
	ProtoUDP uint32 = 17
)

// Mapping is the portmap PMAP2_MAPPING struct: a single (prog, vers, prot)
// registration bound to a port.
type Mapping struct {
	Prog uint32
	Vers uint32
	Prot uint32
	Port uint32
}

// MappingSize is the encoded wire size of a Mapping: four uint32 fields.
const MappingSize = 16
