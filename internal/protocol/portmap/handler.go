package portmap

import (
	"fmt"
	"net"
	"strings"
)

// Handler implements the five portmap v2 procedures plus the
// locally-scoped CALLIT restored per this module's Open Question
// resolution (see DESIGN.md): the teacher omits CALLIT entirely to avoid
// DDoS amplification, but spec.md requires it to be present, restricted
// to PMAP_NULL against programs this same registry has registered.
type Handler struct {
	Registry *Registry
}

// NewHandler creates a Handler backed by the given Registry.
func NewHandler(r *Registry) *Handler {
	return &Handler{Registry: r}
}

// Null handles PMAPPROC_NULL: no arguments, no result.
func (h *Handler) Null() []byte {
	return nil
}

// Set handles PMAPPROC_SET. Per RFC 1833, only the registering host
// itself (or an operator tool acting for it) is expected to call SET; we
// restrict it to loopback callers the same way the teacher restricts
// SET/UNSET to localhost.
func (h *Handler) Set(data []byte, clientAddr string) ([]byte, error) {
	if !isLoopback(clientAddr) {
		return EncodeBoolResponse(false), fmt.Errorf("SET rejected: caller %s is not loopback", clientAddr)
	}
	m, err := DecodeMapping(data)
	if err != nil {
		return EncodeBoolResponse(false), err
	}
	return EncodeBoolResponse(h.Registry.Set(m)), nil
}

// Unset handles PMAPPROC_UNSET, also restricted to loopback callers.
func (h *Handler) Unset(data []byte, clientAddr string) ([]byte, error) {
	if !isLoopback(clientAddr) {
		return EncodeBoolResponse(false), fmt.Errorf("UNSET rejected: caller %s is not loopback", clientAddr)
	}
	m, err := DecodeMapping(data)
	if err != nil {
		return EncodeBoolResponse(false), err
	}
	return EncodeBoolResponse(h.Registry.Unset(m.Prog, m.Vers, m.Prot)), nil
}

// Getport handles PMAPPROC_GETPORT.
func (h *Handler) Getport(data []byte) ([]byte, error) {
	m, err := DecodeMapping(data)
	if err != nil {
		return EncodeGetportResponse(0), err
	}
	return EncodeGetportResponse(h.Registry.Getport(m.Prog, m.Vers, m.Prot)), nil
}

// Dump handles PMAPPROC_DUMP: no arguments.
func (h *Handler) Dump() []byte {
	return EncodeDumpResponse(h.Registry.Dump())
}

// Callit handles PMAPPROC_CALLIT, restricted to NULL calls against a
// program this registry already has a mapping for. Any other (prog, proc)
// combination is refused -- CALLIT never actually forwards payload bytes
// to another program, eliminating the amplification vector the teacher's
// omission was guarding against.
func (h *Handler) Callit(prog, _ uint32, proc uint32) error {
	if proc != ProcNull {
		return fmt.Errorf("CALLIT restricted to PMAPPROC_NULL, got proc %d", proc)
	}
	if !h.Registry.HasProgram(prog) {
		return fmt.Errorf("CALLIT: program %d is not locally registered", prog)
	}
	return nil
}

// isLoopback reports whether a "host:port" client address resolves to a
// loopback IP.
func isLoopback(clientAddr string) bool {
	host, _, err := net.SplitHostPort(clientAddr)
	if err != nil {
		host = strings.TrimSpace(clientAddr)
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
