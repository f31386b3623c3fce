package portmap

import (
	"bytes"
	"context"

	"github.com/nfsd/nfsd/internal/logger"
	"github.com/nfsd/nfsd/internal/protocol/rpc"
	"github.com/nfsd/nfsd/internal/protocol/xdr"
)

// procedureHandler dispatches one decoded portmap call to the Handler and
// returns its XDR-encoded result body (success path only -- errors are
// turned into RPC-level reject/accept-error replies by Dispatcher).
type procedureHandler func(h *Handler, data []byte, clientAddr string) ([]byte, error)

// procedure pairs a name (for logging) with its handler.
type procedure struct {
	Name    string
	Handler procedureHandler
}

// DispatchTable maps portmap v2 procedure numbers to their handlers.
//
// Unlike the teacher, CALLIT (procedure 5) is present here: restricted to
// PMAPPROC_NULL against programs this registry already has a mapping for,
// per this module's Open Question resolution (see DESIGN.md) rather than
// omitted outright.
var DispatchTable = map[uint32]*procedure{
	ProcNull: {
		Name: "NULL",
		Handler: func(h *Handler, _ []byte, _ string) ([]byte, error) {
			return h.Null(), nil
		},
	},
	ProcSet: {
		Name: "SET",
		Handler: func(h *Handler, data []byte, clientAddr string) ([]byte, error) {
			return h.Set(data, clientAddr)
		},
	},
	ProcUnset: {
		Name: "UNSET",
		Handler: func(h *Handler, data []byte, clientAddr string) ([]byte, error) {
			return h.Unset(data, clientAddr)
		},
	},
	ProcGetport: {
		Name: "GETPORT",
		Handler: func(h *Handler, data []byte, _ string) ([]byte, error) {
			return h.Getport(data)
		},
	},
	ProcDump: {
		Name: "DUMP",
		Handler: func(h *Handler, _ []byte, _ string) ([]byte, error) {
			return h.Dump(), nil
		},
	},
	ProcCallit: {
		Name:    "CALLIT",
		Handler: handleCallit,
	},
}

// handleCallit decodes PMAPPROC_CALLIT's (prog, vers, proc, args) argument
// and, if it passes Handler.Callit's restriction, returns the
// pmap2_callit_result {port, res} with an empty result body -- no
// forwarded call is ever made.
func handleCallit(h *Handler, data []byte, _ string) ([]byte, error) {
	r := bytes.NewReader(data)

	prog, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	vers, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	proc, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	if _, err := xdr.DecodeOpaque(r); err != nil {
		return nil, err
	}

	if err := h.Callit(prog, vers, proc); err != nil {
		return nil, err
	}

	port := h.Registry.Getport(prog, vers, ProtoUDP)
	if port == 0 {
		port = h.Registry.Getport(prog, vers, ProtoTCP)
	}

	var buf bytes.Buffer
	_ = xdr.WriteUint32(&buf, port)
	_ = xdr.WriteXDROpaque(&buf, nil)
	return buf.Bytes(), nil
}

// Dispatcher adapts the portmap Handler/DispatchTable to
// transport.Dispatcher, so a single transport.Listener can serve the
// portmapper alongside any other registered RPC program.
type Dispatcher struct {
	handler *Handler
}

// NewDispatcher creates a portmap Dispatcher backed by the given Registry.
func NewDispatcher(r *Registry) *Dispatcher {
	return &Dispatcher{handler: NewHandler(r)}
}

// Dispatch implements transport.Dispatcher.
func (d *Dispatcher) Dispatch(_ context.Context, data []byte, clientAddr string) []byte {
	call, err := rpc.ReadCall(data)
	if err != nil {
		if mismatched, ok := rpc.AsVersionMismatch(err); ok {
			return rpc.EncodeRPCMismatch(mismatched.XID, rpc.RPCVersion, rpc.RPCVersion)
		}
		logger.Debug("portmap: failed to parse RPC call", "client", clientAddr, "error", err)
		return nil
	}

	if call.Program != ProgramPortmap {
		return rpc.EncodeAcceptedError(call.XID, rpc.RPCProgUnavail)
	}
	if call.Version != PortmapVersion2 {
		reply, err := rpc.EncodeProgMismatch(call.XID, PortmapVersion2, PortmapVersion2)
		if err != nil {
			logger.Debug("portmap: build prog_mismatch reply", "error", err)
			return nil
		}
		return reply
	}

	proc, ok := DispatchTable[call.Procedure]
	if !ok {
		return rpc.EncodeAcceptedError(call.XID, rpc.RPCProcUnavail)
	}

	args, err := rpc.ReadData(data, call)
	if err != nil {
		logger.Debug("portmap: read procedure args", "client", clientAddr, "error", err)
		return nil
	}

	logger.Debug("portmap RPC", "procedure", proc.Name, "client", clientAddr)

	result, err := proc.Handler(d.handler, args, clientAddr)
	if err != nil {
		logger.Debug("portmap: handler error", "procedure", proc.Name, "client", clientAddr, "error", err)
		if result != nil {
			return rpc.EncodeAcceptedSuccess(call.XID, result)
		}
		return rpc.EncodeAcceptedError(call.XID, rpc.RPCSystemErr)
	}

	return rpc.EncodeAcceptedSuccess(call.XID, result)
}
