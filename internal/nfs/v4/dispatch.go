package v4

import (
	"context"
	"time"

	"github.com/nfsd/nfsd/internal/logger"
	"github.com/nfsd/nfsd/internal/nfs"
	"github.com/nfsd/nfsd/internal/protocol/rpc"
	"github.com/nfsd/nfsd/internal/security"
)

// ProgramNFS is the ONC-RPC program number shared by every NFS version.
const ProgramNFS uint32 = 100003

// Version is this package's NFS version number on the wire.
const Version uint32 = 4

// NFSv4 procedure numbers (RFC 5661 §1.4): everything but NULL is folded
// into a single COMPOUND carrying an array of operations.
const (
	ProcNull     uint32 = 0
	ProcCompound uint32 = 1
)

// Dispatcher adapts the v4 Handler to transport.Dispatcher.
type Dispatcher struct {
	handler *Handler
}

// NewDispatcher creates an NFSv4 Dispatcher backed by srv, with its own
// client and session tables (spec §4.5.2). sessionTimeout of 0 selects
// security.DefaultSessionTimeout.
func NewDispatcher(srv *nfs.Server, sessionTimeout time.Duration) *Dispatcher {
	return &Dispatcher{handler: NewHandler(srv, security.NewSessionTable(sessionTimeout))}
}

// Dispatch implements transport.Dispatcher for program 100003 version 4.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte, clientAddr string) []byte {
	call, err := rpc.ReadCall(data)
	if err != nil {
		if mismatched, ok := rpc.AsVersionMismatch(err); ok {
			return rpc.EncodeRPCMismatch(mismatched.XID, rpc.RPCVersion, rpc.RPCVersion)
		}
		logger.Debug("nfsv4: failed to parse RPC call", "client", clientAddr, "error", err)
		return nil
	}
	if call.Program != ProgramNFS {
		return rpc.EncodeAcceptedError(call.XID, rpc.RPCProgUnavail)
	}
	if call.Version != Version {
		reply, err := rpc.EncodeProgMismatch(call.XID, Version, Version)
		if err != nil {
			return nil
		}
		return reply
	}
	if call.Procedure != ProcNull && call.Procedure != ProcCompound {
		return rpc.EncodeAcceptedError(call.XID, rpc.RPCProcUnavail)
	}

	args, err := rpc.ReadData(data, call)
	if err != nil {
		logger.Debug("nfsv4: read procedure args", "client", clientAddr, "error", err)
		return nil
	}

	secCtx, err := security.Authenticate(call.GetAuthFlavor(), call.GetAuthBody(), clientAddr, d.handler.Server.RootSquash)
	if err != nil {
		return rpc.EncodeAuthError(call.XID, rpc.AuthBadCred)
	}
	hc := &nfs.HandlerContext{Context: ctx, ClientAddr: clientAddr, Security: secCtx}

	procName := "NULL"
	var result []byte
	if call.Procedure == ProcNull {
		result = d.handler.Null()
	} else {
		procName = "COMPOUND"
		if d.handler.Server.Stats != nil {
			d.handler.Server.Stats.RPCCalls.WithLabelValues("nfs", "4", procName).Inc()
		}
		result, err = d.handler.Compound(hc, args)
		if err != nil {
			logger.Debug("nfsv4: compound error", "client", clientAddr, "error", err)
			if d.handler.Server.Stats != nil {
				d.handler.Server.Stats.RPCErrors.WithLabelValues("nfs", "garbage").Inc()
			}
			return rpc.EncodeAcceptedError(call.XID, rpc.RPCGarbageArgs)
		}
		logger.Debug("nfsv4 RPC", "procedure", procName, "client", clientAddr)
		return rpc.EncodeAcceptedSuccess(call.XID, result)
	}

	if d.handler.Server.Stats != nil {
		d.handler.Server.Stats.RPCCalls.WithLabelValues("nfs", "4", procName).Inc()
	}
	logger.Debug("nfsv4 RPC", "procedure", procName, "client", clientAddr)
	return rpc.EncodeAcceptedSuccess(call.XID, result)
}
