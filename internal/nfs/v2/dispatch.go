package v2

import (
	"context"

	"github.com/nfsd/nfsd/internal/logger"
	"github.com/nfsd/nfsd/internal/nfs"
	"github.com/nfsd/nfsd/internal/protocol/rpc"
	"github.com/nfsd/nfsd/internal/security"
)

// ProgramNFS is the ONC-RPC program number shared by every NFS version
// (RFC 1094/1813/7530 all register under 100003).
const ProgramNFS uint32 = 100003

// Version is this package's NFS version number on the wire.
const Version uint32 = 2

// NFSv2 procedure numbers (RFC 1094 §2.2).
const (
	ProcNull       uint32 = 0
	ProcGetattr    uint32 = 1
	ProcSetattr    uint32 = 2
	ProcRoot       uint32 = 3
	ProcLookup     uint32 = 4
	ProcReadlink   uint32 = 5
	ProcRead       uint32 = 6
	ProcWritecache uint32 = 7
	ProcWrite      uint32 = 8
	ProcCreate     uint32 = 9
	ProcRemove     uint32 = 10
	ProcRename     uint32 = 11
	ProcLink       uint32 = 12
	ProcSymlink    uint32 = 13
	ProcMkdir      uint32 = 14
	ProcRmdir      uint32 = 15
	ProcReaddir    uint32 = 16
	ProcStatfs     uint32 = 17
)

type procedureFunc func(h *Handler, hc *nfs.HandlerContext, data []byte) ([]byte, error)

type procedure struct {
	Name    string
	Handler procedureFunc
}

// DispatchTable maps NFSv2 procedure numbers to their handlers.
var DispatchTable = map[uint32]*procedure{
	ProcNull:       {"NULL", func(h *Handler, _ *nfs.HandlerContext, _ []byte) ([]byte, error) { return h.Null(), nil }},
	ProcGetattr:    {"GETATTR", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Getattr(hc, d) }},
	ProcSetattr:    {"SETATTR", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Setattr(hc, d) }},
	ProcRoot:       {"ROOT", func(h *Handler, _ *nfs.HandlerContext, _ []byte) ([]byte, error) { return h.Root(), nil }},
	ProcLookup:     {"LOOKUP", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Lookup(hc, d) }},
	ProcReadlink:   {"READLINK", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Readlink(hc, d) }},
	ProcRead:       {"READ", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Read(hc, d) }},
	ProcWritecache: {"WRITECACHE", func(h *Handler, _ *nfs.HandlerContext, _ []byte) ([]byte, error) { return h.Writecache(), nil }},
	ProcWrite:      {"WRITE", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Write(hc, d) }},
	ProcCreate:     {"CREATE", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Create(hc, d) }},
	ProcRemove:     {"REMOVE", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Remove(hc, d) }},
	ProcRename:     {"RENAME", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Rename(hc, d) }},
	ProcLink:       {"LINK", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Link(hc, d) }},
	ProcSymlink:    {"SYMLINK", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Symlink(hc, d) }},
	ProcMkdir:      {"MKDIR", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Mkdir(hc, d) }},
	ProcRmdir:      {"RMDIR", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Rmdir(hc, d) }},
	ProcReaddir:    {"READDIR", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Readdir(hc, d) }},
	ProcStatfs:     {"STATFS", func(h *Handler, hc *nfs.HandlerContext, d []byte) ([]byte, error) { return h.Statfs(hc, d) }},
}

// Dispatcher adapts the v2 Handler/DispatchTable to transport.Dispatcher.
type Dispatcher struct {
	handler *Handler
}

// NewDispatcher creates an NFSv2 Dispatcher backed by srv.
func NewDispatcher(srv *nfs.Server) *Dispatcher {
	return &Dispatcher{handler: NewHandler(srv)}
}

// Dispatch implements transport.Dispatcher for program 100003 version 2.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte, clientAddr string) []byte {
	call, err := rpc.ReadCall(data)
	if err != nil {
		if mismatched, ok := rpc.AsVersionMismatch(err); ok {
			return rpc.EncodeRPCMismatch(mismatched.XID, rpc.RPCVersion, rpc.RPCVersion)
		}
		logger.Debug("nfsv2: failed to parse RPC call", "client", clientAddr, "error", err)
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

	proc, ok := DispatchTable[call.Procedure]
	if !ok {
		return rpc.EncodeAcceptedError(call.XID, rpc.RPCProcUnavail)
	}

	args, err := rpc.ReadData(data, call)
	if err != nil {
		logger.Debug("nfsv2: read procedure args", "client", clientAddr, "error", err)
		return nil
	}

	secCtx, err := security.Authenticate(call.GetAuthFlavor(), call.GetAuthBody(), clientAddr, d.handler.Server.RootSquash)
	if err != nil {
		return rpc.EncodeAuthError(call.XID, rpc.AuthBadCred)
	}
	hc := &nfs.HandlerContext{Context: ctx, ClientAddr: clientAddr, Security: secCtx}

	if d.handler.Server.Stats != nil {
		d.handler.Server.Stats.RPCCalls.WithLabelValues("nfs", "2", proc.Name).Inc()
	}
	logger.Debug("nfsv2 RPC", "procedure", proc.Name, "client", clientAddr)

	result, err := proc.Handler(d.handler, hc, args)
	if err != nil {
		logger.Debug("nfsv2: handler error", "procedure", proc.Name, "client", clientAddr, "error", err)
		if d.handler.Server.Stats != nil {
			d.handler.Server.Stats.RPCErrors.WithLabelValues("nfs", "garbage").Inc()
		}
		return rpc.EncodeAcceptedError(call.XID, rpc.RPCGarbageArgs)
	}

	return rpc.EncodeAcceptedSuccess(call.XID, result)
}
