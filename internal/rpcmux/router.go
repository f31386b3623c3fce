// Package rpcmux composes several transport.Dispatcher implementations --
// portmapper plus whichever NFS versions are enabled -- behind a single
// transport.Listener, routing each decoded call by (program, version).
//
// Generalized from the teacher's internal/adapter/nfs.Dispatch, which
// switches on call.Program/call.Version to route between NFS, Mount, NLM,
// NSM, and portmap before handing off to a per-protocol dispatcher. This
// module has no Mount/NLM/NSM protocols, so the table collapses to
// portmap plus NFSv2/v3/v4, but the routing shape -- unknown program is
// PROG_UNAVAIL, known program with an unregistered version is
// PROG_MISMATCH with the registered range -- is carried over unchanged.
package rpcmux

import (
	"context"
	"sort"

	"github.com/nfsd/nfsd/internal/logger"
	"github.com/nfsd/nfsd/internal/protocol/rpc"
	"github.com/nfsd/nfsd/internal/protocol/transport"
)

type key struct {
	program uint32
	version uint32
}

// Router implements transport.Dispatcher by fanning out to one of several
// registered program/version dispatchers.
type Router struct {
	routes map[key]transport.Dispatcher
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[key]transport.Dispatcher)}
}

// Register binds a dispatcher to a specific (program, version) pair.
// Registering the same pair twice replaces the earlier entry.
func (rt *Router) Register(program, version uint32, d transport.Dispatcher) {
	rt.routes[key{program, version}] = d
}

// Dispatch implements transport.Dispatcher. It peeks at the call header to
// find the right registered dispatcher, then hands it the full message so
// that dispatcher can parse the header itself -- every registered
// dispatcher already does its own rpc.ReadCall, so re-parsing here costs
// nothing but a second pass over the fixed-size header.
func (rt *Router) Dispatch(ctx context.Context, data []byte, clientAddr string) []byte {
	call, err := rpc.ReadCall(data)
	if err != nil {
		if mismatched, ok := rpc.AsVersionMismatch(err); ok {
			return rpc.EncodeRPCMismatch(mismatched.XID, rpc.RPCVersion, rpc.RPCVersion)
		}
		logger.Debug("rpcmux: failed to parse RPC call", "client", clientAddr, "error", err)
		return nil
	}

	if d, ok := rt.routes[key{call.Program, call.Version}]; ok {
		return d.Dispatch(ctx, data, clientAddr)
	}

	versions := rt.versionsFor(call.Program)
	if len(versions) == 0 {
		return rpc.EncodeAcceptedError(call.XID, rpc.RPCProgUnavail)
	}

	reply, err := rpc.EncodeProgMismatch(call.XID, versions[0], versions[len(versions)-1])
	if err != nil {
		logger.Debug("rpcmux: build prog_mismatch reply", "error", err)
		return nil
	}
	return reply
}

// versionsFor returns the sorted list of versions registered for program.
func (rt *Router) versionsFor(program uint32) []uint32 {
	var versions []uint32
	for k := range rt.routes {
		if k.program == program {
			versions = append(versions, k.version)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}
