// Package nfs holds the state and helpers shared by the NFSv2, NFSv3, and
// NFSv4 procedure handlers: the composed Server capability set (spec §1's
// VfsBackend plus the handle table, access tracker, security manager, and
// stats registry), and the handle-resolution chain spec §4.5 requires every
// handler to run before touching the VFS: handle table lookup, canonical
// path containment, and ACL/mode-bit access check.
//
// Grounded on the teacher's ExtractHandlerContext / NFSHandlerContext
// pattern in internal/protocol/nfs/dispatch.go, adapted from dittofs's
// multi-store runtime registry down to this module's narrower capability
// set.
package nfs

import (
	"context"
	"errors"
	"time"

	"github.com/nfsd/nfsd/internal/access"
	"github.com/nfsd/nfsd/internal/handles"
	"github.com/nfsd/nfsd/internal/logger"
	"github.com/nfsd/nfsd/internal/security"
	"github.com/nfsd/nfsd/internal/stats"
	"github.com/nfsd/nfsd/internal/vfs"
)

// Status is a protocol-neutral outcome of the handle-resolution chain.
// v2/v3 handlers map it to NFSERR_*; v4 handlers map it to NFS4ERR_*.
type Status int

const (
	StatusOK Status = iota
	StatusStale
	StatusAccess
	StatusNoEnt
	StatusPerm
	StatusIO
	StatusNotDir
	StatusIsDir
	StatusNotEmpty
	StatusExist
	StatusNameTooLong
	StatusNoSpace
	StatusShareDenied
	StatusJukebox
)

// Server composes every shared capability an NFS procedure handler needs.
// One Server instance is shared by the v2, v3, and v4 dispatch tables.
type Server struct {
	Backend vfs.Backend
	Handles *handles.Table
	Access  *access.Tracker
	Acls    *security.AclStore // nil if enable_acl is false
	Audit   *security.AuditLog // nil if no audit_log_file configured
	Stats   *stats.Registry

	RootPath     string
	Exports      []security.Export
	RootSquash   security.RootSquashConfig
	MaxReadWrite uint32 // per-call READ/WRITE cap (8 KiB for v2, configurable for v3/v4)
}

// HandlerContext is the per-call environment every v2/v3/v4 handler
// receives: the authenticated caller plus plumbing for cancellation and
// logging, mirroring the teacher's NFSHandlerContext.
type HandlerContext struct {
	Context    context.Context
	ClientAddr string
	Security   *security.Context
}

// Resolve runs spec §4.5's shared handle-to-path chain: handle table
// lookup, re-canonicalization, export containment, and access check for
// the requested permission bits. On success it returns the canonical path
// and the file's current attributes (so callers needing them, which is
// almost every handler, don't re-Stat); on failure it returns the Status
// the caller should translate to its wire-specific error code.
func (s *Server) Resolve(hctx *HandlerContext, handle []byte, op string, want security.Perm) (string, *vfs.FileInfo, Status) {
	path, ok := s.Handles.HandleToPath(handle)
	if !ok {
		s.auditDeny(hctx, "", op, "stale or unknown file handle")
		if s.Stats != nil {
			s.Stats.HandleStale.Inc()
		}
		return "", nil, StatusStale
	}

	fi, err := s.Backend.Stat(hctx.Context, path)
	if err != nil {
		s.Handles.Invalidate(path)
		return "", nil, MapVfsError(err)
	}

	fa := s.aclFor(path, fi)
	allowed, reason := security.CheckPathAccess(hctx.Security, s.Exports, path, fa, want)
	if !allowed {
		s.auditDeny(hctx, path, op, reason)
		return "", nil, StatusAccess
	}

	s.auditAllow(hctx, path, op)
	return path, fi, StatusOK
}

// aclFor returns the stored FileAcl for path if one exists in the ACL
// store, otherwise a FileAcl synthesized from the file's UNIX mode bits
// (spec §4.6: "falls back to UNIX mode bits ... when no ACL is stored").
func (s *Server) aclFor(path string, fi *vfs.FileInfo) *security.FileAcl {
	if s.Acls != nil {
		if found, ok, err := s.Acls.Get(path); err == nil && ok {
			return found
		}
	}
	return security.FromModeBits(fi.UID, fi.GID, fi.Mode, fi.Type == vfs.TypeDirectory)
}

// AclFor exposes aclFor to the version packages, for handlers like
// NFSv3 ACCESS that need to evaluate several permission bits against one
// resolved file without re-running the full Resolve chain per bit.
func (s *Server) AclFor(path string, fi *vfs.FileInfo) *security.FileAcl {
	return s.aclFor(path, fi)
}

// RootPathToHandle mints (or returns the stable existing) handle for the
// export root, backing PUTROOTFH (v4) and MNT/ROOT-style root lookups.
func (s *Server) RootPathToHandle() []byte {
	return s.Handles.PathToHandle(s.RootPath)
}

// MapVfsError maps a vfs.Backend error to the shared Status enum.
func MapVfsError(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, vfs.ErrNotExist):
		return StatusNoEnt
	case errors.Is(err, vfs.ErrExist):
		return StatusExist
	case errors.Is(err, vfs.ErrNotDir):
		return StatusNotDir
	case errors.Is(err, vfs.ErrIsDir):
		return StatusIsDir
	case errors.Is(err, vfs.ErrNotEmpty):
		return StatusNotEmpty
	case errors.Is(err, vfs.ErrPermission):
		return StatusAccess
	case errors.Is(err, vfs.ErrNoSpace):
		return StatusNoSpace
	case errors.Is(err, vfs.ErrNameTooLong):
		return StatusNameTooLong
	default:
		return StatusIO
	}
}

func (s *Server) auditDeny(hctx *HandlerContext, path, op, reason string) {
	if s.Stats != nil {
		s.Stats.AccessDenied.WithLabelValues(reason).Inc()
	}
	if s.Audit == nil {
		return
	}
	s.Audit.Record(security.AuditEvent{
		Time:      time.Now(),
		ClientIP:  hctx.ClientAddr,
		UID:       uidOf(hctx),
		Path:      path,
		Operation: op,
		Allowed:   false,
		Reason:    reason,
	})
	logger.Debug("nfs: access denied", "op", op, "path", path, "reason", reason, "client", hctx.ClientAddr)
}

func (s *Server) auditAllow(hctx *HandlerContext, path, op string) {
	if s.Audit == nil {
		return
	}
	s.Audit.Record(security.AuditEvent{
		Time:      time.Now(),
		ClientIP:  hctx.ClientAddr,
		UID:       uidOf(hctx),
		Path:      path,
		Operation: op,
		Allowed:   true,
	})
}

func uidOf(hctx *HandlerContext) uint32 {
	if hctx.Security == nil {
		return 0
	}
	return hctx.Security.UID
}
