// Package security implements the authentication, session, ACL, and
// path-access-checking responsibilities of spec §4.6: SecurityContext
// construction from RPC credentials, session issuance/sweep,
// checkPathAccess with export-root containment, and POSIX-style ACL
// evaluation backed by a Badger key-value store.
//
// Grounded on the teacher's pkg/identity/user.go uid/gid modeling (deleted
// from the workspace after reading -- see DESIGN.md) and
// internal/protocol/nfs/dispatch.go's SecurityContext-construction call
// site, adapted from DittoFS's NFS+SMB identity union down to the
// spec's NFS-only SecurityContext fields.
package security

import (
	"fmt"
	"net"
	"time"

	"github.com/nfsd/nfsd/internal/protocol/rpc"
)

// Flavor is the RPC authentication flavor used to build a Context.
type Flavor int

const (
	FlavorNone Flavor = iota
	FlavorSys
	FlavorShort
	FlavorDH
	FlavorKerberos
)

// Context is the per-request SecurityContext (spec §3), constructed fresh
// on every RPC call. Sessions do not keep it: NFSv4 CREATE_SESSION stores
// an empty Context as the new session's client context.
type Context struct {
	Authenticated bool
	UID           uint32
	GID           uint32
	GIDs          []uint32
	Machine       string
	ClientIP      string
	AuthFlavor    Flavor
	SessionID     string
	AuthTime      time.Time
	Attributes    map[string]string
}

// RootSquashConfig controls anonymous-uid/gid substitution for root
// callers (spec §9 glossary "Root squash").
type RootSquashConfig struct {
	Enabled    bool
	AnonUID    uint32
	AnonGID    uint32
	TrustedIPs []string
}

// Authenticate builds a Context from a decoded RPC call's auth flavor and
// credential body, applying root_squash when configured (spec §4.3 step
// 5, §4.6 authenticate).
func Authenticate(flavor uint32, credBody []byte, clientAddr string, squash RootSquashConfig) (*Context, error) {
	ctx := &Context{
		ClientIP:   hostOnly(clientAddr),
		AuthTime:   time.Now(),
		Attributes: make(map[string]string),
	}

	switch flavor {
	case rpc.AuthNull:
		ctx.AuthFlavor = FlavorNone
		ctx.Authenticated = false
		return ctx, nil

	case rpc.AuthUnix:
		auth, err := rpc.ParseUnixAuth(credBody)
		if err != nil {
			return nil, err
		}
		ctx.AuthFlavor = FlavorSys
		ctx.Authenticated = true
		ctx.Machine = auth.MachineName
		ctx.UID = auth.UID
		ctx.GID = auth.GID
		ctx.GIDs = auth.GIDs

		if squash.Enabled && auth.UID == 0 && !isTrusted(ctx.ClientIP, squash.TrustedIPs) {
			ctx.UID = squash.AnonUID
			ctx.GID = squash.AnonGID
		}
		return ctx, nil

	case rpc.AuthShort:
		ctx.AuthFlavor = FlavorShort
		ctx.Authenticated = true
		return ctx, nil

	case rpc.AuthDES:
		ctx.AuthFlavor = FlavorDH
		ctx.Authenticated = true
		return ctx, nil

	case rpc.AuthRPCSECGSS:
		ctx.AuthFlavor = FlavorKerberos
		ctx.Authenticated = true
		return ctx, nil

	default:
		ctx.AuthFlavor = FlavorNone
		return ctx, errUnsupportedFlavor(flavor)
	}
}

type errUnsupportedFlavor uint32

func (e errUnsupportedFlavor) Error() string {
	return fmt.Sprintf("unsupported auth flavor %d", uint32(e))
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func isTrusted(clientIP string, trusted []string) bool {
	for _, t := range trusted {
		if t == clientIP {
			return true
		}
	}
	return false
}
