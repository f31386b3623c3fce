package portmap

import (
	"github.com/nfsd/nfsd/internal/protocol/transport"
)

// NewListener wires a Registry into a transport.Listener, giving the
// caller a ready-to-Serve portmapper bound to addr:port.
func NewListener(cfg transport.Config, registry *Registry) *transport.Listener {
	return transport.New(cfg, NewDispatcher(registry))
}
