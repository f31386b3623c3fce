package portmap

import (
	"sync"
	"time"

	"github.com/nfsd/nfsd/internal/logger"
)

// mappingKey identifies a registered service independent of the port it's
// bound to.
type mappingKey struct {
	Prog uint32
	Vers uint32
	Prot uint32
}

// entry pairs a Mapping with the time it was registered, used to expire
// stale registrations when mapping_timeout/auto_cleanup are configured.
type entry struct {
	mapping    Mapping
	registered time.Time
}

// RegistryConfig controls capacity and staleness bounds for the mapping
// table (spec.md §6: max_mappings, mapping_timeout, auto_cleanup).
type RegistryConfig struct {
	// MaxMappings bounds how many distinct (prog,vers,prot) registrations
	// may exist at once. Zero means DefaultMaxMappings.
	MaxMappings int

	// MappingTimeout is the age at which the AutoCleanup sweep evicts a
	// registration that has not been refreshed (re-SET). Without
	// AutoCleanup it has no effect; zero disables expiry.
	MappingTimeout time.Duration

	// AutoCleanup, when true, runs a background sweep evicting mappings
	// older than MappingTimeout.
	AutoCleanup bool
}

// DefaultMaxMappings bounds the registry absent an explicit config value.
const DefaultMaxMappings = 256

// Registry is the portmapper's in-memory service table: a set of
// (prog, vers, prot) -> port registrations, as maintained by SET/UNSET/
// GETPORT/DUMP.
type Registry struct {
	mu       sync.RWMutex
	mappings map[mappingKey]entry
	config   RegistryConfig

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewRegistry creates an empty Registry and, if cfg.AutoCleanup is set,
// starts the background expiry sweep.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxMappings == 0 {
		cfg.MaxMappings = DefaultMaxMappings
	}
	r := &Registry{
		mappings:    make(map[mappingKey]entry),
		config:      cfg,
		stopCleanup: make(chan struct{}),
	}
	if cfg.AutoCleanup && cfg.MappingTimeout > 0 {
		go r.runCleanup()
	}
	return r
}

// Set registers or refreshes a (prog, vers, prot) -> port mapping. It
// returns false if the mapping table is full and this would be a new
// entry, matching RFC 1833's "SET returns FALSE on failure" semantics.
func (r *Registry) Set(m *Mapping) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := mappingKey{Prog: m.Prog, Vers: m.Vers, Prot: m.Prot}
	if _, exists := r.mappings[key]; !exists && len(r.mappings) >= r.config.MaxMappings {
		logger.Warn("portmap registry full, rejecting SET", "prog", m.Prog, "vers", m.Vers, "max", r.config.MaxMappings)
		return false
	}

	r.mappings[key] = entry{mapping: *m, registered: time.Now()}
	return true
}

// Unset removes the mapping for (prog, vers, prot), ignoring the port
// field per RFC 1833 Section 3. Returns whether an entry existed.
func (r *Registry) Unset(prog, vers, prot uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := mappingKey{Prog: prog, Vers: vers, Prot: prot}
	if _, exists := r.mappings[key]; !exists {
		return false
	}
	delete(r.mappings, key)
	return true
}

// Getport returns the registered port for (prog, vers, prot), or 0 if
// unregistered.
func (r *Registry) Getport(prog, vers, prot uint32) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := mappingKey{Prog: prog, Vers: vers, Prot: prot}
	if e, ok := r.mappings[key]; ok {
		return e.mapping.Port
	}
	return 0
}

// Dump returns every registered mapping, in no particular order.
func (r *Registry) Dump() []Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Mapping, 0, len(r.mappings))
	for _, e := range r.mappings {
		out = append(out, e.mapping)
	}
	return out
}

// HasProgram reports whether any version/protocol of prog is registered,
// used to scope CALLIT to locally-registered programs only.
func (r *Registry) HasProgram(prog uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for key := range r.mappings {
		if key.Prog == prog {
			return true
		}
	}
	return false
}

// RegisterLocalServices self-registers this server's own RPC programs
// (NFS and, if enabled, MOUNT) at startup so GETPORT/DUMP reflect reality
// without a separate rpcbind client round-trip.
func (r *Registry) RegisterLocalServices(port uint32, nfsVersions []uint32, mountVersion uint32) {
	const nfsProgram = 100003
	const mountProgram = 100005

	for _, v := range nfsVersions {
		r.Set(&Mapping{Prog: nfsProgram, Vers: v, Prot: ProtoTCP, Port: port})
	}
	if mountVersion > 0 {
		r.Set(&Mapping{Prog: mountProgram, Vers: mountVersion, Prot: ProtoTCP, Port: port})
	}
}

// Stop halts the background cleanup sweep, if running.
func (r *Registry) Stop() {
	r.cleanupOnce.Do(func() { close(r.stopCleanup) })
}

func (r *Registry) runCleanup() {
	ticker := time.NewTicker(r.config.MappingTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCleanup:
			return
		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

func (r *Registry) sweepExpired() {
	cutoff := time.Now().Add(-r.config.MappingTimeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.mappings {
		if e.registered.Before(cutoff) {
			delete(r.mappings, key)
			logger.Debug("portmap registry: expired stale mapping", "prog", key.Prog, "vers", key.Vers, "prot", key.Prot)
		}
	}
}
