package v4

import (
	"encoding/binary"
	"sync"
)

// lockState is what the server remembers between OPEN and CLOSE, or
// between LOCK and LOCKU, for one stateid "other" field: the path and
// access-tracker owner key needed to release the reservation.
type lockState struct {
	path         string
	ownerStateID string
}

// StateTable allocates and tracks the stateids NFSv4 OPEN/LOCK hand out
// (RFC 5661 §8.2). Every stateid this server issues uses a process-
// lifetime monotonic counter for the 12-byte "other" field and always
// reports seqid 1: the per-stateid seqid-bump validation of NFSv4.0 is not
// implemented, and nothing else takes over its replay detection (SEQUENCE
// checks slot sequence ids but caches no replies).
type StateTable struct {
	mu      sync.Mutex
	byOther map[[12]byte]*lockState
	next    uint64
}

// NewStateTable creates an empty table.
func NewStateTable() *StateTable {
	return &StateTable{byOther: make(map[[12]byte]*lockState)}
}

// Allocate reserves a new stateid for (path, ownerStateID) and returns
// its wire form: seqid=1 followed by the 12-byte "other" field.
func (t *StateTable) Allocate(path, ownerStateID string) [16]byte {
	t.mu.Lock()
	t.next++
	n := t.next
	t.mu.Unlock()

	var other [12]byte
	binary.BigEndian.PutUint64(other[4:], n)

	t.mu.Lock()
	t.byOther[other] = &lockState{path: path, ownerStateID: ownerStateID}
	t.mu.Unlock()

	var wire [16]byte
	binary.BigEndian.PutUint32(wire[0:4], 1)
	copy(wire[4:], other[:])
	return wire
}

// Lookup returns the state a stateid's "other" field refers to.
func (t *StateTable) Lookup(wire [16]byte) (path, ownerStateID string, ok bool) {
	var other [12]byte
	copy(other[:], wire[4:])
	t.mu.Lock()
	defer t.mu.Unlock()
	st, found := t.byOther[other]
	if !found {
		return "", "", false
	}
	return st.path, st.ownerStateID, true
}

// Release forgets a stateid, returning what it referred to so the
// caller can undo the matching reservation (access-tracker close,
// byte-range unlock).
func (t *StateTable) Release(wire [16]byte) (path, ownerStateID string, ok bool) {
	var other [12]byte
	copy(other[:], wire[4:])
	t.mu.Lock()
	defer t.mu.Unlock()
	st, found := t.byOther[other]
	if !found {
		return "", "", false
	}
	delete(t.byOther, other)
	return st.path, st.ownerStateID, true
}
