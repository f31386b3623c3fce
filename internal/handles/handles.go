// Package handles implements the bidirectional file-handle table (spec
// §4.5.3, §3 FileHandle/HandleTable): given a canonical path it returns a
// stable opaque handle; given a handle it returns the path and generation
// counter used to detect staleness after rename/unlink.
//
// Grounded on the teacher's handle-table style in
// internal/protocol/nfs/dispatch.go (handle extraction helper pattern) and
// generalized per spec.md's invariant that handles never collide across
// the server lifetime and that a bounded LRU evicts only unpinned entries.
package handles

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nfsd/nfsd/internal/logger"
)

// MaxHandleLength bounds the opaque wire handle (spec §3: NFSv4 ≤ 128).
const MaxHandleLength = 128

// DefaultCacheSize is the table's entry cap absent explicit configuration
// (spec §6 cache_size).
const DefaultCacheSize = 1000

// Entry is one row of the handle table: the canonical path a handle
// currently resolves to, plus the generation used to detect staleness.
type Entry struct {
	HandleID   uint64
	Path       string
	FSID       uint64
	Generation uint64
	CreatedAt  time.Time

	lastUsed time.Time
	pinCount int
}

// Table is the shared, lock-protected file-handle table. Per spec.md §5's
// lock-order table, HandleTable is acquired before AccessTracker, Session
// table, ACL store, or audit log -- callers composing multiple table locks
// must respect that order.
type Table struct {
	mu sync.Mutex

	byPath   map[string]*Entry
	byHandle map[uint64]*Entry

	nextID    uint64
	fsid      uint64
	cacheSize int

	lru []uint64 // most-recently-used handle IDs, back is most recent
}

// New creates an empty Table bounded to cacheSize entries (DefaultCacheSize
// if zero).
func New(cacheSize int) *Table {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	var fsidBuf [8]byte
	_, _ = rand.Read(fsidBuf[:])

	return &Table{
		byPath:    make(map[string]*Entry),
		byHandle:  make(map[uint64]*Entry),
		cacheSize: cacheSize,
		fsid:      binary.BigEndian.Uint64(fsidBuf[:]),
	}
}

// PathToHandle returns the stable handle for path, creating a new entry
// (and evicting the LRU victim if the table is full) if one does not
// already exist. Repeated calls for the same path return the same handle
// id and generation as long as the path has not been invalidated (spec §8
// Handle stability property).
func (t *Table) PathToHandle(path string) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.byPath[path]; ok {
		t.touch(e.HandleID)
		return EncodeHandle(e.HandleID, e.Generation, t.fsid)
	}

	if len(t.byHandle) >= t.cacheSize {
		t.evictOne()
	}

	t.nextID++
	e := &Entry{
		HandleID:   t.nextID,
		Path:       path,
		FSID:       t.fsid,
		Generation: generationFor(path),
		CreatedAt:  time.Now(),
		lastUsed:   time.Now(),
	}
	t.byPath[path] = e
	t.byHandle[e.HandleID] = e
	t.lru = append(t.lru, e.HandleID)
	return EncodeHandle(e.HandleID, e.Generation, t.fsid)
}

// HandleToPath resolves an opaque wire handle back to its canonical path.
// ok is false if the handle is unknown or its generation no longer
// matches (a stale handle per spec §3).
func (t *Table) HandleToPath(handle []byte) (path string, ok bool) {
	id, generation, _, err := DecodeHandle(handle)
	if err != nil {
		return "", false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, found := t.byHandle[id]
	if !found || e.Generation != generation {
		return "", false
	}
	t.touch(id)
	return e.Path, true
}

// Invalidate bumps the generation of the entry for path (if any), so
// existing handles referencing it become stale -- used after rename or
// unlink changes what identity a path name refers to.
func (t *Table) Invalidate(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byPath[path]
	if !ok {
		return
	}
	e.Generation++
	delete(t.byPath, path)
}

// Rename moves the table's entry for oldPath (if tracked) to newPath,
// preserving the handle id but bumping the generation so any handle that
// was obtained for oldPath's old identity goes stale under the new name.
func (t *Table) Rename(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byPath[oldPath]
	if !ok {
		return
	}
	delete(t.byPath, oldPath)
	e.Path = newPath
	e.Generation++
	t.byPath[newPath] = e
}

// Pin increments an entry's pin count, excluding it from LRU eviction
// while open state or a delegation references it.
func (t *Table) Pin(handle []byte) {
	id, _, _, err := DecodeHandle(handle)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byHandle[id]; ok {
		e.pinCount++
	}
}

// Unpin decrements an entry's pin count.
func (t *Table) Unpin(handle []byte) {
	id, _, _, err := DecodeHandle(handle)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byHandle[id]; ok && e.pinCount > 0 {
		e.pinCount--
	}
}

// Size reports the current entry count, for the stats snapshot and
// leak-freedom testable property.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byHandle)
}

// touch marks id as most-recently-used. Caller holds t.mu.
func (t *Table) touch(id uint64) {
	for i, h := range t.lru {
		if h == id {
			t.lru = append(t.lru[:i], t.lru[i+1:]...)
			break
		}
	}
	t.lru = append(t.lru, id)
	if e, ok := t.byHandle[id]; ok {
		e.lastUsed = time.Now()
	}
}

// evictOne removes the least-recently-used entry that is not pinned.
// Caller holds t.mu.
func (t *Table) evictOne() {
	for i, id := range t.lru {
		e, ok := t.byHandle[id]
		if !ok {
			continue
		}
		if e.pinCount > 0 {
			continue
		}
		t.lru = append(t.lru[:i], t.lru[i+1:]...)
		delete(t.byHandle, id)
		delete(t.byPath, e.Path)
		logger.Debug("handle table: evicted LRU entry", "path", e.Path, "handle_id", id)
		return
	}
	logger.Warn("handle table: full and every entry is pinned, cannot evict")
}

// generationFor derives a starting generation from a name-based (SHA-1)
// UUID of path. The value depends only on path, so the same path gets the
// same starting generation in every server lifetime.
func generationFor(path string) uint64 {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(path))
	return binary.BigEndian.Uint64(id[:8])
}

// EncodeHandle packs a handle id, generation, and filesystem id into the
// opaque wire handle bytes.
func EncodeHandle(id, generation, fsid uint64) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], id)
	binary.BigEndian.PutUint64(buf[8:16], generation)
	binary.BigEndian.PutUint64(buf[16:24], fsid)
	return buf
}

// DecodeHandle unpacks a wire handle produced by EncodeHandle.
func DecodeHandle(handle []byte) (id, generation, fsid uint64, err error) {
	if len(handle) < 24 {
		return 0, 0, 0, fmt.Errorf("handle too short: %d bytes", len(handle))
	}
	id = binary.BigEndian.Uint64(handle[0:8])
	generation = binary.BigEndian.Uint64(handle[8:16])
	fsid = binary.BigEndian.Uint64(handle[16:24])
	return id, generation, fsid, nil
}
