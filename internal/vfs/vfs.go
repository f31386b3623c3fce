// Package vfs defines the VfsBackend capability the protocol engine
// consumes for every file-system side effect (spec §1: "the core
// consumes a VfsBackend capability"), plus a local-disk implementation.
// The engine never calls os.* directly; it always goes through Backend,
// so a different Backend (network block store, in-memory test double)
// can be swapped in without touching protocol code.
package vfs

import (
	"context"
	"errors"
	"io"
	"time"
)

// FileType mirrors the handful of types NFS distinguishes on the wire.
type FileType int

const (
	TypeRegular FileType = iota
	TypeDirectory
	TypeSymlink
	TypeBlockDevice
	TypeCharDevice
	TypeSocket
	TypeFIFO
)

// FileInfo is the backend-neutral attribute set handlers translate into
// NFSv2/v3/v4 fattr on the wire.
type FileInfo struct {
	Type    FileType
	Mode    uint32
	NLink   uint32
	UID     uint32
	GID     uint32
	Size    uint64
	Used    uint64
	RDevMaj uint32
	RDevMin uint32
	FSID    uint64
	FileID  uint64
	ATime   time.Time
	MTime   time.Time
	CTime   time.Time
}

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	Name   string
	FileID uint64
	Type   FileType
}

// StatFS reports file-system-wide capacity, for NFSv2 STATFS / NFSv3
// FSSTAT.
type StatFS struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
}

// LockType distinguishes byte-range lock requests (spec §4.5.1 LOCK/LOCKT).
type LockType int

const (
	LockRead LockType = iota
	LockWrite
)

// LockRange describes a byte-range lock operation.
type LockRange struct {
	Type   LockType
	Owner  string
	Offset uint64
	Length uint64 // 0 means "to end of file"
}

// Stability is the WRITE durability level NFSv3/v4 negotiate per call
// (spec §4.5.2 "WRITE stability levels").
type Stability int

const (
	StabilityUnstable Stability = iota
	StabilityDataSync
	StabilityFileSync
)

var (
	ErrNotExist    = errors.New("vfs: no such file or directory")
	ErrExist       = errors.New("vfs: file already exists")
	ErrNotDir      = errors.New("vfs: not a directory")
	ErrIsDir       = errors.New("vfs: is a directory")
	ErrNotEmpty    = errors.New("vfs: directory not empty")
	ErrPermission  = errors.New("vfs: permission denied")
	ErrIO          = errors.New("vfs: I/O error")
	ErrNoSpace     = errors.New("vfs: no space left on device")
	ErrNameTooLong = errors.New("vfs: name too long")
)

// Backend is the capability the protocol engine depends on for every
// file-system side effect (spec §1). Every method takes a canonical,
// export-root-contained path; callers are responsible for handle
// resolution and access checks before calling through.
type Backend interface {
	Stat(ctx context.Context, path string) (*FileInfo, error)
	SetAttr(ctx context.Context, path string, mode *uint32, uid, gid *uint32, size *uint64, atime, mtime *time.Time) (*FileInfo, error)

	ReadDir(ctx context.Context, path string) ([]DirEntry, error)
	Mkdir(ctx context.Context, path string, mode uint32) (*FileInfo, error)
	Rmdir(ctx context.Context, path string) error

	Open(ctx context.Context, path string, flags int, mode uint32) (File, error)
	Create(ctx context.Context, path string, mode uint32) (File, error)
	Remove(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Link(ctx context.Context, targetPath, linkPath string) error
	Symlink(ctx context.Context, target, linkPath string) error
	Readlink(ctx context.Context, path string) (string, error)

	GetXattr(ctx context.Context, path, name string) ([]byte, error)
	SetXattr(ctx context.Context, path, name string, value []byte) error
	ListXattr(ctx context.Context, path string) ([]string, error)
	RemoveXattr(ctx context.Context, path, name string) error

	Lock(ctx context.Context, path string, r LockRange) error
	Unlock(ctx context.Context, path string, r LockRange) error

	StatFS(ctx context.Context, path string) (*StatFS, error)
}

// File is a bound, open file handle returned by Open/Create.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
	Truncate(size int64) error
}
