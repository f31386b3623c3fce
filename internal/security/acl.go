package security

import (
	"fmt"

	goacl "github.com/joshlf/go-acl"
)

// AclEntryType is the POSIX.1e ACL entry kind (spec §3 AclEntry.type).
type AclEntryType int

const (
	AclTypeOwner AclEntryType = iota
	AclTypeNamedUser
	AclTypeOwningGroup
	AclTypeNamedGroup
	AclTypeOther
	AclTypeMask
)

func (t AclEntryType) String() string {
	switch t {
	case AclTypeOwner:
		return "owner"
	case AclTypeNamedUser:
		return "named-user"
	case AclTypeOwningGroup:
		return "owning-group"
	case AclTypeNamedGroup:
		return "named-group"
	case AclTypeOther:
		return "other"
	case AclTypeMask:
		return "mask"
	default:
		return "unknown"
	}
}

// Perm is a POSIX rwx permission triple, stored as the low 3 bits of a
// 0-7 value (spec §3 AclEntry.permissions).
type Perm uint8

const (
	PermRead    Perm = 0b100
	PermWrite   Perm = 0b010
	PermExecute Perm = 0b001
)

// AclEntry is one row of a FileAcl (spec §3).
type AclEntry struct {
	Type        AclEntryType
	ID          uint32 // uid or gid, meaningful for NamedUser/NamedGroup only
	Name        string
	Permissions Perm
}

// FileAcl is the full access-control list for one file or directory (spec
// §3 FileAcl), evaluated in the fixed order: owner, named users, owning
// group, named groups, other -- first match wins, no fallthrough (spec
// §4.6, §8 "ACL evaluation order" testable property).
type FileAcl struct {
	OwnerUID    uint32
	OwningGID   uint32
	Entries     []AclEntry
	Mask        Perm
	HasMask     bool
	IsDirectory bool
}

// Evaluate decides whether uid (with its supplementary gids) has `want`
// permission on the ACL, stopping at the first matching entry per spec
// §4.6's evaluation order. It returns false if no entry grants `want`.
func (a *FileAcl) Evaluate(uid uint32, gids []uint32, want Perm) bool {
	if uid == a.OwnerUID {
		return a.ownerPerm()&want == want
	}

	for _, e := range a.Entries {
		if e.Type == AclTypeNamedUser && e.ID == uid {
			return a.masked(e.Permissions)&want == want
		}
	}

	if inGroups(a.OwningGID, gids) {
		return a.masked(a.owningGroupPerm())&want == want
	}

	for _, e := range a.Entries {
		if e.Type == AclTypeNamedGroup && inGroups(e.ID, gids) {
			return a.masked(e.Permissions)&want == want
		}
	}

	return a.otherPerm()&want == want
}

func (a *FileAcl) ownerPerm() Perm {
	for _, e := range a.Entries {
		if e.Type == AclTypeOwner {
			return e.Permissions
		}
	}
	return 0
}

func (a *FileAcl) owningGroupPerm() Perm {
	for _, e := range a.Entries {
		if e.Type == AclTypeOwningGroup {
			return e.Permissions
		}
	}
	return 0
}

func (a *FileAcl) otherPerm() Perm {
	for _, e := range a.Entries {
		if e.Type == AclTypeOther {
			return e.Permissions
		}
	}
	return 0
}

// masked applies the ACL mask entry, which bounds every group-class entry
// (named user, owning group, named group) when present -- the owner and
// other entries are never masked (POSIX.1e semantics).
func (a *FileAcl) masked(p Perm) Perm {
	if !a.HasMask {
		return p
	}
	return p & a.Mask
}

func inGroups(gid uint32, gids []uint32) bool {
	for _, g := range gids {
		if g == gid {
			return true
		}
	}
	return false
}

// FromModeBits builds a minimal three-entry FileAcl (owner/group/other)
// from plain POSIX mode bits, used when a file has no explicit ACL stored
// (spec §4.6's ACL-or-mode-bits fallback).
func FromModeBits(ownerUID, owningGID uint32, mode uint32, isDir bool) *FileAcl {
	return &FileAcl{
		OwnerUID:  ownerUID,
		OwningGID: owningGID,
		Entries: []AclEntry{
			{Type: AclTypeOwner, Permissions: Perm((mode >> 6) & 0b111)},
			{Type: AclTypeOwningGroup, Permissions: Perm((mode >> 3) & 0b111)},
			{Type: AclTypeOther, Permissions: Perm(mode & 0b111)},
		},
		IsDirectory: isDir,
	}
}

// SyncToFilesystem mirrors a FileAcl onto the real on-disk POSIX ACL for
// path, so that tools outside this server (getfacl, local processes) see
// the same access decisions it enforces. Best-effort: filesystems or
// platforms without ACL support return an error the caller may log and
// ignore.
func SyncToFilesystem(path string, fa *FileAcl) error {
	entries := make(goacl.ACL, 0, len(fa.Entries))
	for _, e := range fa.Entries {
		tag, err := aclTag(e.Type)
		if err != nil {
			continue
		}
		entries = append(entries, goacl.Entry{
			Tag:       tag,
			Qualifier: fmt.Sprintf("%d", e.ID),
			Perms:     goacl.Perm(e.Permissions),
		})
	}
	return goacl.Set(path, entries)
}

func aclTag(t AclEntryType) (goacl.Tag, error) {
	switch t {
	case AclTypeOwner:
		return goacl.TagUserObj, nil
	case AclTypeNamedUser:
		return goacl.TagUser, nil
	case AclTypeOwningGroup:
		return goacl.TagGroupObj, nil
	case AclTypeNamedGroup:
		return goacl.TagGroup, nil
	case AclTypeOther:
		return goacl.TagOther, nil
	case AclTypeMask:
		return goacl.TagMask, nil
	default:
		return 0, fmt.Errorf("unknown ACL entry type %v", t)
	}
}
