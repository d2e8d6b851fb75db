// Package agent holds the platform-independent half of the
// interception table: classifying an intercepted call's raw arguments
// into an (AccessMode) and, for the NT directory-query family,
// splitting a wildcard path into its ReadDir parent. The thread-local
// re-entry guard and the actual symbol wrappers are cgo and therefore
// live in cmd/fspy-agent, where they call back into this package for
// every decision that doesn't need a C argument list.
package agent

import (
	"strings"

	"fspy-go/wire"
)

// Unix open(2)/openat(2) flag bits this package needs. Mirrors the
// POSIX O_ACCMODE mask rather than importing a full flag table, since
// every other O_* bit is irrelevant to mode classification.
const (
	OAccmode = 0x3
	OWronly  = 0x1
	ORdwr    = 0x2
)

// Windows CreateFile desired-access bits this package needs.
const (
	GenericRead  = 0x80000000
	GenericWrite = 0x40000000
)

// ModeOfOpenFlags derives the access mode for open, openat, openat64,
// and openat2-shaped entries from the raw flags argument (spec.md
// §4.E: "flags & ACCMODE").
func ModeOfOpenFlags(flags int) wire.AccessMode {
	switch flags & OAccmode {
	case ORdwr:
		return wire.ReadWrite
	case OWronly:
		return wire.Write
	default:
		return wire.Read
	}
}

// ModeOfDesiredAccess derives the access mode for CreateFileA/W and
// the Nt* family from the Win32 desired-access bitmask.
func ModeOfDesiredAccess(desiredAccess uint32) wire.AccessMode {
	read := desiredAccess&GenericRead != 0
	write := desiredAccess&GenericWrite != 0
	switch {
	case read && write:
		return wire.ReadWrite
	case write:
		return wire.Write
	default:
		return wire.Read
	}
}

// ModeOfFopenMode derives the access mode for fopen/freopen from the
// mode string (spec.md §4.E: "w/a -> Write, r + (w/a) -> ReadWrite,
// else Read"). Any "+" character makes the stream read-write,
// matching fopen's own "r+"/"w+"/"a+" semantics.
func ModeOfFopenMode(mode string) wire.AccessMode {
	hasRead := strings.ContainsRune(mode, 'r') || strings.ContainsRune(mode, '+')
	hasWrite := strings.ContainsAny(mode, "wa") || strings.ContainsRune(mode, '+')
	switch {
	case hasRead && hasWrite:
		return wire.ReadWrite
	case hasWrite:
		return wire.Write
	default:
		return wire.Read
	}
}

// StatMode is the fixed access mode for the entire stat/lstat/fstat/
// fstatat family: these entries only ever read metadata.
const StatMode = wire.Read

// DirMode is the fixed access mode for scandir, scandir_b, opendir,
// fdopendir, and getdirentries.
const DirMode = wire.ReadDir

// SplitDirQuery implements the NtQueryDirectoryFile wildcard rule from
// spec.md §4.E: "a path containing a trailing '*' is split at the
// last separator: the parent becomes a ReadDir access, the pattern is
// discarded." The wildcard need not be the path's final byte (e.g.
// "C:\Users\me\*.txt" is a pattern on the last segment, not a literal
// file named "*.txt"); ok is false when the last segment carries no
// '*', meaning the caller should classify it as an ordinary query
// against a literal path instead.
func SplitDirQuery(path string) (parent string, ok bool) {
	idx := strings.LastIndexAny(path, `\/`)
	segment := path
	if idx >= 0 {
		segment = path[idx+1:]
	}
	if !strings.Contains(segment, "*") {
		return "", false
	}
	if idx < 0 {
		return "", false
	}
	return path[:idx], true
}
