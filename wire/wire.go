// Package wire defines the on-the-wire representation of a filesystem
// access: the access-mode tag, the native path encoding, and the
// length-prefixed framing producers use to publish records into the
// ring (see package ring) and the supervisor uses to hand them to the
// parent driver.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// AccessMode classifies how a path was touched. ReadDir is kept
// distinct from Read because directory enumeration and file content
// reads are different operations for a build system or sandbox auditor
// trying to reconstruct a dependency graph.
type AccessMode uint8

const (
	Read AccessMode = 1 << iota
	Write
	readDirBit
)

// ReadDir marks directory enumeration, distinct from reading a regular
// file's bytes.
const ReadDir = readDirBit

// ReadWrite is the mode produced when a path is both read and written,
// either by a single call (e.g. O_RDWR) or by merging two observations.
const ReadWrite = Read | Write

// String returns a human-readable name for the mode, used by the CLI's
// text output and by test failure messages.
func (m AccessMode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read-write"
	case ReadDir:
		return "read-dir"
	default:
		return fmt.Sprintf("access(%#x)", uint8(m))
	}
}

// Merge implements the upgrade rule from the data model: ReadWrite
// dominates everything, Read+ReadDir collapses to ReadDir, and
// otherwise the two modes are bit-unioned (Read|Write = ReadWrite).
func (m AccessMode) Merge(other AccessMode) AccessMode {
	if m == ReadWrite || other == ReadWrite {
		return ReadWrite
	}
	if m == ReadDir || other == ReadDir {
		return ReadDir
	}
	return m | other
}

// NativePath is a platform-native byte or UTF-16-unit string. On POSIX
// the bytes are an opaque byte string (whatever the kernel handed back);
// on Windows, Wide distinguishes the UTF-16LE encoding used by the
// Nt*/wide Win32 entry points from the narrow (ANSI/UTF-8) form used by
// the A-suffixed entry points. Paths are never canonicalized, never
// symlink-resolved, and never have "." or ".." removed — only made
// absolute by the path normalizer.
type NativePath struct {
	Bytes []byte
	Wide  bool
}

// String renders the path's raw bytes for logging and text output. It
// does not decode Wide paths as UTF-16, and neither does the CLI.
func (p NativePath) String() string {
	return string(p.Bytes)
}

// IsAbsolute reports whether the path begins with the POSIX separator
// '/'. Windows drive-letter and UNC prefixes are not recognized.
func (p NativePath) IsAbsolute() bool {
	return len(p.Bytes) > 0 && p.Bytes[0] == '/'
}

// AccessRecord is the value type carried from observation to consumer.
// It is encoded once at the point of observation and never mutated
// after that; a decoded AccessRecord borrows its Path bytes from the
// buffer it was decoded out of, so the caller must keep that buffer
// (a ring chunk mapping, or a supervisor arena) alive for as long as it
// holds the record.
type AccessRecord struct {
	Mode AccessMode
	Path NativePath
}

// Encode appends the wire form of rec to buf and returns the result.
// The format is: [mode byte][wide-tag byte][uvarint path length][path
// bytes]. The wide-tag byte is always present (even on POSIX, where it
// is always 0) so the decoder doesn't need a platform build tag.
func Encode(buf []byte, rec AccessRecord) []byte {
	buf = append(buf, byte(rec.Mode))
	if rec.Path.Wide {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.AppendUvarint(buf, uint64(len(rec.Path.Bytes)))
	buf = append(buf, rec.Path.Bytes...)
	return buf
}

// EncodedSize returns the number of bytes Encode would append for rec,
// without allocating. Callers that need to reserve a ring slot before
// writing (package ring) use this to size the reservation.
func EncodedSize(rec AccessRecord) int {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(rec.Path.Bytes)))
	return 1 /* mode */ + 1 /* wide tag */ + n + len(rec.Path.Bytes)
}

// Decode reads one AccessRecord from the front of buf, zero-copy: the
// returned record's Path.Bytes aliases buf. It returns the number of
// bytes consumed so the caller can advance past it.
func Decode(buf []byte) (AccessRecord, int, error) {
	if len(buf) < 2 {
		return AccessRecord{}, 0, fmt.Errorf("wire: decode: buffer too short for header")
	}
	mode := AccessMode(buf[0])
	wide := buf[1] != 0
	rest := buf[2:]

	pathLen, n := binary.Uvarint(rest)
	if n <= 0 {
		return AccessRecord{}, 0, fmt.Errorf("wire: decode: invalid length varint")
	}
	rest = rest[n:]
	if uint64(len(rest)) < pathLen {
		return AccessRecord{}, 0, fmt.Errorf("wire: decode: buffer too short for path of length %d", pathLen)
	}

	rec := AccessRecord{
		Mode: mode,
		Path: NativePath{
			Bytes: rest[:pathLen],
			Wide:  wide,
		},
	}
	consumed := 2 + n + int(pathLen)
	return rec, consumed, nil
}

// Merge combines two records for the same path under the upgrade rule.
// Callers are responsible for grouping records by path first; Merge
// does not compare paths.
func Merge(a, b AccessRecord) AccessRecord {
	return AccessRecord{
		Mode: a.Mode.Merge(b.Mode),
		Path: a.Path,
	}
}

// Equal reports whether two paths have identical bytes and wide-tag.
// Used by tests.
func (p NativePath) Equal(other NativePath) bool {
	return p.Wide == other.Wide && bytes.Equal(p.Bytes, other.Bytes)
}

// Key returns a string suitable for use as a map key when grouping
// records by path. It is not itself a NativePath operation users should
// rely on for anything but aggregation — the Wide tag is folded into
// the string so narrow and wide encodings of incidentally-identical
// bytes never collide.
func (p NativePath) Key() string {
	if p.Wide {
		return "w:" + string(p.Bytes)
	}
	return "n:" + string(p.Bytes)
}
