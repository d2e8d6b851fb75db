// Package pathresolve normalizes the three ways a traced call can name
// a filesystem path — a bare file descriptor, a (dirfd, pathname) pair,
// or a plain relative pathname — into an absolute byte path, without
// canonicalizing, symlink-resolving, or touching "." / ".." segments.
//
// The resolver is designed to be callable from the agent's
// signal-handler-reachable interception path: Resolve takes a
// caller-owned scratch Arena and performs no heap allocation of its
// own. Platform lookups (bare-fd-to-path, current-directory) are
// injected via the CwdLookup interface so this package's core join
// logic can be unit-tested without touching /proc or making syscalls.
package pathresolve

import (
	"errors"
	"fmt"
)

// AtFDCWD mirrors the POSIX AT_FDCWD sentinel: "resolve pathname
// relative to the current directory of the calling thread" rather than
// relative to an open directory fd.
const AtFDCWD = -100

// CwdLookup resolves the two platform-dependent inputs the normalizer
// needs: the absolute path of a bare file descriptor (including the
// thread's current directory, when fd == AtFDCWD), always without
// trailing separator.
type CwdLookup interface {
	// PathForFD returns the absolute path backing fd. On Linux this
	// reads /proc/self/task/<tid>/fd/<fd> (or .../cwd when fd ==
	// AtFDCWD); on Darwin, fcntl(F_GETPATH).
	PathForFD(fd int) ([]byte, error)
}

// Arena is a fixed-capacity scratch buffer Resolve writes its output
// into. Reusing one Arena per calling thread avoids the global-heap
// allocation the agent's signal-handler context forbids.
type Arena struct {
	buf [4096]byte
	len int
}

// Reset discards any previous contents, readying the arena for reuse.
func (a *Arena) Reset() { a.len = 0 }

// Bytes returns the arena's current contents.
func (a *Arena) Bytes() []byte { return a.buf[:a.len] }

func (a *Arena) append(p []byte) error {
	if a.len+len(p) > len(a.buf) {
		return errors.New("pathresolve: arena overflow")
	}
	n := copy(a.buf[a.len:], p)
	a.len += n
	return nil
}

func (a *Arena) appendByte(b byte) error {
	if a.len+1 > len(a.buf) {
		return errors.New("pathresolve: arena overflow")
	}
	a.buf[a.len] = b
	a.len++
	return nil
}

// Resolve implements the three input shapes from the data model:
//
//   - bare fd (pathname == ""): look up via lookup.PathForFD(dirfd).
//   - (dirfd, pathname) with pathname absolute: pathname is returned
//     as-is.
//   - (dirfd, pathname) with pathname relative: resolve dirfd (treating
//     dirfd == AtFDCWD as "the current directory") and join.
//
// The result is written into arena and a slice of it is returned; the
// caller must not reuse the arena while still holding that slice.
func Resolve(arena *Arena, dirfd int, pathname []byte, lookup CwdLookup) ([]byte, error) {
	arena.Reset()

	if len(pathname) == 0 {
		base, err := lookup.PathForFD(dirfd)
		if err != nil {
			return nil, fmt.Errorf("pathresolve: resolve bare fd %d: %w", dirfd, err)
		}
		if err := arena.append(base); err != nil {
			return nil, err
		}
		return arena.Bytes(), nil
	}

	if isAbsolute(pathname) {
		if err := arena.append(pathname); err != nil {
			return nil, err
		}
		return arena.Bytes(), nil
	}

	base, err := lookup.PathForFD(dirfd)
	if err != nil {
		return nil, fmt.Errorf("pathresolve: resolve dirfd %d: %w", dirfd, err)
	}
	if err := arena.append(base); err != nil {
		return nil, err
	}
	if arena.len == 0 || arena.buf[arena.len-1] != '/' {
		if err := arena.appendByte('/'); err != nil {
			return nil, err
		}
	}
	if err := arena.append(pathname); err != nil {
		return nil, err
	}
	return arena.Bytes(), nil
}

func isAbsolute(p []byte) bool {
	return len(p) > 0 && p[0] == '/'
}
