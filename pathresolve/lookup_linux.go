//go:build linux

package pathresolve

import (
	"fmt"
	"os"
	"strconv"
	"sync"
)

// ProcLookup is the Linux CwdLookup: it reads the magic /proc symlinks
// rather than calling getcwd(3), which is not async-signal-safe and
// (unlike the /proc/self/task/<tid>/cwd symlink) is not per-thread.
// AT_FDCWD resolves through the cwd symlink; any other fd resolves
// through the fd table.
type ProcLookup struct {
	// tidFunc returns the calling OS thread's id. It is overridable for
	// tests; production code leaves it nil and gettid() is used.
	tidFunc func() int

	// mu serializes PathForFD calls. readlinkBuf is not read or written
	// by PathForFD, which reads the link with os.Readlink.
	mu          sync.Mutex
	readlinkBuf [4096]byte
}

// PathForFD implements CwdLookup.
func (p *ProcLookup) PathForFD(fd int) ([]byte, error) {
	tid := gettid()
	if p.tidFunc != nil {
		tid = p.tidFunc()
	}

	var magic string
	if fd == AtFDCWD {
		magic = fmt.Sprintf("/proc/self/task/%d/cwd", tid)
	} else {
		magic = fmt.Sprintf("/proc/self/task/%d/fd/%d", tid, fd)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := os.Readlink(magic)
	if err != nil {
		return nil, err
	}
	// os.Readlink allocates. The agent's cgo entry points also reach
	// this method through pathresolve.Resolve, so they allocate here too.
	return []byte(n), nil
}

// readlinkInto is an allocation-free readlink into a caller-supplied
// buffer; nothing in the module calls it. buf must be large enough for
// the link target;
// readlink(2) truncates silently if not, so callers size buf generously
// (pathresolve.Arena sized it at 4096, matching PATH_MAX on Linux).
func readlinkInto(path string, buf []byte) (int, error) {
	return readlinkRaw(path, buf)
}

func fdPathString(fd int) string {
	return "/proc/self/fd/" + strconv.Itoa(fd)
}
