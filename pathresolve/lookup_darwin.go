//go:build darwin

package pathresolve

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ProcLookup is the Darwin CwdLookup: bare fds are resolved with
// fcntl(F_GETPATH), since Darwin has no /proc magic-symlink equivalent.
// AT_FDCWD resolves through os.Getwd, which on Darwin is itself
// implemented in terms of F_GETPATH on an fd for ".".
type ProcLookup struct{}

// maxPathLen mirrors Darwin's MAXPATHLEN; F_GETPATH requires a buffer
// at least this large.
const maxPathLen = 1024

// PathForFD implements CwdLookup.
func (p *ProcLookup) PathForFD(fd int) ([]byte, error) {
	if fd == AtFDCWD {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return []byte(cwd), nil
	}

	var buf [maxPathLen]byte
	_, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), unix.F_GETPATH, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return nil, fmt.Errorf("fcntl(F_GETPATH, %d): %w", fd, errno)
	}

	n := bytes.IndexByte(buf[:], 0)
	if n < 0 {
		n = len(buf)
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}
