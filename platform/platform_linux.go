//go:build linux

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const isWindows = false

// PreloadVariable returns the dynamic linker's library-preload variable
// name on Linux.
func PreloadVariable() string {
	return "LD_PRELOAD"
}

// InterpositionFormat names the mechanism the agent package uses to
// describe itself in logs and error messages.
const InterpositionFormat = "ld-preload-symbol-shadowing"

func dupTo(fd, min int) (int, error) {
	// F_DUPFD picks the lowest available descriptor >= min.
	newFd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, min)
	if err != nil {
		return -1, fmt.Errorf("fcntl(F_DUPFD_CLOEXEC, %d): %w", min, err)
	}
	return newFd, nil
}

func clearCloseOnExec(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("fcntl(F_GETFD): %w", err)
	}
	flags &^= unix.FD_CLOEXEC
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags); err != nil {
		return fmt.Errorf("fcntl(F_SETFD): %w", err)
	}
	return nil
}

// PreloadPathForMemfd builds the self-referential path the payload
// carries for a preload library held as a memfd: the child can dlopen
// this path directly because /proc/self refers to itself post-exec.
func PreloadPathForMemfd(fd int) string {
	return fmt.Sprintf("/proc/self/fd/%d", fd)
}
