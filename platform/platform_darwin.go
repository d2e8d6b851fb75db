//go:build darwin

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const isWindows = false

// PreloadVariable returns Darwin's dynamic linker's library-preload
// variable name.
func PreloadVariable() string {
	return "DYLD_INSERT_LIBRARIES"
}

// InterpositionFormat names the mechanism the agent package uses to
// describe itself in logs and error messages.
const InterpositionFormat = "mach-o-interpose-section"

func dupTo(fd, min int) (int, error) {
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
