//go:build linux || darwin

package main

import "golang.org/x/sys/unix"

// closeFD closes a raw fd, ignoring the error: every call site here closes
// a descriptor only after its ownership has already been handed off (via
// SCM_RIGHTS or into an *os.File), so a failure to close has nothing left
// to report to.
func closeFD(fd int) {
	_ = unix.Close(fd)
}
