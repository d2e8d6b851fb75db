//go:build linux

package seccomp

import (
	"net"
	"unsafe"

	"golang.org/x/sys/unix"

	"fspy-go/ferrors"
)

// sockFprog mirrors struct sock_fprog: the length-prefixed BPF program
// handle seccomp(2) expects, matching kornnellio-runc-Go/linux/seccomp.go's
// own sockFprog exactly.
type sockFprog struct {
	Len    uint16
	_      [6]byte // padding to align Filter on its natural boundary
	Filter *sockFilter
}

// Install arms the process's seccomp filter in user-notification mode
// and returns the notify fd the kernel hands back. Per spec.md §4.G
// this must run on the child side, after fork but before exec, and
// must follow SECCOMP_SET_MODE_FILTER's documented precondition: the
// calling thread has PR_SET_NO_NEW_PRIVS set (or the process holds
// CAP_SYS_ADMIN, which a traced user process generally does not).
func Install() (notifyFD int, err error) {
	filter, err := BuildFilter()
	if err != nil {
		return -1, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "build-filter")
	}
	return installProgram(filter)
}

// installProgram carries out the PR_SET_NO_NEW_PRIVS + SECCOMP_SET_MODE_FILTER
// sequence for an already-built program, shared by Install (builds its
// own) and InstallFilter (receives one built elsewhere, e.g. by the
// driver and shipped through the payload envelope).
func installProgram(filter []sockFilter) (notifyFD int, err error) {
	if _, _, errno := unix.Syscall(unix.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0); errno != 0 {
		return -1, ferrors.Wrap(errno, ferrors.ErrSpawnSetup, "prctl(PR_SET_NO_NEW_PRIVS)")
	}
	if len(filter) == 0 {
		return -1, ferrors.New(ferrors.ErrSpawnSetup, "build-filter", "empty filter program")
	}

	prog := sockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}

	fd, _, errno := unix.Syscall(unix.SYS_SECCOMP,
		uintptr(seccompSetModeFilter),
		uintptr(seccompFilterFlagNew),
		uintptr(unsafe.Pointer(&prog)))
	if errno != 0 {
		return -1, ferrors.Wrap(errno, ferrors.ErrSpawnSetup, "seccomp(SECCOMP_SET_MODE_FILTER)")
	}

	return int(fd), nil
}

// SendNotifyFD hands a freshly installed notify fd to the supervisor
// over conn via SCM_RIGHTS, the same technique ring/handoff.go uses
// for shm chunk fds, run here in the opposite direction (child sends,
// supervisor's recvNotifyFD receives). Called from the child
// immediately after Install, before the traced program is exec'd.
func SendNotifyFD(conn *net.UnixConn, notifyFD int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return ferrors.Wrap(err, ferrors.ErrSpawnSetup, "notify-fd-handoff")
	}
	rights := unix.UnixRights(notifyFD)
	var sendErr error
	ctrlErr := raw.Write(func(fdRaw uintptr) bool {
		sendErr = unix.Sendmsg(int(fdRaw), []byte{0}, rights, nil, 0)
		return true
	})
	if ctrlErr != nil {
		return ferrors.Wrap(ctrlErr, ferrors.ErrSpawnSetup, "notify-fd-handoff")
	}
	if sendErr != nil {
		return ferrors.Wrap(sendErr, ferrors.ErrSpawnSetup, "notify-fd-handoff")
	}
	return nil
}
