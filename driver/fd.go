//go:build !windows

package driver

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"fspy-go/platform"
)

// stdioCount is the number of fd slots os/exec.Cmd.ExtraFiles always
// reserves ahead of its own entries (stdin, stdout, stderr occupy 0-2;
// ExtraFiles[i] becomes child fd stdioCount+i).
const stdioCount = 3

// newSocketpair opens the dedicated Unix-domain stream the ring
// package's handoff protocol runs over (spec.md §4.B/§6): one end
// stays in the parent as a *net.UnixConn for Receiver, the other is
// handed to the child as a plain *os.File for inheritance across exec.
func newSocketpair() (parent *net.UnixConn, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("driver: socketpair: %w", err)
	}

	parentFile := os.NewFile(uintptr(fds[0]), "fspy-ipc-parent")
	conn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("driver: wrap ipc fd: %w", err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("driver: socketpair fd did not wrap as a UnixConn")
	}

	return unixConn, os.NewFile(uintptr(fds[1]), "fspy-ipc-child"), nil
}

// layoutInheritedFiles builds the os/exec.Cmd.ExtraFiles slice that
// places ipcChild and (if non-nil) agentLibrary at fixed fd numbers at
// or above platform.MinInheritedFD, padding the slots below them with
// a shared /dev/null handle — spec.md §4.H: "allocates fds safely
// (duplicates any fd below 17 to avoid collision with standard-stream
// numbering expectations)". Using os/exec's own ExtraFiles mechanism
// means the close-on-exec clearing spec.md asks for ("via a pre-exec
// hook") is the one the Go runtime already performs when it dups these
// files into the child just before exec.
func layoutInheritedFiles(ipcChild *os.File, agentLibrary *os.File) (extraFiles []*os.File, ipcFD, agentFD int, err error) {
	ipcFD = platform.MinInheritedFD
	agentFD = platform.MinInheritedFD + 1

	lastSlot := fdSlot(agentFD)
	if agentLibrary == nil {
		lastSlot = fdSlot(ipcFD)
		agentFD = -1
	}

	filler, ferr := devNull()
	if ferr != nil {
		return nil, 0, 0, fmt.Errorf("driver: open /dev/null filler: %w", ferr)
	}

	extraFiles = make([]*os.File, lastSlot+1)
	for i := range extraFiles {
		extraFiles[i] = filler
	}
	extraFiles[fdSlot(ipcFD)] = ipcChild
	if agentLibrary != nil {
		extraFiles[fdSlot(agentFD)] = agentLibrary
	}
	return extraFiles, ipcFD, agentFD, nil
}

// fdSlot returns the ExtraFiles index that lands a file at child fd
// number fd.
func fdSlot(fd int) int { return fd - stdioCount }
