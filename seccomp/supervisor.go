//go:build linux

package seccomp

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"unsafe"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"fspy-go/agent"
	"fspy-go/ferrors"
	"fspy-go/wire"
)

// seccomp notify ioctl numbers. The kernel UAPI (linux/seccomp.h)
// defines these via the _IOWR/_IOW macros rather than exporting them
// as symbols, so — like this package's own syscall-number table in
// filter.go — they are hardcoded here, matching the values
// every other Go seccomp-notify implementation (runc, youki) also
// hardcodes for lack of a generated constant.
const (
	seccompIoctlNotifRecv = 0xc0502100
	seccompIoctlNotifSend = 0xc0182101
)

// seccomp_data / seccomp_notif field sizes, matching the kernel's
// struct layout exactly (see filter.go's offset constants for the
// embedded seccomp_data).
const (
	notifSize     = 8 + 4 + 4 + 64 // id, pid, flags, seccomp_data
	notifRespSize = 8 + 8 + 4 + 4  // id, val, error, flags
)

const notifRespFlagContinue = 0x1

// notif is the decoded part of one kernel seccomp_notif: the id the
// CONTINUE reply must echo, the target pid, and the trapped syscall's
// number and arguments.
type notif struct {
	id   uint64
	pid  uint32
	nr   uint32
	args [6]uint64
}

// MemReader reads a NUL-terminated string or a raw byte count from a
// target process's address space. The real implementation uses
// process_vm_readv; tests substitute an in-memory fake so the
// classification and record-emission logic can run without a second
// process.
type MemReader interface {
	ReadCString(pid uint32, addr uint64, max int) (string, error)
	ReadPath(pid uint32, fd int32) (string, error)
}

// RecordSink receives every AccessRecord the supervisor reconstructs
// from a notification. Installed by package driver, which merges
// these with the shm-ring records into one iterable.
type RecordSink func(wire.AccessRecord)

// Supervisor runs the notify-fd event loop described in spec.md §4.G.
// One Supervisor serves every target in a single traced tree; each
// target's notify fd, once received over the acceptor stream, gets
// its own worker goroutine.
type Supervisor struct {
	Acceptor  *net.UnixListener
	Mem       MemReader
	Sink      RecordSink
	Logger    *slog.Logger
	Cwd       func(pid uint32) (string, error)
}

// Run accepts target connections until the acceptor's listener is
// closed or ctx is cancelled (spec.md §5: "the supervisor loop
// terminates when its acceptor socket reaches EOF"). Each accepted
// connection hands over exactly one notify fd via SCM_RIGHTS; Run
// spawns one worker per target on an errgroup-managed pool and returns
// once every worker has exited.
func (s *Supervisor) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	go func() {
		<-ctx.Done()
		s.Acceptor.Close()
	}()

	for {
		conn, err := s.Acceptor.AcceptUnix()
		if err != nil {
			break
		}
		group.Go(func() error {
			return s.serveTarget(ctx, conn)
		})
	}

	return group.Wait()
}

// serveTarget receives one target's notify fd from conn and runs its
// notification loop until the fd is closed (target exited) or ctx is
// cancelled.
func (s *Supervisor) serveTarget(ctx context.Context, conn *net.UnixConn) error {
	defer conn.Close()

	notifyFD, err := recvNotifyFD(conn)
	if err != nil {
		s.logError("receive notify fd", err)
		return nil // a failed handoff is isolated, not fatal to the tree
	}
	defer unix.Close(notifyFD)

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return ferrors.Wrap(err, ferrors.ErrSupervisorRuntime, "epoll_create1")
	}
	defer unix.Close(epfd)

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(notifyFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, notifyFD, &ev); err != nil {
		return ferrors.Wrap(err, ferrors.ErrSupervisorRuntime, "epoll_ctl")
	}

	events := make([]unix.EpollEvent, 1)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := unix.EpollWait(epfd, events, 1000)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return ferrors.Wrap(err, ferrors.ErrSupervisorRuntime, "epoll_wait")
		}
		if n == 0 {
			continue
		}
		if err := s.handleOne(notifyFD); err != nil {
			if err == errTargetGone {
				return nil
			}
			s.logError("handle notification", err)
		}
	}
}

// errTargetGone signals that the notify fd was closed because the
// target exited; the caller tolerates this and ends the loop rather
// than treating it as a supervisor error.
var errTargetGone = fmt.Errorf("seccomp: target exited")

// handleOne receives one notification, classifies and records the
// access, and always resumes the target's syscall — per spec.md §7,
// "per-notification errors are logged, do not abort the target's
// syscall."
func (s *Supervisor) handleOne(notifyFD int) error {
	n, err := recvNotif(notifyFD)
	if err != nil {
		if err == unix.ENOENT {
			return errTargetGone
		}
		return fmt.Errorf("recv notif: %w", err)
	}

	if rec, ok := s.classify(n); ok {
		s.Sink(rec)
	}

	if err := sendContinue(notifyFD, n.id); err != nil && err != unix.ENOENT {
		return fmt.Errorf("send continue: %w", err)
	}
	return nil
}

// classify reconstructs an AccessRecord from a notification's
// syscall arguments, reading the target's string/fd arguments through
// s.Mem. ok is false for notifications this supervisor has nothing
// meaningful to record for (e.g. a read failure after the target
// already exited).
func (s *Supervisor) classify(n notif) (wire.AccessRecord, bool) {
	var (
		pathArgIdx int
		fdArgIdx   = -1 // -1 means "no dirfd/fd argument, path is absolute-or-cwd-relative"
		mode       wire.AccessMode
	)

	switch n.nr {
	case syscallNumbers["amd64"]["openat"], syscallNumbers["arm64"]["openat"]:
		pathArgIdx, fdArgIdx = 1, 0
		mode = agent.ModeOfOpenFlags(int(n.args[2]))
	case syscallNumbers["amd64"]["getdents64"], syscallNumbers["arm64"]["getdents64"]:
		fdArgIdx = 0
		mode = agent.DirMode
	case syscallNumbers["amd64"]["readlinkat"], syscallNumbers["arm64"]["readlinkat"]:
		pathArgIdx, fdArgIdx = 1, 0
		mode = agent.StatMode
	case syscallNumbers["amd64"]["execve"], syscallNumbers["arm64"]["execve"]:
		pathArgIdx = 0
		mode = agent.StatMode
	default:
		return wire.AccessRecord{}, false
	}

	var pathname string
	var err error
	if fdArgIdx >= 0 && mode == agent.DirMode {
		pathname, err = s.Mem.ReadPath(n.pid, int32(n.args[fdArgIdx]))
	} else {
		raw, rerr := s.Mem.ReadCString(n.pid, n.args[pathArgIdx], 4096)
		err = rerr
		pathname = raw
		if fdArgIdx >= 0 && len(pathname) > 0 && pathname[0] != '/' {
			base, berr := s.Mem.ReadPath(n.pid, int32(n.args[fdArgIdx]))
			if berr == nil {
				pathname = joinPath(base, pathname)
			}
		} else if fdArgIdx < 0 && len(pathname) > 0 && pathname[0] != '/' && s.Cwd != nil {
			if cwd, cerr := s.Cwd(n.pid); cerr == nil {
				pathname = joinPath(cwd, pathname)
			}
		}
	}
	if err != nil {
		s.logError("read target argument", err)
		return wire.AccessRecord{}, false
	}

	return wire.AccessRecord{Mode: mode, Path: wire.NativePath{Bytes: []byte(pathname)}}, true
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}

func (s *Supervisor) logError(op string, err error) {
	if s.Logger == nil {
		return
	}
	s.Logger.Warn("seccomp supervisor", "op", op, "error", err)
}

// recvNotifyFD receives the target's seccomp user-notify fd over an
// SCM_RIGHTS ancillary message, mirroring package ring's chunk handoff.
func recvNotifyFD(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	var fd int
	var recvErr error
	ctrlErr := raw.Read(func(fdRaw uintptr) bool {
		_, oobn, _, _, err := unix.Recvmsg(int(fdRaw), buf, oob, 0)
		if err != nil {
			recvErr = err
			return true
		}
		msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil || len(msgs) == 0 {
			recvErr = fmt.Errorf("seccomp: no control message in notify-fd handoff")
			return true
		}
		fds, err := unix.ParseUnixRights(&msgs[0])
		if err != nil || len(fds) == 0 {
			recvErr = fmt.Errorf("seccomp: no rights in notify-fd handoff")
			return true
		}
		fd = fds[0]
		return true
	})
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	if recvErr != nil {
		return -1, recvErr
	}
	return fd, nil
}

// recvNotif issues SECCOMP_IOCTL_NOTIF_RECV and decodes the kernel's
// reply into a notif.
func recvNotif(notifyFD int) (notif, error) {
	buf := make([]byte, notifSize)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(notifyFD), seccompIoctlNotifRecv, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return notif{}, errno
	}

	le := binary.LittleEndian
	n := notif{
		id:  le.Uint64(buf[0:8]),
		pid: le.Uint32(buf[8:12]),
		nr:  le.Uint32(buf[16:20]),
	}
	for i := range n.args {
		off := 32 + 8*i
		n.args[i] = le.Uint64(buf[off : off+8])
	}
	return n, nil
}

// sendContinue issues SECCOMP_IOCTL_NOTIF_SEND with the CONTINUE flag,
// resuming the target's trapped syscall.
func sendContinue(notifyFD int, id uint64) error {
	buf := make([]byte, notifRespSize)
	le := binary.LittleEndian
	le.PutUint64(buf[0:8], id)
	le.PutUint32(buf[20:24], notifRespFlagContinue)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(notifyFD), seccompIoctlNotifSend, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

// ProcMemReader is the real MemReader, reading a target's memory via
// process_vm_readv and its per-fd path via /proc/<pid>/fd/<n>.
type ProcMemReader struct {
	mu sync.Mutex // serializes ReadCString calls
}

func (r *ProcMemReader) ReadCString(pid uint32, addr uint64, max int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const chunk = 256
	buf := make([]byte, 0, max)
	page := make([]byte, chunk)
	for len(buf) < max {
		n, err := unix.ProcessVMReadv(int(pid),
			[]unix.Iovec{{Base: &page[0], Len: uint64(len(page))}},
			[]unix.RemoteIovec{{Base: uintptr(addr) + uintptr(len(buf)), Len: len(page)}},
			0)
		if err != nil {
			return "", fmt.Errorf("process_vm_readv pid=%d: %w", pid, err)
		}
		if idx := indexByte(page[:n], 0); idx >= 0 {
			buf = append(buf, page[:idx]...)
			return string(buf), nil
		}
		buf = append(buf, page[:n]...)
		if n == 0 {
			break
		}
	}
	return string(buf), nil
}

func (r *ProcMemReader) ReadPath(pid uint32, fd int32) (string, error) {
	link := "/proc/" + strconv.Itoa(int(pid)) + "/fd/" + strconv.Itoa(int(fd))
	return os.Readlink(link)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
