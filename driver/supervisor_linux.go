//go:build linux

package driver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"fspy-go/platform"
	"fspy-go/seccomp"
	"fspy-go/wire"
)

// traceSupervisor owns the seccomp notify-fd acceptor socket for one
// session and its RecordSink is wired straight into the session's
// arena, so seccomp-observed records join the shm-ring and resolver
// records in one Records() sequence (spec.md §4.G/§4.H).
type traceSupervisor struct {
	listener *net.UnixListener
	cancel   context.CancelFunc
	done     chan struct{}
}

// newTraceSupervisor listens on a session-scoped unix socket and runs
// the supervisor loop until stop is called or the acceptor's listener
// is closed out from under it. The socket path is returned for the
// caller to fold into the payload the traced tree's agent decodes.
func newTraceSupervisor(sessionID string, sink func(wire.AccessRecord), logger *slog.Logger) (*traceSupervisor, string, error) {
	dir := filepath.Join(platform.RuntimeDir(), sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("driver: create supervisor socket dir: %w", err)
	}
	sockPath := filepath.Join(dir, "notify.sock")
	os.Remove(sockPath)

	addr, err := net.ResolveUnixAddr("unix", sockPath)
	if err != nil {
		return nil, "", fmt.Errorf("driver: resolve supervisor socket: %w", err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, "", fmt.Errorf("driver: listen on supervisor socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sup := &seccomp.Supervisor{
		Acceptor: listener,
		Mem:      &seccomp.ProcMemReader{},
		Sink:     seccomp.RecordSink(sink),
		Logger:   logger,
		Cwd:      procCwd,
	}

	ts := &traceSupervisor{listener: listener, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(ts.done)
		if err := sup.Run(ctx); err != nil {
			logger.Warn("driver: seccomp supervisor exited with error", "session", sessionID, "error", err)
		}
	}()
	return ts, sockPath, nil
}

// procCwd reads a target process's current working directory from
// procfs, matching spec.md §4.G's requirement to resolve cwd-relative
// paths the same way the kernel would have for the traced syscall.
func procCwd(pid uint32) (string, error) {
	return os.Readlink("/proc/" + strconv.Itoa(int(pid)) + "/cwd")
}

func (t *traceSupervisor) stop() {
	if t == nil {
		return
	}
	t.cancel()
	sockPath := t.listener.Addr().String()
	t.listener.Close()
	<-t.done
	os.Remove(sockPath)
}
