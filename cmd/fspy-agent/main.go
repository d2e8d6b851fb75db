//go:build linux || darwin

// Command fspy-agent is the preload half of the interception table
// (spec.md §4.E): a package main built with `go build -buildmode=c-shared`
// and injected into a traced process via LD_PRELOAD (Linux) or
// DYLD_INSERT_LIBRARIES (Apple). The platform-specific cgo trampolines
// that actually shadow libc's entry points live in entry_linux.go and
// entry_darwin.go; this file holds the shared, cgo-free Go state both
// sides call into: payload decoding, the shm ring cursor pool, path
// resolution, and the nested spawn-handler call every exec/posix_spawn
// wrapper makes before tail-calling the real function.
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"fspy-go/driver"
	"fspy-go/execresolve"
	"fspy-go/pathresolve"
	"fspy-go/platform"
	"fspy-go/ring"
	"fspy-go/spawn"
	"fspy-go/wire"
)

// state is decoded once at load time from the payload environment
// variable; every trampoline reads it without locking since it never
// changes after init.
var (
	payload       platform.EncodedPayload
	rawPayloadB64 string
	ipcConn       *net.UnixConn
	chunkSender   ring.ChunkSender
	ringStats     ring.Stats
	ringOK        bool
)

// init runs as soon as the Go runtime inside this shared library starts
// — on both Linux and Darwin that happens as part of the dynamic
// linker processing the library's load-time constructors, before the
// traced program's own main ever runs, so every trampoline below can
// assume state is already populated.
func init() {
	rawPayloadB64 = os.Getenv(platform.PayloadEnvName)
	if rawPayloadB64 == "" {
		// Loaded without a payload (e.g. a descendant that inherited
		// the preload variable from a shell but not the payload); every
		// wrapper below falls back to tail-calling the real function
		// with no observation rather than failing the traced program.
		return
	}

	p, err := driver.DecodePayload(rawPayloadB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fspy-agent: decode payload: %v\n", err)
		return
	}
	payload = p

	conn, err := dialIPC(payload.IPCFd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fspy-agent: attach ipc fd %d: %v\n", payload.IPCFd, err)
		return
	}
	ipcConn = conn
	chunkSender = ring.NewUnixSender(conn)
	ringOK = true
}

// dialIPC wraps the inherited ipc fd (numbered per spec.md §6's fd
// layout) as the *net.UnixConn package ring's handoff protocol writes
// chunk fds over.
func dialIPC(fd int) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), "fspy-ipc")
	c, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("ipc fd %d is not a unix stream socket", fd)
	}
	return uc, nil
}

// Cursor pool. A Cursor must not be shared across concurrently running
// wrappers (ring.Cursor's own invariant); rather than pin one to each
// OS thread, acquireCursor/releaseCursor hand one out per call and
// return it to the free list afterward — simple, and safe since a
// wrapper's Reserve/Write/Commit sequence never yields back to another
// wrapper mid-flight.
var (
	cursorMu    sync.Mutex
	allCursors  []*ring.Cursor
	freeCursors []*ring.Cursor
)

func acquireCursor() *ring.Cursor {
	cursorMu.Lock()
	defer cursorMu.Unlock()
	if n := len(freeCursors); n > 0 {
		c := freeCursors[n-1]
		freeCursors = freeCursors[:n-1]
		return c
	}
	c := ring.NewCursor(newChunkFactory(), chunkSender, &ringStats)
	allCursors = append(allCursors, c)
	return c
}

func releaseCursor(c *ring.Cursor) {
	cursorMu.Lock()
	freeCursors = append(freeCursors, c)
	cursorMu.Unlock()
}

// invalidateCursorsAfterFork is called from the pthread_atfork child
// handler the platform-specific init installs, so a forked child never
// writes into a shm chunk the parent process still holds mapped
// read-write (ring.Cursor.Invalidate's own documented precondition).
func invalidateCursorsAfterFork() {
	cursorMu.Lock()
	defer cursorMu.Unlock()
	for _, c := range allCursors {
		c.Invalidate()
	}
}

var pathLookup pathresolve.ProcLookup

// recordAccess resolves (dirfd, pathname) to an absolute path and
// appends one AccessRecord to the shm ring, silently dropping it on any
// failure — observation under this mechanism is lossy by design
// (spec.md §5), and a wrapper must never fail the real call it is
// shadowing just because recording it didn't work.
func recordAccess(mode wire.AccessMode, dirfd int, pathname []byte, wide bool) {
	if !ringOK {
		return
	}
	var arena pathresolve.Arena
	resolved, err := pathresolve.Resolve(&arena, dirfd, pathname, &pathLookup)
	if err != nil {
		return
	}
	commitRecord(wire.AccessRecord{Mode: mode, Path: wire.NativePath{Bytes: resolved, Wide: wide}})
}

// recordFD is recordAccess's shorthand for the bare-fd-shaped entries
// (fstat, getdirentries, fdopendir): there is no pathname argument at
// all, only an fd to resolve via /proc or F_GETPATH.
func recordFD(mode wire.AccessMode, fd int) {
	if !ringOK {
		return
	}
	var arena pathresolve.Arena
	resolved, err := pathresolve.Resolve(&arena, fd, nil, &pathLookup)
	if err != nil {
		return
	}
	commitRecord(wire.AccessRecord{Mode: mode, Path: wire.NativePath{Bytes: resolved}})
}

func commitRecord(rec wire.AccessRecord) {
	c := acquireCursor()
	defer releaseCursor(c)
	slot, ok, err := c.Reserve(rec)
	if err != nil || !ok {
		return
	}
	slot.Write(wire.Encode(nil, rec))
	slot.Commit()
}

// resolveExec runs the spawn handler against a nested exec/posix_spawn
// call observed inside this already-injected process (spec.md §4.F):
// program resolution, injectability classification, and env mutation.
// searchPath carries the PATH-search mode appropriate to the specific
// libc entry that was called (execve disables it, execvp/execlp/
// posix_spawnp enable it, matching spec.md §4.E step 2).
func resolveExec(program string, args, envs []string, searchPath execresolve.SearchPathMode) (*spawn.Decision, error) {
	form := &execresolve.ExecForm{Program: program, Args: args, Envs: envs}

	cfg := spawn.Config{
		Resolve: execresolve.Config{
			SearchPath:    searchPath,
			FallbackShell: payload.FallbackShell,
		},
		PreloadVar: platform.PreloadVariable(),
		PayloadVar: platform.PayloadEnvName,
		AgentPath:  payload.PreloadPath,
		PayloadB64: rawPayloadB64,
		Fixtures: spawn.Fixtures{
			ShellReplacement:   payload.Fixtures.Shell,
			CoreutilsMultiCall: payload.Fixtures.Coreutils,
		},
		GOOS: runtime.GOOS,
	}

	var interp spawn.InterpProber
	if runtime.GOOS == "linux" {
		interp = spawn.FileInterpProber{}
	}

	decision, err := spawn.Handle(form, cfg, execProber{}, interp)
	if err != nil {
		return nil, err
	}

	if decision.NeedsSeccompArmed {
		if err := armSeccompFallback(); err != nil {
			fmt.Fprintf(os.Stderr, "fspy-agent: arm seccomp fallback: %v\n", err)
		}
	}
	return decision, nil
}

// execProber is the agent-side execresolve.Prober: unlike the parent
// driver's own osProber, every probe it makes is itself worth
// recording, since these are real accesses the traced process's own
// exec call is about to make (spec.md §8 scenario 4: "the failed
// EACCES probe of a PATH candidate is itself a reportable Read
// access").
type execProber struct{}

func (execProber) ProbeExecutable(path string) error {
	recordAccess(wire.Read, pathresolve.AtFDCWD, []byte(path), false)
	if err := unix.Access(path, unix.X_OK); err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return execresolve.ErrNotFound
		case errors.Is(err, unix.EACCES):
			return execresolve.ErrPermission
		case errors.Is(err, unix.ENOTDIR):
			return execresolve.ErrNotDir
		default:
			return err
		}
	}
	return nil
}

func (execProber) OpenPeek(path string) (io.ReadCloser, error) {
	recordAccess(wire.Read, pathresolve.AtFDCWD, []byte(path), false)
	f, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, execresolve.ErrNotFound
		case errors.Is(err, os.ErrPermission):
			return nil, execresolve.ErrPermission
		default:
			return nil, err
		}
	}
	return f, nil
}

func main() {
	// Unreachable: this binary is only ever loaded as a shared library
	// via LD_PRELOAD/DYLD_INSERT_LIBRARIES, never exec'd directly.
	// -buildmode=c-shared requires a main package and func main, but
	// the traced process's own main runs instead of this one.
}
