//go:build !windows

// Package driver implements the parent-visible API: trace(command) ->
// (child_handle, future<record-iterable>) from spec.md §6. It builds
// the payload, launches the traced command with the preload variable
// and payload fd wired in, and aggregates records from the shm ring,
// the seccomp supervisor (if any non-injectable descendant armed it),
// and its own parent-side resolver probe into one lazy sequence.
package driver

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"fspy-go/execresolve"
	"fspy-go/ferrors"
	"fspy-go/flog"
	"fspy-go/hooks"
	"fspy-go/platform"
	"fspy-go/ring"
	"fspy-go/spawn"
	"fspy-go/wire"
)

// Options configures one traced command. The zero value is not usable;
// callers build one per spec.md §6's payload-record contract.
type Options struct {
	Dir    string
	Env    []string
	Logger *slog.Logger

	// AgentLibrary is an already-open handle to the preload agent's
	// shared library on Linux (a sealed memfd). The driver inherits it
	// into the child; PreloadPath in the payload is derived from its
	// inherited fd number ("/proc/self/fd/<N>"). Unused on Apple, where
	// AgentPathOnDisk names an on-disk dylib copy instead (spec.md §6).
	AgentLibrary *os.File

	// AgentPathOnDisk is the preload_path value used verbatim on Apple,
	// where the agent is a real file rather than an anonymous memfd.
	AgentPathOnDisk string

	PreloadVar string // e.g. "LD_PRELOAD"
	PayloadVar string // e.g. platform.PayloadEnvName

	Resolve  execresolve.Config
	Fixtures platform.Fixtures
	GOOS     string // defaults to runtime.GOOS if empty

	// SeccompFilter, when non-nil, is installed for non-injectable
	// descendants (Linux only); nil on platforms without a seccomp
	// fallback.
	SeccompFilter []byte

	// Isolate places the traced tree in a cgroup v2 leaf (Linux only)
	// so Cancel can reach a deeply forked descendant tree that has
	// detached from the direct child's process group. Returns an error
	// from Trace on any other platform if set.
	Isolate bool

	// Hooks, if non-nil, fire at Start (just before the traced command
	// is exec'd) and Stop (once the traced command has been waited on;
	// Stop does not wait for the caller to finish ranging over Records).
	Hooks *hooks.Hooks
}

// Session is a live or completed trace. One Session per top-level
// traced command; its descendant tree (however deep) reports through
// the same Session.
type Session struct {
	cmd      *exec.Cmd
	consumer *ring.Consumer
	receiver *ring.Receiver
	logger   *slog.Logger

	sessionID  string
	command    []string
	startedAt  time.Time
	cgroup     *traceCgroup
	supervisor *traceSupervisor
	hookSet    *hooks.Hooks

	mu       sync.Mutex
	arena    []wire.AccessRecord // parent-side resolver probe + supervisor records
	waitErr  error
	waitDone chan struct{}
}

// Info returns the session's registry record.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		SessionID: s.sessionID,
		Pid:       s.cmd.Process.Pid,
		Command:   s.command,
		StartedAt: s.startedAt,
	}
}

// devNull lazily opens /dev/null once per process, used to pad out
// the low fd slots below platform.MinInheritedFD so the real payload
// fd lands exactly where the payload record says it does.
var (
	devNullOnce sync.Once
	devNullFile *os.File
	devNullErr  error
)

func devNull() (*os.File, error) {
	devNullOnce.Do(func() {
		devNullFile, devNullErr = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	})
	return devNullFile, devNullErr
}

// Trace implements spec.md §6's one parent-visible operation. It
// resolves command on the parent side first (recording every probe
// into the session's local arena per spec.md §4.H), builds the
// payload, opens the ring handoff stream, and starts the child with
// the payload fd and preload variable set.
func Trace(ctx context.Context, command []string, opts Options) (*Session, error) {
	if len(command) == 0 {
		return nil, ferrors.New(ferrors.ErrSpawnSetup, "trace", "empty command")
	}
	if opts.Logger == nil {
		opts.Logger = flog.Default()
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.Isolate && opts.GOOS != "linux" {
		return nil, ferrors.New(ferrors.ErrSpawnSetup, "trace", "isolate requires linux cgroup v2 support")
	}

	sessionID, err := newSessionID()
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "trace")
	}

	// The fds a child would be handed, and the payload built from them,
	// don't depend on the injectability decision spawn.Handle is about
	// to make — only whether LD_PRELOAD/the payload var actually get
	// set on this particular child does. Compute them first so
	// spawn.Handle's EnsureEnv calls see the real final value instead of
	// a placeholder it would later conflict with.
	ipcParent, ipcChild, err := newSocketpair()
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "trace: open ipc socketpair")
	}

	extraFiles, ipcFD, agentFD, err := layoutInheritedFiles(ipcChild, opts.AgentLibrary)
	if err != nil {
		ipcParent.Close()
		ipcChild.Close()
		return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "trace: lay out inherited fds")
	}

	preloadPath := opts.AgentPathOnDisk
	if opts.GOOS != "darwin" {
		preloadPath = fmt.Sprintf("/proc/self/fd/%d", agentFD)
	}

	// s is allocated now, not once cmd exists, so the supervisor's sink
	// (bound to s.AddSupervisorRecord) can start accepting notify-fd
	// handoffs as soon as its acceptor socket is listening — before the
	// traced process that will connect to it has even been exec'd.
	s := &Session{sessionID: sessionID, command: command}

	var notifySocketPath string
	if len(opts.SeccompFilter) > 0 {
		sup, sockPath, err := newTraceSupervisor(sessionID, s.AddSupervisorRecord, opts.Logger)
		if err != nil {
			ipcParent.Close()
			ipcChild.Close()
			return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "trace: start seccomp supervisor")
		}
		s.supervisor = sup
		notifySocketPath = sockPath
	}

	payload := platform.EncodedPayload{
		IPCFd:            ipcFD,
		PreloadPath:      preloadPath,
		Fixtures:         opts.Fixtures,
		SeccompFilter:    opts.SeccompFilter,
		NotifySocketPath: notifySocketPath,
		FallbackShell:    opts.Resolve.FallbackShell,
	}
	encoded, err := EncodePayload(payload)
	if err != nil {
		ipcParent.Close()
		ipcChild.Close()
		s.supervisor.stop()
		return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "trace: encode payload")
	}

	var arena []wire.AccessRecord
	prober := &recordingProber{inner: osProber{}, arena: &arena}

	form := &execresolve.ExecForm{
		Program: command[0],
		Args:    append([]string(nil), command...),
		Envs:    opts.Env,
	}

	decision, err := spawn.Handle(form, spawn.Config{
		Resolve:    opts.Resolve,
		PreloadVar: opts.PreloadVar,
		PayloadVar: opts.PayloadVar,
		AgentPath:  preloadPath,
		PayloadB64: encoded,
		Fixtures: spawn.Fixtures{
			ShellReplacement:   opts.Fixtures.Shell,
			CoreutilsMultiCall: opts.Fixtures.Coreutils,
		},
		GOOS: opts.GOOS,
	}, prober, spawn.FileInterpProber{})
	if err != nil {
		ipcParent.Close()
		ipcChild.Close()
		s.supervisor.stop()
		return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "trace")
	}

	cmd := exec.CommandContext(ctx, decision.Form.Program)
	// decision.Form.Args already carries the full argv, including argv[0]
	// — which, after shebang expansion, is the resolved interpreter, not
	// necessarily decision.Form.Program's own basename — so it replaces
	// the default exec.Command-built Args entirely rather than being
	// passed as trailing arguments.
	cmd.Args = decision.Form.Args
	cmd.Dir = opts.Dir
	cmd.Env = decision.Form.Envs
	cmd.ExtraFiles = extraFiles
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	startedAt := time.Now()
	if err := hooks.Run(opts.Hooks, hooks.Start, &hooks.State{
		SessionID: sessionID, Command: command, Event: hooks.Start, StartedAt: startedAt,
	}); err != nil {
		ipcParent.Close()
		ipcChild.Close()
		s.supervisor.stop()
		return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "trace: start hook")
	}

	if err := cmd.Start(); err != nil {
		ipcParent.Close()
		ipcChild.Close()
		s.supervisor.stop()
		return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "trace: start")
	}
	// The child's dup of ipcChild now lives in its own fd table; the
	// parent's copy of that end is only needed by the exec call itself.
	ipcChild.Close()

	var cgroup *traceCgroup
	if opts.Isolate {
		cgroup, err = newTraceCgroup(sessionID)
		if err != nil {
			cmd.Process.Kill()
			s.supervisor.stop()
			return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "trace: isolate")
		}
		if err := cgroup.addProcess(cmd.Process.Pid); err != nil {
			cmd.Process.Kill()
			s.supervisor.stop()
			return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "trace: isolate")
		}
	}

	s.cmd = cmd
	s.consumer = &ring.Consumer{}
	s.receiver = ring.NewReceiver(ipcParent)
	s.logger = opts.Logger
	s.startedAt = startedAt
	s.cgroup = cgroup
	s.hookSet = opts.Hooks
	s.waitDone = make(chan struct{})

	// The supervisor's sink has been live (and appending under s.mu)
	// since before cmd.Start, in case the traced process connected to
	// it immediately; splice the resolver's own arena in ahead of
	// whatever it already collected rather than overwriting it.
	s.mu.Lock()
	s.arena = append(arena, s.arena...)
	s.mu.Unlock()

	if err := saveState(&SessionInfo{SessionID: sessionID, Pid: cmd.Process.Pid, Command: command, StartedAt: startedAt}); err != nil {
		s.logger.Warn("driver: failed to persist session registry entry", "session", sessionID, "error", err)
	}

	go s.pump()
	go s.waitChild()

	return s, nil
}

// pump drains the handoff stream until it closes (spec.md §5:
// "the supervisor loop terminates when its acceptor socket reaches
// EOF"); the driver's own ring consumer follows the identical rule for
// its child's direct chunk handoffs.
func (s *Session) pump() {
	for {
		chunk, err := s.receiver.Next()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.consumer.AddChunk(chunk)
		s.mu.Unlock()
	}
}

func (s *Session) waitChild() {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.waitErr = err
	s.mu.Unlock()
	close(s.waitDone)

	if s.cgroup != nil {
		if err := s.cgroup.destroy(); err != nil {
			s.logger.Warn("driver: failed to remove cgroup leaf", "session", s.sessionID, "error", err)
		}
	}
	s.supervisor.stop()
	if err := removeState(s.sessionID); err != nil {
		s.logger.Warn("driver: failed to remove session registry entry", "session", s.sessionID, "error", err)
	}
	if err := hooks.Run(s.hookSet, hooks.Stop, &hooks.State{
		SessionID: s.sessionID, Command: s.command, Event: hooks.Stop, StartedAt: s.startedAt,
	}); err != nil {
		s.logger.Warn("driver: stop hook failed", "session", s.sessionID, "error", err)
	}
}

// AddSupervisorRecord merges one record observed by the seccomp
// supervisor into the session's aggregate. Bound as the supervisor's
// RecordSink in Trace via a method value, so package seccomp never
// needs to import package driver.
func (s *Session) AddSupervisorRecord(rec wire.AccessRecord) {
	s.mu.Lock()
	s.arena = append(s.arena, rec)
	s.mu.Unlock()
}

// Records returns a lazy sequence concatenating the parent-side
// resolver arena, every supervisor record merged in so far, and every
// committed shm record received to date. It is safe to range over
// before the child exits; ranging again after more chunks arrive picks
// up newly committed records too, since Consumer.Scan always rescans
// from the front (committed slots are never rewritten, so repeat scans
// are idempotent other than repeating already-seen records for callers
// who want a point-in-time snapshot). Records are not deduplicated:
// package cmd's trace command prints every record it is given.
func (s *Session) Records() iter.Seq[wire.AccessRecord] {
	return func(yield func(wire.AccessRecord) bool) {
		s.mu.Lock()
		arena := append([]wire.AccessRecord(nil), s.arena...)
		consumer := s.consumer
		s.mu.Unlock()

		for _, rec := range arena {
			if !yield(rec) {
				return
			}
		}
		consumer.Scan(func(rec wire.AccessRecord) {
			yield(rec)
		})
	}
}

// Wait blocks until the child (and therefore the whole descendant
// tree, transitively) has exited, and returns its exit error if any.
func (s *Session) Wait() error {
	<-s.waitDone
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// Cancel implements spec.md §5's cancellation model: "dropping the
// child handle." It kills the direct child; the supervisor's acceptor
// socket then reaches EOF once every descendant's last fd closes,
// which is what actually ends observation for the whole tree. When the
// session was started with Isolate, cgroup.kill reaches the whole tree
// directly instead, covering descendants that have detached from the
// child's process group — spec.md §5's own cancellation model is
// otherwise best-effort against exactly that case.
func (s *Session) Cancel() error {
	if s.cgroup != nil {
		if err := s.cgroup.kill(); err != nil {
			return ferrors.Wrap(err, ferrors.ErrSpawnSetup, "cancel")
		}
		return nil
	}
	if s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Kill(); err != nil {
		return ferrors.Wrap(err, ferrors.ErrSpawnSetup, "cancel")
	}
	return nil
}
