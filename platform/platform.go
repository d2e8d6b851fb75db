// Package platform isolates the per-OS details the rest of the module
// needs but shouldn't have to think about: the name of the
// library-preload environment variable, how to keep a file descriptor
// alive and numbered sanely across an exec, and the fixture binaries
// Apple-signed system binaries are substituted with.
package platform

import (
	"fmt"
	"os"
)

// Fixtures names on-disk copies of helper binaries the spawn handler
// substitutes for system binaries it cannot inject into (see spawn
// package, §4.F "Apple" branch). Packaging these binaries is out of
// scope for this module — the caller is expected to have them on disk
// already and hand over their paths.
type Fixtures struct {
	// Shell is a path to a shell binary that is safe to inject into
	// (i.e. not itself an Apple-signed system binary).
	Shell string
	// Coreutils is a path to a multicall coreutils-applet binary used
	// when the resolved program is a coreutils applet under /bin or
	// /usr/bin.
	Coreutils string
}

// EncodedPayload is the decoded form of the FSPY_PAYLOAD environment
// variable: the ingredients the traced process's agent needs before it
// can start observing.
type EncodedPayload struct {
	IPCFd       int
	PreloadPath string
	Fixtures    Fixtures
	// SeccompFilter is the serialized classic-BPF program for the
	// seccomp supervisor path (Linux only), present whenever the driver
	// was given one in Options.SeccompFilter, whether or not this
	// particular target turns out to be non-injectable.
	SeccompFilter []byte
	// NotifySocketPath is the unix socket the driver's supervisor is
	// listening on; set whenever SeccompFilter is, so the agent knows
	// where to hand over the notify fd it gets back from installing it.
	NotifySocketPath string
	// FallbackShell is forwarded from Options.Resolve so the agent can
	// apply the same ENOEXEC-to-shell rule (spec.md §4.D) when it
	// resolves a descendant's own exec/posix_spawn call, not just the
	// one the driver resolved for the top-level command.
	FallbackShell string
}

// PayloadEnvName is the name of the single environment variable used to
// hand the payload to a traced process. Kept stable across the whole
// descendant tree: every grandchild sees the same value, never two.
const PayloadEnvName = "FSPY_PAYLOAD"

// MinInheritedFD is the lowest file descriptor number the driver will
// hand a payload fd under. Duplicating below this risks colliding with
// a traced program's expectations about stdio (0-2) and other
// low-numbered fds some libraries assume are free.
const MinInheritedFD = 17

// DuplicateForChild ensures fd is at or above MinInheritedFD, by
// dup'ing upward if necessary. It returns the original fd if it was
// already high enough. The caller owns closing whichever fd it ends up
// using.
func DuplicateForChild(fd int) (int, error) {
	if fd >= MinInheritedFD {
		return fd, nil
	}
	dup, err := dupTo(fd, MinInheritedFD)
	if err != nil {
		return -1, fmt.Errorf("platform: duplicate fd %d to >= %d: %w", fd, MinInheritedFD, err)
	}
	return dup, nil
}

// ClearCloseOnExec removes FD_CLOEXEC from fd so that it survives the
// child's exec. Callers invoke this from a pre-exec hook so that the fd
// is never visible to descendants spawned before this line runs — only
// the direct child that is about to exec sees it.
func ClearCloseOnExec(fd int) error {
	return clearCloseOnExec(fd)
}

// IsWindows reports whether NativePath.Wide is meaningful on the
// current platform. It exists so wire and pathresolve can branch
// without importing build-tag files directly.
func IsWindows() bool {
	return isWindows
}

// RuntimeDir returns a directory suitable for the session registry
// (state files, one per live trace). It prefers XDG_RUNTIME_DIR, falling
// back to a temp directory.
func RuntimeDir() string {
	if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
		return d + "/fspy"
	}
	return os.TempDir() + "/fspy"
}
