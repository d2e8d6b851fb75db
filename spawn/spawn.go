// Package spawn implements the five-step spawn handler from spec.md
// §4.F: resolving the exec form, deciding whether the target program
// can be reached by library injection or needs the seccomp fallback,
// and mutating the child's environment accordingly.
package spawn

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"fspy-go/execresolve"
	"fspy-go/ferrors"
)

// ErrEnvConflict is returned by EnsureEnv when the named variable is
// already present with a different value than the one being set —
// spec.md §4.F: "if it disagrees, fail with invalid-argument."
var ErrEnvConflict = errors.New("spawn: environment variable already set to a conflicting value")

// EnsureEnv sets name=value in envs (a "KEY=VALUE" slice in the shape
// exec(3) expects), refusing to duplicate an already-correct entry and
// failing if an existing entry disagrees. Grounded on the upstream
// cmdinfo ensure_env idempotence rule.
func EnsureEnv(envs []string, name, value string) ([]string, error) {
	prefix := name + "="
	for _, e := range envs {
		if !strings.HasPrefix(e, prefix) {
			continue
		}
		if e == prefix+value {
			return envs, nil
		}
		return nil, fmt.Errorf("spawn: %s: %w", name, ErrEnvConflict)
	}
	out := make([]string, len(envs), len(envs)+1)
	copy(out, envs)
	return append(out, prefix+value), nil
}

// RemoveEnv drops any entry named name from envs.
func RemoveEnv(envs []string, name string) []string {
	prefix := name + "="
	out := envs[:0:0]
	for _, e := range envs {
		if strings.HasPrefix(e, prefix) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// InterpProber resolves the ELF PT_INTERP of a resolved program path,
// so Injectable can be tested without parsing a real binary. ok is
// false when the file carries no interpreter (e.g. a statically linked
// or non-ELF binary).
type InterpProber interface {
	Interpreter(path string) (interp string, ok bool, err error)
}

// Injectable implements spec.md §4.F step 3's Linux branch: a program
// is injectable via the preload variable only if its dynamic linker's
// file name begins with "ld-" or "ld." (grounded on the upstream
// is_dynamically_linked_to_libc check using goblin's ELF interpreter
// field; here via the standard library's debug/elf through the
// InterpProber seam).
func Injectable(resolvedPath string, prober InterpProber) (bool, error) {
	interp, ok, err := prober.Interpreter(resolvedPath)
	if err != nil {
		return false, fmt.Errorf("spawn: read interpreter of %s: %w", resolvedPath, err)
	}
	if !ok {
		return false, nil
	}
	base := path.Base(interp)
	return strings.HasPrefix(base, "ld-") || strings.HasPrefix(base, "ld."), nil
}

// appleSubstitutable lists the coreutils applets spec.md §4.F's Apple
// branch substitutes with the bundled uninjectable-safe replacement,
// in addition to the shells sh/bash.
var appleSubstitutable = map[string]bool{
	"sh": true, "bash": true,
	"cat": true, "ls": true, "echo": true, "mkdir": true, "rm": true,
	"cp": true, "mv": true, "chmod": true, "touch": true, "ln": true,
}

// IsAppleSigned reports whether resolvedPath names a binary the Apple
// branch of spec.md §4.F would substitute rather than inject: a
// system binary under /bin or /usr/bin whose name is a known shell or
// coreutils applet (these binaries reject LD_PRELOAD-equivalent
// injection under macOS SIP/code-signing).
func IsAppleSigned(resolvedPath string) bool {
	dir, name := path.Split(resolvedPath)
	dir = strings.TrimSuffix(dir, "/")
	if dir != "/bin" && dir != "/usr/bin" {
		return false
	}
	return appleSubstitutable[name]
}

// Fixtures names the on-disk replacement binaries carried in the
// payload for the Apple substitution path (spec.md §6: "fixtures name
// on-disk copies of a shell and a coreutils multicall binary").
type Fixtures struct {
	ShellReplacement    string
	CoreutilsMultiCall  string
}

// Config carries everything Handle needs beyond the ExecForm itself.
type Config struct {
	Resolve     execresolve.Config
	PreloadVar  string // e.g. "LD_PRELOAD"
	PayloadVar  string // the single payload-record env variable (spec.md §6)
	AgentPath   string // value to assign PreloadVar when injecting
	PayloadB64  string // value to assign PayloadVar when injecting
	Fixtures    Fixtures
	GOOS        string // "linux", "darwin"; selects which branch of step 3 runs
}

// Decision is the result of running the spawn handler: the (possibly
// rewritten) exec form, and whether the seccomp fallback must be
// armed for this child because it could not be reached by injection.
type Decision struct {
	Form              *execresolve.ExecForm
	NeedsSeccompArmed bool
}

// Handle implements spec.md §4.F's five steps. prober backs the exec
// resolver; interp backs the Linux injectability check. On Darwin,
// interp may be nil since that branch never consults it.
func Handle(form *execresolve.ExecForm, cfg Config, prober execresolve.Prober, interp InterpProber) (*Decision, error) {
	resolved, err := execresolve.Resolve(form, cfg.Resolve, prober)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "spawn")
	}

	needsSeccomp := false

	switch cfg.GOOS {
	case "darwin":
		if IsAppleSigned(resolved.Program) {
			if cfg.Fixtures.ShellReplacement == "" {
				return nil, ferrors.New(ferrors.ErrSpawnSetup, "spawn", "apple substitution requested but no shell fixture configured")
			}
			resolved.Program = substituteFixture(resolved.Program, cfg.Fixtures)
		}
		// Apple substitution always yields an injectable (bundled,
		// instrumented) replacement; nothing is marked non-injectable.
	default: // linux and anything else using the injection/seccomp split
		inject, err := Injectable(resolved.Program, interp)
		if err != nil {
			return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "spawn")
		}
		if !inject {
			needsSeccomp = true
		}
	}

	envs, err := mutateEnvs(resolved.Envs, cfg, !needsSeccomp)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.ErrSpawnSetup, "spawn")
	}
	resolved.Envs = envs

	return &Decision{Form: resolved, NeedsSeccompArmed: needsSeccomp}, nil
}

// substituteFixture replaces the resolved program with the matching
// bundled fixture: the shell fixture for sh/bash, the coreutils
// multicall fixture for anything else. The fixture's own path is
// returned as is; it is not moved into the original program's directory.
func substituteFixture(resolvedPath string, fixtures Fixtures) string {
	_, name := path.Split(resolvedPath)
	if name == "sh" || name == "bash" {
		return fixtures.ShellReplacement
	}
	return fixtures.CoreutilsMultiCall
}

// mutateEnvs implements step 4: when inject is true, ensure the
// preload and payload variables are present with the expected values
// (idempotently); when false, strip them since the non-injectable
// child receives the seccomp filter through the kernel instead.
func mutateEnvs(envs []string, cfg Config, inject bool) ([]string, error) {
	if !inject {
		envs = RemoveEnv(envs, cfg.PreloadVar)
		envs = RemoveEnv(envs, cfg.PayloadVar)
		return envs, nil
	}

	envs, err := EnsureEnv(envs, cfg.PreloadVar, cfg.AgentPath)
	if err != nil {
		return nil, err
	}
	envs, err = EnsureEnv(envs, cfg.PayloadVar, cfg.PayloadB64)
	if err != nil {
		return nil, err
	}
	return envs, nil
}
