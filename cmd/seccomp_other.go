//go:build !linux

package cmd

// seccompFilterForTrace: the seccomp user-notification fallback is
// Linux-only (spec.md §4.G); everywhere else the spawn handler's own
// injection/fixture-substitution decision is the whole story.
func seccompFilterForTrace() ([]byte, error) {
	return nil, nil
}
