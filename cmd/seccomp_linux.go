//go:build linux

package cmd

import "fspy-go/seccomp"

// seccompFilterForTrace builds the notify-mode BPF program armed for
// targets the spawn handler can't inject into.
func seccompFilterForTrace() ([]byte, error) {
	return seccomp.EncodeFilter()
}
