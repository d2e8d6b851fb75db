//go:build !linux

package main

import "fmt"

// armSeccompFallback: non-Linux platforms have no seccomp-bpf equivalent,
// so the driver
// never sets SeccompFilter/NotifySocketPath for a Darwin descendant in the
// first place (spawn.Handle's NeedsSeccompArmed is Linux-only per
// spec.md §4.G). Reaching here would mean the decision logic disagrees
// with the platform it's running on.
func armSeccompFallback() error {
	return fmt.Errorf("fspy-agent: seccomp fallback requested on a non-Linux platform")
}
