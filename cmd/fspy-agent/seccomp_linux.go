//go:build linux

package main

import (
	"fmt"
	"net"

	"fspy-go/seccomp"
)

// armSeccompFallback installs the classic-BPF filter the driver generated
// for this descendant's injectable-unknown target (spec.md §4.G) and hands
// the resulting notify fd to the supervisor over payload.NotifySocketPath.
// It must run before the wrapper tail-calls the real exec: seccomp filters
// are inherited across exec, so installing it here means the new image
// runs under the filter from its very first instruction.
func armSeccompFallback() error {
	if len(payload.SeccompFilter) == 0 || payload.NotifySocketPath == "" {
		return nil
	}
	notifyFD, err := seccomp.InstallFilter(payload.SeccompFilter)
	if err != nil {
		return fmt.Errorf("install filter: %w", err)
	}
	defer closeFD(notifyFD)

	addr, err := net.ResolveUnixAddr("unix", payload.NotifySocketPath)
	if err != nil {
		return fmt.Errorf("resolve notify socket: %w", err)
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return fmt.Errorf("dial notify socket: %w", err)
	}
	defer conn.Close()

	if err := seccomp.SendNotifyFD(conn, notifyFD); err != nil {
		return fmt.Errorf("send notify fd: %w", err)
	}
	return nil
}
