//go:build !linux

package driver

import (
	"log/slog"

	"fspy-go/wire"
)

// traceSupervisor has no backing implementation off Linux; the
// seccomp user-notification fallback is a Linux-only mechanism
// (spec.md §4.G), so Trace never constructs one when opts.SeccompFilter
// is set on another platform.
type traceSupervisor struct{}

func newTraceSupervisor(sessionID string, sink func(wire.AccessRecord), logger *slog.Logger) (*traceSupervisor, string, error) {
	return nil, "", nil
}

func (t *traceSupervisor) stop() {}
