//go:build !linux

package driver

import "fmt"

// traceCgroup has no backing implementation off Linux; opts.Isolate is
// rejected rather than silently ignored, since cgroup.kill is the only
// thing that makes cancellation reach a deeply forked, detached
// descendant tree (spec.md §5's cancellation model is otherwise
// best-effort).
type traceCgroup struct{}

func newTraceCgroup(sessionID string) (*traceCgroup, error) {
	return nil, fmt.Errorf("driver: cgroup isolation is only available on linux")
}

func (c *traceCgroup) addProcess(pid int) error { return nil }
func (c *traceCgroup) kill() error              { return nil }
func (c *traceCgroup) destroy() error           { return nil }
