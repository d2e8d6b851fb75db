//go:build linux

package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const cgroupRoot = "/sys/fs/cgroup"

// traceCgroup is a cgroup v2 leaf holding the whole traced descendant
// tree, used only for opts.Isolate's cancellation guarantee. Adapted
// from linux/cgroup.go's Cgroup type, stripped of every OCI resource-
// limit knob (memory/cpu/pids/unified) this domain never sets — the
// only operations this spec needs are "put the tree in a leaf" and
// "kill the leaf."
type traceCgroup struct {
	path string
}

// newTraceCgroup creates (or reuses) a leaf named after the session ID,
// grounded on linux/cgroup.go's NewCgroup path-join-then-mkdir pattern.
func newTraceCgroup(sessionID string) (*traceCgroup, error) {
	path := filepath.Join(cgroupRoot, "fspy", sessionID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("driver: create cgroup %s: %w", path, err)
	}
	return &traceCgroup{path: path}, nil
}

// addProcess attaches pid to the leaf. Every descendant it forks
// inherits cgroup membership automatically — this is what makes
// cgroup.kill reach a tree that has detached from the direct child's
// process group.
func (c *traceCgroup) addProcess(pid int) error {
	return os.WriteFile(filepath.Join(c.path, "cgroup.procs"), []byte(strconv.Itoa(pid)), 0o644)
}

// kill writes to cgroup.kill, the cgroup v2 file that sends SIGKILL to
// every process in the cgroup (and its sub-cgroups) regardless of
// process-group or session membership.
func (c *traceCgroup) kill() error {
	return os.WriteFile(filepath.Join(c.path, "cgroup.kill"), []byte("1"), 0o644)
}

// destroy removes the leaf. Must run after kill, once every member
// process has actually exited — cgroup v2 refuses to rmdir a non-empty
// cgroup.
func (c *traceCgroup) destroy() error {
	err := os.Remove(c.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("driver: remove cgroup %s: %w", c.path, err)
	}
	return nil
}
