//go:build linux

package pathresolve

import "golang.org/x/sys/unix"

// gettid returns the calling OS thread's kernel thread id. Must be
// called from the same OS thread the caller cares about — the agent
// uses ProcLookup from cgo callbacks, which run on the C thread that
// made the intercepted call.
func gettid() int {
	return unix.Gettid()
}

// readlinkRaw wraps unix.Readlink without going through os.Readlink's
// internal allocation, for use from allocation-free contexts.
func readlinkRaw(path string, buf []byte) (int, error) {
	return unix.Readlink(path, buf)
}
