package driver

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"fspy-go/agent"
	"fspy-go/execresolve"
	"fspy-go/wire"
)

// osProber is the parent-side execresolve.Prober, backed by the
// standard library and golang.org/x/sys/unix rather than the
// intercepted libc calls the traced process itself goes through —
// the parent has no agent loaded into it, so it probes candidates
// directly the way any ordinary Go program would.
type osProber struct{}

func (osProber) ProbeExecutable(path string) error {
	if err := unix.Access(path, unix.X_OK); err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return execresolve.ErrNotFound
		case errors.Is(err, unix.EACCES):
			return execresolve.ErrPermission
		case errors.Is(err, unix.ENOTDIR):
			return execresolve.ErrNotDir
		default:
			return err
		}
	}
	return nil
}

func (osProber) OpenPeek(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, execresolve.ErrNotFound
		case errors.Is(err, os.ErrPermission):
			return nil, execresolve.ErrPermission
		default:
			return nil, err
		}
	}
	return f, nil
}

// recordingProber wraps another Prober and appends one AccessRecord per
// probe call to arena, regardless of outcome — spec.md §4.H: "record
// resolver-side accesses into a local arena, in case the child fails to
// record them (e.g. path probing before the agent initializes)". This
// is also exactly scenario 4 of spec.md §8: the failed EACCES probe of
// a PATH candidate is itself a reportable Read access.
type recordingProber struct {
	inner execresolve.Prober
	arena *[]wire.AccessRecord
}

func (p *recordingProber) record(path string) {
	*p.arena = append(*p.arena, wire.AccessRecord{
		Mode: agent.StatMode,
		Path: wire.NativePath{Bytes: []byte(path)},
	})
}

func (p *recordingProber) ProbeExecutable(path string) error {
	err := p.inner.ProbeExecutable(path)
	p.record(path)
	return err
}

func (p *recordingProber) OpenPeek(path string) (io.ReadCloser, error) {
	rc, err := p.inner.OpenPeek(path)
	p.record(path)
	return rc, err
}
