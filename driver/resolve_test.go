package driver

import (
	"errors"
	"io"
	"strings"
	"testing"

	"fspy-go/agent"
	"fspy-go/execresolve"
	"fspy-go/wire"
)

type stubProber struct {
	probeErr error
	peekErr  error
}

func (s stubProber) ProbeExecutable(string) error { return s.probeErr }

func (s stubProber) OpenPeek(string) (io.ReadCloser, error) {
	if s.peekErr != nil {
		return nil, s.peekErr
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func TestRecordingProberRecordsOnSuccess(t *testing.T) {
	var arena []wire.AccessRecord
	p := &recordingProber{inner: stubProber{}, arena: &arena}

	if err := p.ProbeExecutable("/usr/bin/true"); err != nil {
		t.Fatalf("ProbeExecutable: %v", err)
	}
	if len(arena) != 1 || arena[0].Path.String() != "/usr/bin/true" {
		t.Fatalf("arena = %+v, want one record for /usr/bin/true", arena)
	}
}

func TestRecordingProberRecordsOnFailure(t *testing.T) {
	var arena []wire.AccessRecord
	p := &recordingProber{inner: stubProber{probeErr: execresolve.ErrPermission}, arena: &arena}

	err := p.ProbeExecutable("/usr/local/bin/denied")
	if !errors.Is(err, execresolve.ErrPermission) {
		t.Fatalf("ProbeExecutable err = %v, want ErrPermission", err)
	}
	if len(arena) != 1 || arena[0].Path.String() != "/usr/local/bin/denied" {
		t.Fatalf("a failed probe must still be recorded (scenario: EACCES during PATH search), got %+v", arena)
	}
}

func TestRecordingProberRecordsEveryOpenPeekCall(t *testing.T) {
	var arena []wire.AccessRecord
	p := &recordingProber{inner: stubProber{}, arena: &arena}

	candidates := []string{"/bin/sh", "/usr/bin/sh", "/usr/local/bin/sh"}
	for _, c := range candidates {
		if _, err := p.OpenPeek(c); err != nil {
			t.Fatalf("OpenPeek(%s): %v", c, err)
		}
	}
	if len(arena) != len(candidates) {
		t.Fatalf("arena has %d records, want %d", len(arena), len(candidates))
	}
	for i, c := range candidates {
		if arena[i].Path.String() != c {
			t.Errorf("arena[%d].Path = %q, want %q", i, arena[i].Path.String(), c)
		}
		if arena[i].Mode != agent.StatMode {
			t.Errorf("arena[%d].Mode = %v, want the resolver-probe stat mode", i, arena[i].Mode)
		}
	}
}
