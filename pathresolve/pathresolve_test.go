package pathresolve

import (
	"fmt"
	"testing"
)

// fakeLookup is a CwdLookup double used to unit-test Resolve's join
// logic without touching /proc or making syscalls.
type fakeLookup struct {
	byFD map[int]string
}

func (f *fakeLookup) PathForFD(fd int) ([]byte, error) {
	p, ok := f.byFD[fd]
	if !ok {
		return nil, fmt.Errorf("fakeLookup: no entry for fd %d", fd)
	}
	return []byte(p), nil
}

func TestResolveAbsolutePathname(t *testing.T) {
	var arena Arena
	lookup := &fakeLookup{byFD: map[int]string{AtFDCWD: "/tmp/w"}}

	got, err := Resolve(&arena, AtFDCWD, []byte("/etc/passwd"), lookup)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(got) != "/etc/passwd" {
		t.Errorf("got %q, want /etc/passwd", got)
	}
}

func TestResolveRelativeViaAtFDCWD(t *testing.T) {
	// Scenario 1: direct read of "a.txt" in cwd /tmp/w.
	var arena Arena
	lookup := &fakeLookup{byFD: map[int]string{AtFDCWD: "/tmp/w"}}

	got, err := Resolve(&arena, AtFDCWD, []byte("a.txt"), lookup)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(got) != "/tmp/w/a.txt" {
		t.Errorf("got %q, want /tmp/w/a.txt", got)
	}
}

func TestResolveRelativeViaDirFD(t *testing.T) {
	// Scenario 2: openat(dirfd-for-/tmp/w, "sub/x").
	var arena Arena
	lookup := &fakeLookup{byFD: map[int]string{5: "/tmp/w"}}

	got, err := Resolve(&arena, 5, []byte("sub/x"), lookup)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(got) != "/tmp/w/sub/x" {
		t.Errorf("got %q, want /tmp/w/sub/x", got)
	}
}

func TestResolveBareFD(t *testing.T) {
	var arena Arena
	lookup := &fakeLookup{byFD: map[int]string{7: "/tmp/w/open-file"}}

	got, err := Resolve(&arena, 7, nil, lookup)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(got) != "/tmp/w/open-file" {
		t.Errorf("got %q, want /tmp/w/open-file", got)
	}
}

func TestResolvePreservesDotDotSegments(t *testing.T) {
	var arena Arena
	lookup := &fakeLookup{byFD: map[int]string{AtFDCWD: "/tmp/w"}}

	got, err := Resolve(&arena, AtFDCWD, []byte("../sibling/./x"), lookup)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(got) != "/tmp/w/../sibling/./x" {
		t.Errorf("Resolve must not normalize . and .., got %q", got)
	}
}

func TestResolveNeverReturnsRelativePath(t *testing.T) {
	var arena Arena
	lookups := []CwdLookup{
		&fakeLookup{byFD: map[int]string{AtFDCWD: "/a"}},
		&fakeLookup{byFD: map[int]string{3: "/b/c"}},
	}
	inputs := []struct {
		dirfd int
		name  string
	}{
		{AtFDCWD, "x"},
		{3, "y/z"},
		{AtFDCWD, "/already/absolute"},
	}

	for i, lookup := range lookups {
		for _, in := range inputs {
			got, err := Resolve(&arena, in.dirfd, []byte(in.name), lookup)
			if err != nil {
				continue
			}
			if !isAbsolute(got) {
				t.Errorf("lookup %d, input %+v: Resolve returned relative path %q", i, in, got)
			}
		}
	}
}

func TestResolveLookupFailurePropagates(t *testing.T) {
	var arena Arena
	lookup := &fakeLookup{}

	if _, err := Resolve(&arena, AtFDCWD, []byte("a"), lookup); err == nil {
		t.Fatal("expected error when lookup has no entry for the requested fd")
	}
}

func TestArenaOverflow(t *testing.T) {
	var arena Arena
	long := make([]byte, len(arena.buf)+1)
	for i := range long {
		long[i] = 'a'
	}
	lookup := &fakeLookup{byFD: map[int]string{AtFDCWD: "/"}}

	if _, err := Resolve(&arena, AtFDCWD, long, lookup); err == nil {
		t.Fatal("expected arena overflow error for an oversized path")
	}
}

func TestArenaResetBetweenCalls(t *testing.T) {
	var arena Arena
	lookup := &fakeLookup{byFD: map[int]string{AtFDCWD: "/tmp/w"}}

	first, err := Resolve(&arena, AtFDCWD, []byte("a"), lookup)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	firstCopy := append([]byte(nil), first...)

	second, err := Resolve(&arena, AtFDCWD, []byte("bbbbbbbb"), lookup)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(second) != "/tmp/w/bbbbbbbb" {
		t.Errorf("second call got %q, want /tmp/w/bbbbbbbb (arena not reset)", second)
	}

	if string(firstCopy) != "/tmp/w/a" {
		t.Errorf("unexpected corruption of prior caller's copy: %q", firstCopy)
	}
}
