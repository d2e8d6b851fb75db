package execresolve

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// fakeFile is a file entry in fakeProber: either directly executable,
// or a shebang line, or neither (forces an ENOEXEC).
type fakeFile struct {
	content   string
	mode      os_fileMode
	accessErr error
}

type os_fileMode int

const (
	modeELF os_fileMode = iota
	modeShebang
	modeOpaque // neither ELF magic nor shebang; triggers ENOEXEC
)

type fakeProber struct {
	files map[string]fakeFile
	peeks []string
}

func (p *fakeProber) ProbeExecutable(path string) error {
	f, ok := p.files[path]
	if !ok {
		return ErrNotFound
	}
	if f.accessErr != nil {
		return f.accessErr
	}
	return nil
}

func (p *fakeProber) OpenPeek(path string) (io.ReadCloser, error) {
	p.peeks = append(p.peeks, path)
	f, ok := p.files[path]
	if !ok {
		return nil, ErrNotFound
	}
	var body string
	switch f.mode {
	case modeELF:
		body = "\x7fELF" + f.content
	case modeShebang:
		body = f.content
	default:
		body = "not an elf and not a shebang"
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestResolveDirectELF(t *testing.T) {
	prober := &fakeProber{files: map[string]fakeFile{
		"/usr/bin/prog": {mode: modeELF},
	}}
	form := &ExecForm{Program: "/usr/bin/prog", Args: []string{"/usr/bin/prog", "a"}}

	got, err := Resolve(form, Config{}, prober)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Program != "/usr/bin/prog" {
		t.Errorf("Program = %q, want unchanged", got.Program)
	}
	if len(got.Args) != 2 || got.Args[1] != "a" {
		t.Errorf("Args = %v, want unchanged", got.Args)
	}
}

func TestResolvePathSearchFindsFirstMatch(t *testing.T) {
	prober := &fakeProber{files: map[string]fakeFile{
		"/usr/bin/foo": {mode: modeELF},
	}}
	form := &ExecForm{Program: "foo", Args: []string{"foo"}}
	cfg := Config{SearchPath: SearchEnabled, PathEnv: "/bin:/usr/bin"}

	got, err := Resolve(form, cfg, prober)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Program != "/usr/bin/foo" {
		t.Errorf("Program = %q, want /usr/bin/foo", got.Program)
	}
}

func TestResolvePathSearchAggregatesEACCESOnlyWhenAllFail(t *testing.T) {
	prober := &fakeProber{files: map[string]fakeFile{
		"/bin/foo":     {accessErr: ErrPermission},
		"/usr/bin/foo": {accessErr: ErrPermission},
	}}
	form := &ExecForm{Program: "foo"}
	cfg := Config{SearchPath: SearchEnabled, PathEnv: "/bin:/usr/bin"}

	_, err := Resolve(form, cfg, prober)
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}

func TestResolvePathSearchENOENTWinsWhenMixedWithEACCESPartially(t *testing.T) {
	// EACCES only wins if every candidate returned EACCES; here one
	// candidate returns ENOENT, so ENOENT is not "every", but since no
	// candidate succeeds, spec says: return ENOENT unless ALL were
	// EACCES. Here not all are EACCES (one is ENOENT) so EACCES must
	// NOT be returned — ENOENT (the running last_err) should surface.
	prober := &fakeProber{files: map[string]fakeFile{
		"/bin/foo": {accessErr: ErrPermission},
		// /usr/bin/foo absent entirely -> ErrNotFound
	}}
	form := &ExecForm{Program: "foo"}
	cfg := Config{SearchPath: SearchEnabled, PathEnv: "/bin:/usr/bin"}

	_, err := Resolve(form, cfg, prober)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveEmptyProgramIsNotFound(t *testing.T) {
	prober := &fakeProber{files: map[string]fakeFile{}}
	form := &ExecForm{Program: ""}

	_, err := Resolve(form, Config{}, prober)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveShebangPrependsInterpreter(t *testing.T) {
	prober := &fakeProber{files: map[string]fakeFile{
		"/usr/bin/script": {mode: modeShebang, content: "#!/bin/sh -e\n echo hi\n"},
		"/bin/sh":         {mode: modeELF},
	}}
	form := &ExecForm{Program: "/usr/bin/script", Args: []string{"/usr/bin/script", "arg1"}}

	got, err := Resolve(form, Config{}, prober)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Program != "/bin/sh" {
		t.Errorf("Program = %q, want /bin/sh", got.Program)
	}
	want := []string{"/bin/sh", "-e", "/usr/bin/script", "arg1"}
	if len(got.Args) != len(want) {
		t.Fatalf("Args = %v, want %v", got.Args, want)
	}
	for i := range want {
		if got.Args[i] != want[i] {
			t.Errorf("Args[%d] = %q, want %q", i, got.Args[i], want[i])
		}
	}
}

func TestResolveShebangRecursionExceedsDepthFails(t *testing.T) {
	prober := &fakeProber{files: map[string]fakeFile{}}
	// Build a chain a -> b -> c -> d -> e -> f, 5 hops, exceeding depth 4.
	chain := []string{"a", "b", "c", "d", "e", "f"}
	for i := 0; i < len(chain)-1; i++ {
		prober.files[chain[i]] = fakeFile{mode: modeShebang, content: "#!" + chain[i+1] + "\n"}
	}
	prober.files[chain[len(chain)-1]] = fakeFile{mode: modeELF}

	form := &ExecForm{Program: "a", Args: []string{"a"}}
	_, err := Resolve(form, Config{}, prober)
	if !errors.Is(err, ErrLoop) {
		t.Fatalf("expected ErrLoop, got %v", err)
	}
}

func TestResolveNonExecFallsBackToShell(t *testing.T) {
	prober := &fakeProber{files: map[string]fakeFile{
		"/home/u/data.txt": {mode: modeOpaque},
	}}
	form := &ExecForm{Program: "/home/u/data.txt", Args: []string{"/home/u/data.txt", "x"}}
	cfg := Config{FallbackShell: "/bin/sh"}

	got, err := Resolve(form, cfg, prober)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Program != "/bin/sh" {
		t.Errorf("Program = %q, want /bin/sh", got.Program)
	}
	want := []string{"/bin/sh", "/home/u/data.txt", "x"}
	if len(got.Args) != len(want) {
		t.Fatalf("Args = %v, want %v", got.Args, want)
	}
}

func TestResolveNonExecWithoutFallbackFails(t *testing.T) {
	prober := &fakeProber{files: map[string]fakeFile{
		"/home/u/data.txt": {mode: modeOpaque},
	}}
	form := &ExecForm{Program: "/home/u/data.txt"}

	_, err := Resolve(form, Config{}, prober)
	if !errors.Is(err, ErrNoExec) {
		t.Fatalf("expected ErrNoExec, got %v", err)
	}
}

func TestResolveEveryTouchedFileIsProbed(t *testing.T) {
	prober := &fakeProber{files: map[string]fakeFile{
		"/usr/bin/script": {mode: modeShebang, content: "#!/bin/sh\n"},
		"/bin/sh":         {mode: modeELF},
	}}
	form := &ExecForm{Program: "/usr/bin/script"}

	if _, err := Resolve(form, Config{}, prober); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(prober.peeks) != 2 {
		t.Errorf("expected 2 peeks (script + interpreter), got %d: %v", len(prober.peeks), prober.peeks)
	}
}
