package spawn

import (
	"debug/elf"
	"errors"
)

// FileInterpProber is the real InterpProber, reading PT_INTERP from
// an on-disk ELF file via the standard library's ELF reader (the idiomatic
// Go stand-in for the upstream implementation's goblin-based parse).
type FileInterpProber struct{}

// Interpreter opens path and returns the PT_INTERP program header's
// content, if present. A non-ELF file, or an ELF file with no
// PT_INTERP segment (statically linked), reports ok == false rather
// than an error.
func (FileInterpProber) Interpreter(path string) (string, bool, error) {
	f, err := elf.Open(path)
	if err != nil {
		var formatErr *elf.FormatError
		if errors.As(err, &formatErr) {
			return "", false, nil
		}
		return "", false, err
	}
	defer f.Close()

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		buf := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(buf, 0); err != nil {
			return "", false, err
		}
		// PT_INTERP content is NUL-terminated.
		for i, b := range buf {
			if b == 0 {
				buf = buf[:i]
				break
			}
		}
		return string(buf), true, nil
	}
	return "", false, nil
}
