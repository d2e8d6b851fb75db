//go:build darwin

package ring

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// shmFactory creates chunks via a temp-file-backed anonymous mapping:
// Darwin's x/sys/unix binding has no POSIX shm_open wrapper, so the
// chunk is opened in os.TempDir() and unlinked immediately after
// opening, mirroring the same entity-ownership rule (only the fd is
// used thereafter, so the filesystem namespace is never polluted) the
// Linux memfd path gets for free.
type shmFactory struct {
	seq uint64
}

func NewShmFactory() ChunkFactory {
	return &shmFactory{}
}

func (f *shmFactory) NewChunk(size int) (*Chunk, error) {
	f.seq++
	path := fmt.Sprintf("%s/fspy_shm_%d_%d", os.TempDir(), unix.Getpid(), f.seq)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("open shm backing file: %w", err)
	}
	os.Remove(path)

	fd := int(file.Fd())
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap: %w", err)
	}

	// Dup the fd so it survives file's finalizer closing the original
	// once file goes out of scope; the mapping stays valid either way,
	// but FD() must return an fd this process still owns for handoff.
	dupFd, err := unix.Dup(fd)
	file.Close()
	if err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("dup: %w", err)
	}

	return &Chunk{data: data, fd: dupFd}, nil
}

// MapReadOnly maps an fd received over the handoff stream into the
// consumer's address space.
func MapReadOnly(fd int, size int) (*Chunk, error) {
	defer unix.Close(fd)
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap readonly: %w", err)
	}
	return &Chunk{data: data, fd: -1}, nil
}
