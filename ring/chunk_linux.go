//go:build linux

package ring

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// memfdFactory creates chunks backed by memfd_create, the Linux
// anonymous-memory-object primitive: no filesystem path is ever
// visible, so there is nothing to unlink.
type memfdFactory struct {
	seq uint64
}

func NewMemfdFactory() ChunkFactory {
	return &memfdFactory{}
}

func (f *memfdFactory) NewChunk(size int) (*Chunk, error) {
	f.seq++
	name := fmt.Sprintf("fspy_shm_%d_%d", unix.Getpid(), f.seq)

	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	return &Chunk{data: data, fd: fd}, nil
}

// MapReadOnly maps an fd received over the handoff stream into the
// consumer's address space. The fd is closed once mapped; the mapping
// keeps the underlying memory alive.
func MapReadOnly(fd int, size int) (*Chunk, error) {
	defer unix.Close(fd)
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap readonly: %w", err)
	}
	return &Chunk{data: data, fd: -1}, nil
}
