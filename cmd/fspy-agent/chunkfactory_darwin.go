//go:build darwin

package main

import "fspy-go/ring"

// newChunkFactory returns the POSIX shm_open-backed ChunkFactory
// (ring/chunk_darwin.go): Linux's memfd_create has no Darwin equivalent, so
// chunks there are named, immediately unlinked shm segments instead.
func newChunkFactory() ring.ChunkFactory {
	return ring.NewShmFactory()
}
