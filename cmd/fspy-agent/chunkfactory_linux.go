//go:build linux

package main

import "fspy-go/ring"

// newChunkFactory returns the memfd-backed ChunkFactory (ring/chunk_linux.go):
// new ring chunks are anonymous sealed memfds, handed to the supervisor over
// the ipc socket exactly like every other chunk handoff.
func newChunkFactory() ring.ChunkFactory {
	return ring.NewMemfdFactory()
}
