//go:build !windows

// Package ring implements the multi-producer, single-consumer
// shared-memory append log that carries AccessRecords from a traced
// process back to the parent driver. Producers (each writing through
// its own Cursor) reserve a slot, write the
// encoded record, and commit the slot's flag byte with release
// ordering; the consumer scans with acquire ordering and stops at the
// first uncommitted slot.
//
// Windows traced processes use a different IPC path and do not link
// this package.
package ring

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"unsafe"

	"fspy-go/wire"
)

// ChunkSize is the fixed size of one shared-memory chunk. Matches the
// original implementation's 256 KiB chunk.
const ChunkSize = 256 * 1024

// flagUncommitted and flagCommitted are the two states of a slot's
// first byte. Slots are never rewritten once committed.
const (
	flagUncommitted byte = 0
	flagCommitted   byte = 1
)

// ErrRecordTooLarge is returned by Reserve when a single record cannot
// possibly fit in a chunk, regardless of how much of the chunk is
// free.
var ErrRecordTooLarge = errors.New("ring: record larger than chunk size")

// Chunk is a mapped anonymous shared-memory object. Producers map it
// read-write; the consumer maps its copy of the same object
// read-only. The concrete backing (memfd_create on Linux, an unlinked
// temp file on Darwin) lives in the platform-specific ChunkFactory.
type Chunk struct {
	data []byte
	fd   int
}

// Bytes exposes the chunk's backing memory.
func (c *Chunk) Bytes() []byte { return c.data }

// FD returns the file descriptor backing the chunk, suitable for
// handing to ChunkSender.SendChunk.
func (c *Chunk) FD() int { return c.fd }

// ChunkSender hands a freshly created chunk's fd to the consumer over
// a dedicated Unix-domain stream, using an SCM_RIGHTS ancillary
// message. Implemented by UnixSender in handoff.go; the interface is
// platform-neutral so Cursor can be unit-tested with a fake.
type ChunkSender interface {
	SendChunk(fd int) error
}

// ChunkFactory creates a new backing chunk of the given size. Swapped
// out in tests for an in-process fake that never touches memfd/shm.
type ChunkFactory interface {
	NewChunk(size int) (*Chunk, error)
}

// Stats are atomic counters describing a cursor's lifetime activity,
// surfaced to operators since observation under this mechanism is
// lossy by design.
type Stats struct {
	committed    atomic.Uint64
	dropped      atomic.Uint64
	chunkHandoff atomic.Uint64
}

func (s *Stats) Committed() uint64     { return s.committed.Load() }
func (s *Stats) Dropped() uint64       { return s.dropped.Load() }
func (s *Stats) ChunkHandoffs() uint64 { return s.chunkHandoff.Load() }

// Cursor is per-producer writer state: the chunk currently being
// written and the position within it. A Cursor must not be shared
// across concurrently running writers; the agent keeps a free pool of
// them and checks one out for the duration of a single intercepted
// call's Reserve/Write/Commit sequence.
type Cursor struct {
	factory ChunkFactory
	sender  ChunkSender
	stats   *Stats

	chunk *Chunk
	pos   int
}

// NewCursor builds a Cursor backed by factory (chunk creation) and
// sender (chunk-fd handoff). stats may be nil if the caller does not
// want counters.
func NewCursor(factory ChunkFactory, sender ChunkSender, stats *Stats) *Cursor {
	if stats == nil {
		stats = &Stats{}
	}
	return &Cursor{factory: factory, sender: sender, stats: stats}
}

// Stats returns the cursor's counters.
func (c *Cursor) Stats() *Stats { return c.stats }

// Invalidate resets the cursor so its current chunk can no longer be
// written to. Called from the post-fork child handler so the child's
// writes never land in a chunk the parent process still holds open —
// the fork-safety invariant.
func (c *Cursor) Invalidate() {
	if c.chunk != nil {
		c.pos = len(c.chunk.data)
	}
}

// flagWords is the size, in bytes, reserved for a slot's commit flag.
// sync/atomic has no byte-granularity primitive, so the flag is stored
// as a 4-byte-aligned word with only byte 0 meaningful; the other
// three bytes are reserved and always zero.
const flagWords = 4

// Slot is a claimed, not-yet-committed region of a chunk. Commit
// writes the flag word with release ordering; a Slot must be
// committed exactly once.
type Slot struct {
	data  []byte  // the record-bytes region
	flag  *uint32 // 4-byte-aligned; only the low byte is meaningful
	stats *Stats
}

// Write copies rec's wire encoding into the slot. len(p) must equal
// the payload size passed to Reserve.
func (s Slot) Write(p []byte) {
	copy(s.data, p)
}

// Commit publishes the slot with release-ordered semantics: the flag
// store happens-after the data writes in program order, and Go's
// memory model guarantees other goroutines observing the flag via
// atomic load see the preceding plain writes.
func (s Slot) Commit() {
	atomic.StoreUint32(s.flag, uint32(flagCommitted))
	if s.stats != nil {
		s.stats.committed.Add(1)
	}
}

// shouldDiscard implements the filter applied at Reserve entry: paths
// under the mechanism's own state are never recorded, to avoid
// recursive self-observation (the agent's own shm_open/readlink calls
// would otherwise appear as traced accesses).
func shouldDiscard(path string) bool {
	if strings.HasPrefix(path, "/dev/") {
		return true
	}
	if strings.HasPrefix(path, "/proc/") || strings.HasPrefix(path, "/sys/") {
		return true
	}
	return false
}

// Reserve claims space for one encoded AccessRecord (a 4-byte flag word
// + wire.EncodedSize(rec), rounded up to a multiple of 4) and returns a
// Slot ready to be
// written and committed. If rec's path falls under the self-observation
// filter, Reserve returns (Slot{}, false, nil): callers should skip
// the write silently, matching spec behavior that self-observation is
// never recorded and never treated as an error.
func (c *Cursor) Reserve(rec wire.AccessRecord) (Slot, bool, error) {
	if shouldDiscard(rec.Path.String()) {
		return Slot{}, false, nil
	}

	payload := wire.EncodedSize(rec)
	need := alignUp(flagWords + payload)
	if need > ChunkSize {
		c.stats.dropped.Add(1)
		return Slot{}, false, fmt.Errorf("ring: reserve %d bytes: %w", need, ErrRecordTooLarge)
	}

	if c.chunk == nil || c.pos+need > len(c.chunk.data) {
		if err := c.rotate(); err != nil {
			c.stats.dropped.Add(1)
			return Slot{}, false, err
		}
	}

	start := c.pos
	c.pos += need
	slotBuf := c.chunk.data[start:c.pos]
	flagPtr := (*uint32)(unsafe.Pointer(&slotBuf[0]))
	return Slot{data: slotBuf[flagWords:], flag: flagPtr, stats: c.stats}, true, nil
}

// alignUp rounds n up to the next multiple of flagWords, keeping every
// slot's flag word 4-byte aligned for atomic access.
func alignUp(n int) int {
	return (n + flagWords - 1) &^ (flagWords - 1)
}

// rotate creates a fresh chunk, moves the cursor onto it, and hands
// the new chunk's fd off to the consumer (the very first chunk
// included), so every chunk is handed off once, before it is written.
func (c *Cursor) rotate() error {
	chunk, err := c.factory.NewChunk(ChunkSize)
	if err != nil {
		return fmt.Errorf("ring: new chunk: %w", err)
	}
	c.chunk = chunk
	c.pos = 0
	if err := c.sender.SendChunk(chunk.FD()); err != nil {
		return fmt.Errorf("ring: send chunk fd: %w", err)
	}
	c.stats.chunkHandoff.Add(1)
	return nil
}
