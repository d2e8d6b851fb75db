//go:build !windows

package ring

import (
	"sync/atomic"
	"unsafe"

	"fspy-go/wire"
)

// Consumer scans chunks handed off by producers and yields the
// AccessRecords committed within them. One Consumer per traced
// command; it owns every chunk it has received until the trace
// completes.
type Consumer struct {
	chunks []*Chunk
}

// AddChunk registers a newly received chunk for scanning. Chunks are
// scanned in the order they were added, which is the order they were
// handed off.
func (c *Consumer) AddChunk(chunk *Chunk) {
	c.chunks = append(c.chunks, chunk)
}

// Scan walks every registered chunk front-to-back, calling fn for each
// committed record. Scanning a chunk stops at the first uncommitted
// slot, per the single-writer-per-chunk invariant: a later slot cannot
// be committed before an earlier one written by the same producer.
func (c *Consumer) Scan(fn func(wire.AccessRecord)) {
	for _, chunk := range c.chunks {
		scanChunk(chunk, fn)
	}
}

func scanChunk(chunk *Chunk, fn func(wire.AccessRecord)) {
	data := chunk.data
	pos := 0
	for pos+flagWords <= len(data) {
		flagPtr := (*uint32)(unsafe.Pointer(&data[pos]))
		flag := atomic.LoadUint32(flagPtr)
		if byte(flag) != flagCommitted {
			return
		}

		rec, n, err := wire.Decode(data[pos+flagWords:])
		if err != nil {
			// A truncated or corrupt region; stop scanning this chunk
			// rather than risk misinterpreting the rest of its bytes.
			return
		}
		fn(rec)

		pos += alignUp(flagWords + n)
	}
}
